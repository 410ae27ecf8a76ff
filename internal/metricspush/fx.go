package metricspush

import (
	"context"
	"time"

	"github.com/smallbiznis/pavetrack/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("metrics.push",
	fx.Provide(NewCollector),
	fx.Provide(NewPusher),
	fx.Invoke(register),
)

// Worker refreshes the ledger gauges and pushes them on every tick.
type Worker struct {
	collector *Collector
	pusher    Pusher
	interval  time.Duration
	log       *zap.Logger
}

func NewWorker(collector *Collector, pusher Pusher, interval time.Duration, log *zap.Logger) *Worker {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Worker{
		collector: collector,
		pusher:    pusher,
		interval:  interval,
		log:       log.Named("metrics.push"),
	}
}

// PushOnce is a single refresh and push cycle.
func (w *Worker) PushOnce(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, defaultPushTimeout)
	defer cancel()

	if err := w.collector.Refresh(ctx); err != nil {
		return err
	}
	return w.pusher.Push(ctx, w.collector.Registry())
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if err := w.PushOnce(ctx); err != nil {
			w.log.Warn("metrics push failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func register(lc fx.Lifecycle, cfg config.Config, collector *Collector, pusher Pusher, log *zap.Logger) {
	if pusher == nil {
		return
	}
	worker := NewWorker(collector, pusher, cfg.MetricsPushInterval, log)

	var cancel context.CancelFunc
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			go func() {
				defer close(done)
				worker.Run(ctx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}
