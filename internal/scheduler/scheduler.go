package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pavetrack/internal/clock"
	fieldapplicationdomain "github.com/smallbiznis/pavetrack/internal/fieldapplication/domain"
	obsmetrics "github.com/smallbiznis/pavetrack/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const JobStatusIntegrity = "status_integrity"

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	Log            *zap.Logger
	ApplicationSvc fieldapplicationdomain.Service
	GenID          *snowflake.Node
	Clock          clock.Clock
	Config         Config                    `optional:"true"`
	LedgerMetrics  *obsmetrics.LedgerMetrics `optional:"true"`
}

// Scheduler runs ledger maintenance jobs on a fixed interval.
type Scheduler struct {
	log            *zap.Logger
	cfg            Config
	genID          *snowflake.Node
	clock          clock.Clock
	applicationSvc fieldapplicationdomain.Service
	ledgerMetrics  *obsmetrics.LedgerMetrics
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.ApplicationSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:            p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:            p.Config.withDefaults(),
		genID:          p.GenID,
		clock:          p.Clock,
		applicationSvc: p.ApplicationSvc,
		ledgerMetrics:  p.LedgerMetrics,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context, run *jobRun) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.newJobRun(ctx, name)
	s.logJobStart(ctx, run)
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)

	err := fn(ctx, run)
	s.ledgerMetrics.ObserveOperation(obsmetrics.OperationScheduledJob, s.clock.Now().Sub(start), err)
	if err != nil {
		run.fail()
	}
	s.logJobFinish(ctx, run)
	if err == nil {
		return nil
	}

	// deadline is a soft timeout; the next tick picks the work up again
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{JobStatusIntegrity, func(ctx context.Context) error {
			return s.runJob(ctx, JobStatusIntegrity, s.cfg.StatusIntegrityTimeout, s.StatusIntegrityJob)
		}},
	}

	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			err = errors.Join(err, job.Run(parent))
		}
	}

	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// an empty list enables every job
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// StatusIntegrityJob recomputes every open commitment and repairs drifted statuses.
func (s *Scheduler) StatusIntegrityJob(ctx context.Context, run *jobRun) error {
	report, err := s.applicationSvc.CheckAndFix(ctx)
	if err != nil {
		return err
	}
	run.recordIntegrity(report)
	if report.Skipped {
		s.logger(ctx).Info("status integrity skipped, another replica holds the lock")
		return nil
	}
	if report.Failed > 0 {
		return fmt.Errorf("%d commitments failed to recompute", report.Failed)
	}
	return nil
}
