package scheduler

import (
	"context"
	"time"

	"github.com/smallbiznis/pavetrack/internal/actorcontext"
	fieldapplicationdomain "github.com/smallbiznis/pavetrack/internal/fieldapplication/domain"
	obscontext "github.com/smallbiznis/pavetrack/internal/observability/context"
	obslogger "github.com/smallbiznis/pavetrack/internal/observability/logger"
	"go.uber.org/zap"
)

// jobRun accumulates what one job execution touched so it lands on a single finish line.
type jobRun struct {
	job       string
	runID     string
	startedAt time.Time

	checked  int
	repaired int
	failed   int
	skipped  bool
	errors   int
}

func (r *jobRun) recordIntegrity(report fieldapplicationdomain.IntegrityReport) {
	if r == nil {
		return
	}
	r.checked += report.Checked
	r.repaired += report.Repaired
	r.failed += report.Failed
	r.skipped = r.skipped || report.Skipped
}

func (r *jobRun) fail() {
	if r != nil {
		r.errors++
	}
}

func (s *Scheduler) newJobRun(ctx context.Context, job string) (context.Context, *jobRun) {
	if ctx == nil {
		ctx = context.Background()
	}
	run := &jobRun{
		job:       job,
		runID:     s.genID.Generate().String(),
		startedAt: s.clock.Now(),
	}
	// history rows and audit entries written by the job carry the scheduler as actor
	ctx = obscontext.WithActor(ctx, actorcontext.ActorTypeSystem, "scheduler")
	ctx = obscontext.WithRequestID(ctx, run.runID)
	return ctx, run
}

func (s *Scheduler) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (r *jobRun) fields(now time.Time) []zap.Field {
	return []zap.Field{
		zap.String("job", r.job),
		zap.String("run_id", r.runID),
		zap.Int64("duration_ms", now.Sub(r.startedAt).Milliseconds()),
		zap.Int("checked", r.checked),
		zap.Int("repaired", r.repaired),
		zap.Int("failed", r.failed),
		zap.Bool("skipped", r.skipped),
		zap.Int("error_count", r.errors),
	}
}

func (s *Scheduler) logJobStart(ctx context.Context, run *jobRun) {
	s.logger(ctx).Info("scheduler.job.start",
		zap.String("job", run.job),
		zap.String("run_id", run.runID),
	)
}

func (s *Scheduler) logJobFinish(ctx context.Context, run *jobRun) {
	log := s.logger(ctx)
	fields := run.fields(s.clock.Now())
	switch {
	case run.errors > 0 || run.failed > 0:
		log.Warn("scheduler.job.finish", fields...)
	case run.repaired > 0:
		// repairs mean some write path let a status drift
		log.Info("scheduler.job.repaired", fields...)
	default:
		log.Debug("scheduler.job.finish", fields...)
	}
}
