package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/pavetrack/internal/clock"
	fieldapplicationdomain "github.com/smallbiznis/pavetrack/internal/fieldapplication/domain"
	obsmetrics "github.com/smallbiznis/pavetrack/internal/observability/metrics"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeApplicationService struct {
	fieldapplicationdomain.Service
	report fieldapplicationdomain.IntegrityReport
	err    error
	calls  int
	block  bool
}

func (f *fakeApplicationService) CheckAndFix(ctx context.Context) (fieldapplicationdomain.IntegrityReport, error) {
	f.calls++
	if f.block {
		<-ctx.Done()
		return fieldapplicationdomain.IntegrityReport{}, ctx.Err()
	}
	return f.report, f.err
}

func newTestScheduler(t *testing.T, svc fieldapplicationdomain.Service, cfg Config) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}
	s, err := New(Params{
		Log:            zap.NewNop(),
		ApplicationSvc: svc,
		GenID:          node,
		Clock:          clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)),
		Config:         cfg,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	if _, err := New(Params{Log: zap.NewNop()}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	if cfg.RunInterval != 15*time.Minute {
		t.Fatalf("expected default interval, got %v", cfg.RunInterval)
	}
	if cfg.StatusIntegrityTimeout != 2*time.Minute {
		t.Fatalf("expected default timeout, got %v", cfg.StatusIntegrityTimeout)
	}
}

func TestRunOnceRunsStatusIntegrity(t *testing.T) {
	svc := &fakeApplicationService{report: fieldapplicationdomain.IntegrityReport{Checked: 4, Repaired: 1}}
	s := newTestScheduler(t, svc, Config{})

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if svc.calls != 1 {
		t.Fatalf("expected 1 sweep, got %d", svc.calls)
	}
}

func TestRunOnceSkipsDisabledJob(t *testing.T) {
	svc := &fakeApplicationService{}
	s := newTestScheduler(t, svc, Config{EnabledJobs: []string{"other"}})

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if svc.calls != 0 {
		t.Fatalf("expected sweep to be skipped, got %d calls", svc.calls)
	}
}

func TestRunOnceReportsFailures(t *testing.T) {
	svc := &fakeApplicationService{report: fieldapplicationdomain.IntegrityReport{Checked: 3, Failed: 2}}
	s := newTestScheduler(t, svc, Config{})

	if err := s.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error when commitments fail to recompute")
	}

	svc.report = fieldapplicationdomain.IntegrityReport{Skipped: true}
	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected skipped sweep to be quiet, got %v", err)
	}
}

func TestRunOnceLogsRepairsOnFinishLine(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	svc := &fakeApplicationService{report: fieldapplicationdomain.IntegrityReport{Checked: 6, Repaired: 2}}
	s := newTestScheduler(t, svc, Config{})
	s.log = zap.New(core)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	entries := logs.FilterMessage("scheduler.job.repaired").All()
	if len(entries) != 1 {
		t.Fatalf("expected one repaired line, got %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["checked"] != int64(6) || fields["repaired"] != int64(2) {
		t.Fatalf("unexpected finish fields %v", fields)
	}
	if fields["job"] != JobStatusIntegrity {
		t.Fatalf("expected job %q, got %v", JobStatusIntegrity, fields["job"])
	}
}

func TestRunJobTimeoutDoesNotReturnErrorAndRecordsMetric(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetLedgerMetricsForTest()
	ledgerMetrics := obsmetrics.LedgerWithConfig(obsmetrics.Config{
		ServiceName: "pavetrack",
		Environment: "test",
	})

	svc := &fakeApplicationService{block: true}
	s := newTestScheduler(t, svc, Config{StatusIntegrityTimeout: 5 * time.Millisecond})
	s.ledgerMetrics = ledgerMetrics

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	labels := map[string]string{
		"service":   "pavetrack",
		"env":       "test",
		"operation": obsmetrics.OperationScheduledJob,
		"reason":    obsmetrics.ReasonDeadlineExceeded,
	}
	if got := getCounterValue(t, registry, "pavetrack_ledger_operation_errors_total", labels); got != 1 {
		t.Fatalf("expected timeout error count 1, got %v", got)
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetLedgerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
