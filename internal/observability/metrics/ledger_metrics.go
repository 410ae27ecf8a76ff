package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	ReasonDeadlineExceeded     = "deadline_exceeded"
	ReasonDBLockTimeout        = "db_lock_timeout"
	ReasonSerializationFailure = "serialization_failure"
	ReasonUniqueViolation      = "unique_violation"
	ReasonDB                   = "db"
	ReasonBusinessRule         = "business_rule"
	ReasonUnknown              = "unknown"
)

const (
	OperationComputeProgress = "compute_progress"
	OperationListSchedulable = "list_schedulable"
	OperationAllocate        = "allocate"
	OperationCancel          = "cancel"
	OperationRegisterLoad    = "register_load"
	OperationRecordApply     = "record_application"
	OperationRecompute       = "recompute_status"
	OperationIntegritySweep  = "integrity_sweep"
	OperationScheduledJob    = "scheduled_job"
)

const (
	AllocationConflictRetried   = "retried"
	AllocationConflictExhausted = "exhausted"
)

// LedgerMetrics captures ledger health signals scraped from /metrics.
type LedgerMetrics struct {
	operationDuration   *prometheus.HistogramVec
	operationErrors     *prometheus.CounterVec
	statusTransitions   *prometheus.CounterVec
	allocationConflicts *prometheus.CounterVec
	integrityRepairs    prometheus.Counter
	integrityChecked    prometheus.Counter
}

var (
	ledgerMetricsOnce sync.Once
	ledgerMetrics     *LedgerMetrics
)

// Ledger returns the singleton ledger metrics registry.
func Ledger() *LedgerMetrics {
	return LedgerWithConfig(Config{})
}

// LedgerWithConfig returns the singleton ledger metrics registry using config labels.
func LedgerWithConfig(cfg Config) *LedgerMetrics {
	ledgerMetricsOnce.Do(func() {
		ledgerMetrics = newLedgerMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return ledgerMetrics
}

// ResetLedgerMetricsForTest resets the ledger metrics singleton for tests.
func ResetLedgerMetricsForTest() {
	ledgerMetricsOnce = sync.Once{}
	ledgerMetrics = nil
}

func newLedgerMetrics(registerer prometheus.Registerer, cfg Config) *LedgerMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "pavetrack"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	operationDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "pavetrack_ledger_operation_duration_seconds",
		Help:        "Ledger operation latency by operation.",
		Buckets:     []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		ConstLabels: constLabels,
	}, []string{"operation"})
	operationErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "pavetrack_ledger_operation_errors_total",
		Help:        "Ledger operation errors by low-cardinality reason.",
		ConstLabels: constLabels,
	}, []string{"operation", "reason"})
	statusTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "pavetrack_delivery_status_transitions_total",
		Help:        "Delivery commitment status transitions.",
		ConstLabels: constLabels,
	}, []string{"from", "to"})
	allocationConflicts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "pavetrack_allocation_conflicts_total",
		Help:        "Optimistic allocation version conflicts by outcome.",
		ConstLabels: constLabels,
	}, []string{"outcome"})
	integrityRepairs := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "pavetrack_status_integrity_repairs_total",
		Help:        "Delivery commitments whose status was corrected by the integrity sweep.",
		ConstLabels: constLabels,
	})
	integrityChecked := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "pavetrack_status_integrity_checked_total",
		Help:        "Delivery commitments inspected by the integrity sweep.",
		ConstLabels: constLabels,
	})

	registerer.MustRegister(
		operationDuration,
		operationErrors,
		statusTransitions,
		allocationConflicts,
		integrityRepairs,
		integrityChecked,
	)

	return &LedgerMetrics{
		operationDuration:   operationDuration,
		operationErrors:     operationErrors,
		statusTransitions:   statusTransitions,
		allocationConflicts: allocationConflicts,
		integrityRepairs:    integrityRepairs,
		integrityChecked:    integrityChecked,
	}
}

// ObserveOperation records latency and, when err is set, a classified error.
func (m *LedgerMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if err != nil {
		m.operationErrors.WithLabelValues(operation, ClassifyReason(err)).Inc()
	}
}

func (m *LedgerMetrics) IncStatusTransition(from, to string) {
	if m == nil {
		return
	}
	m.statusTransitions.WithLabelValues(from, to).Inc()
}

func (m *LedgerMetrics) IncAllocationConflict(outcome string) {
	if m == nil {
		return
	}
	m.allocationConflicts.WithLabelValues(outcome).Inc()
}

// AddIntegritySweep records how many commitments were inspected and repaired.
func (m *LedgerMetrics) AddIntegritySweep(checked, repaired int) {
	if m == nil {
		return
	}
	if checked > 0 {
		m.integrityChecked.Add(float64(checked))
	}
	if repaired > 0 {
		m.integrityRepairs.Add(float64(repaired))
	}
}

// ClassifyReason maps errors to low-cardinality metric reasons.
func ClassifyReason(err error) string {
	if err == nil {
		return ReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return ReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return ReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return ReasonUniqueViolation
	}
	if isDBError(err) {
		return ReasonDB
	}
	return ReasonBusinessRule
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}

func isDBError(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, gorm.ErrInvalidDB) ||
		errors.Is(err, gorm.ErrInvalidTransaction) ||
		errors.Is(err, gorm.ErrInvalidField) ||
		errors.Is(err, gorm.ErrInvalidData) ||
		errors.Is(err, gorm.ErrMissingWhereClause) ||
		errors.Is(err, gorm.ErrInvalidValue) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr)
}
