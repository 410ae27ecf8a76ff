package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/pavetrack/internal/actorcontext"
	auditdomain "github.com/smallbiznis/pavetrack/internal/audit/domain"
	"github.com/smallbiznis/pavetrack/internal/clock"
	"github.com/smallbiznis/pavetrack/internal/config"
	deliverydomain "github.com/smallbiznis/pavetrack/internal/delivery/domain"
	"github.com/smallbiznis/pavetrack/internal/delivery/guard"
	"github.com/smallbiznis/pavetrack/internal/fieldapplication/domain"
	"github.com/smallbiznis/pavetrack/internal/lock"
	"github.com/smallbiznis/pavetrack/internal/observability/logger"
	"github.com/smallbiznis/pavetrack/internal/observability/metrics"
	"github.com/smallbiznis/pavetrack/internal/observability/tracing"
	requisitiondomain "github.com/smallbiznis/pavetrack/internal/requisition/domain"
	"github.com/smallbiznis/pavetrack/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sweepLockKey = "pavetrack:lock:status-integrity"
	sweepLockTTL = 5 * time.Minute
)

var hundred = decimal.NewFromInt(100)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Repo          domain.Repository
	DeliveryRepo  deliverydomain.Repository
	Policy        *config.LedgerPolicyHolder
	Locker        *lock.Locker           `optional:"true"`
	AuditSvc      auditdomain.Service    `optional:"true"`
	Clock         clock.Clock            `optional:"true"`
	Metrics       *metrics.Metrics       `optional:"true"`
	LedgerMetrics *metrics.LedgerMetrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	repo          domain.Repository
	deliveryRepo  deliverydomain.Repository
	policy        *config.LedgerPolicyHolder
	locker        *lock.Locker
	auditSvc      auditdomain.Service
	clock         clock.Clock
	metrics       *metrics.Metrics
	ledgerMetrics *metrics.LedgerMetrics
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("fieldapplication.service"),
		genID:         p.GenID,
		repo:          p.Repo,
		deliveryRepo:  p.DeliveryRepo,
		policy:        p.Policy,
		locker:        p.Locker,
		auditSvc:      p.AuditSvc,
		clock:         clk,
		metrics:       p.Metrics,
		ledgerMetrics: p.LedgerMetrics,
	}
}

func (s *Service) Record(ctx context.Context, commitmentID string, req domain.RecordRequest) (record domain.Record, err error) {
	ctx, span := tracing.StartLedgerSpan(ctx, "fieldapplication.record", attribute.String("commitment_id", commitmentID))
	start := time.Now()
	defer func() {
		s.ledgerMetrics.ObserveOperation(metrics.OperationRecordApply, time.Since(start), err)
		tracing.EndSpan(span, err)
	}()

	id, err := parseID(commitmentID)
	if err != nil {
		return domain.Record{}, err
	}
	if !req.MassTons.IsPositive() {
		return domain.Record{}, domain.ErrInvalidMass
	}
	if req.Sequence < 0 {
		return domain.Record{}, domain.ErrInvalidSequence
	}
	mass := req.MassTons.Round(requisitiondomain.MassScale)
	epsilon := s.policy.Get().CompletionEpsilon()
	actorID, _ := actorcontext.UserIDFromContext(ctx)
	now := s.clock.Now()
	appliedAt := now
	if req.AppliedAt != nil && !req.AppliedAt.IsZero() {
		appliedAt = req.AppliedAt.UTC()
	}

	var result domain.RecomputeResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		commitment, err := s.deliveryRepo.FindCommitmentForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if commitment == nil {
			return domain.ErrCommitmentNotFound
		}
		if err := guard.EnsureCanRecordApplication(*commitment); err != nil {
			return domain.ErrCommitmentNotDispatched
		}

		applied, err := s.repo.SumByCommitment(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("sum applications: %w", err)
		}
		if applied.Add(mass).GreaterThan(commitment.MassTons.Add(epsilon)) {
			return domain.ErrExceedsCommitment
		}

		sequence := req.Sequence
		if sequence == 0 {
			last, err := s.repo.MaxSequence(ctx, tx, id)
			if err != nil {
				return err
			}
			sequence = last + 1
		}

		record = domain.Record{
			ID:           s.genID.Generate(),
			CommitmentID: id,
			Sequence:     sequence,
			MassTons:     mass,
			Street:       strings.TrimSpace(req.Street),
			AppliedAt:    appliedAt,
			CreatedBy:    actorID,
			CreatedAt:    now,
		}
		if err := s.repo.Insert(ctx, tx, &record); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrDuplicateSequence
			}
			return err
		}

		result, err = s.recompute(ctx, tx, *commitment, actorID, "application recorded")
		return err
	})
	if err != nil {
		return domain.Record{}, err
	}

	s.metrics.RecordApplication(ctx, mass.InexactFloat64())
	if result.Changed {
		s.ledgerMetrics.IncStatusTransition(string(result.PreviousStatus), string(result.NewStatus))
	}
	logger.WithContext(ctx, s.log).Info("application recorded",
		zap.String("commitment_id", commitmentID),
		zap.Int("sequence", record.Sequence),
		zap.String("mass_tons", mass.String()),
		zap.String("status", string(result.NewStatus)),
	)
	return record, nil
}

func (s *Service) Delete(ctx context.Context, recordID string) error {
	id, err := parseID(recordID)
	if err != nil {
		return err
	}
	actorID, _ := actorcontext.UserIDFromContext(ctx)

	var (
		record domain.Record
		result domain.RecomputeResult
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if found == nil {
			return domain.ErrNotFound
		}
		record = *found

		deleted, err := s.repo.Delete(ctx, tx, id)
		if err != nil {
			return err
		}
		if !deleted {
			return domain.ErrNotFound
		}

		commitment, err := s.deliveryRepo.FindCommitmentForUpdate(ctx, tx, record.CommitmentID)
		if err != nil {
			return err
		}
		if commitment == nil {
			return nil
		}
		result, err = s.recompute(ctx, tx, *commitment, actorID, "application deleted")
		return err
	})
	if err != nil {
		return err
	}

	if result.Changed {
		s.ledgerMetrics.IncStatusTransition(string(result.PreviousStatus), string(result.NewStatus))
	}
	s.audit(ctx, actorID, auditdomain.ActionApplicationDeleted, "application_record", record.ID.String(), map[string]any{
		"commitment_id": record.CommitmentID.String(),
		"sequence":      record.Sequence,
		"mass_tons":     record.MassTons.String(),
	})
	return nil
}

func (s *Service) ListByCommitment(ctx context.Context, commitmentID string) ([]domain.Record, error) {
	id, err := parseID(commitmentID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByCommitment(ctx, s.db, id)
}

func (s *Service) Recompute(ctx context.Context, commitmentID string) (result domain.RecomputeResult, err error) {
	ctx, span := tracing.StartLedgerSpan(ctx, "fieldapplication.recompute", attribute.String("commitment_id", commitmentID))
	start := time.Now()
	defer func() {
		s.ledgerMetrics.ObserveOperation(metrics.OperationRecompute, time.Since(start), err)
		tracing.EndSpan(span, err)
	}()

	id, err := parseID(commitmentID)
	if err != nil {
		return domain.RecomputeResult{}, err
	}
	actorID, _ := actorcontext.UserIDFromContext(ctx)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		commitment, err := s.deliveryRepo.FindCommitmentForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if commitment == nil {
			return domain.ErrCommitmentNotFound
		}
		result, err = s.recompute(ctx, tx, *commitment, actorID, "status recomputed")
		return err
	})
	if err != nil {
		return domain.RecomputeResult{}, err
	}
	if result.Changed {
		s.ledgerMetrics.IncStatusTransition(string(result.PreviousStatus), string(result.NewStatus))
	}
	return result, nil
}

// CheckAndFix is skipped when another replica holds the sweep lock.
func (s *Service) CheckAndFix(ctx context.Context) (report domain.IntegrityReport, err error) {
	ctx, span := tracing.StartLedgerSpan(ctx, "fieldapplication.check_and_fix")
	start := time.Now()
	defer func() {
		s.ledgerMetrics.ObserveOperation(metrics.OperationIntegritySweep, time.Since(start), err)
		tracing.EndSpan(span, err)
	}()

	log := logger.WithContext(ctx, s.log)
	if s.locker != nil {
		token, ok, err := s.locker.TryLock(ctx, sweepLockKey, sweepLockTTL)
		if err != nil {
			return domain.IntegrityReport{}, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			log.Info("status integrity sweep already running elsewhere")
			return domain.IntegrityReport{Skipped: true, Corrections: []domain.RecomputeResult{}}, nil
		}
		defer func() {
			if err := s.locker.Release(context.WithoutCancel(ctx), sweepLockKey, token); err != nil {
				log.Warn("failed to release sweep lock", zap.Error(err))
			}
		}()
	}

	commitments, err := s.deliveryRepo.ListByStatuses(ctx, s.db, []deliverydomain.Status{
		deliverydomain.StatusPending,
		deliverydomain.StatusDispatched,
		deliverydomain.StatusCompleted,
	})
	if err != nil {
		return domain.IntegrityReport{}, fmt.Errorf("list commitments: %w", err)
	}

	actorID, _ := actorcontext.UserIDFromContext(ctx)
	report.Corrections = []domain.RecomputeResult{}
	for _, commitment := range commitments {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		var result domain.RecomputeResult
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			current, err := s.deliveryRepo.FindCommitmentForUpdate(ctx, tx, commitment.ID)
			if err != nil || current == nil {
				return err
			}
			result, err = s.recompute(ctx, tx, *current, actorID, "status integrity repair")
			return err
		})
		if err != nil {
			report.Failed++
			log.Warn("status integrity repair failed",
				zap.String("commitment_id", commitment.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if result.Changed {
			report.Repaired++
			report.Corrections = append(report.Corrections, result)
			s.ledgerMetrics.IncStatusTransition(string(result.PreviousStatus), string(result.NewStatus))
		}
	}

	s.ledgerMetrics.AddIntegritySweep(report.Checked, report.Repaired)
	if report.Repaired > 0 {
		s.audit(ctx, actorID, auditdomain.ActionStatusIntegrityRepaired, "status_integrity", "", map[string]any{
			"checked":  report.Checked,
			"repaired": report.Repaired,
			"failed":   report.Failed,
		})
	}
	log.Info("status integrity sweep finished",
		zap.Int("checked", report.Checked),
		zap.Int("repaired", report.Repaired),
		zap.Int("failed", report.Failed),
	)
	return report, nil
}

// recompute derives the status implied by the applied mass and load ticket,
// and moves the commitment there when it drifted. Cancelled commitments stay cancelled.
func (s *Service) recompute(ctx context.Context, tx *gorm.DB, commitment deliverydomain.Commitment, actorID string, note string) (domain.RecomputeResult, error) {
	applied, err := s.repo.SumByCommitment(ctx, tx, commitment.ID)
	if err != nil {
		return domain.RecomputeResult{}, fmt.Errorf("sum applications: %w", err)
	}
	applied = applied.Round(requisitiondomain.MassScale)
	remaining := commitment.MassTons.Sub(applied)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	result := domain.RecomputeResult{
		CommitmentID:   commitment.ID,
		PreviousStatus: commitment.Status,
		NewStatus:      commitment.Status,
		AppliedTons:    applied,
		RemainingTons:  remaining,
		AppliedPct:     appliedPct(applied, commitment.MassTons),
	}
	if commitment.Status == deliverydomain.StatusCancelled {
		return result, nil
	}

	target, err := s.expectedStatus(ctx, tx, commitment, applied, remaining)
	if err != nil {
		return domain.RecomputeResult{}, err
	}
	if target == commitment.Status {
		return result, nil
	}

	now := s.clock.Now()
	ok, err := s.deliveryRepo.TransitionStatus(ctx, tx, commitment.ID, []deliverydomain.Status{commitment.Status}, target, now)
	if err != nil {
		return domain.RecomputeResult{}, err
	}
	if !ok {
		return domain.RecomputeResult{}, deliverydomain.ErrConcurrentStatusChange
	}
	if err := s.deliveryRepo.InsertHistory(ctx, tx, &deliverydomain.StatusHistoryEntry{
		ID:             s.genID.Generate(),
		CommitmentID:   commitment.ID,
		PreviousStatus: commitment.Status,
		NewStatus:      target,
		AppliedPct:     result.AppliedPct,
		RemainingTons:  remaining,
		ChangedBy:      actorID,
		Note:           note,
		ChangedAt:      now,
	}); err != nil {
		return domain.RecomputeResult{}, err
	}

	result.NewStatus = target
	result.Changed = true
	return result, nil
}

func (s *Service) expectedStatus(ctx context.Context, tx *gorm.DB, commitment deliverydomain.Commitment, applied, remaining decimal.Decimal) (deliverydomain.Status, error) {
	if applied.IsPositive() && remaining.LessThanOrEqual(s.policy.Get().CompletionEpsilon()) {
		return deliverydomain.StatusCompleted, nil
	}
	ticket, err := s.deliveryRepo.FindLoadTicket(ctx, tx, commitment.ID)
	if err != nil {
		return "", err
	}
	if ticket != nil || applied.IsPositive() {
		return deliverydomain.StatusDispatched, nil
	}
	return deliverydomain.StatusPending, nil
}

func (s *Service) audit(ctx context.Context, actorID string, action auditdomain.Action, targetType, targetID string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorType := actorcontext.ActorTypeUser
	if actorID == "" {
		actorType = actorcontext.ActorTypeSystem
	}
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		ActorType:  actorType,
		ActorID:    actorID,
		Action:     action,
		TargetType: targetType,
		TargetID:   targetID,
		Metadata:   metadata,
	})
	if err != nil {
		s.log.Warn("failed to write audit log", zap.String("action", string(action)), zap.Error(err))
	}
}

func appliedPct(applied, mass decimal.Decimal) decimal.Decimal {
	if !mass.IsPositive() {
		return decimal.Zero
	}
	pct := applied.Div(mass).Mul(hundred).Round(2)
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}

