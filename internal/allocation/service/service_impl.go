package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/pavetrack/internal/actorcontext"
	"github.com/smallbiznis/pavetrack/internal/allocation/domain"
	"github.com/smallbiznis/pavetrack/internal/clock"
	"github.com/smallbiznis/pavetrack/internal/config"
	deliverydomain "github.com/smallbiznis/pavetrack/internal/delivery/domain"
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

var errVersionConflict = errors.New("allocation_version_conflict")

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Repo            domain.Repository
	Requisitions    requisitiondomain.Service
	RequisitionRepo requisitiondomain.Repository
	DeliveryRepo    deliverydomain.Repository
	Policy          *config.LedgerPolicyHolder
	Clock           clock.Clock            `optional:"true"`
	Metrics         *metrics.Metrics       `optional:"true"`
	LedgerMetrics   *metrics.LedgerMetrics `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	repo            domain.Repository
	requisitions    requisitiondomain.Service
	requisitionRepo requisitiondomain.Repository
	deliveryRepo    deliverydomain.Repository
	policy          *config.LedgerPolicyHolder
	clock           clock.Clock
	metrics         *metrics.Metrics
	ledgerMetrics   *metrics.LedgerMetrics
}

func New(p Params) domain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("allocation.service"),
		genID:           p.GenID,
		repo:            p.Repo,
		requisitions:    p.Requisitions,
		requisitionRepo: p.RequisitionRepo,
		deliveryRepo:    p.DeliveryRepo,
		policy:          p.Policy,
		clock:           clk,
		metrics:         p.Metrics,
		ledgerMetrics:   p.LedgerMetrics,
	}
}

func (s *Service) ComputeProgress(ctx context.Context, requisitionID string) (snapshot domain.Snapshot, err error) {
	ctx, span := tracing.StartLedgerSpan(ctx, "allocation.compute_progress", attribute.String("requisition_id", requisitionID))
	start := time.Now()
	defer func() {
		s.ledgerMetrics.ObserveOperation(metrics.OperationComputeProgress, time.Since(start), err)
		tracing.EndSpan(span, err)
	}()

	id, err := parseID(requisitionID)
	if err != nil {
		return domain.Snapshot{}, err
	}

	total, err := s.requisitions.ResolveTotalMass(ctx, requisitionID)
	if err != nil {
		return domain.Snapshot{}, err
	}
	snapshot, err = s.aggregate(ctx, s.db, id, total)
	if err != nil {
		return domain.Snapshot{}, err
	}

	s.metrics.RecordProgressComputed(ctx, "single")
	return snapshot, nil
}

func (s *Service) ListSchedulable(ctx context.Context) (result []domain.SchedulableRequisition, err error) {
	ctx, span := tracing.StartLedgerSpan(ctx, "allocation.list_schedulable")
	start := time.Now()
	defer func() {
		s.ledgerMetrics.ObserveOperation(metrics.OperationListSchedulable, time.Since(start), err)
		tracing.EndSpan(span, err)
	}()

	rows, err := s.repo.ListTotals(ctx, s.db)
	if err != nil {
		return nil, fmt.Errorf("aggregate requisitions: %w", err)
	}

	tolerance := s.policy.Get().SchedulingTolerance()
	result = make([]domain.SchedulableRequisition, 0, len(rows))
	for _, row := range rows {
		snapshot := domain.NewSnapshot(requisitiondomain.KgToTons(row.TotalKg), row.AppliedTons, row.ProgrammedTons, tolerance)
		snapshot.RequisitionID = row.ID
		s.metrics.RecordProgressComputed(ctx, "batch")
		if !snapshot.CanBeScheduled {
			continue
		}
		result = append(result, domain.SchedulableRequisition{
			ID:            row.ID,
			Number:        row.Number,
			CostCenterRef: row.CostCenterRef,
			CreatedAt:     row.CreatedAt,
			Progress:      snapshot,
		})
	}

	logger.WithContext(ctx, s.log).Debug("schedulable requisitions listed",
		zap.Int("candidates", len(rows)),
		zap.Int("schedulable", len(result)),
	)
	return result, nil
}

func (s *Service) ValidateQuantity(ctx context.Context, requisitionID string, massTons decimal.Decimal) error {
	if !massTons.IsPositive() {
		return domain.ErrInvalidMass
	}
	snapshot, err := s.ComputeProgress(ctx, requisitionID)
	if err != nil {
		return err
	}
	return checkQuantity(snapshot, massTons)
}

// Allocate schedules a new commitment against the requisition's available mass.
// Concurrent allocations on the same requisition are serialized through
// requisitions.allocation_version; the loser retries on a fresh snapshot.
func (s *Service) Allocate(ctx context.Context, requisitionID string, req domain.AllocateRequest) (commitment deliverydomain.Commitment, err error) {
	ctx, span := tracing.StartLedgerSpan(ctx, "allocation.allocate", attribute.String("requisition_id", requisitionID))
	start := time.Now()
	defer func() {
		s.ledgerMetrics.ObserveOperation(metrics.OperationAllocate, time.Since(start), err)
		tracing.EndSpan(span, err)
	}()

	id, err := parseID(requisitionID)
	if err != nil {
		return deliverydomain.Commitment{}, err
	}
	if !req.MassTons.IsPositive() {
		return deliverydomain.Commitment{}, domain.ErrInvalidMass
	}
	req.MassTons = req.MassTons.Round(requisitiondomain.MassScale)

	policy := s.policy.Get()
	attempts := policy.MaxAllocationAttempts
	if attempts < 1 {
		attempts = 1
	}

	for attempt := 1; attempt <= attempts; attempt++ {
		commitment, err = s.allocateOnce(ctx, id, req, policy.SchedulingTolerance())
		if err == nil {
			s.metrics.RecordAllocation(ctx, "allocated", req.MassTons.InexactFloat64())
			logger.WithCommitment(logger.WithContext(ctx, s.log), commitment.ID.String(), requisitionID).
				Info("mass allocated",
					zap.String("mass_tons", commitment.MassTons.String()),
					zap.Int("attempt", attempt),
				)
			return commitment, nil
		}
		if !errors.Is(err, errVersionConflict) && !db.IsRetryableTxErr(err) {
			if errors.Is(err, domain.ErrInsufficientAvailableMass) {
				s.metrics.RecordAllocation(ctx, "rejected", 0)
			}
			return deliverydomain.Commitment{}, err
		}
		s.ledgerMetrics.IncAllocationConflict(metrics.AllocationConflictRetried)
		s.log.Debug("allocation version conflict, retrying",
			zap.String("requisition_id", requisitionID),
			zap.Int("attempt", attempt),
		)
	}

	s.ledgerMetrics.IncAllocationConflict(metrics.AllocationConflictExhausted)
	s.metrics.RecordAllocation(ctx, "conflict", 0)
	return deliverydomain.Commitment{}, domain.ErrConcurrentAllocation
}

func (s *Service) allocateOnce(ctx context.Context, requisitionID snowflake.ID, req domain.AllocateRequest, tolerance decimal.Decimal) (deliverydomain.Commitment, error) {
	var commitment deliverydomain.Commitment
	actorID, _ := actorcontext.UserIDFromContext(ctx)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		requisition, err := s.requisitionRepo.FindByID(ctx, tx, requisitionID)
		if err != nil {
			return fmt.Errorf("find requisition: %w", err)
		}
		if requisition == nil {
			return domain.ErrRequisitionNotFound
		}
		totalKg, err := s.requisitionRepo.SumMassKg(ctx, tx, requisitionID)
		if err != nil {
			return fmt.Errorf("sum line items: %w", err)
		}

		snapshot, err := s.aggregateWithTolerance(ctx, tx, requisitionID, requisitiondomain.KgToTons(totalKg), tolerance)
		if err != nil {
			return err
		}
		if err := checkQuantity(snapshot, req.MassTons); err != nil {
			return err
		}

		now := s.clock.Now()
		commitment = deliverydomain.Commitment{
			ID:            s.genID.Generate(),
			RequisitionID: requisitionID,
			MassTons:      req.MassTons,
			Status:        deliverydomain.StatusPending,
			TruckRef:      strings.TrimSpace(req.TruckRef),
			CrewRef:       strings.TrimSpace(req.CrewRef),
			Street:        strings.TrimSpace(req.Street),
			DeliveryDate:  req.DeliveryDate,
			CreatedBy:     actorID,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.deliveryRepo.InsertCommitment(ctx, tx, &commitment); err != nil {
			return err
		}

		ok, err := s.repo.BumpAllocationVersion(ctx, tx, requisitionID, requisition.AllocationVersion, now)
		if err != nil {
			return err
		}
		if !ok {
			return errVersionConflict
		}

		return s.deliveryRepo.InsertHistory(ctx, tx, &deliverydomain.StatusHistoryEntry{
			ID:            s.genID.Generate(),
			CommitmentID:  commitment.ID,
			NewStatus:     deliverydomain.StatusPending,
			AppliedPct:    decimal.Zero,
			RemainingTons: commitment.MassTons,
			ChangedBy:     actorID,
			Note:          "scheduled",
			ChangedAt:     now,
		})
	})
	if err != nil {
		return deliverydomain.Commitment{}, err
	}
	return commitment, nil
}

func (s *Service) aggregate(ctx context.Context, tx *gorm.DB, requisitionID snowflake.ID, total decimal.Decimal) (domain.Snapshot, error) {
	return s.aggregateWithTolerance(ctx, tx, requisitionID, total, s.policy.Get().SchedulingTolerance())
}

func (s *Service) aggregateWithTolerance(ctx context.Context, tx *gorm.DB, requisitionID snowflake.ID, total, tolerance decimal.Decimal) (domain.Snapshot, error) {
	applied, err := s.repo.SumApplied(ctx, tx, requisitionID)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("sum applied: %w", err)
	}
	programmed, err := s.repo.SumProgrammed(ctx, tx, requisitionID)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("sum programmed: %w", err)
	}

	snapshot := domain.NewSnapshot(total, applied, programmed, tolerance)
	snapshot.RequisitionID = requisitionID
	return snapshot, nil
}

func checkQuantity(snapshot domain.Snapshot, massTons decimal.Decimal) error {
	if !snapshot.CanBeScheduled || massTons.GreaterThan(snapshot.Available) {
		return &domain.InsufficientMassError{Requested: massTons, Available: snapshot.Available}
	}
	return nil
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
