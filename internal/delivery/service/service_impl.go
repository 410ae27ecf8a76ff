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
	auditdomain "github.com/smallbiznis/pavetrack/internal/audit/domain"
	"github.com/smallbiznis/pavetrack/internal/authorization"
	"github.com/smallbiznis/pavetrack/internal/clock"
	"github.com/smallbiznis/pavetrack/internal/config"
	"github.com/smallbiznis/pavetrack/internal/delivery/domain"
	"github.com/smallbiznis/pavetrack/internal/delivery/guard"
	"github.com/smallbiznis/pavetrack/internal/observability/logger"
	"github.com/smallbiznis/pavetrack/internal/observability/metrics"
	"github.com/smallbiznis/pavetrack/internal/observability/tracing"
	"github.com/smallbiznis/pavetrack/pkg/db"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Repo          domain.Repository
	Authz         authorization.Service
	Policy        *config.LedgerPolicyHolder
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
	authz         authorization.Service
	policy        *config.LedgerPolicyHolder
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
		log:           p.Log.Named("delivery.service"),
		genID:         p.GenID,
		repo:          p.Repo,
		authz:         p.Authz,
		policy:        p.Policy,
		auditSvc:      p.AuditSvc,
		clock:         clk,
		metrics:       p.Metrics,
		ledgerMetrics: p.LedgerMetrics,
	}
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Commitment, error) {
	commitmentID, err := parseID(id)
	if err != nil {
		return domain.Commitment{}, err
	}
	commitment, err := s.repo.FindCommitment(ctx, s.db, commitmentID)
	if err != nil {
		return domain.Commitment{}, err
	}
	if commitment == nil {
		return domain.Commitment{}, domain.ErrNotFound
	}
	return *commitment, nil
}

func (s *Service) ListByRequisition(ctx context.Context, requisitionID string) ([]domain.Commitment, error) {
	id, err := parseID(requisitionID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByRequisition(ctx, s.db, id)
}

func (s *Service) History(ctx context.Context, id string) ([]domain.StatusHistoryEntry, error) {
	commitment, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.repo.ListHistory(ctx, s.db, commitment.ID)
}

func (s *Service) RegisterLoad(ctx context.Context, id string, req domain.RegisterLoadRequest) (ticket domain.LoadTicket, err error) {
	ctx, span := tracing.StartLedgerSpan(ctx, "delivery.register_load", attribute.String("commitment_id", id))
	start := time.Now()
	defer func() {
		s.ledgerMetrics.ObserveOperation(metrics.OperationRegisterLoad, time.Since(start), err)
		tracing.EndSpan(span, err)
	}()

	commitmentID, err := parseID(id)
	if err != nil {
		return domain.LoadTicket{}, err
	}
	if !req.OutWeightKg.IsPositive() {
		return domain.LoadTicket{}, domain.ErrInvalidWeight
	}
	if req.InWeightKg.Valid && req.InWeightKg.Decimal.IsNegative() {
		return domain.LoadTicket{}, domain.ErrInvalidWeight
	}

	actorID, _ := actorcontext.UserIDFromContext(ctx)
	now := s.clock.Now()
	loadedAt := now
	if req.LoadedAt != nil && !req.LoadedAt.IsZero() {
		loadedAt = req.LoadedAt.UTC()
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		commitment, err := s.repo.FindCommitmentForUpdate(ctx, tx, commitmentID)
		if err != nil {
			return err
		}
		if commitment == nil {
			return domain.ErrNotFound
		}
		existing, err := s.repo.FindLoadTicket(ctx, tx, commitmentID)
		if err != nil {
			return err
		}
		if err := guard.EnsureCanRegisterLoad(*commitment, existing != nil); err != nil {
			return err
		}

		ticket = domain.LoadTicket{
			ID:           s.genID.Generate(),
			CommitmentID: commitmentID,
			OutWeightKg:  req.OutWeightKg,
			InWeightKg:   req.InWeightKg,
			LoadedAt:     loadedAt,
			CreatedBy:    actorID,
			CreatedAt:    now,
		}
		if err := s.repo.InsertLoadTicket(ctx, tx, &ticket); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrLoadAlreadyRegistered
			}
			return err
		}

		ok, err := s.repo.TransitionStatus(ctx, tx, commitmentID, []domain.Status{domain.StatusPending}, domain.StatusDispatched, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConcurrentStatusChange
		}

		return s.repo.InsertHistory(ctx, tx, &domain.StatusHistoryEntry{
			ID:             s.genID.Generate(),
			CommitmentID:   commitmentID,
			PreviousStatus: domain.StatusPending,
			NewStatus:      domain.StatusDispatched,
			AppliedPct:     decimal.Zero,
			RemainingTons:  commitment.MassTons,
			ChangedBy:      actorID,
			Note:           "load registered",
			ChangedAt:      now,
		})
	})
	if err != nil {
		return domain.LoadTicket{}, err
	}

	s.ledgerMetrics.IncStatusTransition(string(domain.StatusPending), string(domain.StatusDispatched))
	logger.WithContext(ctx, s.log).Info("load registered",
		zap.String("commitment_id", commitmentID.String()),
		zap.String("out_weight_kg", ticket.OutWeightKg.String()),
	)
	return ticket, nil
}

func (s *Service) CanCancel(ctx context.Context, id string) (domain.Decision, error) {
	commitmentID, err := parseID(id)
	if err != nil {
		return domain.Decision{}, err
	}
	commitment, hasTicket, err := s.loadForCancellation(ctx, s.db, commitmentID)
	if err != nil {
		return domain.Decision{}, err
	}
	if decision := guard.EvaluateCancellation(*commitment, hasTicket); !decision.Allowed {
		return decision, nil
	}
	return s.authorizeCancellation(ctx)
}

func (s *Service) Cancel(ctx context.Context, id string) (result domain.Commitment, err error) {
	ctx, span := tracing.StartLedgerSpan(ctx, "delivery.cancel", attribute.String("commitment_id", id))
	start := time.Now()
	defer func() {
		s.ledgerMetrics.ObserveOperation(metrics.OperationCancel, time.Since(start), err)
		tracing.EndSpan(span, err)
	}()

	decision, err := s.CanCancel(ctx, id)
	if err != nil {
		return domain.Commitment{}, err
	}
	if !decision.Allowed {
		s.metrics.RecordCancellation(ctx, "denied", decision.Reason)
		return domain.Commitment{}, &domain.DeniedError{Reason: decision.Reason}
	}

	commitmentID, _ := parseID(id)
	actorID, _ := actorcontext.UserIDFromContext(ctx)
	now := s.clock.Now()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		commitment, hasTicket, err := s.loadForCancellation(ctx, tx, commitmentID)
		if err != nil {
			return err
		}
		if decision := guard.EvaluateCancellation(*commitment, hasTicket); !decision.Allowed {
			return &domain.DeniedError{Reason: decision.Reason}
		}

		ok, err := s.repo.CancelIfEligible(ctx, tx, commitmentID, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrConcurrentStatusChange
		}

		if err := s.repo.InsertHistory(ctx, tx, &domain.StatusHistoryEntry{
			ID:             s.genID.Generate(),
			CommitmentID:   commitmentID,
			PreviousStatus: commitment.Status,
			NewStatus:      domain.StatusCancelled,
			AppliedPct:     decimal.Zero,
			RemainingTons:  commitment.MassTons,
			ChangedBy:      actorID,
			Note:           "cancelled",
			ChangedAt:      now,
		}); err != nil {
			return err
		}

		result = *commitment
		result.Status = domain.StatusCancelled
		result.UpdatedAt = now
		return nil
	})
	if err != nil {
		var denied *domain.DeniedError
		if errors.As(err, &denied) {
			s.metrics.RecordCancellation(ctx, "denied", denied.Reason)
		}
		return domain.Commitment{}, err
	}

	s.metrics.RecordCancellation(ctx, "cancelled", "")
	s.ledgerMetrics.IncStatusTransition(string(domain.StatusPending), string(domain.StatusCancelled))
	s.auditCancellation(ctx, actorID, result)

	logger.WithCommitment(logger.WithContext(ctx, s.log), result.ID.String(), result.RequisitionID.String()).
		Info("delivery commitment cancelled", zap.String("mass_tons", result.MassTons.String()))
	return result, nil
}

func (s *Service) loadForCancellation(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Commitment, bool, error) {
	commitment, err := s.repo.FindCommitmentForUpdate(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if commitment == nil {
		return nil, false, domain.ErrNotFound
	}
	ticket, err := s.repo.FindLoadTicket(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	return commitment, ticket != nil, nil
}

// authorizeCancellation grants administrative roles through casbin and
// defers everyone else to the configured fallback.
func (s *Service) authorizeCancellation(ctx context.Context) (domain.Decision, error) {
	userID, ok := actorcontext.UserIDFromContext(ctx)
	if !ok {
		return domain.Deny(domain.ReasonAuthenticationRequired), nil
	}

	err := s.authz.Authorize(ctx, userID, authorization.ObjectDeliveryCommitment, authorization.ActionCommitmentCancel)
	if err == nil {
		return domain.Allow(), nil
	}
	if !errors.Is(err, authorization.ErrForbidden) {
		return domain.Decision{}, fmt.Errorf("authorize cancellation: %w", err)
	}

	policy := s.policy.Get()
	switch policy.CancellationFallback {
	case config.CancellationFallbackAnyAuthenticated:
		return domain.Allow(), nil
	case config.CancellationFallbackEditors:
		isEditor, err := s.authz.HasAnyRole(ctx, userID, policy.EditorRoles)
		if err != nil {
			return domain.Decision{}, fmt.Errorf("resolve editor roles: %w", err)
		}
		if isEditor {
			return domain.Allow(), nil
		}
	}
	return domain.Deny(domain.ReasonNotPermitted), nil
}

func (s *Service) auditCancellation(ctx context.Context, actorID string, commitment domain.Commitment) {
	if s.auditSvc == nil {
		return
	}
	targetID := commitment.ID.String()
	err := s.auditSvc.Record(ctx, auditdomain.Entry{
		ActorType:  actorcontext.ActorTypeUser,
		ActorID:    actorID,
		Action:     auditdomain.ActionCommitmentCancelled,
		TargetType: "delivery_commitment",
		TargetID:   targetID,
		Metadata: map[string]any{
			"requisition_id": commitment.RequisitionID.String(),
			"mass_tons":      commitment.MassTons.String(),
			"truck_ref":      commitment.TruckRef,
			"crew_ref":       commitment.CrewRef,
		},
	})
	if err != nil {
		s.log.Warn("failed to audit cancellation", zap.String("commitment_id", targetID), zap.Error(err))
	}
}

func parseID(value string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(value))
	if err != nil || id == 0 {
		return 0, domain.ErrInvalidID
	}
	return id, nil
}
