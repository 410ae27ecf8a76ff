package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	deliverydomain "github.com/smallbiznis/pavetrack/internal/delivery/domain"
	requisitiondomain "github.com/smallbiznis/pavetrack/internal/requisition/domain"
)

type AllocateRequest struct {
	MassTons     decimal.Decimal `json:"mass_tons"`
	TruckRef     string          `json:"truck_ref"`
	CrewRef      string          `json:"crew_ref"`
	Street       string          `json:"street"`
	DeliveryDate *time.Time      `json:"delivery_date"`
}

type Service interface {
	ComputeProgress(ctx context.Context, requisitionID string) (Snapshot, error)
	// ListSchedulable returns requisitions with mass left to schedule, newest first.
	ListSchedulable(ctx context.Context) ([]SchedulableRequisition, error)
	ValidateQuantity(ctx context.Context, requisitionID string, massTons decimal.Decimal) error
	Allocate(ctx context.Context, requisitionID string, req AllocateRequest) (deliverydomain.Commitment, error)
}

var (
	ErrInvalidID                 = errors.New("invalid_id")
	ErrInvalidMass               = errors.New("invalid_mass")
	ErrInsufficientAvailableMass = errors.New("insufficient_available_mass")
	ErrConcurrentAllocation      = errors.New("concurrent_allocation")
	ErrRequisitionNotFound       = requisitiondomain.ErrNotFound
)

// InsufficientMassError reports how much mass was left when an allocation was refused.
type InsufficientMassError struct {
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientMassError) Error() string {
	return fmt.Sprintf("%s: requested %s t, available %s t", ErrInsufficientAvailableMass, e.Requested, e.Available)
}

func (e *InsufficientMassError) Unwrap() error {
	return ErrInsufficientAvailableMass
}
