package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type RegisterLoadRequest struct {
	OutWeightKg decimal.Decimal     `json:"out_weight_kg"`
	InWeightKg  decimal.NullDecimal `json:"in_weight_kg"`
	LoadedAt    *time.Time          `json:"loaded_at"`
}

type Service interface {
	GetByID(ctx context.Context, id string) (Commitment, error)
	ListByRequisition(ctx context.Context, requisitionID string) ([]Commitment, error)
	History(ctx context.Context, id string) ([]StatusHistoryEntry, error)
	RegisterLoad(ctx context.Context, id string, req RegisterLoadRequest) (LoadTicket, error)
	// CanCancel evaluates the cancellation rules for the actor carried in ctx.
	CanCancel(ctx context.Context, id string) (Decision, error)
	Cancel(ctx context.Context, id string) (Commitment, error)
}

var (
	ErrInvalidID              = errors.New("invalid_id")
	ErrInvalidWeight          = errors.New("invalid_weight")
	ErrNotFound               = errors.New("delivery_commitment_not_found")
	ErrInvalidTransition      = errors.New("invalid_status_transition")
	ErrLoadAlreadyRegistered  = errors.New("load_already_registered")
	ErrCancellationDenied     = errors.New("cancellation_denied")
	ErrConcurrentStatusChange = errors.New("concurrent_status_change")
)

// DeniedError carries the reason behind a refused cancellation.
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string {
	return ErrCancellationDenied.Error() + ": " + e.Reason
}

func (e *DeniedError) Unwrap() error {
	return ErrCancellationDenied
}
