package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	deliverydomain "github.com/smallbiznis/pavetrack/internal/delivery/domain"
)

type RecordRequest struct {
	// Sequence 0 takes the next free sequence of the commitment.
	Sequence  int             `json:"sequence"`
	MassTons  decimal.Decimal `json:"mass_tons"`
	Street    string          `json:"street"`
	AppliedAt *time.Time      `json:"applied_at"`
}

type Service interface {
	Record(ctx context.Context, commitmentID string, req RecordRequest) (Record, error)
	Delete(ctx context.Context, recordID string) error
	ListByCommitment(ctx context.Context, commitmentID string) ([]Record, error)
	Recompute(ctx context.Context, commitmentID string) (RecomputeResult, error)
	// CheckAndFix recomputes every non-cancelled commitment and repairs drifted statuses.
	CheckAndFix(ctx context.Context) (IntegrityReport, error)
}

var (
	ErrInvalidID               = errors.New("invalid_id")
	ErrInvalidMass             = errors.New("invalid_mass")
	ErrInvalidSequence         = errors.New("invalid_sequence")
	ErrDuplicateSequence       = errors.New("duplicate_application_sequence")
	ErrExceedsCommitment       = errors.New("application_exceeds_commitment")
	ErrCommitmentNotDispatched = errors.New("commitment_not_dispatched")
	ErrNotFound                = errors.New("application_record_not_found")
	ErrCommitmentNotFound      = deliverydomain.ErrNotFound
)
