package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	deliverydomain "github.com/smallbiznis/pavetrack/internal/delivery/domain"
)

// Record is one field application against a dispatched delivery.
// Several records with distinct sequences may share a commitment.
type Record struct {
	ID           snowflake.ID    `json:"id"`
	CommitmentID snowflake.ID    `json:"commitment_id"`
	Sequence     int             `json:"sequence"`
	MassTons     decimal.Decimal `json:"mass_tons"`
	Street       string          `json:"street,omitempty"`
	AppliedAt    time.Time       `json:"applied_at"`
	CreatedBy    string          `json:"created_by,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (Record) TableName() string {
	return "application_records"
}

// RecomputeResult describes the status a commitment should hold given its applications.
type RecomputeResult struct {
	CommitmentID   snowflake.ID          `json:"commitment_id"`
	PreviousStatus deliverydomain.Status `json:"previous_status"`
	NewStatus      deliverydomain.Status `json:"new_status"`
	AppliedTons    decimal.Decimal       `json:"applied_tons"`
	RemainingTons  decimal.Decimal       `json:"remaining_tons"`
	AppliedPct     decimal.Decimal       `json:"applied_pct"`
	Changed        bool                  `json:"changed"`
}

type IntegrityReport struct {
	Checked     int               `json:"checked"`
	Repaired    int               `json:"repaired"`
	Failed      int               `json:"failed"`
	Skipped     bool              `json:"skipped"`
	Corrections []RecomputeResult `json:"corrections"`
}
