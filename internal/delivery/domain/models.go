package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// Status represents lifecycle states for a delivery commitment.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusDispatched Status = "DISPATCHED"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// ProgrammedStatuses count toward a requisition's programmed mass.
var ProgrammedStatuses = []Status{StatusPending, StatusDispatched}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDispatched, StatusCompleted, StatusCancelled:
		return true
	default:
		return false
	}
}

// Commitment pledges a mass from a requisition to one truck and crew on a delivery date.
type Commitment struct {
	ID            snowflake.ID    `json:"id"`
	RequisitionID snowflake.ID    `json:"requisition_id"`
	MassTons      decimal.Decimal `json:"mass_tons"`
	Status        Status          `json:"status"`
	TruckRef      string          `json:"truck_ref,omitempty"`
	CrewRef       string          `json:"crew_ref,omitempty"`
	Street        string          `json:"street,omitempty"`
	DeliveryDate  *time.Time      `json:"delivery_date,omitempty"`
	CreatedBy     string          `json:"created_by,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (Commitment) TableName() string {
	return "delivery_commitments"
}

// LoadTicket is the weighbridge record of a loaded truck. At most one exists per commitment.
type LoadTicket struct {
	ID           snowflake.ID        `json:"id"`
	CommitmentID snowflake.ID        `json:"commitment_id"`
	OutWeightKg  decimal.Decimal     `json:"out_weight_kg"`
	InWeightKg   decimal.NullDecimal `json:"in_weight_kg"`
	LoadedAt     time.Time           `json:"loaded_at"`
	CreatedBy    string              `json:"created_by,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
}

func (LoadTicket) TableName() string {
	return "load_tickets"
}

type StatusHistoryEntry struct {
	ID             snowflake.ID    `json:"id"`
	CommitmentID   snowflake.ID    `json:"commitment_id"`
	PreviousStatus Status          `json:"previous_status"`
	NewStatus      Status          `json:"new_status"`
	AppliedPct     decimal.Decimal `json:"applied_pct"`
	RemainingTons  decimal.Decimal `json:"remaining_tons"`
	ChangedBy      string          `json:"changed_by,omitempty"`
	Note           string          `json:"note,omitempty"`
	ChangedAt      time.Time       `json:"changed_at"`
}

func (StatusHistoryEntry) TableName() string {
	return "delivery_status_history"
}

// Decision is the outcome of a cancellation check. A denial is not an error.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
}

const (
	ReasonAlreadyDispatched      = "already dispatched or delivered"
	ReasonLoadRegistered         = "load already registered"
	ReasonAlreadyCancelled       = "already cancelled"
	ReasonAuthenticationRequired = "authentication required"
	ReasonNotPermitted           = "not permitted to cancel"
)

func Allow() Decision {
	return Decision{Allowed: true}
}

func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}
