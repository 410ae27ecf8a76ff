package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	requisitiondomain "github.com/smallbiznis/pavetrack/internal/requisition/domain"
)

var hundred = decimal.NewFromInt(100)

// Snapshot is the derived mass progress of one requisition. It is never persisted.
type Snapshot struct {
	RequisitionID  snowflake.ID    `json:"requisition_id"`
	Total          decimal.Decimal `json:"total_tons"`
	Applied        decimal.Decimal `json:"applied_tons"`
	Programmed     decimal.Decimal `json:"programmed_tons"`
	Available      decimal.Decimal `json:"available_tons"`
	PctApplied     float64         `json:"pct_applied"`
	PctProgrammed  float64         `json:"pct_programmed"`
	IsComplete     bool            `json:"is_complete"`
	CanBeScheduled bool            `json:"can_be_scheduled"`
}

// NewSnapshot combines the three aggregates of a requisition.
// Available never goes below zero; percentages are capped at 100.
func NewSnapshot(total, applied, programmed, tolerance decimal.Decimal) Snapshot {
	total = total.Round(requisitiondomain.MassScale)
	applied = applied.Round(requisitiondomain.MassScale)
	programmed = programmed.Round(requisitiondomain.MassScale)

	available := total.Sub(applied).Sub(programmed)
	if available.IsNegative() {
		available = decimal.Zero
	}

	return Snapshot{
		Total:          total,
		Applied:        applied,
		Programmed:     programmed,
		Available:      available,
		PctApplied:     percentOf(applied, total),
		PctProgrammed:  percentOf(programmed, total),
		IsComplete:     applied.GreaterThanOrEqual(total),
		CanBeScheduled: available.GreaterThan(tolerance),
	}
}

func percentOf(part, total decimal.Decimal) float64 {
	if !total.IsPositive() {
		return 0
	}
	pct := part.Div(total).Mul(hundred).Round(2)
	if pct.GreaterThan(hundred) {
		pct = hundred
	}
	return pct.InexactFloat64()
}

// SchedulableRequisition is a requisition still offered for delivery scheduling.
type SchedulableRequisition struct {
	ID            snowflake.ID `json:"id"`
	Number        string       `json:"number"`
	CostCenterRef string       `json:"cost_center_ref,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	Progress      Snapshot     `json:"progress"`
}

// RequisitionTotals is one row of the grouped ledger aggregation.
type RequisitionTotals struct {
	ID             snowflake.ID    `gorm:"column:id"`
	Number         string          `gorm:"column:number"`
	CostCenterRef  string          `gorm:"column:cost_center_ref"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	TotalKg        decimal.Decimal `gorm:"column:total_kg"`
	AppliedTons    decimal.Decimal `gorm:"column:applied_tons"`
	ProgrammedTons decimal.Decimal `gorm:"column:programmed_tons"`
}
