package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// KgPerTon converts line item kilograms into ledger tons.
const KgPerTon = 1000

var kgPerTon = decimal.NewFromInt(KgPerTon)

// MassScale is the number of decimal places kept for ton quantities.
const MassScale = 3

type Requisition struct {
	ID                snowflake.ID    `json:"id"`
	Number            string          `json:"number"`
	CostCenterRef     string          `json:"cost_center_ref,omitempty"`
	AllocationVersion int64           `json:"allocation_version"`
	CreatedBy         string          `json:"created_by,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	TotalMassTons     decimal.Decimal `gorm:"-" json:"total_mass_tons"`
	LineItems         []LineItem      `gorm:"-" json:"line_items,omitempty"`
}

// LineItem is one street segment of a requisition, recorded in kilograms.
type LineItem struct {
	ID            snowflake.ID    `json:"id"`
	RequisitionID snowflake.ID    `json:"requisition_id"`
	Street        string          `json:"street"`
	MassKg        decimal.Decimal `json:"mass_kg"`
	CreatedAt     time.Time       `json:"created_at"`
}

// KgToTons converts kilograms to tons rounded to MassScale.
func KgToTons(kg decimal.Decimal) decimal.Decimal {
	return kg.Div(kgPerTon).Round(MassScale)
}
