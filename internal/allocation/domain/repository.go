package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	// SumApplied totals application records across every commitment of the requisition.
	SumApplied(ctx context.Context, db *gorm.DB, requisitionID snowflake.ID) (decimal.Decimal, error)
	// SumProgrammed totals commitments still PENDING or DISPATCHED.
	SumProgrammed(ctx context.Context, db *gorm.DB, requisitionID snowflake.ID) (decimal.Decimal, error)
	ListTotals(ctx context.Context, db *gorm.DB) ([]RequisitionTotals, error)
	BumpAllocationVersion(ctx context.Context, db *gorm.DB, requisitionID snowflake.ID, expected int64, at time.Time) (bool, error)
}
