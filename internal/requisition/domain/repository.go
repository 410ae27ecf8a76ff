package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/pavetrack/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, requisition *Requisition) error
	InsertLineItems(ctx context.Context, db *gorm.DB, items []LineItem) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Requisition, error)
	ListLineItems(ctx context.Context, db *gorm.DB, requisitionID snowflake.ID) ([]LineItem, error)
	List(ctx context.Context, db *gorm.DB, page pagination.Pagination) ([]*Requisition, error)
	SumMassKg(ctx context.Context, db *gorm.DB, requisitionID snowflake.ID) (decimal.Decimal, error)
}
