package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *Record) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Record, error)
	Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error)
	ListByCommitment(ctx context.Context, db *gorm.DB, commitmentID snowflake.ID) ([]Record, error)
	SumByCommitment(ctx context.Context, db *gorm.DB, commitmentID snowflake.ID) (decimal.Decimal, error)
	MaxSequence(ctx context.Context, db *gorm.DB, commitmentID snowflake.ID) (int, error)
}
