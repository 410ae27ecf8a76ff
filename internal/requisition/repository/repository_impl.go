package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/pavetrack/internal/requisition/domain"
	"github.com/smallbiznis/pavetrack/pkg/db/option"
	"github.com/smallbiznis/pavetrack/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, requisition *domain.Requisition) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO requisitions (id, number, cost_center_ref, allocation_version, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		requisition.ID,
		requisition.Number,
		requisition.CostCenterRef,
		requisition.AllocationVersion,
		requisition.CreatedBy,
		requisition.CreatedAt,
		requisition.UpdatedAt,
	).Error
}

func (r *repo) InsertLineItems(ctx context.Context, db *gorm.DB, items []domain.LineItem) error {
	for _, item := range items {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO requisition_line_items (id, requisition_id, street, mass_kg, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			item.ID,
			item.RequisitionID,
			item.Street,
			item.MassKg,
			item.CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Requisition, error) {
	var requisition domain.Requisition
	err := db.WithContext(ctx).Raw(
		`SELECT id, number, cost_center_ref, allocation_version, created_by, created_at, updated_at
		 FROM requisitions WHERE id = ?`,
		id,
	).Scan(&requisition).Error
	if err != nil {
		return nil, err
	}
	if requisition.ID == 0 {
		return nil, nil
	}
	return &requisition, nil
}

func (r *repo) ListLineItems(ctx context.Context, db *gorm.DB, requisitionID snowflake.ID) ([]domain.LineItem, error) {
	var items []domain.LineItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, requisition_id, street, mass_kg, created_at
		 FROM requisition_line_items WHERE requisition_id = ?
		 ORDER BY id ASC`,
		requisitionID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, page pagination.Pagination) ([]*domain.Requisition, error) {
	var requisitions []*domain.Requisition
	stmt := db.WithContext(ctx).
		Table("requisitions").
		Select("id, number, cost_center_ref, allocation_version, created_by, created_at, updated_at")
	stmt = option.ApplyPagination(page).Apply(stmt)
	err := stmt.
		Order("id desc").
		Find(&requisitions).Error
	if err != nil {
		return nil, err
	}
	return requisitions, nil
}

func (r *repo) SumMassKg(ctx context.Context, db *gorm.DB, requisitionID snowflake.ID) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal `gorm:"column:total"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(mass_kg), 0) AS total
		 FROM requisition_line_items WHERE requisition_id = ?`,
		requisitionID,
	).Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.Total, nil
}
