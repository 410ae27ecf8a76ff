package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/pavetrack/internal/allocation/domain"
	deliverydomain "github.com/smallbiznis/pavetrack/internal/delivery/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

type totalRow struct {
	Total decimal.Decimal `gorm:"column:total"`
}

func (r *repo) SumApplied(ctx context.Context, db *gorm.DB, requisitionID snowflake.ID) (decimal.Decimal, error) {
	var row totalRow
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(ar.mass_tons), 0) AS total
		 FROM application_records ar
		 JOIN delivery_commitments dc ON dc.id = ar.commitment_id
		 WHERE dc.requisition_id = ?`,
		requisitionID,
	).Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.Total, nil
}

func (r *repo) SumProgrammed(ctx context.Context, db *gorm.DB, requisitionID snowflake.ID) (decimal.Decimal, error) {
	var row totalRow
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(mass_tons), 0) AS total
		 FROM delivery_commitments
		 WHERE requisition_id = ? AND status IN ?`,
		requisitionID,
		programmedStatuses(),
	).Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.Total, nil
}

// ListTotals aggregates every requisition in three grouped subqueries.
func (r *repo) ListTotals(ctx context.Context, db *gorm.DB) ([]domain.RequisitionTotals, error) {
	var rows []domain.RequisitionTotals
	err := db.WithContext(ctx).Raw(
		`SELECT r.id, r.number, r.cost_center_ref, r.created_at,
			COALESCE(li.total_kg, 0) AS total_kg,
			COALESCE(ap.applied, 0) AS applied_tons,
			COALESCE(pg.programmed, 0) AS programmed_tons
		 FROM requisitions r
		 LEFT JOIN (
			SELECT requisition_id, SUM(mass_kg) AS total_kg
			FROM requisition_line_items
			GROUP BY requisition_id
		 ) li ON li.requisition_id = r.id
		 LEFT JOIN (
			SELECT dc.requisition_id, SUM(ar.mass_tons) AS applied
			FROM application_records ar
			JOIN delivery_commitments dc ON dc.id = ar.commitment_id
			GROUP BY dc.requisition_id
		 ) ap ON ap.requisition_id = r.id
		 LEFT JOIN (
			SELECT requisition_id, SUM(mass_tons) AS programmed
			FROM delivery_commitments
			WHERE status IN ?
			GROUP BY requisition_id
		 ) pg ON pg.requisition_id = r.id
		 ORDER BY r.created_at DESC, r.id DESC`,
		programmedStatuses(),
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) BumpAllocationVersion(ctx context.Context, db *gorm.DB, requisitionID snowflake.ID, expected int64, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE requisitions
		 SET allocation_version = allocation_version + 1, updated_at = ?
		 WHERE id = ? AND allocation_version = ?`,
		at,
		requisitionID,
		expected,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func programmedStatuses() []string {
	values := make([]string, 0, len(deliverydomain.ProgrammedStatuses))
	for _, status := range deliverydomain.ProgrammedStatuses {
		values = append(values, string(status))
	}
	return values
}
