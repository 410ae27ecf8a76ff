package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/pavetrack/internal/fieldapplication/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.Record) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO application_records (id, commitment_id, sequence, mass_tons, street, applied_at, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.CommitmentID,
		record.Sequence,
		record.MassTons,
		record.Street,
		record.AppliedAt,
		record.CreatedBy,
		record.CreatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Record, error) {
	var record domain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT id, commitment_id, sequence, mass_tons, street, applied_at, created_by, created_at
		 FROM application_records WHERE id = ?`,
		id,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) Delete(ctx context.Context, db *gorm.DB, id snowflake.ID) (bool, error) {
	result := db.WithContext(ctx).Exec(`DELETE FROM application_records WHERE id = ?`, id)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) ListByCommitment(ctx context.Context, db *gorm.DB, commitmentID snowflake.ID) ([]domain.Record, error) {
	var records []domain.Record
	err := db.WithContext(ctx).Raw(
		`SELECT id, commitment_id, sequence, mass_tons, street, applied_at, created_by, created_at
		 FROM application_records
		 WHERE commitment_id = ?
		 ORDER BY sequence ASC`,
		commitmentID,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) SumByCommitment(ctx context.Context, db *gorm.DB, commitmentID snowflake.ID) (decimal.Decimal, error) {
	var row struct {
		Total decimal.Decimal `gorm:"column:total"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(mass_tons), 0) AS total
		 FROM application_records WHERE commitment_id = ?`,
		commitmentID,
	).Scan(&row).Error
	if err != nil {
		return decimal.Zero, err
	}
	return row.Total, nil
}

func (r *repo) MaxSequence(ctx context.Context, db *gorm.DB, commitmentID snowflake.ID) (int, error) {
	var row struct {
		MaxSequence int `gorm:"column:max_sequence"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(sequence), 0) AS max_sequence
		 FROM application_records WHERE commitment_id = ?`,
		commitmentID,
	).Scan(&row).Error
	if err != nil {
		return 0, err
	}
	return row.MaxSequence, nil
}
