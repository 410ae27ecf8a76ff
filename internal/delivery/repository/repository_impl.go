package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pavetrack/internal/delivery/domain"
	"gorm.io/gorm"
)

const commitmentColumns = `id, requisition_id, mass_tons, status, truck_ref, crew_ref, street,
	delivery_date, created_by, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertCommitment(ctx context.Context, db *gorm.DB, commitment *domain.Commitment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO delivery_commitments (`+commitmentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		commitment.ID,
		commitment.RequisitionID,
		commitment.MassTons,
		commitment.Status,
		commitment.TruckRef,
		commitment.CrewRef,
		commitment.Street,
		commitment.DeliveryDate,
		commitment.CreatedBy,
		commitment.CreatedAt,
		commitment.UpdatedAt,
	).Error
}

func (r *repo) FindCommitment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Commitment, error) {
	var commitment domain.Commitment
	err := db.WithContext(ctx).Raw(
		`SELECT `+commitmentColumns+` FROM delivery_commitments WHERE id = ?`,
		id,
	).Scan(&commitment).Error
	if err != nil {
		return nil, err
	}
	if commitment.ID == 0 {
		return nil, nil
	}
	return &commitment, nil
}

// FindCommitmentForUpdate row-locks the commitment until the surrounding
// transaction ends. SQLite serializes writers on its own and has no FOR UPDATE.
func (r *repo) FindCommitmentForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Commitment, error) {
	query := `SELECT ` + commitmentColumns + ` FROM delivery_commitments WHERE id = ?`
	if db.Dialector.Name() != "sqlite" {
		query += ` FOR UPDATE`
	}

	var commitment domain.Commitment
	if err := db.WithContext(ctx).Raw(query, id).Scan(&commitment).Error; err != nil {
		return nil, err
	}
	if commitment.ID == 0 {
		return nil, nil
	}
	return &commitment, nil
}

func (r *repo) ListByRequisition(ctx context.Context, db *gorm.DB, requisitionID snowflake.ID) ([]domain.Commitment, error) {
	var commitments []domain.Commitment
	err := db.WithContext(ctx).Raw(
		`SELECT `+commitmentColumns+` FROM delivery_commitments
		 WHERE requisition_id = ?
		 ORDER BY id ASC`,
		requisitionID,
	).Scan(&commitments).Error
	if err != nil {
		return nil, err
	}
	return commitments, nil
}

func (r *repo) ListByStatuses(ctx context.Context, db *gorm.DB, statuses []domain.Status) ([]domain.Commitment, error) {
	var commitments []domain.Commitment
	if len(statuses) == 0 {
		return commitments, nil
	}
	err := db.WithContext(ctx).Raw(
		`SELECT `+commitmentColumns+` FROM delivery_commitments
		 WHERE status IN ?
		 ORDER BY id ASC`,
		statusStrings(statuses),
	).Scan(&commitments).Error
	if err != nil {
		return nil, err
	}
	return commitments, nil
}

func (r *repo) FindLoadTicket(ctx context.Context, db *gorm.DB, commitmentID snowflake.ID) (*domain.LoadTicket, error) {
	var ticket domain.LoadTicket
	err := db.WithContext(ctx).Raw(
		`SELECT id, commitment_id, out_weight_kg, in_weight_kg, loaded_at, created_by, created_at
		 FROM load_tickets WHERE commitment_id = ?`,
		commitmentID,
	).Scan(&ticket).Error
	if err != nil {
		return nil, err
	}
	if ticket.ID == 0 {
		return nil, nil
	}
	return &ticket, nil
}

func (r *repo) InsertLoadTicket(ctx context.Context, db *gorm.DB, ticket *domain.LoadTicket) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO load_tickets (id, commitment_id, out_weight_kg, in_weight_kg, loaded_at, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ticket.ID,
		ticket.CommitmentID,
		ticket.OutWeightKg,
		ticket.InWeightKg,
		ticket.LoadedAt,
		ticket.CreatedBy,
		ticket.CreatedAt,
	).Error
}

func (r *repo) TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []domain.Status, to domain.Status, at time.Time) (bool, error) {
	if len(from) == 0 {
		return false, nil
	}
	result := db.WithContext(ctx).Exec(
		`UPDATE delivery_commitments
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status IN ?`,
		to,
		at,
		id,
		statusStrings(from),
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) CancelIfEligible(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`UPDATE delivery_commitments
		 SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?
		   AND NOT EXISTS (SELECT 1 FROM load_tickets lt WHERE lt.commitment_id = delivery_commitments.id)`,
		domain.StatusCancelled,
		at,
		id,
		domain.StatusPending,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) InsertHistory(ctx context.Context, db *gorm.DB, entry *domain.StatusHistoryEntry) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO delivery_status_history (
			id, commitment_id, previous_status, new_status, applied_pct,
			remaining_tons, changed_by, note, changed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID,
		entry.CommitmentID,
		entry.PreviousStatus,
		entry.NewStatus,
		entry.AppliedPct,
		entry.RemainingTons,
		entry.ChangedBy,
		entry.Note,
		entry.ChangedAt,
	).Error
}

func (r *repo) ListHistory(ctx context.Context, db *gorm.DB, commitmentID snowflake.ID) ([]domain.StatusHistoryEntry, error) {
	var entries []domain.StatusHistoryEntry
	err := db.WithContext(ctx).Raw(
		`SELECT id, commitment_id, previous_status, new_status, applied_pct,
		 remaining_tons, changed_by, note, changed_at
		 FROM delivery_status_history
		 WHERE commitment_id = ?
		 ORDER BY id ASC`,
		commitmentID,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func statusStrings(statuses []domain.Status) []string {
	values := make([]string, 0, len(statuses))
	for _, status := range statuses {
		values = append(values, string(status))
	}
	return values
}
