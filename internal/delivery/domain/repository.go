package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	InsertCommitment(ctx context.Context, db *gorm.DB, commitment *Commitment) error
	FindCommitment(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Commitment, error)
	// FindCommitmentForUpdate holds a row lock on the commitment for the rest of the transaction.
	FindCommitmentForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Commitment, error)
	ListByRequisition(ctx context.Context, db *gorm.DB, requisitionID snowflake.ID) ([]Commitment, error)
	ListByStatuses(ctx context.Context, db *gorm.DB, statuses []Status) ([]Commitment, error)

	FindLoadTicket(ctx context.Context, db *gorm.DB, commitmentID snowflake.ID) (*LoadTicket, error)
	InsertLoadTicket(ctx context.Context, db *gorm.DB, ticket *LoadTicket) error

	// TransitionStatus moves the commitment to `to` only while its status is one of `from`.
	TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from []Status, to Status, at time.Time) (bool, error)
	// CancelIfEligible cancels a PENDING commitment that has no load ticket.
	CancelIfEligible(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (bool, error)

	InsertHistory(ctx context.Context, db *gorm.DB, entry *StatusHistoryEntry) error
	ListHistory(ctx context.Context, db *gorm.DB, commitmentID snowflake.ID) ([]StatusHistoryEntry, error)
}
