package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/pavetrack/pkg/db/pagination"
)

// Action names a ledger mutation or decision worth keeping a trail of.
type Action string

const (
	ActionCommitmentCancelled     Action = "delivery_commitment.cancelled"
	ActionApplicationDeleted      Action = "application_record.deleted"
	ActionStatusIntegrityRepaired Action = "status_integrity.repaired"
	ActionAuthorizationDenied     Action = "authorization.denied"
)

// Entry is one audit record before it is stamped with ids and correlation.
// Empty ActorType resolves from the request context, then to system.
type Entry struct {
	ActorType  string
	ActorID    string
	Action     Action
	TargetType string
	TargetID   string
	Metadata   map[string]any
}

type ListAuditLogRequest struct {
	pagination.Pagination
	Action     string
	ActorID    string
	TargetType string
	TargetID   string
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	Record(ctx context.Context, entry Entry) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidAction    = errors.New("invalid_action")
)
