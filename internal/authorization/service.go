package authorization

import (
	"context"
	"errors"
)

const (
	ObjectDeliveryCommitment = "delivery_commitment"
	ObjectApplicationRecord  = "application_record"
	ObjectStatusIntegrity    = "status_integrity"
	ObjectAuditLog           = "audit_log"
)

const (
	ActionCommitmentCancel   = "delivery_commitment.cancel"
	ActionApplicationRecord  = "application_record.record"
	ActionApplicationDelete  = "application_record.delete"
	ActionStatusIntegrityRun = "status_integrity.run"
	ActionAuditRead          = "audit_log.read"
)

var (
	ErrForbidden     = errors.New("forbidden")
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
)

type Service interface {
	// Authorize returns ErrForbidden when none of the user's roles grant action on object.
	Authorize(ctx context.Context, userID string, object string, action string) error
	HasAnyRole(ctx context.Context, userID string, roles []string) (bool, error)
}
