package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeUser   ActorType = "user"
	ActorTypeSystem ActorType = "system"
)

type AuditLog struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorType     string            `json:"actor_type"`
	ActorID       *string           `json:"actor_id,omitempty"`
	Action        string            `json:"action"`
	TargetType    string            `json:"target_type"`
	TargetID      *string           `json:"target_id,omitempty"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Metadata      datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func (AuditLog) TableName() string {
	return "audit_logs"
}

type ListFilter struct {
	Action     string
	ActorID    string
	TargetType string
	TargetID   string
	Cursor     *snowflake.ID
	Limit      int
}
