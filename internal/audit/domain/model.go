// Package domain contains the audit log model and service contract.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/anuaedu/cobranca/internal/billing/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// AuditLog records who changed what. The actor travels explicitly with
// every billing call rather than through ambient state.
type AuditLog struct {
	ID          snowflake.ID      `gorm:"primaryKey"`
	SchoolID    snowflake.ID      `gorm:"not null;index"`
	ActorID     string            `gorm:"type:text;not null"`
	ActorName   string            `gorm:"type:text"`
	ActorSource string            `gorm:"type:text"`
	Action      string            `gorm:"type:text;not null;index"`
	TargetType  string            `gorm:"type:text;not null"`
	TargetID    string            `gorm:"type:text;index"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt   time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AuditLog) TableName() string { return "audit_logs" }

// Service records audit entries. Failures are swallowed by callers; the
// audit trail never blocks billing. Entries are written through the
// caller's tx so they commit and roll back with the surrounding
// transaction; a nil tx writes on the service's own connection.
type Service interface {
	Record(ctx context.Context, tx *gorm.DB, schoolID snowflake.ID, actor billingdomain.Actor, action, targetType, targetID string, metadata map[string]any) error
}
