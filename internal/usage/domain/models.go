// Package domain contains persistence models for metered usage.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Kind is a closed category of billable activity.
type Kind string

const (
	KindAIMessage    Kind = "ai_message"
	KindAIToken      Kind = "ai_token"
	KindMessageSent  Kind = "message_sent"
	KindDocumentPage Kind = "document_page"
)

// Kinds lists every valid usage kind.
func Kinds() []Kind {
	return []Kind{KindAIMessage, KindAIToken, KindMessageSent, KindDocumentPage}
}

// Valid reports whether k is a known usage kind.
func (k Kind) Valid() bool {
	switch k {
	case KindAIMessage, KindAIToken, KindMessageSent, KindDocumentPage:
		return true
	}
	return false
}

// UsageRecord stores a single unit of metered activity. Records are
// append-only: corrections are made with compensating records, never by
// mutating history. Unit price and amount are frozen at insert time so later
// pricing changes cannot rewrite past periods.
type UsageRecord struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	OrgID          snowflake.ID      `gorm:"not null;index:ix_usage_org_period,priority:1"`
	UserID         *snowflake.ID     `gorm:"index"`
	Kind           Kind              `gorm:"type:text;not null"`
	Quantity       int64             `gorm:"not null"`
	UnitPrice      string            `gorm:"type:text;not null"` // snapshot, decimal minor units
	Amount         int64             `gorm:"not null"`
	PeriodKey      string            `gorm:"type:text;not null;index:ix_usage_org_period,priority:2"`
	IdempotencyKey *string           `gorm:"type:text;uniqueIndex:ux_usage_idempotency"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	RecordedAt     time.Time         `gorm:"not null"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }
