// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// InvoiceStatus represents invoice lifecycle states.
//
// DRAFT is local-only; PENDING means the processor has been asked to collect;
// PAID, OVERDUE and CANCELLED end the machine for this invoice, except that
// an OVERDUE invoice may still settle to PAID.
type InvoiceStatus string

const (
	InvoiceStatusDraft     InvoiceStatus = "DRAFT"
	InvoiceStatusPending   InvoiceStatus = "PENDING"
	InvoiceStatusPaid      InvoiceStatus = "PAID"
	InvoiceStatusOverdue   InvoiceStatus = "OVERDUE"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// Invoice represents one billing period's charges for an organization.
// The partial unique index on (org_id, period_key) is the durable idempotency
// guard: at most one non-cancelled invoice per organization and period.
type Invoice struct {
	ID         snowflake.ID      `gorm:"primaryKey"`
	OrgID      snowflake.ID      `gorm:"not null;uniqueIndex:ux_invoices_org_period,priority:1,where:status <> 'CANCELLED'"`
	PeriodKey  string            `gorm:"type:text;not null;uniqueIndex:ux_invoices_org_period,priority:2"`
	Status     InvoiceStatus     `gorm:"type:text;not null;default:'DRAFT'"`
	Subtotal   int64             `gorm:"not null;default:0"`
	Tax        int64             `gorm:"not null;default:0"`
	Total      int64             `gorm:"not null;default:0"`
	Currency   string            `gorm:"type:text;not null"`
	DueAt      time.Time         `gorm:"not null"`
	PaidAt     *time.Time        `gorm:""`
	ExternalID *string           `gorm:"type:text;index"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt  time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Line sources beyond usage kinds.
const LineSourceBasePlan = "base_plan"

// InvoiceLineItem represents a line on an invoice, tied to either the base
// plan or one usage kind.
type InvoiceLineItem struct {
	ID          snowflake.ID `gorm:"primaryKey"`
	OrgID       snowflake.ID `gorm:"not null;index"`
	InvoiceID   snowflake.ID `gorm:"not null;index"`
	Source      string       `gorm:"type:text;not null"` // base_plan or a usage kind
	Description string       `gorm:"type:text;not null"`
	Quantity    int64        `gorm:"not null"`
	UnitPrice   string       `gorm:"type:text;not null"` // decimal minor units
	Amount      int64        `gorm:"not null"`
	CreatedAt   time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (InvoiceLineItem) TableName() string { return "invoice_line_items" }
