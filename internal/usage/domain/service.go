package domain

import (
	"context"
	"errors"
	"time"
)

// TrackRequest describes one usage event to record.
type TrackRequest struct {
	OrganizationID string         `json:"organization_id"`
	UserID         string         `json:"user_id,omitempty"`
	Kind           Kind           `json:"kind"`
	Quantity       int64          `json:"quantity"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	// RecordedAt overrides the clock for backfills; zero means "now".
	RecordedAt time.Time `json:"recorded_at,omitempty"`
}

// DayUsage is one row of the daily breakdown report.
type DayUsage struct {
	Day      time.Time `json:"day"`
	Kind     Kind      `json:"kind"`
	Quantity int64     `json:"quantity"`
	Amount   int64     `json:"amount"`
}

// Service persists and aggregates usage facts. Aggregation is always scoped
// to one billing period; there is no cross-period primitive.
type Service interface {
	Insert(ctx context.Context, req TrackRequest) (*UsageRecord, error)
	InsertBatch(ctx context.Context, reqs []TrackRequest) error
	AggregateByKind(ctx context.Context, organizationID string, periodKey string) (map[Kind]int64, error)
	DailyBreakdown(ctx context.Context, organizationID string, periodKey string) ([]DayUsage, error)
}

// Repository is the persistence boundary under Service.
type Repository interface {
	Insert(ctx context.Context, record *UsageRecord) error
	InsertBatch(ctx context.Context, records []*UsageRecord) error
	AggregateByKind(ctx context.Context, orgID int64, periodKey string) (map[Kind]int64, error)
	DailyBreakdown(ctx context.Context, orgID int64, periodKey string) ([]DayUsage, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrInvalidKind         = errors.New("invalid_kind")
	ErrInvalidQuantity     = errors.New("invalid_quantity")
)
