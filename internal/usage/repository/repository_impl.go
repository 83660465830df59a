package repository

import (
	"context"
	"time"

	usagedomain "github.com/asterhq/tally/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type usageRepo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) usagedomain.Repository {
	return &usageRepo{db: db}
}

func (r *usageRepo) Insert(ctx context.Context, record *usagedomain.UsageRecord) error {
	return r.insert(ctx, []*usagedomain.UsageRecord{record})
}

func (r *usageRepo) InsertBatch(ctx context.Context, records []*usagedomain.UsageRecord) error {
	return r.insert(ctx, records)
}

// insert writes records in one statement. DO NOTHING on the idempotency-key
// index makes retried flushes safe: a duplicate row from an interrupted batch
// is silently dropped instead of double-counting.
func (r *usageRepo) insert(ctx context.Context, records []*usagedomain.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(records).Error
}

func (r *usageRepo) AggregateByKind(ctx context.Context, orgID int64, periodKey string) (map[usagedomain.Kind]int64, error) {
	var rows []struct {
		Kind     usagedomain.Kind
		Quantity int64
	}
	err := r.db.WithContext(ctx).Raw(
		`SELECT kind, SUM(quantity) AS quantity
		 FROM usage_records
		 WHERE org_id = ? AND period_key = ?
		 GROUP BY kind`,
		orgID, periodKey,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make(map[usagedomain.Kind]int64, len(rows))
	for _, row := range rows {
		out[row.Kind] = row.Quantity
	}
	return out, nil
}

func (r *usageRepo) DailyBreakdown(ctx context.Context, orgID int64, periodKey string) ([]usagedomain.DayUsage, error) {
	var rows []struct {
		Day      string
		Kind     usagedomain.Kind
		Quantity int64
		Amount   int64
	}
	err := r.db.WithContext(ctx).Raw(
		`SELECT DATE(recorded_at) AS day, kind, SUM(quantity) AS quantity, SUM(amount) AS amount
		 FROM usage_records
		 WHERE org_id = ? AND period_key = ?
		 GROUP BY DATE(recorded_at), kind
		 ORDER BY day ASC, kind ASC`,
		orgID, periodKey,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]usagedomain.DayUsage, 0, len(rows))
	for _, row := range rows {
		day, err := parseDay(row.Day)
		if err != nil {
			return nil, err
		}
		out = append(out, usagedomain.DayUsage{
			Day:      day,
			Kind:     row.Kind,
			Quantity: row.Quantity,
			Amount:   row.Amount,
		})
	}
	return out, nil
}

// parseDay tolerates both DATE() string forms and full timestamps, which
// differ between the sqlite and postgres dialects.
func parseDay(raw string) (time.Time, error) {
	if len(raw) > 10 {
		raw = raw[:10]
	}
	return time.ParseInLocation("2006-01-02", raw, time.UTC)
}
