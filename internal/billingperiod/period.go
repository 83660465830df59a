// Package billingperiod provides calendar-month billing windows.
//
// Every usage record and invoice is partitioned by a period key of the form
// YYYY-MM. Keys are derived in UTC so the partition of a record never depends
// on the server's local zone.
package billingperiod

import (
	"errors"
	"fmt"
	"time"
)

// Period is a calendar-month window identified by its key.
type Period struct {
	Key   string
	Start time.Time
	End   time.Time
}

var ErrInvalidKey = errors.New("invalid_period_key")

// FromTime returns the period containing t.
func FromTime(t time.Time) Period {
	t = t.UTC()
	start := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return fromStart(start)
}

// FromKey parses a YYYY-MM key into its period.
func FromKey(key string) (Period, error) {
	start, err := time.Parse("2006-01", key)
	if err != nil {
		return Period{}, fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return fromStart(start), nil
}

// Previous returns the period immediately before p.
func (p Period) Previous() Period {
	return fromStart(p.Start.AddDate(0, -1, 0))
}

// Next returns the period immediately after p.
func (p Period) Next() Period {
	return fromStart(p.End)
}

// Contains reports whether t falls inside the window [Start, End).
func (p Period) Contains(t time.Time) bool {
	t = t.UTC()
	return !t.Before(p.Start) && t.Before(p.End)
}

// KeyFor returns the period key containing t.
func KeyFor(t time.Time) string {
	return t.UTC().Format("2006-01")
}

func fromStart(start time.Time) Period {
	return Period{
		Key:   start.Format("2006-01"),
		Start: start,
		End:   start.AddDate(0, 1, 0),
	}
}
