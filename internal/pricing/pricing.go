// Package pricing holds the static pricing configuration: per-kind unit and
// overage prices with plan allowances, and per-plan base prices. Prices are
// decimal minor-currency units so fractional-cent rates survive arithmetic
// without float drift.
package pricing

import (
	"errors"

	usagedomain "github.com/asterhq/tally/internal/usage/domain"
	"github.com/shopspring/decimal"
)

// UnlimitedAllowance marks a kind that never accrues overage.
const UnlimitedAllowance int64 = -1

// Entry prices one usage kind.
type Entry struct {
	// UnitPrice is frozen into each usage record at insert time.
	UnitPrice decimal.Decimal
	// IncludedInPlan is the allowance before overage applies,
	// or UnlimitedAllowance.
	IncludedInPlan int64
	// OveragePrice applies only to quantity beyond the allowance.
	OveragePrice decimal.Decimal
}

// Unlimited reports whether the entry never accrues overage.
func (e Entry) Unlimited() bool { return e.IncludedInPlan == UnlimitedAllowance }

// Plan prices a subscription's base charge.
type Plan struct {
	// BasePrice is in minor currency units; for per-seat plans it is
	// multiplied by the subscription's seat count.
	BasePrice int64
	PerSeat   bool
}

// Table is the static pricing configuration consumed by the calculator and
// the usage store.
type Table struct {
	entries map[usagedomain.Kind]Entry
	plans   map[string]Plan
}

var (
	ErrUnknownKind = errors.New("unknown_usage_kind")
	ErrUnknownPlan = errors.New("unknown_plan")
)

// NewTable builds a table from explicit configuration.
func NewTable(entries map[usagedomain.Kind]Entry, plans map[string]Plan) *Table {
	t := &Table{
		entries: make(map[usagedomain.Kind]Entry, len(entries)),
		plans:   make(map[string]Plan, len(plans)),
	}
	for k, e := range entries {
		t.entries[k] = e
	}
	for id, p := range plans {
		t.plans[id] = p
	}
	return t
}

// Entry returns the pricing entry for a usage kind.
func (t *Table) Entry(kind usagedomain.Kind) (Entry, error) {
	e, ok := t.entries[kind]
	if !ok {
		return Entry{}, ErrUnknownKind
	}
	return e, nil
}

// Plan returns the plan pricing for a plan id.
func (t *Table) Plan(planID string) (Plan, error) {
	p, ok := t.plans[planID]
	if !ok {
		return Plan{}, ErrUnknownPlan
	}
	return p, nil
}

// Kinds returns every kind the table prices, in enum order.
func (t *Table) Kinds() []usagedomain.Kind {
	out := make([]usagedomain.Kind, 0, len(t.entries))
	for _, k := range usagedomain.Kinds() {
		if _, ok := t.entries[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Default returns the stock pricing table.
func Default() *Table {
	cents := func(v string) decimal.Decimal { return decimal.RequireFromString(v) }
	return NewTable(
		map[usagedomain.Kind]Entry{
			usagedomain.KindAIMessage:    {UnitPrice: cents("2"), IncludedInPlan: 1000, OveragePrice: cents("3")},
			usagedomain.KindAIToken:      {UnitPrice: cents("0.004"), IncludedInPlan: 500000, OveragePrice: cents("0.005")},
			usagedomain.KindMessageSent:  {UnitPrice: cents("5"), IncludedInPlan: 5000, OveragePrice: cents("10")},
			usagedomain.KindDocumentPage: {UnitPrice: cents("15"), IncludedInPlan: UnlimitedAllowance, OveragePrice: cents("0")},
		},
		map[string]Plan{
			"starter":  {BasePrice: 4900, PerSeat: false},
			"team":     {BasePrice: 1900, PerSeat: true},
			"business": {BasePrice: 29900, PerSeat: false},
		},
	)
}
