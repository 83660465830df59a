// Package overage computes per-kind overage charges from aggregated usage.
//
// Compute is a pure function: identical inputs always produce identical
// charges, which is what makes billing runs reproducible and safely
// re-invocable.
package overage

import (
	"github.com/asterhq/tally/internal/pricing"
	usagedomain "github.com/asterhq/tally/internal/usage/domain"
	"github.com/shopspring/decimal"
)

// Charge is one kind's overage contribution.
type Charge struct {
	Kind       usagedomain.Kind
	Quantity   int64 // total usage in the period
	OverageQty int64 // quantity beyond the allowance
	UnitPrice  decimal.Decimal
	Amount     int64 // minor units, ceiling-rounded
}

// Compute prices the usage beyond each kind's plan allowance. Kinds with an
// unlimited allowance contribute zero. Charges are rounded up to the nearest
// minor unit so fractional remainders never under-charge.
func Compute(usageByKind map[usagedomain.Kind]int64, table *pricing.Table) ([]Charge, int64, error) {
	charges := make([]Charge, 0, len(usageByKind))
	var total int64

	// Iterate in enum order so output is deterministic.
	for _, kind := range usagedomain.Kinds() {
		quantity, ok := usageByKind[kind]
		if !ok {
			continue
		}
		entry, err := table.Entry(kind)
		if err != nil {
			return nil, 0, err
		}

		charge := Charge{
			Kind:      kind,
			Quantity:  quantity,
			UnitPrice: entry.OveragePrice,
		}
		if !entry.Unlimited() {
			charge.OverageQty = overageQuantity(quantity, entry.IncludedInPlan)
			charge.Amount = CeilCharge(charge.OverageQty, entry.OveragePrice)
		}
		charges = append(charges, charge)
		total += charge.Amount
	}

	return charges, total, nil
}

// CeilCharge rounds qty*price up to the nearest minor unit.
func CeilCharge(qty int64, price decimal.Decimal) int64 {
	if qty <= 0 {
		return 0
	}
	return price.Mul(decimal.NewFromInt(qty)).Ceil().IntPart()
}

func overageQuantity(quantity, allowance int64) int64 {
	if quantity <= allowance {
		return 0
	}
	return quantity - allowance
}
