package overage

import (
	"testing"

	"github.com/asterhq/tally/internal/pricing"
	usagedomain "github.com/asterhq/tally/internal/usage/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTable(t *testing.T) *pricing.Table {
	t.Helper()
	return pricing.NewTable(map[usagedomain.Kind]pricing.Entry{
		usagedomain.KindMessageSent: {
			UnitPrice:      decimal.NewFromInt(5),
			IncludedInPlan: 5000,
			OveragePrice:   decimal.NewFromInt(10),
		},
		usagedomain.KindAIToken: {
			UnitPrice:      decimal.RequireFromString("0.004"),
			IncludedInPlan: 1000,
			OveragePrice:   decimal.RequireFromString("0.005"),
		},
		usagedomain.KindDocumentPage: {
			UnitPrice:      decimal.NewFromInt(15),
			IncludedInPlan: pricing.UnlimitedAllowance,
			OveragePrice:   decimal.NewFromInt(99),
		},
	}, nil)
}

func TestComputePlanAllowanceScenario(t *testing.T) {
	// 5,800 messages against a 5,000 allowance at 10 cents/unit -> 800 cents.
	charges, total, err := Compute(map[usagedomain.Kind]int64{
		usagedomain.KindMessageSent: 5800,
	}, testTable(t))
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Equal(t, int64(800), charges[0].Amount)
	assert.Equal(t, int64(800), total)
	assert.Equal(t, int64(800), charges[0].OverageQty)
}

func TestComputeWithinAllowanceIsFree(t *testing.T) {
	charges, total, err := Compute(map[usagedomain.Kind]int64{
		usagedomain.KindMessageSent: 5000,
	}, testTable(t))
	require.NoError(t, err)
	require.Len(t, charges, 1)
	assert.Zero(t, total)
	assert.Zero(t, charges[0].OverageQty)
}

func TestComputeUnlimitedKindNeverCharges(t *testing.T) {
	_, total, err := Compute(map[usagedomain.Kind]int64{
		usagedomain.KindDocumentPage: 1_000_000,
	}, testTable(t))
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestComputeCeilsFractionalCents(t *testing.T) {
	// 1,001 overage of 1 token at 0.005 cents -> 0.005 ceil -> 1 cent.
	_, total, err := Compute(map[usagedomain.Kind]int64{
		usagedomain.KindAIToken: 1001,
	}, testTable(t))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	// 1,399 tokens overage at 0.005 -> 1.995 -> 2 cents, never 1.
	_, total, err = Compute(map[usagedomain.Kind]int64{
		usagedomain.KindAIToken: 1399,
	}, testTable(t))
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
}

func TestComputeUnknownKind(t *testing.T) {
	_, _, err := Compute(map[usagedomain.Kind]int64{
		usagedomain.KindAIMessage: 10,
	}, testTable(t))
	assert.ErrorIs(t, err, pricing.ErrUnknownKind)
}

func TestComputeDeterministicOrder(t *testing.T) {
	usage := map[usagedomain.Kind]int64{
		usagedomain.KindAIToken:     2000,
		usagedomain.KindMessageSent: 6000,
	}
	first, firstTotal, err := Compute(usage, testTable(t))
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, againTotal, err := Compute(usage, testTable(t))
		require.NoError(t, err)
		assert.Equal(t, first, again)
		assert.Equal(t, firstTotal, againTotal)
	}
	// Enum order: ai_token before message_sent.
	require.Len(t, first, 2)
	assert.Equal(t, usagedomain.KindAIToken, first[0].Kind)
	assert.Equal(t, usagedomain.KindMessageSent, first[1].Kind)
}

func TestCeilChargeMonotonic(t *testing.T) {
	price := decimal.RequireFromString("0.37")
	var prev int64
	for qty := int64(0); qty <= 500; qty++ {
		got := CeilCharge(qty, price)
		assert.GreaterOrEqual(t, got, prev, "qty %d", qty)
		// Never under-charges.
		assert.True(t, decimal.NewFromInt(got).GreaterThanOrEqual(price.Mul(decimal.NewFromInt(qty))))
		prev = got
	}
}
