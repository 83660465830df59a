package buffer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/asterhq/tally/internal/clock"
	usagedomain "github.com/asterhq/tally/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu      sync.Mutex
	fail    bool
	batches [][]usagedomain.TrackRequest
	singles []usagedomain.TrackRequest
}

func (f *fakeStore) Insert(_ context.Context, req usagedomain.TrackRequest) (*usagedomain.UsageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("store down")
	}
	f.singles = append(f.singles, req)
	return &usagedomain.UsageRecord{Kind: req.Kind, Quantity: req.Quantity}, nil
}

func (f *fakeStore) InsertBatch(_ context.Context, reqs []usagedomain.TrackRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("store down")
	}
	batch := make([]usagedomain.TrackRequest, len(reqs))
	copy(batch, reqs)
	f.batches = append(f.batches, batch)
	return nil
}

func (f *fakeStore) AggregateByKind(context.Context, string, string) (map[usagedomain.Kind]int64, error) {
	return map[usagedomain.Kind]int64{}, nil
}

func (f *fakeStore) DailyBreakdown(context.Context, string, string) ([]usagedomain.DayUsage, error) {
	return nil, nil
}

func (f *fakeStore) setFail(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fail = v
}

func (f *fakeStore) delivered() []usagedomain.TrackRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []usagedomain.TrackRequest
	for _, b := range f.batches {
		out = append(out, b...)
	}
	return out
}

func event(quantity int64) usagedomain.TrackRequest {
	return usagedomain.TrackRequest{
		OrganizationID: "42",
		Kind:           usagedomain.KindMessageSent,
		Quantity:       quantity,
	}
}

func TestDecide(t *testing.T) {
	cfg := Config{MaxSize: 3, FlushInterval: 5 * time.Second}

	tests := []struct {
		name    string
		pending int
		since   time.Duration
		want    Trigger
	}{
		{"empty queue never flushes", 0, time.Hour, TriggerNone},
		{"below both thresholds", 1, time.Second, TriggerNone},
		{"at size threshold", 3, time.Second, TriggerSize},
		{"above size threshold", 10, 0, TriggerSize},
		{"stale queue", 1, 5 * time.Second, TriggerInterval},
		{"size wins over staleness", 3, time.Minute, TriggerSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Decide(tt.pending, tt.since, cfg))
		})
	}
}

func TestTrackFlushesAtSizeThreshold(t *testing.T) {
	store := &fakeStore{}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	b := New(zap.NewNop(), clk, store, Config{MaxSize: 3, FlushInterval: time.Hour})
	ctx := context.Background()

	require.NoError(t, b.Track(ctx, event(1)))
	require.NoError(t, b.Track(ctx, event(2)))
	assert.Equal(t, 2, b.Pending())
	assert.Empty(t, store.batches)

	require.NoError(t, b.Track(ctx, event(3)))
	assert.Equal(t, 0, b.Pending())
	require.Len(t, store.batches, 1)
	assert.Len(t, store.batches[0], 3)
}

func TestTrackFlushesStaleQueue(t *testing.T) {
	store := &fakeStore{}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	b := New(zap.NewNop(), clk, store, Config{MaxSize: 100, FlushInterval: 5 * time.Second})
	ctx := context.Background()

	require.NoError(t, b.Track(ctx, event(1)))
	assert.Equal(t, 1, b.Pending())

	clk.Advance(6 * time.Second)
	require.NoError(t, b.Track(ctx, event(2)))
	assert.Equal(t, 0, b.Pending())
	require.Len(t, store.batches, 1)
	assert.Len(t, store.batches[0], 2)
}

func TestFlushFailureRequeuesInOrder(t *testing.T) {
	store := &fakeStore{fail: true}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	b := New(zap.NewNop(), clk, store, Config{MaxSize: 2, FlushInterval: time.Hour})
	ctx := context.Background()

	// Size trigger fires but the store is down; Track must not surface that.
	require.NoError(t, b.Track(ctx, event(1)))
	require.NoError(t, b.Track(ctx, event(2)))
	assert.Equal(t, 2, b.Pending())

	// More events land behind the re-queued ones.
	require.NoError(t, b.Track(ctx, event(3)))
	assert.Equal(t, 3, b.Pending())

	store.setFail(false)
	require.NoError(t, b.Flush(ctx))
	assert.Equal(t, 0, b.Pending())

	got := store.delivered()
	require.Len(t, got, 3)
	for i, want := range []int64{1, 2, 3} {
		assert.Equal(t, want, got[i].Quantity)
	}
}

func TestFlushOnEmptyQueueIsNoop(t *testing.T) {
	store := &fakeStore{}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	b := New(zap.NewNop(), clk, store, Config{})

	require.NoError(t, b.Flush(context.Background()))
	assert.Empty(t, store.batches)
}

func TestTrackRejectsInvalidEvents(t *testing.T) {
	store := &fakeStore{}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	b := New(zap.NewNop(), clk, store, Config{})
	ctx := context.Background()

	err := b.Track(ctx, usagedomain.TrackRequest{OrganizationID: "", Kind: usagedomain.KindMessageSent, Quantity: 1})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidOrganization)

	err = b.Track(ctx, usagedomain.TrackRequest{OrganizationID: "42", Kind: "fax_page", Quantity: 1})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidKind)

	err = b.Track(ctx, usagedomain.TrackRequest{OrganizationID: "42", Kind: usagedomain.KindMessageSent, Quantity: -5})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidQuantity)

	assert.Equal(t, 0, b.Pending())
}

func TestTrackStampsRecordedAt(t *testing.T) {
	store := &fakeStore{}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFakeClock(now)
	b := New(zap.NewNop(), clk, store, Config{MaxSize: 1})
	ctx := context.Background()

	require.NoError(t, b.Track(ctx, event(1)))
	require.Len(t, store.batches, 1)
	assert.Equal(t, now, store.batches[0][0].RecordedAt)
}

func TestTrackImmediateBypassesQueue(t *testing.T) {
	store := &fakeStore{}
	clk := clock.NewFakeClock(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	b := New(zap.NewNop(), clk, store, Config{})

	record, err := b.TrackImmediate(context.Background(), event(4))
	require.NoError(t, err)
	assert.Equal(t, int64(4), record.Quantity)
	assert.Equal(t, 0, b.Pending())
	require.Len(t, store.singles, 1)
	assert.Empty(t, store.batches)
}
