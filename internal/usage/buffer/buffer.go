// Package buffer accumulates usage events in process and flushes them to the
// usage store in batches. Delivery is at least once: a failed flush re-queues
// its batch, so the store's idempotency-key handling absorbs duplicates.
package buffer

import (
	"context"
	"sync"
	"time"

	"github.com/asterhq/tally/internal/clock"
	obsmetrics "github.com/asterhq/tally/internal/observability/metrics"
	usagedomain "github.com/asterhq/tally/internal/usage/domain"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// Buffer is an explicit object owned by the process wiring; tests construct
// independent instances, nothing lives at package level.
type Buffer struct {
	log     *zap.Logger
	clock   clock.Clock
	store   usagedomain.Service
	cfg     Config
	metrics *obsmetrics.BufferMetrics

	mu        sync.Mutex
	pending   []usagedomain.TrackRequest
	lastFlush time.Time
	flushing  bool
}

func New(log *zap.Logger, clk clock.Clock, store usagedomain.Service, cfg Config) *Buffer {
	return &Buffer{
		log:       log.Named("usage.buffer"),
		clock:     clk,
		store:     store,
		cfg:       cfg.withDefaults(),
		metrics:   obsmetrics.Buffer(),
		lastFlush: clk.Now(),
	}
}

// Track appends one usage event to the pending queue. It returns immediately
// unless the size threshold triggers a flush, and it never surfaces a store
// failure: a failed flush re-queues silently.
func (b *Buffer) Track(ctx context.Context, req usagedomain.TrackRequest) error {
	if err := validate(req); err != nil {
		return err
	}
	if req.RecordedAt.IsZero() {
		req.RecordedAt = b.clock.Now()
	}

	b.mu.Lock()
	b.pending = append(b.pending, req)
	trigger := Decide(len(b.pending), b.clock.Now().Sub(b.lastFlush), b.cfg)
	b.mu.Unlock()

	b.metrics.IncTracked()
	if trigger != TriggerNone {
		if err := b.flush(ctx, trigger); err != nil {
			b.log.Warn("flush failed, batch re-queued", zap.Error(err))
		}
	}
	return nil
}

// TrackImmediate bypasses the buffer for callers that need the record durable
// before returning.
func (b *Buffer) TrackImmediate(ctx context.Context, req usagedomain.TrackRequest) (*usagedomain.UsageRecord, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	return b.store.Insert(ctx, req)
}

// Flush drains the pending queue to the store, regardless of thresholds.
func (b *Buffer) Flush(ctx context.Context) error {
	return b.flush(ctx, TriggerManual)
}

// Pending reports the current queue depth.
func (b *Buffer) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Run flushes stale batches until ctx is done. The final flush on shutdown is
// a best effort to shrink the durability window.
func (b *Buffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := b.flush(flushCtx, TriggerManual); err != nil {
				b.log.Warn("final flush failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			b.mu.Lock()
			trigger := Decide(len(b.pending), b.clock.Now().Sub(b.lastFlush), b.cfg)
			b.mu.Unlock()
			if trigger == TriggerNone {
				continue
			}
			if err := b.flush(ctx, trigger); err != nil {
				b.log.Warn("flush failed, batch re-queued", zap.Error(err))
			}
		}
	}
}

func (b *Buffer) flush(ctx context.Context, trigger Trigger) error {
	b.mu.Lock()
	if b.flushing || len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	b.flushing = true
	batch := b.pending
	b.pending = nil
	b.lastFlush = b.clock.Now()
	b.mu.Unlock()

	b.metrics.IncFlush(string(trigger))
	err := b.store.InsertBatch(ctx, batch)

	b.mu.Lock()
	b.flushing = false
	if err != nil {
		// Prepend so event order survives the retry.
		b.pending = append(batch, b.pending...)
	}
	b.mu.Unlock()

	if err != nil {
		b.metrics.IncFlushError()
		b.metrics.AddRequeued(len(batch))
		return err
	}
	b.metrics.AddFlushedItems(len(batch))
	return nil
}

func validate(req usagedomain.TrackRequest) error {
	if _, err := snowflake.ParseString(req.OrganizationID); err != nil || req.OrganizationID == "" || req.OrganizationID == "0" {
		return usagedomain.ErrInvalidOrganization
	}
	if !req.Kind.Valid() {
		return usagedomain.ErrInvalidKind
	}
	if req.Quantity < 0 {
		return usagedomain.ErrInvalidQuantity
	}
	return nil
}
