package metrics

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	BufferFlushTriggerSize     = "size"
	BufferFlushTriggerInterval = "interval"
	BufferFlushTriggerManual   = "manual"
)

// BufferMetrics captures usage buffer flush outcomes.
type BufferMetrics struct {
	tracked      prometheus.Counter
	flushes      *prometheus.CounterVec
	flushErrors  prometheus.Counter
	flushedItems prometheus.Counter
	requeued     prometheus.Counter
}

var (
	bufferMetricsOnce sync.Once
	bufferMetrics     *BufferMetrics
)

// Buffer returns the singleton buffer metrics registry.
func Buffer() *BufferMetrics {
	return BufferWithConfig(Config{})
}

// BufferWithConfig returns the singleton buffer metrics registry using config labels.
func BufferWithConfig(cfg Config) *BufferMetrics {
	bufferMetricsOnce.Do(func() {
		bufferMetrics = newBufferMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return bufferMetrics
}

// ResetBufferMetricsForTest resets the buffer metrics singleton for tests.
func ResetBufferMetricsForTest() {
	bufferMetricsOnce = sync.Once{}
	bufferMetrics = nil
}

func newBufferMetrics(registerer prometheus.Registerer, cfg Config) *BufferMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "tally"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	tracked := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "tally_usage_buffer_tracked_total",
		Help:        "Usage events accepted by the in-process buffer.",
		ConstLabels: constLabels,
	})
	flushes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "tally_usage_buffer_flushes_total",
		Help:        "Buffer flushes by trigger.",
		ConstLabels: constLabels,
	}, []string{"trigger"})
	flushErrors := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "tally_usage_buffer_flush_errors_total",
		Help:        "Buffer flushes that failed and re-queued their batch.",
		ConstLabels: constLabels,
	})
	flushedItems := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "tally_usage_buffer_flushed_items_total",
		Help:        "Usage events delivered to the store by flushes.",
		ConstLabels: constLabels,
	})
	requeued := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        "tally_usage_buffer_requeued_total",
		Help:        "Usage events re-queued after a failed flush.",
		ConstLabels: constLabels,
	})

	for _, c := range []prometheus.Collector{tracked, flushes, flushErrors, flushedItems, requeued} {
		registerer.MustRegister(c)
	}

	return &BufferMetrics{
		tracked:      tracked,
		flushes:      flushes,
		flushErrors:  flushErrors,
		flushedItems: flushedItems,
		requeued:     requeued,
	}
}

func (m *BufferMetrics) IncTracked() {
	if m == nil {
		return
	}
	m.tracked.Inc()
}

func (m *BufferMetrics) IncFlush(trigger string) {
	if m == nil {
		return
	}
	m.flushes.WithLabelValues(trigger).Inc()
}

func (m *BufferMetrics) IncFlushError() {
	if m == nil {
		return
	}
	m.flushErrors.Inc()
}

func (m *BufferMetrics) AddFlushedItems(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.flushedItems.Add(float64(n))
}

func (m *BufferMetrics) AddRequeued(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.requeued.Add(float64(n))
}
