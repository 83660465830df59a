package buffer

import "time"

// Trigger names why a flush fired.
type Trigger string

const (
	TriggerNone     Trigger = ""
	TriggerSize     Trigger = "size"
	TriggerInterval Trigger = "interval"
	TriggerManual   Trigger = "manual"
)

// Config controls the flush policy.
type Config struct {
	// MaxSize flushes once this many events are pending.
	MaxSize int
	// FlushInterval flushes once the oldest pending event is this stale.
	FlushInterval time.Duration
}

func DefaultConfig() Config {
	return Config{
		MaxSize:       100,
		FlushInterval: 5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.MaxSize <= 0 {
		c.MaxSize = defaults.MaxSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaults.FlushInterval
	}
	return c
}

// Decide is the pure flush decision: given the pending count and the time
// since the last flush, it names the trigger that should fire, if any.
// Keeping this separate from the queue lets a durable transport reuse the
// same policy.
func Decide(pending int, sinceLastFlush time.Duration, cfg Config) Trigger {
	if pending <= 0 {
		return TriggerNone
	}
	if pending >= cfg.MaxSize {
		return TriggerSize
	}
	if sinceLastFlush >= cfg.FlushInterval {
		return TriggerInterval
	}
	return TriggerNone
}
