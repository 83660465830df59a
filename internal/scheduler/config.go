package scheduler

import (
	"time"
)

// Config controls scheduler timeouts and cadence gates.
type Config struct {
	RunInterval time.Duration
	JobTimeout  time.Duration
	// ReminderHour is the UTC hour at which the daily passes fire in RunDue.
	ReminderHour int
	// TrialThresholdDays are the look-ahead marks for trial-expiry alerts.
	TrialThresholdDays []int
}

func DefaultConfig() Config {
	return Config{
		RunInterval:        time.Minute,
		JobTimeout:         5 * time.Minute,
		ReminderHour:       9,
		TrialThresholdDays: []int{7, 3, 1},
	}
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.RunInterval <= 0 {
		c.RunInterval = defaults.RunInterval
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.ReminderHour < 0 || c.ReminderHour > 23 {
		c.ReminderHour = defaults.ReminderHour
	}
	if len(c.TrialThresholdDays) == 0 {
		c.TrialThresholdDays = defaults.TrialThresholdDays
	}
	return c
}
