// Package backoff computes retry delays for the subscription manager's retry
// policy (C8), following the same RetryConfig / CalculateBackoff shape as
// persistence.RetryConfig.
package backoff

import "time"

// Config describes an exponential backoff schedule.
type Config struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration
}

// DefaultConfig returns a conservative five-attempt exponential backoff.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:       5,
		InitialDelay:      100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		MaxDelay:          30 * time.Second,
	}
}

// Delay returns the delay before the given attempt (1-indexed), capped at MaxDelay.
func (c Config) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return c.InitialDelay
	}
	d := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= c.BackoffMultiplier
		if time.Duration(d) >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	return time.Duration(d)
}
