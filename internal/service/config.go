package service

import "time"

// Config holds the engine knobs threaded into services at construction.
type Config struct {
	// ApprovalThreshold is the risk score at or above which the default
	// decision becomes REQUIRE_APPROVAL.
	ApprovalThreshold int
	// WaitTimeout bounds a synchronous approval wait.
	WaitTimeout time.Duration
	// PollInterval is the fallback re-read interval while waiting.
	PollInterval time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		ApprovalThreshold: 60,
		WaitTimeout:       15 * time.Second,
		PollInterval:      500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.ApprovalThreshold <= 0 {
		c.ApprovalThreshold = d.ApprovalThreshold
	}
	if c.WaitTimeout <= 0 {
		c.WaitTimeout = d.WaitTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	return c
}
