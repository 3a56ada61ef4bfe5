package contract

import "time"

// Retry defaults applied by RetryConfig.Normalized.
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 10 * time.Second
)

// RetryConfig bounds the retry policy for a single invocation.
// MaxRetries counts total attempts, including the first one.
type RetryConfig struct {
	MaxRetries int           `json:"max_retries" yaml:"max_retries"`
	BaseDelay  time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxDelay   time.Duration `json:"max_delay" yaml:"max_delay"`
}

// Normalized returns a copy with zero or out-of-range fields replaced by
// defaults. MaxRetries is always at least 1.
func (c RetryConfig) Normalized() RetryConfig {
	if c.MaxRetries < 1 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultMaxDelay
	}
	return c
}
