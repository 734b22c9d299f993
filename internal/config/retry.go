package config

import "fmt"

// RetryBackoffMode selects the delay growth curve between retries.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

// RetryConfig configures retries for transient network operations
// (deploy pushes, coverage uploads). Pipeline steps are never retried.
type RetryConfig struct {
	Backoff RetryBackoffMode `yaml:"backoff,omitempty"`
	Initial Duration         `yaml:"initial,omitempty"`
	Max     Duration         `yaml:"max,omitempty"`
	// MaxRetries is a pointer so an omitted key keeps the default while
	// an explicit 0 disables retries.
	MaxRetries *int `yaml:"max_retries,omitempty"`
}

func (r *RetryConfig) validate() error {
	switch r.Backoff {
	case "", RetryBackoffFixed, RetryBackoffLinear, RetryBackoffExponential:
	default:
		return fmt.Errorf("unknown retry backoff mode: %s", r.Backoff)
	}
	if r.MaxRetries != nil && *r.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries cannot be negative")
	}
	if r.Initial < 0 || r.Max < 0 {
		return fmt.Errorf("retry delays cannot be negative")
	}
	return nil
}
