// backend/src/workflow/retry.go
package workflow

import (
	"errors"
	"time"
)

// BackoffKind selects how the delay between retry attempts grows.
type BackoffKind int

const (
	// BackoffFixed waits the same delay before every retry.
	BackoffFixed BackoffKind = iota
	// BackoffLinear waits InitialDelay after the first failure, twice that
	// after the second, and so on.
	BackoffLinear
)

// RetryPolicy is the per-step retry configuration. The zero value means
// "run once, never retry", which is what pure-computation steps use.
type RetryPolicy struct {
	MaxAttempts  int           `json:"max_attempts"`
	InitialDelay time.Duration `json:"initial_delay"`
	Backoff      BackoffKind   `json:"backoff"`
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// delay returns the wait before the next attempt, given how many attempts
// have already failed.
func (p RetryPolicy) delay(failedAttempts int) time.Duration {
	if p.Backoff == BackoffLinear {
		return p.InitialDelay * time.Duration(failedAttempts)
	}
	return p.InitialDelay
}

// TransientError marks a step failure as environmental rather than logical,
// making it eligible for the step's retry budget. Anything not wrapped this
// way fails the instance on the first occurrence.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. A nil err returns nil.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// IsTransient reports whether err (anywhere in its chain) is retryable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
