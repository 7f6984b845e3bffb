package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/bitrise-io/go-s3-multipart/multipart/store"
)

// RetryPolicy controls re-sending a part after a failed attempt.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts per part, including the first one.
	// Default: 3
	MaxAttempts int

	// Backoff is the wait between two attempts.
	// Default: 5 seconds
	Backoff time.Duration

	// Retryable reports whether an attempt error is worth another attempt.
	// If nil, every error except cancellation is retried.
	Retryable func(error) bool
}

// DefaultRetryPolicy retries transient store errors three times in total, 5 seconds apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     5 * time.Second,
		Retryable:   store.IsRetryable,
	}
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return !errors.Is(err, context.Canceled)
}
