package transfer

import (
	"runtime"
	"time"

	"github.com/bitrise-io/go-s3-multipart/multipart/segment"
)

// Config holds configuration for the part transfer pool.
type Config struct {
	// Concurrency is the maximum number of parts transferred in parallel.
	// Default: min(NumCPU * 3, 20), minimum 2
	Concurrency int

	// Retry decides how often and after which errors a part is re-sent.
	Retry RetryPolicy

	// HungThreshold is the duration after which a part upload is considered hung
	// if it exceeds the average part upload time by this amount.
	// Zero disables hung detection.
	// Default: 30 seconds
	HungThreshold time.Duration

	// Stager copies each dispatched part into scratch storage before it is sent.
	// If nil, parts are read straight from the source file.
	Stager *segment.Stager
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Concurrency:   DefaultConcurrency(),
		Retry:         DefaultRetryPolicy(),
		HungThreshold: 30 * time.Second,
	}
}

// DefaultConcurrency calculates the default concurrency based on CPU count.
func DefaultConcurrency() int {
	c := runtime.NumCPU() * 3

	if c > 20 {
		c = 20
	}

	if c < 2 {
		c = 2
	}

	return c
}
