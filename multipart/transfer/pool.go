// Package transfer uploads the parts of a multipart upload with a bounded pool of workers.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bitrise-io/go-s3-multipart/multipart/failure"
	"github.com/bitrise-io/go-s3-multipart/multipart/segment"
	"github.com/bitrise-io/go-utils/retry"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
)

// ErrNotDispatched is the failure reason of parts never handed to a worker because the
// transfer was stopped first.
var ErrNotDispatched = errors.New("part was not dispatched")

// Target receives the parts and records their outcome. Record and Fail are called exactly
// once per part, possibly from several goroutines at a time.
type Target interface {
	UploadPart(ctx context.Context, partNumber int32, body io.ReadSeeker, size int64) (string, error)
	Record(partNumber int32, etag string) error
	Fail(partNumber int32, reason error) error
}

// Pool transfers parts in parallel with retry and hung detection.
type Pool struct {
	config Config
	logger log.Logger
	stats  *Stats

	hungCheckInterval time.Duration
}

// NewPool creates a new Pool with the given configuration.
func NewPool(config Config, logger log.Logger) *Pool {
	if config.Concurrency < 1 {
		config.Concurrency = DefaultConcurrency()
	}

	return &Pool{
		config:            config,
		logger:            logger,
		stats:             NewStats(),
		hungCheckInterval: time.Second,
	}
}

// Stats returns the transfer statistics.
func (p *Pool) Stats() *Stats {
	return p.stats
}

// UploadAll uploads every part and records each outcome on target.
//
// After the first part fails for good no further parts are dispatched; parts already in
// flight run to completion and the remaining ones are recorded as failed with
// ErrNotDispatched. The returned error matches failure.ErrIncompleteUpload unless every
// part was recorded successfully.
func (p *Pool) UploadAll(ctx context.Context, target Target, parts []segment.Part) error {
	if len(parts) == 0 {
		return nil
	}

	workers := p.config.Concurrency
	if workers > len(parts) {
		workers = len(parts)
	}

	jobs := make(chan segment.Part)
	stop := make(chan struct{})
	var stopOnce sync.Once

	var mu sync.Mutex
	var failed []int32
	var firstErr error
	fail := func(partNumber int32, err error) {
		mu.Lock()
		failed = append(failed, partNumber)
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
		stopOnce.Do(func() { close(stop) })
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for part := range jobs {
				etag, err := p.uploadPartWithRetry(ctx, target, part, len(parts))
				if err != nil {
					if recErr := target.Fail(part.Number, err); recErr != nil {
						p.logger.Errorf("Failed to record failure of part %d: %s", part.Number, recErr)
					}
					fail(part.Number, err)
					continue
				}
				if err := target.Record(part.Number, etag); err != nil {
					recordErr := failure.New(failure.KindPartTransfer, "record", err).WithPart(part.Number)
					if failErr := target.Fail(part.Number, recordErr); failErr != nil {
						p.logger.Errorf("Failed to record failure of part %d: %s", part.Number, failErr)
					}
					fail(part.Number, recordErr)
				}
			}
		}()
	}

	dispatched := p.dispatch(ctx, jobs, stop, parts)
	close(jobs)
	wg.Wait()

	if dispatched < len(parts) {
		reason := ErrNotDispatched
		if ctx.Err() != nil {
			reason = fmt.Errorf("%w: %s", ErrNotDispatched, ctx.Err())
		}
		for _, part := range parts[dispatched:] {
			if err := target.Fail(part.Number, reason); err != nil {
				p.logger.Errorf("Failed to record failure of part %d: %s", part.Number, err)
			}
		}
		p.logger.Warnf("%d of %d parts were not dispatched", len(parts)-dispatched, len(parts))
	}

	switch {
	case firstErr != nil:
		return failure.New(failure.KindIncompleteUpload, "upload parts",
			fmt.Errorf("%d of %d parts failed, first failure: %w", len(failed), len(parts), firstErr))
	case dispatched < len(parts):
		return failure.New(failure.KindIncompleteUpload, "upload parts",
			fmt.Errorf("upload cancelled after %d of %d parts: %w", dispatched, len(parts), ctx.Err()))
	}

	p.logger.Debugf("All %d parts uploaded (%s) in %v total part time",
		len(parts), units.BytesSize(float64(p.stats.TotalBytes())), p.stats.TotalDuration().Round(time.Millisecond))

	return nil
}

// dispatch feeds parts to the workers until all are handed out, a part fails or ctx is done.
// It returns the number of parts handed out.
func (p *Pool) dispatch(ctx context.Context, jobs chan<- segment.Part, stop <-chan struct{}, parts []segment.Part) int {
	for i, part := range parts {
		// a stop signal wins over a free worker
		select {
		case <-stop:
			return i
		case <-ctx.Done():
			return i
		default:
		}

		select {
		case <-stop:
			return i
		case <-ctx.Done():
			return i
		case jobs <- part:
		}
	}
	return len(parts)
}

func (p *Pool) uploadPartWithRetry(ctx context.Context, target Target, part segment.Part, totalParts int) (string, error) {
	maxAttempts := p.config.Retry.attempts()

	var etag string
	// The backoff is waited here instead of in retry, so cancellation cuts it short.
	err := retry.Times(uint(maxAttempts - 1)).TryWithAbort(func(attempt uint) (error, bool) {
		if attempt > 0 {
			if err := p.waitBackoff(ctx); err != nil {
				return err, true
			}
		}
		if err := ctx.Err(); err != nil {
			return err, true
		}

		p.logger.Debugf("Uploading part %d/%d (attempt %d/%d) [finished=%d] [avg=%v]",
			part.Number, totalParts, attempt+1, maxAttempts,
			p.stats.FinishedCount(), p.stats.Average().Round(time.Second))

		start := time.Now()
		attemptCtx, cancelAttempt := context.WithCancel(ctx)

		// Start hung detection goroutine (except on last attempt)
		if int(attempt) < maxAttempts-1 && p.config.HungThreshold > 0 {
			go p.detectHungUpload(attemptCtx, cancelAttempt, start, part.Number)
		}

		var err error
		etag, err = p.uploadPart(attemptCtx, target, part)
		hung := attemptCtx.Err() != nil && ctx.Err() == nil
		cancelAttempt()

		if err == nil {
			took := time.Since(start)
			p.stats.Update(took, part.Size)
			p.logger.Debugf("Part %d (%s) uploaded in %v, ETag: %s",
				part.Number, units.BytesSize(float64(part.Size)), took.Round(time.Millisecond), etag)
			return nil, false
		}

		if ctx.Err() != nil {
			return err, true
		}
		if hung {
			p.logger.Warnf("Part %d attempt %d cancelled (hung), retrying", part.Number, attempt+1)
			return err, false
		}
		if !p.config.Retry.retryable(err) {
			p.logger.Warnf("Part %d attempt %d failed, not retrying: %s", part.Number, attempt+1, err)
			return err, true
		}

		p.logger.Warnf("Part %d attempt %d failed: %s", part.Number, attempt+1, err)
		return err, false
	})
	if err != nil {
		return "", failure.New(failure.KindPartTransfer, "UploadPart", err).WithPart(part.Number)
	}

	return etag, nil
}

func (p *Pool) waitBackoff(ctx context.Context) error {
	if p.config.Retry.Backoff <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(p.config.Retry.Backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (p *Pool) detectHungUpload(ctx context.Context, cancel context.CancelFunc, start time.Time, partNumber int32) {
	ticker := time.NewTicker(p.hungCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if p.stats.FinishedCount() > 0 {
				elapsed := time.Since(start)
				avg := p.stats.Average()
				if elapsed-avg > p.config.HungThreshold {
					p.logger.Warnf("Found hung part upload (part %d); canceling request after %s (avg: %s)",
						partNumber, elapsed.Round(time.Second), avg.Round(time.Second))
					cancel()
					return
				}
			}
		}
	}
}

func (p *Pool) uploadPart(ctx context.Context, target Target, part segment.Part) (string, error) {
	src := part
	if p.config.Stager != nil {
		staged, release, err := p.config.Stager.Stage(part)
		if err != nil {
			return "", err
		}
		defer func() {
			if err := release(); err != nil {
				p.logger.Warnf("Failed to remove staged part %d: %s", part.Number, err)
			}
		}()
		src = staged
	}

	reader, err := src.Open()
	if err != nil {
		return "", err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			p.logger.Warnf("Failed to close part %d: %s", part.Number, err)
		}
	}()

	return target.UploadPart(ctx, part.Number, reader, part.Size)
}
