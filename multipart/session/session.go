// Package session holds the remote identity of one multipart upload and the per-part
// outcomes collected while its parts are transferred.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/bitrise-io/go-s3-multipart/multipart/failure"
	"github.com/bitrise-io/go-s3-multipart/multipart/store"
)

// Status of an upload session.
type Status string

// Session statuses.
const (
	StatusInitiated  Status = "initiated"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusAborted    Status = "aborted"
	StatusFailed     Status = "failed"
)

var (
	// ErrResultAlreadyRecorded is returned when a part's outcome is written a second time.
	ErrResultAlreadyRecorded = errors.New("part result already recorded")
	// ErrUnknownPart is returned for part numbers outside [1, total parts].
	ErrUnknownPart = errors.New("unknown part number")
	// ErrResultsPending is returned when results are requested before every part finished.
	ErrResultsPending = errors.New("part results still pending")
)

// Target identifies the object being uploaded.
type Target struct {
	Bucket          string
	Key             string
	ContentType     string
	ContentEncoding string
	Metadata        map[string]string
}

// Manifest lists the parts to finalize, in ascending part number order.
type Manifest interface {
	CompletedParts() []store.CompletedPart
}

// Session is one initiated multipart upload.
// Part outcomes are written once per part, from any goroutine.
type Session struct {
	store    store.Store
	target   Target
	uploadID string
	slots    []slot

	mu     sync.Mutex
	status Status

	abortOnce sync.Once
	abortErr  error
}

// Initiate starts a new multipart upload for totalParts parts.
// It calls CreateMultipartUpload exactly once; a failure is a remote initiation error.
func Initiate(ctx context.Context, s store.Store, target Target, totalParts int) (*Session, error) {
	if totalParts <= 0 {
		return nil, failure.Newf(failure.KindConfiguration, "initiate", "invalid number of parts: %d", totalParts)
	}
	if target.Bucket == "" || target.Key == "" {
		return nil, failure.Newf(failure.KindConfiguration, "initiate", "bucket and key are required")
	}

	uploadID, err := s.CreateMultipartUpload(ctx, target.Bucket, target.Key, store.CreateOptions{
		ContentType:     target.ContentType,
		ContentEncoding: target.ContentEncoding,
		Metadata:        target.Metadata,
	})
	if err != nil {
		return nil, failure.New(failure.KindRemoteInitiation, "CreateMultipartUpload", err)
	}

	return &Session{
		store:    s,
		target:   target,
		uploadID: uploadID,
		slots:    make([]slot, totalParts),
		status:   StatusInitiated,
	}, nil
}

// UploadID ...
func (s *Session) UploadID() string {
	return s.uploadID
}

// Bucket ...
func (s *Session) Bucket() string {
	return s.target.Bucket
}

// Key ...
func (s *Session) Key() string {
	return s.target.Key
}

// TotalParts ...
func (s *Session) TotalParts() int {
	return len(s.slots)
}

// Status returns the current session status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// UploadPart sends one part under this session's upload id and returns its ETag.
func (s *Session) UploadPart(ctx context.Context, partNumber int32, body io.ReadSeeker, size int64) (string, error) {
	if _, err := s.slot(partNumber); err != nil {
		return "", err
	}
	s.transition(StatusInitiated, StatusInProgress)

	return s.store.UploadPart(ctx, s.target.Bucket, s.target.Key, s.uploadID, partNumber, body, size)
}

// Record stores the ETag of a successfully uploaded part.
func (s *Session) Record(partNumber int32, etag string) error {
	if etag == "" {
		return fmt.Errorf("part %d: empty etag", partNumber)
	}
	return s.write(partNumber, PartResult{
		PartNumber: partNumber,
		ETag:       etag,
		Status:     PartSucceeded,
	})
}

// Fail stores the reason a part could not be uploaded.
func (s *Session) Fail(partNumber int32, reason error) error {
	if reason == nil {
		reason = errors.New("unknown failure")
	}
	return s.write(partNumber, PartResult{
		PartNumber: partNumber,
		Status:     PartFailed,
		Reason:     reason,
	})
}

// Result returns the outcome of a part once it has been written.
func (s *Session) Result(partNumber int32) (PartResult, bool) {
	sl, err := s.slot(partNumber)
	if err != nil {
		return PartResult{}, false
	}
	return sl.load()
}

// IsComplete reports whether every part succeeded.
func (s *Session) IsComplete() bool {
	for i := range s.slots {
		r, ok := s.slots[i].load()
		if !ok || r.Status != PartSucceeded {
			return false
		}
	}
	return true
}

// Results returns the outcome of every part in part number order.
// It fails with ErrResultsPending while any part is still unwritten.
func (s *Session) Results() ([]PartResult, error) {
	results := make([]PartResult, 0, len(s.slots))
	var pending []int32
	for i := range s.slots {
		r, ok := s.slots[i].load()
		if !ok {
			pending = append(pending, int32(i+1))
			continue
		}
		results = append(results, r)
	}
	if len(pending) > 0 {
		return nil, fmt.Errorf("%w: parts %v", ErrResultsPending, pending)
	}
	return results, nil
}

// Complete finalizes the upload with the parts listed in m.
func (s *Session) Complete(ctx context.Context, m Manifest) (store.CompleteOutput, error) {
	out, err := s.store.CompleteMultipartUpload(ctx, s.target.Bucket, s.target.Key, s.uploadID, m.CompletedParts())
	if err != nil {
		s.setStatus(StatusFailed)
		return store.CompleteOutput{}, failure.New(failure.KindFinalize, "CompleteMultipartUpload", err)
	}
	s.setStatus(StatusCompleted)
	return out, nil
}

// Abort discards the upload on the remote side. The abort call is issued at most once;
// later calls return the outcome of the first one.
func (s *Session) Abort(ctx context.Context) error {
	s.abortOnce.Do(func() {
		if err := s.store.AbortMultipartUpload(ctx, s.target.Bucket, s.target.Key, s.uploadID); err != nil {
			s.abortErr = failure.New(failure.KindAbort, "AbortMultipartUpload", err)
			s.setStatus(StatusFailed)
			return
		}
		s.setStatus(StatusAborted)
	})
	return s.abortErr
}

func (s *Session) write(partNumber int32, r PartResult) error {
	sl, err := s.slot(partNumber)
	if err != nil {
		return err
	}
	if !sl.store(r) {
		return fmt.Errorf("part %d: %w", partNumber, ErrResultAlreadyRecorded)
	}
	s.transition(StatusInitiated, StatusInProgress)
	return nil
}

func (s *Session) slot(partNumber int32) (*slot, error) {
	if partNumber < 1 || int(partNumber) > len(s.slots) {
		return nil, fmt.Errorf("part %d of %d: %w", partNumber, len(s.slots), ErrUnknownPart)
	}
	return &s.slots[partNumber-1], nil
}

func (s *Session) transition(from, to Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == from {
		s.status = to
	}
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

const (
	slotPending int32 = iota
	slotWriting
	slotWritten
)

// slot holds one part's outcome. The first writer claims it with a CAS, fills in the
// result and publishes it; readers only look at published slots.
type slot struct {
	state  atomic.Int32
	result PartResult
}

func (s *slot) store(r PartResult) bool {
	if !s.state.CompareAndSwap(slotPending, slotWriting) {
		return false
	}
	s.result = r
	s.state.Store(slotWritten)
	return true
}

func (s *slot) load() (PartResult, bool) {
	if s.state.Load() != slotWritten {
		return PartResult{}, false
	}
	return s.result, true
}
