// Package failure classifies the errors of a multipart upload run.
// Every error returned by the coordinator is a *Error, so callers can tell which
// phase failed and whether remote cleanup was required.
package failure

import (
	"errors"
	"fmt"
)

// Kind is the category of a failure.
type Kind string

// Failure kinds, in the order a run can reach them.
const (
	KindConfiguration    Kind = "configuration"
	KindSegmentation     Kind = "segmentation"
	KindRemoteInitiation Kind = "remote_initiation"
	KindPartTransfer     Kind = "part_transfer"
	KindIncompleteUpload Kind = "incomplete_upload"
	KindFinalize         Kind = "finalize"
	KindAbort            Kind = "abort"
	KindCleanup          Kind = "cleanup"
)

// Sentinel errors, one per Kind. A *Error matches the sentinel of its Kind with errors.Is.
var (
	ErrConfiguration    = errors.New("configuration error")
	ErrSegmentation     = errors.New("segmentation error")
	ErrRemoteInitiation = errors.New("remote initiation error")
	ErrPartTransfer     = errors.New("part transfer error")
	ErrIncompleteUpload = errors.New("incomplete upload")
	ErrFinalize         = errors.New("finalize error")
	ErrAbort            = errors.New("abort error")
	ErrCleanup          = errors.New("cleanup error")
)

var sentinels = map[Kind]error{
	KindConfiguration:    ErrConfiguration,
	KindSegmentation:     ErrSegmentation,
	KindRemoteInitiation: ErrRemoteInitiation,
	KindPartTransfer:     ErrPartTransfer,
	KindIncompleteUpload: ErrIncompleteUpload,
	KindFinalize:         ErrFinalize,
	KindAbort:            ErrAbort,
	KindCleanup:          ErrCleanup,
}

// Error is a classified failure.
type Error struct {
	// Kind is the failure category.
	Kind Kind

	// Phase is the lifecycle phase the run was in when the failure happened, if known.
	Phase string

	// Op is the operation that failed (e.g. "stat", "UploadPart").
	Op string

	// PartNumber is set for failures tied to a single part.
	PartNumber int32

	// Err is the underlying cause.
	Err error
}

// New creates an Error of the given kind.
func New(kind Kind, op string, err error) *Error {
	return &Error{
		Kind: kind,
		Op:   op,
		Err:  err,
	}
}

// Newf creates an Error of the given kind with a formatted cause.
func Newf(kind Kind, op string, format string, args ...interface{}) *Error {
	return New(kind, op, fmt.Errorf(format, args...))
}

// InPhase records the lifecycle phase on the error.
func (e *Error) InPhase(phase string) *Error {
	e.Phase = phase
	return e
}

// WithPart records the part number on the error.
func (e *Error) WithPart(partNumber int32) *Error {
	e.PartNumber = partNumber
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Phase != "" {
		msg = fmt.Sprintf("%s (phase %s)", msg, e.Phase)
	}
	if e.Op != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Op)
	}
	if e.PartNumber > 0 {
		msg = fmt.Sprintf("%s part %d", msg, e.PartNumber)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of e's Kind.
func (e *Error) Is(target error) bool {
	sentinel, ok := sentinels[e.Kind]
	return ok && sentinel == target
}

// KindOf returns the Kind of the outermost *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// PhaseOf returns the first non-empty phase recorded in err's chain.
func PhaseOf(err error) string {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return ""
		}
		if e.Phase != "" {
			return e.Phase
		}
		err = e.Err
	}
	return ""
}
