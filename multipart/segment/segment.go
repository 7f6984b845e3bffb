// Package segment splits a source file into the numbered parts of a multipart upload.
//
// Parts are byte ranges over the source file and are read lazily, so planning an upload
// never loads the file into memory. A Stager can copy a part into scratch storage right
// before it is transferred.
package segment

import (
	"errors"
	"fmt"
	"os"

	"github.com/bitrise-io/go-s3-multipart/internal"
	"github.com/bitrise-io/go-s3-multipart/multipart/failure"
)

// Limits of the S3 multipart-upload protocol.
const (
	DefaultMinPartSize int64 = 5 * 1024 * 1024
	DefaultMaxPartSize int64 = 5 * 1024 * 1024 * 1024
	DefaultMaxParts          = 10000
)

var (
	// ErrEmptySource is returned for a zero-byte source: there is nothing to upload.
	ErrEmptySource = errors.New("source file is empty, nothing to upload")
	// ErrTooManyParts is returned when the chunk size would produce more parts than the store accepts.
	ErrTooManyParts = errors.New("too many parts")
	// ErrInvalidChunkSize is returned when the chunk size is outside the store's part size limits.
	ErrInvalidChunkSize = errors.New("invalid chunk size")
)

// Limits bounds the part layout. Every part except the last must be at least MinPartSize.
type Limits struct {
	MinPartSize int64
	MaxPartSize int64
	MaxParts    int
}

// DefaultLimits returns the limits enforced by Amazon S3.
func DefaultLimits() Limits {
	return Limits{
		MinPartSize: DefaultMinPartSize,
		MaxPartSize: DefaultMaxPartSize,
		MaxParts:    DefaultMaxParts,
	}
}

// ValidateChunkSize checks chunkSize against the part size limits.
func (l Limits) ValidateChunkSize(chunkSize int64) error {
	if chunkSize < l.MinPartSize {
		return fmt.Errorf("%w: %d bytes is below the minimum part size of %d bytes", ErrInvalidChunkSize, chunkSize, l.MinPartSize)
	}
	if l.MaxPartSize > 0 && chunkSize > l.MaxPartSize {
		return fmt.Errorf("%w: %d bytes exceeds the maximum part size of %d bytes", ErrInvalidChunkSize, chunkSize, l.MaxPartSize)
	}
	return nil
}

// Plan is the part layout of one source file.
type Plan struct {
	SourcePath string
	SourceSize int64
	ChunkSize  int64
	Parts      []Part
}

// NumParts ...
func (p Plan) NumParts() int {
	return len(p.Parts)
}

// Layout computes the parts of a source of the given size: ceil(size/chunkSize) parts,
// numbered from 1, each chunkSize long except the last.
func Layout(sourcePath string, size, chunkSize int64, limits Limits) ([]Part, error) {
	if err := limits.ValidateChunkSize(chunkSize); err != nil {
		return nil, failure.New(failure.KindConfiguration, "layout", err)
	}
	if size == 0 {
		return nil, failure.New(failure.KindSegmentation, "layout", ErrEmptySource)
	}
	if size < 0 {
		return nil, failure.Newf(failure.KindSegmentation, "layout", "negative source size: %d", size)
	}

	count := (size + chunkSize - 1) / chunkSize
	if limits.MaxParts > 0 && count > int64(limits.MaxParts) {
		return nil, failure.New(failure.KindConfiguration, "layout",
			fmt.Errorf("%w: %d parts of %d bytes needed, the limit is %d", ErrTooManyParts, count, chunkSize, limits.MaxParts))
	}

	parts := make([]Part, 0, count)
	for i := int64(0); i < count; i++ {
		offset := i * chunkSize
		partSize := chunkSize
		if offset+partSize > size {
			partSize = size - offset
		}
		parts = append(parts, Part{
			Number: int32(i + 1),
			Offset: offset,
			Size:   partSize,
			path:   sourcePath,
		})
	}

	return parts, nil
}

// Segmenter plans the parts of source files.
type Segmenter struct {
	limits Limits
	os     internal.OsProxy
}

// NewSegmenter ...
func NewSegmenter(limits Limits) *Segmenter {
	return &Segmenter{
		limits: limits,
		os:     internal.RealOS{},
	}
}

// Limits returns the limits the segmenter enforces.
func (s *Segmenter) Limits() Limits {
	return s.limits
}

// Segment plans the parts of sourcePath. It fails before any network activity when the
// chunk size is invalid, the source is missing or empty, or the layout needs too many parts.
func (s *Segmenter) Segment(sourcePath string, chunkSize int64) (Plan, error) {
	if err := s.limits.ValidateChunkSize(chunkSize); err != nil {
		return Plan{}, failure.New(failure.KindConfiguration, "segment", err)
	}

	info, err := s.os.Stat(sourcePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Plan{}, failure.Newf(failure.KindConfiguration, "stat", "source file does not exist: %s", sourcePath)
		}
		return Plan{}, failure.New(failure.KindSegmentation, "stat", err)
	}
	if info.IsDir() {
		return Plan{}, failure.Newf(failure.KindConfiguration, "stat", "source is a directory: %s", sourcePath)
	}

	// Fail early on unreadable sources instead of on every part.
	f, err := s.os.Open(sourcePath)
	if err != nil {
		return Plan{}, failure.New(failure.KindSegmentation, "open", err)
	}
	if err := f.Close(); err != nil {
		return Plan{}, failure.New(failure.KindSegmentation, "close", err)
	}

	parts, err := Layout(sourcePath, info.Size(), chunkSize, s.limits)
	if err != nil {
		return Plan{}, err
	}
	for i := range parts {
		parts[i].open = s.os.Open
	}

	return Plan{
		SourcePath: sourcePath,
		SourceSize: info.Size(),
		ChunkSize:  chunkSize,
		Parts:      parts,
	}, nil
}
