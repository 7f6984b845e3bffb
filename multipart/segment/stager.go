package segment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bitrise-io/go-s3-multipart/internal"
)

// Stager copies parts into a scratch directory right before they are uploaded.
// Staged copies are removed by the release func returned from Stage, so scratch usage
// stays bounded by the number of parts in flight.
type Stager struct {
	dir string
	os  internal.OsProxy
}

// NewStager creates a Stager writing into dir, which must exist.
func NewStager(dir string) *Stager {
	return &Stager{
		dir: dir,
		os:  internal.RealOS{},
	}
}

// Dir returns the scratch directory.
func (s *Stager) Dir() string {
	return s.dir
}

// Stage copies the bytes of p into its own scratch file and returns a part reading from
// the copy, together with a func that removes the copy.
func (s *Stager) Stage(p Part) (Part, func() error, error) {
	stagedPath := filepath.Join(s.dir, fmt.Sprintf("part-%05d", p.Number))

	src, err := p.Open()
	if err != nil {
		return Part{}, nil, err
	}
	defer src.Close() //nolint:errcheck

	dst, err := s.os.OpenFile(stagedPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if err != nil {
		return Part{}, nil, fmt.Errorf("create staged part %d: %w", p.Number, err)
	}

	release := func() error {
		if err := s.os.Remove(stagedPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove staged part %d: %w", p.Number, err)
		}
		return nil
	}

	n, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n != p.Size {
		err = fmt.Errorf("short read: copied %d of %d bytes", n, p.Size)
	}
	if err != nil {
		_ = release()
		return Part{}, nil, fmt.Errorf("stage part %d: %w", p.Number, err)
	}

	return Part{
		Number: p.Number,
		Offset: 0,
		Size:   p.Size,
		path:   stagedPath,
		open:   s.os.Open,
	}, release, nil
}
