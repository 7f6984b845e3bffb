package segment

import (
	"fmt"
	"io"
	"os"
)

// Part is a contiguous byte range of a file, the unit of independent transfer.
type Part struct {
	// Number is the 1-based part number.
	Number int32
	Offset int64
	Size   int64

	path string
	open func(name string) (*os.File, error)
}

// Path returns the file the part reads from.
func (p Part) Path() string {
	return p.path
}

// Open returns a reader over the part's byte range.
// Each call opens its own file handle, so concurrent readers never share offsets.
func (p Part) Open() (*Reader, error) {
	open := p.open
	if open == nil {
		open = os.Open
	}

	file, err := open(p.path)
	if err != nil {
		return nil, fmt.Errorf("open part %d: %w", p.Number, err)
	}

	return &Reader{
		SectionReader: io.NewSectionReader(file, p.Offset, p.Size),
		file:          file,
	}, nil
}

// Reader reads one part. It is seekable so a request can be re-sent from the start.
type Reader struct {
	*io.SectionReader
	file *os.File
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
