package segment

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-s3-multipart/internal"
	"github.com/bitrise-io/go-s3-multipart/multipart/failure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mb = 1024 * 1024

func testLimits() Limits {
	return Limits{MinPartSize: 4, MaxPartSize: 1024, MaxParts: 100}
}

func writeSource(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "source.bin")
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

func sequentialBytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i % 251)
	}
	return b
}

func TestLayout_PartCountsAndSizes(t *testing.T) {
	limits := Limits{MinPartSize: 1, MaxParts: 100000}
	for _, chunk := range []int64{1, 3, 7, 10} {
		for size := int64(1); size <= 50; size++ {
			parts, err := Layout("src", size, chunk, limits)
			require.NoError(t, err)

			wantCount := (size + chunk - 1) / chunk
			require.Len(t, parts, int(wantCount), "size=%d chunk=%d", size, chunk)

			var total int64
			for i, p := range parts {
				assert.Equal(t, int32(i+1), p.Number)
				assert.Equal(t, int64(i)*chunk, p.Offset)
				if i < len(parts)-1 {
					assert.Equal(t, chunk, p.Size)
				}
				total += p.Size
			}
			assert.Equal(t, size, total)

			wantLast := size % chunk
			if wantLast == 0 {
				wantLast = chunk
			}
			assert.Equal(t, wantLast, parts[len(parts)-1].Size)
		}
	}
}

func TestLayout_ThirteenMegabytesInSixMegabyteChunks(t *testing.T) {
	parts, err := Layout("src", 13*mb, 6*mb, DefaultLimits())
	require.NoError(t, err)
	require.Len(t, parts, 3)
	assert.Equal(t, int64(6*mb), parts[0].Size)
	assert.Equal(t, int64(6*mb), parts[1].Size)
	assert.Equal(t, int64(1*mb), parts[2].Size)
}

func TestLayout_Errors(t *testing.T) {
	tests := []struct {
		name      string
		size      int64
		chunk     int64
		limits    Limits
		wantKind  failure.Kind
		wantCause error
	}{
		{
			name:      "empty source",
			size:      0,
			chunk:     6 * mb,
			limits:    DefaultLimits(),
			wantKind:  failure.KindSegmentation,
			wantCause: ErrEmptySource,
		},
		{
			name:      "chunk below minimum part size",
			size:      10 * mb,
			chunk:     1 * mb,
			limits:    DefaultLimits(),
			wantKind:  failure.KindConfiguration,
			wantCause: ErrInvalidChunkSize,
		},
		{
			name:      "chunk above maximum part size",
			size:      10 * mb,
			chunk:     DefaultMaxPartSize + 1,
			limits:    DefaultLimits(),
			wantKind:  failure.KindConfiguration,
			wantCause: ErrInvalidChunkSize,
		},
		{
			name:      "too many parts",
			size:      101,
			chunk:     1,
			limits:    Limits{MinPartSize: 1, MaxParts: 100},
			wantKind:  failure.KindConfiguration,
			wantCause: ErrTooManyParts,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Layout("src", tt.size, tt.chunk, tt.limits)
			require.Error(t, err)
			kind, ok := failure.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, kind)
			assert.True(t, errors.Is(err, tt.wantCause))
		})
	}
}

func TestSegmenter_Segment(t *testing.T) {
	data := sequentialBytes(10)
	path := writeSource(t, data)

	plan, err := NewSegmenter(testLimits()).Segment(path, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(10), plan.SourceSize)
	assert.Equal(t, int64(4), plan.ChunkSize)
	require.Equal(t, 3, plan.NumParts())

	var got []byte
	for _, p := range plan.Parts {
		r, err := p.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		got = append(got, b...)
	}
	assert.Equal(t, data, got)
}

func TestSegmenter_Segment_ConcurrentReadersAreIndependent(t *testing.T) {
	data := sequentialBytes(12)
	path := writeSource(t, data)

	plan, err := NewSegmenter(testLimits()).Segment(path, 4)
	require.NoError(t, err)

	r1, err := plan.Parts[0].Open()
	require.NoError(t, err)
	defer r1.Close() //nolint:errcheck
	r3, err := plan.Parts[2].Open()
	require.NoError(t, err)
	defer r3.Close() //nolint:errcheck

	// interleaved reads must not disturb each other
	buf := make([]byte, 2)
	_, err = io.ReadFull(r1, buf)
	require.NoError(t, err)
	assert.Equal(t, data[0:2], buf)
	_, err = io.ReadFull(r3, buf)
	require.NoError(t, err)
	assert.Equal(t, data[8:10], buf)
	_, err = io.ReadFull(r1, buf)
	require.NoError(t, err)
	assert.Equal(t, data[2:4], buf)
}

func TestSegmenter_Segment_Errors(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.bin")
	require.NoError(t, os.WriteFile(empty, nil, 0644))

	tests := []struct {
		name     string
		path     string
		chunk    int64
		wantKind failure.Kind
	}{
		{name: "missing source", path: filepath.Join(dir, "missing.bin"), chunk: 4, wantKind: failure.KindConfiguration},
		{name: "source is a directory", path: dir, chunk: 4, wantKind: failure.KindConfiguration},
		{name: "empty source", path: empty, chunk: 4, wantKind: failure.KindSegmentation},
		{name: "chunk too small", path: empty, chunk: 3, wantKind: failure.KindConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSegmenter(testLimits()).Segment(tt.path, tt.chunk)
			require.Error(t, err)
			kind, ok := failure.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantKind, kind)
		})
	}
}

type failingOpenOS struct {
	internal.RealOS
	err error
}

func (f failingOpenOS) Open(string) (*os.File, error) {
	return nil, f.err
}

func TestSegmenter_Segment_UnreadableSource(t *testing.T) {
	path := writeSource(t, sequentialBytes(8))
	segmenter := NewSegmenter(testLimits())
	segmenter.os = failingOpenOS{err: errors.New("permission denied")}

	_, err := segmenter.Segment(path, 4)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrSegmentation))
}
