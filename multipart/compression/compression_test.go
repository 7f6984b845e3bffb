package compression

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticChecker bool

func (c staticChecker) CheckDependencies() bool {
	return bool(c)
}

func TestCompressor_Compress_Native(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.log")
	data := []byte(strings.Repeat("multipart upload line\n", 4096))
	require.NoError(t, os.WriteFile(src, data, 0644))

	dst := filepath.Join(dir, "source.log"+Extension)
	compressor := NewCompressor(log.NewLogger(), env.NewRepository(), staticChecker(false))
	require.NoError(t, compressor.Compress(src, dst, 3))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Less(t, info.Size(), int64(len(data)))

	var out bytes.Buffer
	require.NoError(t, Decompress(dst, &out))
	assert.Equal(t, data, out.Bytes())
}

func TestCompressor_Compress_InvalidLevel(t *testing.T) {
	compressor := NewCompressor(log.NewLogger(), env.NewRepository(), staticChecker(false))
	for _, level := range []int{0, 20, -1} {
		assert.Error(t, compressor.Compress("src", "dst", level), "level %d", level)
	}
}

func TestCompressor_Compress_ExistingDestination(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "source.bin")
	dst := filepath.Join(dir, "source.bin.zst")
	require.NoError(t, os.WriteFile(src, []byte("data"), 0644))
	require.NoError(t, os.WriteFile(dst, []byte("old"), 0644))

	compressor := NewCompressor(log.NewLogger(), env.NewRepository(), staticChecker(false))
	assert.Error(t, compressor.Compress(src, dst, 3))
}
