package segment

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/bitrise-io/go-s3-multipart/internal"
	testutil "github.com/bitrise-io/go-s3-multipart/internal/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStager_Stage(t *testing.T) {
	data := []byte("0123456789")
	path := writeSource(t, data)
	plan, err := NewSegmenter(testLimits()).Segment(path, 4)
	require.NoError(t, err)

	scratch := t.TempDir()
	stager := NewStager(scratch)

	staged, release, err := stager.Stage(plan.Parts[1])
	require.NoError(t, err)

	stagedPath := filepath.Join(scratch, "part-00002")
	assert.Equal(t, stagedPath, staged.Path())
	assert.Equal(t, int32(2), staged.Number)
	assert.Equal(t, int64(0), staged.Offset)
	assert.Equal(t, int64(4), staged.Size)
	require.NoError(t, testutil.NewFileChecker(stagedPath).IsFile().ModeEquals(0600).Content("4567").Check())

	r, err := staged.Open()
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "4567", string(b))

	require.NoError(t, release())
	require.NoError(t, testutil.NewFileChecker(stagedPath).DoesNotExist().Check())

	// releasing twice is harmless
	require.NoError(t, release())
}

func TestStager_Stage_LastPart(t *testing.T) {
	path := writeSource(t, []byte("0123456789"))
	plan, err := NewSegmenter(testLimits()).Segment(path, 4)
	require.NoError(t, err)

	scratch := t.TempDir()
	staged, release, err := NewStager(scratch).Stage(plan.Parts[2])
	require.NoError(t, err)
	defer release() //nolint:errcheck

	assert.Equal(t, int64(2), staged.Size)
	require.NoError(t, testutil.NewFileChecker(staged.Path()).Content("89").Check())
}

func TestStager_Stage_MissingScratchDir(t *testing.T) {
	path := writeSource(t, []byte("0123456789"))
	plan, err := NewSegmenter(testLimits()).Segment(path, 4)
	require.NoError(t, err)

	_, _, err = NewStager(filepath.Join(t.TempDir(), "gone")).Stage(plan.Parts[0])
	require.Error(t, err)
}

type failingRemoveOS struct {
	internal.RealOS
}

func (failingRemoveOS) Remove(string) error {
	return errors.New("device busy")
}

func TestStager_Release_Error(t *testing.T) {
	path := writeSource(t, []byte("0123456789"))
	plan, err := NewSegmenter(testLimits()).Segment(path, 4)
	require.NoError(t, err)

	scratch := t.TempDir()
	stager := NewStager(scratch)
	stager.os = failingRemoveOS{}

	_, release, err := stager.Stage(plan.Parts[0])
	require.NoError(t, err)
	require.Error(t, release())

	require.NoError(t, os.Remove(filepath.Join(scratch, "part-00001")))
}
