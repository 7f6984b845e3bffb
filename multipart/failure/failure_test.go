package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Is(t *testing.T) {
	err := New(KindFinalize, "CompleteMultipartUpload", errors.New("InvalidPart"))

	assert.True(t, errors.Is(err, ErrFinalize))
	assert.False(t, errors.Is(err, ErrAbort))

	wrapped := fmt.Errorf("upload: %w", err)
	assert.True(t, errors.Is(wrapped, ErrFinalize))
}

func TestError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "kind only",
			err:  New(KindConfiguration, "", nil),
			want: "configuration",
		},
		{
			name: "with phase and op",
			err:  New(KindFinalize, "CompleteMultipartUpload", errors.New("boom")).InPhase("finalizing"),
			want: "finalize (phase finalizing): CompleteMultipartUpload: boom",
		},
		{
			name: "with part",
			err:  New(KindPartTransfer, "UploadPart", errors.New("timeout")).WithPart(3),
			want: "part_transfer: UploadPart part 3: timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestKindOf(t *testing.T) {
	kind, ok := KindOf(fmt.Errorf("outer: %w", New(KindSegmentation, "open", errors.New("EIO"))))
	require.True(t, ok)
	assert.Equal(t, KindSegmentation, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestPhaseOf(t *testing.T) {
	inner := New(KindPartTransfer, "UploadPart", errors.New("reset")).WithPart(1)
	outer := New(KindIncompleteUpload, "", inner).InPhase("transferring")

	assert.Equal(t, "transferring", PhaseOf(outer))
	assert.Equal(t, "", PhaseOf(inner))
	assert.Equal(t, "", PhaseOf(errors.New("plain")))
}
