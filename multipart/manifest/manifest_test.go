package manifest

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/bitrise-io/go-s3-multipart/multipart/failure"
	"github.com/bitrise-io/go-s3-multipart/multipart/session"
	"github.com/bitrise-io/go-s3-multipart/multipart/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func succeeded(n int32) session.PartResult {
	return session.PartResult{PartNumber: n, ETag: fmt.Sprintf("etag-%d", n), Status: session.PartSucceeded}
}

func TestAssemble_AscendingRegardlessOfInputOrder(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for total := 1; total <= 40; total++ {
		results := make([]session.PartResult, total)
		for i := range results {
			results[i] = succeeded(int32(i + 1))
		}
		r.Shuffle(len(results), func(i, j int) { results[i], results[j] = results[j], results[i] })

		m, err := Assemble(results, total)
		require.NoError(t, err)
		require.Equal(t, total, m.Len())
		for i, e := range m.Entries() {
			assert.Equal(t, int32(i+1), e.PartNumber)
			assert.Equal(t, fmt.Sprintf("etag-%d", i+1), e.ETag)
		}
	}
}

func TestAssemble_CompletedParts(t *testing.T) {
	m, err := Assemble([]session.PartResult{succeeded(3), succeeded(1), succeeded(2)}, 3)
	require.NoError(t, err)

	assert.Equal(t, []int32{1, 2, 3}, m.PartNumbers())
	assert.Equal(t, []store.CompletedPart{
		{PartNumber: 1, ETag: "etag-1"},
		{PartNumber: 2, ETag: "etag-2"},
		{PartNumber: 3, ETag: "etag-3"},
	}, m.CompletedParts())
}

func TestAssemble_Incomplete(t *testing.T) {
	results := []session.PartResult{
		succeeded(1),
		{PartNumber: 2, Status: session.PartFailed, Reason: errors.New("timeout")},
		{PartNumber: 4, Status: session.PartPending},
	}

	_, err := Assemble(results, 5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, failure.ErrIncompleteUpload))

	var incomplete *IncompleteError
	require.True(t, errors.As(err, &incomplete))
	assert.Equal(t, []int32{3, 4, 5}, incomplete.Missing)
	assert.Equal(t, []int32{2}, incomplete.Failed)
	assert.Contains(t, err.Error(), "missing parts [3 4 5], failed parts [2]")
}

func TestAssemble_InvariantBreaches(t *testing.T) {
	tests := []struct {
		name    string
		results []session.PartResult
		total   int
	}{
		{name: "duplicate part", results: []session.PartResult{succeeded(1), succeeded(1)}, total: 2},
		{name: "part zero", results: []session.PartResult{succeeded(0), succeeded(1)}, total: 1},
		{name: "part above total", results: []session.PartResult{succeeded(1), succeeded(3)}, total: 2},
		{name: "no parts", results: nil, total: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble(tt.results, tt.total)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvariant))
			assert.True(t, errors.Is(err, failure.ErrIncompleteUpload))
		})
	}
}
