package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/bitrise-io/go-s3-multipart/multipart/failure"
	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "success", err: nil, want: 0},
		{name: "configuration", err: failure.New(failure.KindConfiguration, "load aws config", errors.New("bad profile")), want: exitConfiguration},
		{name: "wrapped configuration", err: fmt.Errorf("run: %w", failure.Newf(failure.KindConfiguration, "validate", "bucket is required")), want: exitConfiguration},
		{name: "bucket region lookup", err: failure.New(failure.KindRemoteInitiation, "discover bucket region", errors.New("dial tcp: i/o timeout")), want: exitUpload},
		{name: "part transfer", err: failure.New(failure.KindIncompleteUpload, "transfer", errors.New("connection reset")), want: exitUpload},
		{name: "unclassified", err: errors.New("boom"), want: exitUpload},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
