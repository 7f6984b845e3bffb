// Package manifest builds the ordered part list a multipart upload is finalized with.
package manifest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bitrise-io/go-s3-multipart/multipart/failure"
	"github.com/bitrise-io/go-s3-multipart/multipart/session"
	"github.com/bitrise-io/go-s3-multipart/multipart/store"
)

// ErrInvariant is returned for part results that can not belong to a single upload:
// duplicated or out of range part numbers.
var ErrInvariant = errors.New("part results violate the manifest invariant")

// Entry references one uploaded part.
type Entry struct {
	PartNumber int32
	ETag       string
}

// Manifest is the list of every part of an upload, in strictly ascending part number order.
type Manifest struct {
	entries []Entry
}

// Entries returns a copy of the manifest entries.
func (m Manifest) Entries() []Entry {
	return append([]Entry(nil), m.entries...)
}

// Len ...
func (m Manifest) Len() int {
	return len(m.entries)
}

// PartNumbers returns the part numbers in manifest order.
func (m Manifest) PartNumbers() []int32 {
	numbers := make([]int32, len(m.entries))
	for i, e := range m.entries {
		numbers[i] = e.PartNumber
	}
	return numbers
}

// CompletedParts returns the entries in the form the store finalizes with.
func (m Manifest) CompletedParts() []store.CompletedPart {
	parts := make([]store.CompletedPart, len(m.entries))
	for i, e := range m.entries {
		parts[i] = store.CompletedPart{PartNumber: e.PartNumber, ETag: e.ETag}
	}
	return parts
}

// Assemble builds the manifest of an upload with totalParts parts.
// Results may come in any order. Every part in [1, totalParts] must have succeeded,
// otherwise an incomplete upload error names the missing and failed parts.
func Assemble(results []session.PartResult, totalParts int) (Manifest, error) {
	if totalParts <= 0 {
		return Manifest{}, failure.New(failure.KindIncompleteUpload, "assemble",
			fmt.Errorf("%w: invalid number of parts: %d", ErrInvariant, totalParts))
	}

	byNumber := make(map[int32]session.PartResult, len(results))
	for _, r := range results {
		if r.PartNumber < 1 || int(r.PartNumber) > totalParts {
			return Manifest{}, failure.New(failure.KindIncompleteUpload, "assemble",
				fmt.Errorf("%w: part %d is out of range [1, %d]", ErrInvariant, r.PartNumber, totalParts))
		}
		if _, ok := byNumber[r.PartNumber]; ok {
			return Manifest{}, failure.New(failure.KindIncompleteUpload, "assemble",
				fmt.Errorf("%w: part %d appears more than once", ErrInvariant, r.PartNumber))
		}
		byNumber[r.PartNumber] = r
	}

	var missing, failed []int32
	entries := make([]Entry, 0, totalParts)
	for n := int32(1); int(n) <= totalParts; n++ {
		r, ok := byNumber[n]
		switch {
		case !ok || r.Status == session.PartPending:
			missing = append(missing, n)
		case r.Status != session.PartSucceeded || r.ETag == "":
			failed = append(failed, n)
		default:
			entries = append(entries, Entry{PartNumber: n, ETag: r.ETag})
		}
	}

	if len(missing) > 0 || len(failed) > 0 {
		return Manifest{}, failure.New(failure.KindIncompleteUpload, "assemble", &IncompleteError{
			Missing: missing,
			Failed:  failed,
		})
	}

	return Manifest{entries: entries}, nil
}

// IncompleteError lists the parts that keep an upload from being finalized.
type IncompleteError struct {
	Missing []int32
	Failed  []int32
}

// Error ...
func (e *IncompleteError) Error() string {
	var reasons []string
	if len(e.Missing) > 0 {
		reasons = append(reasons, fmt.Sprintf("missing parts %s", joinNumbers(e.Missing)))
	}
	if len(e.Failed) > 0 {
		reasons = append(reasons, fmt.Sprintf("failed parts %s", joinNumbers(e.Failed)))
	}
	return strings.Join(reasons, ", ")
}

func joinNumbers(numbers []int32) string {
	s := make([]string, len(numbers))
	for i, n := range numbers {
		s[i] = fmt.Sprint(n)
	}
	return "[" + strings.Join(s, " ") + "]"
}
