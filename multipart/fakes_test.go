package multipart

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/bitrise-io/go-s3-multipart/internal"
	"github.com/bitrise-io/go-s3-multipart/multipart/store"
)

type uploadedPart struct {
	number int32
	data   []byte
}

type createCall struct {
	bucket, key string
	opts        store.CreateOptions
}

// fakeStore keeps multipart uploads in memory.
type fakeStore struct {
	mu sync.Mutex

	createErr   error
	uploadErr   func(partNumber int32, attempt int) error
	completeErr error
	abortErr    error

	nextID    int
	creates   []createCall
	attempts  map[int32]int
	parts     map[string]map[int32][]byte
	completed map[string][]store.CompletedPart
	aborted   []string
	buckets   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		attempts:  map[int32]int{},
		parts:     map[string]map[int32][]byte{},
		completed: map[string][]store.CompletedPart{},
	}
}

func (f *fakeStore) CreateMultipartUpload(_ context.Context, bucket, key string, opts store.CreateOptions) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates = append(f.creates, createCall{bucket: bucket, key: key, opts: opts})
	f.buckets = append(f.buckets, bucket)
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.parts[id] = map[int32][]byte{}
	return id, nil
}

func (f *fakeStore) UploadPart(_ context.Context, bucket, _, uploadID string, partNumber int32, body io.ReadSeeker, size int64) (string, error) {
	f.mu.Lock()
	f.attempts[partNumber]++
	attempt := f.attempts[partNumber]
	f.buckets = append(f.buckets, bucket)
	f.mu.Unlock()

	if f.uploadErr != nil {
		if err := f.uploadErr(partNumber, attempt); err != nil {
			return "", err
		}
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	if int64(len(data)) != size {
		return "", fmt.Errorf("part %d: got %d bytes, expected %d", partNumber, len(data), size)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	parts, ok := f.parts[uploadID]
	if !ok {
		return "", errors.New("NoSuchUpload")
	}
	parts[partNumber] = data
	return fmt.Sprintf("\"etag-%s-%d\"", uploadID, partNumber), nil
}

func (f *fakeStore) CompleteMultipartUpload(_ context.Context, bucket, key, uploadID string, parts []store.CompletedPart) (store.CompleteOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets = append(f.buckets, bucket)
	if f.completeErr != nil {
		return store.CompleteOutput{}, f.completeErr
	}
	f.completed[uploadID] = parts
	return store.CompleteOutput{
		Location: fmt.Sprintf("https://%s.example.com/%s", bucket, key),
		ETag:     "\"final-" + uploadID + "\"",
	}, nil
}

func (f *fakeStore) AbortMultipartUpload(_ context.Context, bucket, _, uploadID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buckets = append(f.buckets, bucket)
	f.aborted = append(f.aborted, uploadID)
	if f.abortErr != nil {
		return f.abortErr
	}
	delete(f.parts, uploadID)
	return nil
}

// object reassembles a completed upload from its manifest.
func (f *fakeStore) object(uploadID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	manifest, ok := f.completed[uploadID]
	if !ok {
		return nil, fmt.Errorf("upload %s is not completed", uploadID)
	}
	if !sort.SliceIsSorted(manifest, func(i, j int) bool { return manifest[i].PartNumber < manifest[j].PartNumber }) {
		return nil, errors.New("manifest is not ascending")
	}
	var buf bytes.Buffer
	for _, p := range manifest {
		buf.Write(f.parts[uploadID][p.PartNumber])
	}
	return buf.Bytes(), nil
}

func (f *fakeStore) totalUploadCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, a := range f.attempts {
		n += a
	}
	return n
}

// recordingPathProvider creates scratch dirs under base and remembers them.
type recordingPathProvider struct {
	base string
	dirs []string
}

func (p *recordingPathProvider) CreateTempDir(prefix string) (string, error) {
	dir, err := os.MkdirTemp(p.base, prefix)
	if err != nil {
		return "", err
	}
	p.dirs = append(p.dirs, dir)
	return dir, nil
}

type failingRemoveAllOS struct {
	internal.RealOS
}

func (failingRemoveAllOS) RemoveAll(string) error {
	return errors.New("device or resource busy")
}
