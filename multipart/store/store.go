// Package store adapts an S3-compatible object store to the four calls of the
// multipart-upload protocol.
package store

import (
	"context"
	"io"
)

// CreateOptions are the object attributes fixed when an upload is initiated.
type CreateOptions struct {
	ContentType     string
	ContentEncoding string
	Metadata        map[string]string
}

// CompletedPart references one uploaded part in the finalize call.
type CompletedPart struct {
	PartNumber int32
	ETag       string
}

// CompleteOutput is what the store reports about the finalized object.
type CompleteOutput struct {
	Location  string
	ETag      string
	VersionID string
}

// Store is the remote side of a multipart upload.
type Store interface {
	// CreateMultipartUpload starts a new upload and returns its upload id.
	CreateMultipartUpload(ctx context.Context, bucket, key string, opts CreateOptions) (string, error)

	// UploadPart uploads one part and returns its ETag.
	// body may be read more than once by the implementation, hence io.ReadSeeker.
	UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, body io.ReadSeeker, size int64) (string, error)

	// CompleteMultipartUpload assembles the object from parts listed in ascending order.
	CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) (CompleteOutput, error)

	// AbortMultipartUpload discards the upload and the parts stored for it.
	AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error
}
