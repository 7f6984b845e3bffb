package store

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/bitrise-io/go-utils/v2/log"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

var _ S3API = (*s3.Client)(nil)

// S3Store implements Store on top of an S3-compatible API.
type S3Store struct {
	client S3API
	logger log.Logger
}

// NewS3Store ...
func NewS3Store(client S3API, logger log.Logger) *S3Store {
	return &S3Store{
		client: client,
		logger: logger,
	}
}

// CreateMultipartUpload ...
func (s *S3Store) CreateMultipartUpload(ctx context.Context, bucket, key string, opts CreateOptions) (string, error) {
	input := &s3.CreateMultipartUploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	if opts.ContentType != "" {
		input.ContentType = aws.String(opts.ContentType)
	}
	if opts.ContentEncoding != "" {
		input.ContentEncoding = aws.String(opts.ContentEncoding)
	}
	if len(opts.Metadata) > 0 {
		input.Metadata = opts.Metadata
	}

	output, err := s.client.CreateMultipartUpload(ctx, input)
	if err != nil {
		return "", fmt.Errorf("create multipart upload %s/%s: %w", bucket, key, err)
	}

	uploadID := aws.ToString(output.UploadId)
	if uploadID == "" {
		return "", fmt.Errorf("create multipart upload %s/%s: empty upload id in response", bucket, key)
	}
	s.logger.Debugf("Multipart upload created for %s/%s, upload id: %s", bucket, key, uploadID)

	return uploadID, nil
}

// UploadPart ...
func (s *S3Store) UploadPart(ctx context.Context, bucket, key, uploadID string, partNumber int32, body io.ReadSeeker, size int64) (string, error) {
	output, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
		Bucket:        aws.String(bucket),
		Key:           aws.String(key),
		UploadId:      aws.String(uploadID),
		PartNumber:    aws.Int32(partNumber),
		Body:          body,
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return "", fmt.Errorf("upload part %d: %w", partNumber, err)
	}

	etag := aws.ToString(output.ETag)
	if etag == "" {
		return "", fmt.Errorf("upload part %d: no ETag in response", partNumber)
	}

	return etag, nil
}

// CompleteMultipartUpload ...
func (s *S3Store) CompleteMultipartUpload(ctx context.Context, bucket, key, uploadID string, parts []CompletedPart) (CompleteOutput, error) {
	completed := make([]types.CompletedPart, 0, len(parts))
	for _, p := range parts {
		completed = append(completed, types.CompletedPart{
			ETag:       aws.String(p.ETag),
			PartNumber: aws.Int32(p.PartNumber),
		})
	}

	output, err := s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{
			Parts: completed,
		},
	})
	if err != nil {
		return CompleteOutput{}, fmt.Errorf("complete multipart upload %s/%s: %w", bucket, key, err)
	}

	return CompleteOutput{
		Location:  aws.ToString(output.Location),
		ETag:      aws.ToString(output.ETag),
		VersionID: aws.ToString(output.VersionId),
	}, nil
}

// AbortMultipartUpload ...
func (s *S3Store) AbortMultipartUpload(ctx context.Context, bucket, key, uploadID string) error {
	_, err := s.client.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(bucket),
		Key:      aws.String(key),
		UploadId: aws.String(uploadID),
	})
	if err != nil {
		var apiError smithy.APIError
		if errors.As(err, &apiError) && apiError.ErrorCode() == "NoSuchUpload" {
			// already gone, nothing is reserved on the server anymore
			s.logger.Debugf("Upload %s not found while aborting, treating it as aborted", uploadID)
			return nil
		}
		return fmt.Errorf("abort multipart upload %s/%s: %w", bucket, key, err)
	}

	return nil
}

var nonRetryableCodes = map[string]bool{
	"NoSuchUpload":          true,
	"NoSuchBucket":          true,
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"InvalidArgument":       true,
	"InvalidBucketName":     true,
	"EntityTooSmall":        true,
	"EntityTooLarge":        true,
	"InvalidPart":           true,
	"InvalidPartOrder":      true,
}

// IsRetryable reports whether a failed store call may succeed when repeated.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var apiError smithy.APIError
	if errors.As(err, &apiError) {
		return !nonRetryableCodes[apiError.ErrorCode()]
	}

	return true
}
