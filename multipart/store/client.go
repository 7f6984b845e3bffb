package store

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/bitrise-io/go-s3-multipart/multipart/failure"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/retryhttp"
	"github.com/hashicorp/go-retryablehttp"
)

// fallbackRegion is used for signing when neither the config nor the environment names a region.
// S3-compatible stores behind a custom endpoint generally accept it.
const fallbackRegion = "us-east-1"

// ClientParams ...
type ClientParams struct {
	Region          string
	Endpoint        string
	UsePathStyle    bool
	AccessKeyID     string
	SecretAccessKey string
	// Bucket is used to discover the region when neither Region nor Endpoint is set.
	Bucket string
	// TransportRetries moves request retries from the SDK to a retryablehttp transport when > 0.
	TransportRetries int
}

// NewS3Client creates an S3 client for the given endpoint and credentials.
// Invalid settings fail with a configuration error; a failed bucket region lookup is a
// remote_initiation error.
func NewS3Client(ctx context.Context, params ClientParams, logger log.Logger) (*s3.Client, error) {
	cfg, err := loadAWSConfig(ctx, params, logger)
	if err != nil {
		return nil, failure.New(failure.KindConfiguration, "load aws config", err)
	}

	optFns := clientOptions(params)
	client := s3.NewFromConfig(*cfg, optFns...)

	if params.Region == "" && params.Endpoint == "" && params.Bucket != "" {
		region, err := manager.GetBucketRegion(ctx, client, params.Bucket)
		if err != nil {
			return nil, failure.New(failure.KindRemoteInitiation, "discover bucket region",
				fmt.Errorf("bucket %s: %w", params.Bucket, err))
		}
		logger.Debugf("Bucket %s is in region %s", params.Bucket, region)

		cfg.Region = region
		client = s3.NewFromConfig(*cfg, optFns...)
	}

	return client, nil
}

func loadAWSConfig(ctx context.Context, params ClientParams, logger log.Logger) (*aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	if params.Region != "" {
		opts = append(opts, config.WithRegion(params.Region))
	}

	if params.AccessKeyID != "" && params.SecretAccessKey != "" {
		logger.Debugf("aws credentials provided, using them...")
		opts = append(opts,
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(params.AccessKeyID, params.SecretAccessKey, "")))
	}

	if params.TransportRetries > 0 {
		logger.Debugf("Using retrying HTTP transport with %d retries", params.TransportRetries)
		httpClient := retryhttp.NewClient(logger)
		httpClient.RetryMax = params.TransportRetries
		httpClient.CheckRetry = transportRetryPolicy(logger)
		opts = append(opts,
			config.WithHTTPClient(httpClient.StandardClient()),
			config.WithRetryer(func() aws.Retryer { return aws.NopRetryer{} }),
		)
	}

	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config, %v", err)
	}

	if cfg.Region == "" {
		cfg.Region = fallbackRegion
	}

	return &cfg, nil
}

// transportRetryPolicy retries what retryablehttp considers transient (connection errors,
// 429 and 5xx responses) and logs every decision.
func transportRetryPolicy(logger log.Logger) retryablehttp.CheckRetry {
	return func(ctx context.Context, resp *http.Response, reqErr error) (bool, error) {
		retry, err := retryablehttp.DefaultRetryPolicy(ctx, resp, reqErr)
		if retry {
			status := 0
			if resp != nil {
				status = resp.StatusCode
			}
			logger.Debugf("Retrying S3 request: status=%d ; err=%v", status, reqErr)
		}
		return retry, err
	}
}

func clientOptions(params ClientParams) []func(*s3.Options) {
	var optFns []func(*s3.Options)

	if params.Endpoint != "" {
		endpoint := params.Endpoint
		optFns = append(optFns, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(endpoint)
		})
	}
	if params.UsePathStyle {
		optFns = append(optFns, func(o *s3.Options) {
			o.UsePathStyle = true
		})
	}

	return optFns
}
