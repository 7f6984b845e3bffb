// Command s3-multipart-upload uploads one local file to an S3-compatible bucket with the
// multipart-upload protocol. It is configured with S3MU_* environment variables and an
// optional config file named by S3MU_CONFIG.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bitrise-io/go-s3-multipart/analytics"
	"github.com/bitrise-io/go-s3-multipart/config"
	"github.com/bitrise-io/go-s3-multipart/multipart"
	"github.com/bitrise-io/go-s3-multipart/multipart/failure"
	"github.com/bitrise-io/go-s3-multipart/multipart/store"
	"github.com/bitrise-io/go-s3-multipart/multipart/transfer"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/docker/go-units"
	"github.com/google/uuid"
)

const (
	exitConfiguration = 2
	exitUpload        = 1
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	envRepo := env.NewRepository()
	logger := log.NewLogger()

	cfg, err := config.Load(envRepo, envRepo.Get(config.ConfigFileEnvKey))
	if err != nil {
		logger.Errorf("%s", err)
		return exitConfiguration
	}
	logger.EnableDebugLog(cfg.Verbose)
	cfg.Print(logger)

	chunkSize, err := cfg.ChunkSizeBytes()
	if err != nil {
		logger.Errorf("%s", err)
		return exitConfiguration
	}

	runID := uuid.NewString()
	logger.Debugf("Run id: %s", runID)

	client, err := store.NewS3Client(ctx, store.ClientParams{
		Region:           cfg.Region,
		Endpoint:         cfg.Endpoint,
		UsePathStyle:     cfg.UsePathStyle,
		AccessKeyID:      string(cfg.AccessKeyID),
		SecretAccessKey:  string(cfg.SecretAccessKey),
		Bucket:           cfg.Bucket,
		TransportRetries: cfg.TransportRetries,
	}, logger)
	if err != nil {
		logger.Errorf("Failed to create S3 client: %s", err)
		return exitCode(err)
	}

	opts := []multipart.Option{
		multipart.WithEnvRepository(envRepo),
		multipart.WithStaging(cfg.StageParts),
		multipart.WithAbortTimeout(cfg.AbortTimeout),
		multipart.WithTransferConfig(transfer.Config{
			Concurrency: cfg.Concurrency,
			Retry: transfer.RetryPolicy{
				MaxAttempts: cfg.Retry.MaxAttempts,
				Backoff:     cfg.Retry.Backoff,
				Retryable:   store.IsRetryable,
			},
			HungThreshold: cfg.HungThreshold,
		}),
	}
	tracker, err := analytics.NewDefaultRunTracker(envRepo, runID, logger)
	if err != nil {
		logger.Warnf("Analytics disabled: %s", err)
	} else {
		opts = append(opts, multipart.WithTracker(tracker))
	}

	uploader := multipart.NewUploader(store.NewS3Store(client, logger), logger, opts...)
	result, err := uploader.Upload(ctx, multipart.Input{
		SourcePath:       cfg.SourcePath,
		Bucket:           cfg.Bucket,
		Key:              cfg.Key,
		ContentType:      cfg.ContentType,
		Metadata:         cfg.Metadata,
		ChunkSize:        chunkSize,
		CompressionLevel: cfg.CompressionLevel,
	})
	if result.CleanupErr != nil {
		logger.Warnf("%s", result.CleanupErr)
	}
	if err != nil {
		logger.Println()
		logger.Errorf("Upload failed: %s", err)
		return exitCode(err)
	}

	logger.Println()
	logger.Donef("Uploaded %s to s3://%s/%s", units.HumanSizeWithPrecision(float64(result.Size), 3), result.Bucket, result.Key)
	logger.Printf("Location: %s", result.Location)
	logger.Printf("ETag: %s", result.ETag)
	if result.VersionID != "" {
		logger.Printf("Version: %s", result.VersionID)
	}
	logger.Printf("Parts: %d, duration: %s", result.Parts, result.Duration.Round(time.Second))

	return 0
}

// exitCode maps a failed run to the process exit code.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, failure.ErrConfiguration):
		return exitConfiguration
	default:
		return exitUpload
	}
}
