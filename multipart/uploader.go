// Package multipart uploads a single local file to an S3-compatible store with the
// multipart-upload protocol.
//
// An Upload run segments the source, initiates one remote upload, transfers the parts with
// a bounded worker pool and finalizes the object from the ordered part manifest. When any
// part can not be transferred, or finalizing fails, the remote upload is aborted so no
// partial object or orphaned parts are left behind. The scratch directory of a run is
// removed on every exit path.
package multipart

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/bitrise-io/go-s3-multipart/internal"
	"github.com/bitrise-io/go-s3-multipart/multipart/compression"
	"github.com/bitrise-io/go-s3-multipart/multipart/failure"
	"github.com/bitrise-io/go-s3-multipart/multipart/manifest"
	"github.com/bitrise-io/go-s3-multipart/multipart/segment"
	"github.com/bitrise-io/go-s3-multipart/multipart/session"
	"github.com/bitrise-io/go-s3-multipart/multipart/store"
	"github.com/bitrise-io/go-s3-multipart/multipart/transfer"
	"github.com/bitrise-io/go-utils/v2/analytics"
	"github.com/bitrise-io/go-utils/v2/env"
	"github.com/bitrise-io/go-utils/v2/log"
	"github.com/bitrise-io/go-utils/v2/pathutil"
	"github.com/docker/go-units"
)

// DefaultAbortTimeout bounds the abort call issued after a failed run.
const DefaultAbortTimeout = 30 * time.Second

const scratchDirPrefix = "s3-multipart-upload"

// Input describes one upload.
type Input struct {
	// SourcePath is the file to upload. It may be a glob pattern matching exactly one file.
	SourcePath string
	Bucket     string
	// Key is the object key. If empty, the base name of the source file is used.
	Key string
	// ContentType is detected from the file contents if empty.
	ContentType string
	Metadata    map[string]string
	// ChunkSize is the size of every part except the last one.
	ChunkSize int64
	// CompressionLevel enables zstd compression of the source with the given level (1-19).
	// Zero uploads the source as is.
	CompressionLevel int
}

// Result describes a finished upload run.
type Result struct {
	UploadID string
	Bucket   string
	Key      string

	// Location, ETag and VersionID are reported by the store for a completed upload.
	Location  string
	ETag      string
	VersionID string

	// Size is the number of bytes uploaded.
	Size  int64
	Parts int

	// Phases is every lifecycle phase the run went through, in order.
	Phases   []Phase
	Duration time.Duration

	// CleanupErr is set when the scratch directory could not be removed. It never
	// replaces the outcome of the upload itself.
	CleanupErr error
}

// Phase returns the phase the run ended in.
func (r Result) Phase() Phase {
	if len(r.Phases) == 0 {
		return PhaseIdle
	}
	return r.Phases[len(r.Phases)-1]
}

// Uploader runs multipart uploads against a store.
type Uploader struct {
	store          store.Store
	logger         log.Logger
	envRepo        env.Repository
	pathProvider   pathutil.PathProvider
	pathModifier   pathutil.PathModifier
	os             internal.OsProxy
	segmenter      *segment.Segmenter
	transferConfig transfer.Config
	stageParts     bool
	abortTimeout   time.Duration
	tracker        runTracker
	compressor     *compression.Compressor
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithLimits sets the part size and part count limits of the store.
func WithLimits(limits segment.Limits) Option {
	return func(u *Uploader) {
		u.segmenter = segment.NewSegmenter(limits)
	}
}

// WithTransferConfig sets the worker pool configuration. The Stager field is ignored,
// use WithStaging instead.
func WithTransferConfig(config transfer.Config) Option {
	return func(u *Uploader) {
		u.transferConfig = config
	}
}

// WithStaging enables or disables copying each part into the scratch directory before it is sent.
func WithStaging(enabled bool) Option {
	return func(u *Uploader) {
		u.stageParts = enabled
	}
}

// WithAbortTimeout bounds the abort call issued after a failed run.
func WithAbortTimeout(timeout time.Duration) Option {
	return func(u *Uploader) {
		u.abortTimeout = timeout
	}
}

// WithTracker sends run events to tracker.
func WithTracker(tracker analytics.Tracker) Option {
	return func(u *Uploader) {
		u.tracker = runTracker{tracker: tracker}
	}
}

// WithEnvRepository sets the environment used to run external tools.
func WithEnvRepository(envRepo env.Repository) Option {
	return func(u *Uploader) {
		u.envRepo = envRepo
	}
}

// WithPathProvider sets where scratch directories are created.
func WithPathProvider(pathProvider pathutil.PathProvider) Option {
	return func(u *Uploader) {
		u.pathProvider = pathProvider
	}
}

// NewUploader ...
func NewUploader(s store.Store, logger log.Logger, opts ...Option) *Uploader {
	u := &Uploader{
		store:          s,
		logger:         logger,
		envRepo:        env.NewRepository(),
		pathProvider:   pathutil.NewPathProvider(),
		pathModifier:   pathutil.NewPathModifier(),
		os:             internal.RealOS{},
		segmenter:      segment.NewSegmenter(segment.DefaultLimits()),
		transferConfig: transfer.DefaultConfig(),
		stageParts:     true,
		abortTimeout:   DefaultAbortTimeout,
	}
	for _, opt := range opts {
		opt(u)
	}
	u.compressor = compression.NewCompressor(logger, u.envRepo, compression.NewBinaryChecker(logger, u.envRepo))
	return u
}

// Upload runs one multipart upload of input.SourcePath.
//
// Every returned error is a *failure.Error naming the kind and the phase of the failure.
// A run that fails after the remote upload was initiated is aborted exactly once; an abort
// failure is attached to the returned error without replacing it.
func (u *Uploader) Upload(ctx context.Context, input Input) (result Result, err error) {
	startTime := time.Now()
	u.logger.TDebugf("Upload start")
	defer func() {
		u.logger.TDebugf("Upload done")
	}()
	defer u.tracker.wait()

	lc := newLifecycle()
	defer func() {
		result.Phases = lc.phases()
		result.Duration = time.Since(startTime)
	}()

	sourcePath, err := u.resolveSource(input.SourcePath)
	if err != nil {
		return result, failure.New(failure.KindConfiguration, "resolve source", err).InPhase(string(PhaseIdle))
	}
	if input.Bucket == "" {
		return result, failure.Newf(failure.KindConfiguration, "validate", "bucket is required").InPhase(string(PhaseIdle))
	}

	// Source and chunk size problems surface before anything is written or sent.
	plan, err := u.segmenter.Segment(sourcePath, input.ChunkSize)
	if err != nil {
		return result, classify(err, failure.KindSegmentation, "segment").InPhase(string(PhaseIdle))
	}

	scratchDir, err := u.pathProvider.CreateTempDir(scratchDirPrefix)
	if err != nil {
		return result, failure.New(failure.KindSegmentation, "create scratch dir", err).InPhase(string(PhaseIdle))
	}
	u.logger.Debugf("Scratch dir: %s", scratchDir)
	defer func() {
		if rmErr := u.os.RemoveAll(scratchDir); rmErr != nil {
			result.CleanupErr = failure.New(failure.KindCleanup, "remove scratch dir", rmErr).InPhase(string(lc.current()))
			u.logger.Warnf("Failed to remove scratch dir %s: %s", scratchDir, rmErr)
		}
	}()

	contentType := input.ContentType
	if contentType == "" {
		contentType, err = u.detectContentType(sourcePath)
		if err != nil {
			u.logger.Warnf("Failed to detect content type: %s", err)
			contentType = defaultContentType
		}
	}

	key := input.Key
	if key == "" {
		key = filepath.Base(sourcePath)
	}

	contentEncoding := ""
	if input.CompressionLevel > 0 {
		if input.Key == "" {
			key += compression.Extension
		}
		compressedPath := filepath.Join(scratchDir, filepath.Base(sourcePath)+compression.Extension)

		u.logger.Println()
		u.logger.Infof("Compressing source...")
		compressionStartTime := time.Now()
		if err := u.compressor.Compress(sourcePath, compressedPath, input.CompressionLevel); err != nil {
			return result, failure.New(failure.KindSegmentation, "compress", err).InPhase(string(PhaseIdle))
		}
		u.logger.Donef("Source compressed in %s", time.Since(compressionStartTime).Round(time.Second))
		contentEncoding = compression.ContentEncoding

		plan, err = u.segmenter.Segment(compressedPath, input.ChunkSize)
		if err != nil {
			return result, classify(err, failure.KindSegmentation, "segment").InPhase(string(PhaseIdle))
		}
	}

	result.Bucket = input.Bucket
	result.Key = key
	result.Parts = plan.NumParts()

	u.logger.Println()
	u.logger.Printf("Source: %s", sourcePath)
	u.logger.Printf("Upload size: %s", units.HumanSizeWithPrecision(float64(plan.SourceSize), 3))
	u.logger.Printf("Parts: %d x %s", plan.NumParts(), units.BytesSize(float64(plan.ChunkSize)))
	u.logger.Printf("Destination: %s/%s (%s)", input.Bucket, key, contentType)

	sess, err := session.Initiate(ctx, u.store, session.Target{
		Bucket:          input.Bucket,
		Key:             key,
		ContentType:     contentType,
		ContentEncoding: contentEncoding,
		Metadata:        input.Metadata,
	}, plan.NumParts())
	if err != nil {
		return result, classify(err, failure.KindRemoteInitiation, "initiate").InPhase(string(PhaseIdle))
	}
	if err := lc.to(PhaseInitiated); err != nil {
		return result, u.abort(ctx, lc, sess, failure.New(failure.KindRemoteInitiation, "lifecycle", err))
	}
	result.UploadID = sess.UploadID()
	u.logger.Donef("Multipart upload initiated, upload id: %s", sess.UploadID())
	u.tracker.logInitiated(plan.SourceSize, plan.ChunkSize, plan.NumParts(), contentEncoding != "")

	if err := lc.to(PhaseTransferring); err != nil {
		return result, u.abort(ctx, lc, sess, failure.New(failure.KindPartTransfer, "lifecycle", err))
	}

	transferConfig := u.transferConfig
	transferConfig.Stager = nil
	if u.stageParts {
		transferConfig.Stager = segment.NewStager(scratchDir)
	}
	pool := transfer.NewPool(transferConfig, u.logger)

	u.logger.Println()
	u.logger.Infof("Uploading %d parts...", plan.NumParts())
	transferStartTime := time.Now()
	if err := pool.UploadAll(ctx, sess, plan.Parts); err != nil {
		return result, u.abort(ctx, lc, sess, classify(err, failure.KindIncompleteUpload, "transfer"))
	}
	transferTime := time.Since(transferStartTime)
	u.logger.Donef("Parts uploaded in %s", transferTime.Round(time.Second))
	u.tracker.logPartsUploaded(transferTime, pool.Stats().TotalBytes(), plan.NumParts())

	results, err := sess.Results()
	if err != nil {
		return result, u.abort(ctx, lc, sess, failure.New(failure.KindIncompleteUpload, "collect results", err))
	}
	m, err := manifest.Assemble(results, plan.NumParts())
	if err != nil {
		return result, u.abort(ctx, lc, sess, classify(err, failure.KindIncompleteUpload, "assemble"))
	}

	if err := lc.to(PhaseFinalizing); err != nil {
		return result, u.abort(ctx, lc, sess, failure.New(failure.KindFinalize, "lifecycle", err))
	}
	u.logger.TDebugf("Manifest assembled with %d parts", m.Len())

	out, err := sess.Complete(ctx, m)
	if err != nil {
		return result, u.abort(ctx, lc, sess, classify(err, failure.KindFinalize, "complete"))
	}
	if err := lc.to(PhaseCompleted); err != nil {
		return result, failure.New(failure.KindFinalize, "lifecycle", err).InPhase(string(lc.current()))
	}

	result.Location = out.Location
	result.ETag = out.ETag
	result.VersionID = out.VersionID
	result.Size = plan.SourceSize

	totalTime := time.Since(startTime)
	u.logger.Donef("Upload completed in %s", totalTime.Round(time.Second))
	u.tracker.logCompleted(totalTime)

	return result, nil
}

// abort moves the run to Aborting, discards the remote upload and returns the primary
// failure tagged with the phase it happened in.
func (u *Uploader) abort(ctx context.Context, lc *lifecycle, sess *session.Session, primary *failure.Error) error {
	failedPhase := lc.current()
	if primary.Phase == "" {
		primary.InPhase(string(failedPhase))
	}

	u.logger.Println()
	u.logger.Errorf("Upload failed in phase %s: %s", failedPhase, primary.Err)

	if err := lc.to(PhaseAborting); err != nil {
		u.logger.Errorf("Can't abort: %s", err)
		return primary
	}

	u.logger.Infof("Aborting multipart upload %s...", sess.UploadID())

	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), u.abortTimeout)
	defer cancel()

	abortErr := sess.Abort(abortCtx)
	u.tracker.logAborted(failedPhase, primary, abortErr)
	if abortErr != nil {
		u.logger.Errorf("Failed to abort multipart upload %s: %s", sess.UploadID(), abortErr)
		primary.Err = errors.Join(primary.Err, abortErr)
		return primary
	}

	if err := lc.to(PhaseAborted); err != nil {
		u.logger.Warnf("%s", err)
	}
	u.logger.Donef("Multipart upload aborted")

	return primary
}

// classify returns err as a *failure.Error, wrapping it with the given kind if it is not one yet.
func classify(err error, kind failure.Kind, op string) *failure.Error {
	if fe, ok := err.(*failure.Error); ok {
		return fe
	}
	var inner *failure.Error
	if errors.As(err, &inner) {
		return failure.New(inner.Kind, op, err)
	}
	return failure.New(kind, op, err)
}
