package multipart

import (
	"time"

	"github.com/bitrise-io/go-utils/v2/analytics"
)

type runTracker struct {
	tracker analytics.Tracker
}

func (t runTracker) enqueue(event string, properties analytics.Properties) {
	if t.tracker == nil {
		return
	}
	t.tracker.Enqueue(event, properties)
}

func (t runTracker) logInitiated(sourceSize, chunkSize int64, partCount int, compressed bool) {
	t.enqueue("s3_multipart_upload_initiated", analytics.Properties{
		"source_size_bytes": sourceSize,
		"chunk_size_bytes":  chunkSize,
		"part_count":        partCount,
		"compressed":        compressed,
	})
}

func (t runTracker) logPartsUploaded(transferTime time.Duration, uploadedBytes int64, partCount int) {
	t.enqueue("s3_multipart_upload_parts_uploaded", analytics.Properties{
		"transfer_time_s":     transferTime.Truncate(time.Second).Seconds(),
		"uploaded_size_bytes": uploadedBytes,
		"part_count":          partCount,
	})
}

func (t runTracker) logCompleted(totalTime time.Duration) {
	t.enqueue("s3_multipart_upload_completed", analytics.Properties{
		"total_time_s": totalTime.Truncate(time.Second).Seconds(),
	})
}

func (t runTracker) logAborted(phase Phase, reason error, abortErr error) {
	t.enqueue("s3_multipart_upload_aborted", analytics.Properties{
		"phase":           string(phase),
		"reason":          reason.Error(),
		"abort_succeeded": abortErr == nil,
	})
}

func (t runTracker) wait() {
	if t.tracker == nil {
		return
	}
	t.tracker.Wait()
}
