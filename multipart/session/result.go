package session

// PartStatus is the outcome of one part.
type PartStatus string

// Part statuses. A part moves from pending to succeeded or failed, once.
const (
	PartPending   PartStatus = "pending"
	PartSucceeded PartStatus = "succeeded"
	PartFailed    PartStatus = "failed"
)

// PartResult is the recorded outcome of one part.
type PartResult struct {
	PartNumber int32
	// ETag is the store's token for the part, set when the part succeeded.
	ETag   string
	Status PartStatus
	// Reason is set when the part failed.
	Reason error
}
