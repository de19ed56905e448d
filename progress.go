package tarbgz

// ProgressEvent represents a progress update during indexing or extraction.
type ProgressEvent struct {
	// Stage identifies the current phase of the operation.
	Stage ProgressStage

	// Path is the member currently being processed, if applicable.
	Path string

	// BytesDone is the number of bytes completed in the current operation.
	// During indexing these are compressed archive bytes.
	BytesDone uint64

	// BytesTotal is the total bytes for the current operation.
	// Zero indicates the total is unknown.
	BytesTotal uint64

	// FilesDone is the number of members completed.
	FilesDone int

	// FilesTotal is the total number of members.
	// Zero indicates the total is unknown (e.g., during indexing).
	FilesTotal int
}

// ProgressStage identifies the current phase of an operation.
type ProgressStage uint8

// Progress stages.
const (
	// StageIndexing indicates archive members are being walked.
	StageIndexing ProgressStage = iota

	// StageDigesting indicates the archive digest is being computed.
	StageDigesting

	// StageExtracting indicates members are being extracted.
	StageExtracting
)

// String returns the string representation of the stage.
func (s ProgressStage) String() string {
	switch s {
	case StageIndexing:
		return "indexing"
	case StageDigesting:
		return "digesting"
	case StageExtracting:
		return "extracting"
	default:
		return "unknown"
	}
}

// ProgressFunc receives progress updates during operations.
// Implementations must be safe for concurrent calls.
type ProgressFunc func(ProgressEvent)
