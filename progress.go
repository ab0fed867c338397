package buildvault

import "github.com/google/uuid"

// ProgressStage identifies where an item is in its validate-or-repair
// lifecycle.
type ProgressStage uint8

const (
	// StageValidating indicates the item is being fingerprinted and compared.
	StageValidating ProgressStage = iota

	// StageDownloading indicates the item is being re-fetched.
	StageDownloading

	// StageCompleted indicates the item passed validation.
	StageCompleted

	// StageFailed indicates the item is corrupted and will not be retried.
	StageFailed
)

// String returns the stage's short name.
func (s ProgressStage) String() string {
	switch s {
	case StageValidating:
		return "validating"
	case StageDownloading:
		return "downloading"
	case StageCompleted:
		return "completed"
	case StageFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ProgressEvent is a state-transition notification for one tracked item.
// During StageDownloading, BytesDone/BytesTotal carry transfer progress;
// BytesTotal is zero when the source does not advertise a length.
type ProgressEvent struct {
	BuildID    uuid.UUID
	Item       string
	Stage      ProgressStage
	BytesDone  uint64
	BytesTotal uint64
}

// ProgressFunc receives progress events. It is invoked synchronously from
// whichever task reached the transition, from many goroutines at once: it
// must be safe for concurrent calls and must not block. The engine never
// waits on its effects.
type ProgressFunc func(ProgressEvent)
