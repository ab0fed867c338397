package buildvault

import (
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Sentinel errors for engine configuration and setup.
var (
	// ErrLimitConfigured is returned when a concurrency ceiling is set twice
	// on the same Limits.
	ErrLimitConfigured = errors.New("buildvault: concurrency limit already configured")

	// ErrInvalidLimit is returned when a concurrency ceiling is not positive.
	ErrInvalidLimit = errors.New("buildvault: concurrency limit must be positive")

	// ErrMissingDirectory is returned by Repair when the build directory
	// does not exist.
	ErrMissingDirectory = errors.New("buildvault: build directory does not exist")
)

// FailKind classifies why an item failed validation.
type FailKind uint8

const (
	// FailMissing means the file is absent or unreadable.
	FailMissing FailKind = iota

	// FailBadSize means the on-disk size differs from the manifest.
	FailBadSize

	// FailBadHash means the sizes match but the content hash differs.
	FailBadHash
)

// String returns the kind's short name.
func (k FailKind) String() string {
	switch k {
	case FailMissing:
		return "missing"
	case FailBadSize:
		return "bad size"
	case FailBadHash:
		return "bad hash"
	default:
		return "unknown"
	}
}

// FailReason describes one item's validation failure. Size is compared
// before hash, so a BadHash reason implies the sizes matched.
type FailReason struct {
	Kind         FailKind
	ExpectedSize uint64
	ActualSize   uint64
	ExpectedHash digest.Digest
	ActualHash   digest.Digest
}

// String renders the reason for logs and reports.
func (r FailReason) String() string {
	switch r.Kind {
	case FailBadSize:
		return fmt.Sprintf("bad size: %d (disk) vs %d (manifest)", r.ActualSize, r.ExpectedSize)
	case FailBadHash:
		return fmt.Sprintf("bad hash: %s (disk) vs %s (manifest)", r.ActualHash, r.ExpectedHash)
	default:
		return r.Kind.String()
	}
}
