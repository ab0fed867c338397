package bundle

import "errors"

// Sentinel errors for bundle decoding and encoding.
var (
	// ErrBadMagic is returned when the container signature is not recognized.
	ErrBadMagic = errors.New("bundle: bad magic signature")

	// ErrUnsupportedVersion is returned when the stream version is not supported.
	ErrUnsupportedVersion = errors.New("bundle: unsupported stream version")

	// ErrBadOffset is returned when a file table offset is non-monotonic or
	// not 4-byte aligned. The format guarantees streaming-friendly increasing
	// offsets; a violation indicates corruption.
	ErrBadOffset = errors.New("bundle: bad file table offset")

	// ErrBadSectionBounds is returned when the header's cumulative section
	// offsets are inconsistent.
	ErrBadSectionBounds = errors.New("bundle: bad section bounds")

	// ErrTruncated is returned when the stream ends before the declared layout.
	ErrTruncated = errors.New("bundle: truncated stream")
)
