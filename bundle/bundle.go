// Package bundle decodes and encodes the asset-container format used by
// versioned game builds.
//
// A container is an ordered list of sections, each an independently
// LZMA-compressed payload holding an ordered list of named entries. The
// on-disk layout (big-endian integers, null-terminated strings, 4-byte
// alignment) is an external contract; see the header and section codecs for
// the exact field order.
package bundle

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// Bundle is the in-memory representation of one asset container.
//
// A Bundle exclusively owns its sections and their entry buffers for the
// duration of a decode or encode call.
type Bundle struct {
	// Name is the file name the bundle was read from, without directories.
	// Empty for bundles assembled in memory.
	Name string

	// Header carries the decoded header fields. Encode recomputes the size
	// and offset fields but preserves the version strings.
	Header Header

	// Sections in header order.
	Sections []Section
}

// Section is an independently-compressed unit inside a bundle.
type Section struct {
	Entries []Entry
}

// Entry is one logical named file embedded inside a section.
type Entry struct {
	Name string
	Data []byte
}

// config holds shared decode/encode settings.
type config struct {
	logger *slog.Logger
	level  int
}

// Option configures decoding or encoding.
type Option func(*config)

// WithLogger sets the logger for decode warnings and encode diagnostics.
// If not set, logging is disabled.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithLevel sets the compression level (1-9) used when encoding sections.
// Zero uses the default level.
func WithLevel(level int) Option {
	return func(c *config) {
		c.level = level
	}
}

func newConfig(opts []Option) *config {
	cfg := &config{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// log returns the logger, falling back to a discard logger if nil.
func (c *config) log() *slog.Logger {
	if c.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c.logger
}

// FromFile opens and decodes the bundle at path.
func FromFile(path string, opts ...Option) (*Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	b, err := Decode(f, info.Size(), opts...)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	b.Name = filepath.Base(path)
	return b, nil
}

// DeclaredSize returns the complete file size the header claims. Legacy
// producers sometimes wrote an incorrect value, so callers should treat a
// mismatch with the real size as a warning, not an error.
func (b *Bundle) DeclaredSize() uint64 {
	return uint64(b.Header.CompleteFileSize)
}

// EntryCount returns the number of entries across all sections.
func (b *Bundle) EntryCount() int {
	n := 0
	for _, s := range b.Sections {
		n += len(s.Entries)
	}
	return n
}
