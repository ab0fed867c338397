package buildvault

import (
	"io"
	"log/slog"

	"github.com/google/uuid"
)

// buildConfig holds configuration for manifest and fingerprint building.
type buildConfig struct {
	name        string
	description string
	parent      *uuid.UUID
	hidden      bool
	logger      *slog.Logger
	limits      *Limits
}

// BuildOption configures BuildManifest and FingerprintBundle.
type BuildOption func(*buildConfig)

// BuildWithName sets the manifest's human-readable name.
func BuildWithName(name string) BuildOption {
	return func(cfg *buildConfig) {
		cfg.name = name
	}
}

// BuildWithDescription sets the manifest's description.
func BuildWithDescription(description string) BuildOption {
	return func(cfg *buildConfig) {
		cfg.description = description
	}
}

// BuildWithParent records the build this one derives from. The manifest
// still carries a complete, self-sufficient bundle map; lineage is metadata,
// not delta encoding.
func BuildWithParent(parent uuid.UUID) BuildOption {
	return func(cfg *buildConfig) {
		cfg.parent = &parent
	}
}

// BuildWithHidden marks the build hidden from listings.
func BuildWithHidden() BuildOption {
	return func(cfg *buildConfig) {
		cfg.hidden = true
	}
}

// BuildWithLogger sets the logger for build diagnostics. If not set,
// logging is disabled.
func BuildWithLogger(logger *slog.Logger) BuildOption {
	return func(cfg *buildConfig) {
		cfg.logger = logger
	}
}

// BuildWithLimits shares a permit pool with the build's concurrent
// fingerprinting work.
func BuildWithLimits(limits *Limits) BuildOption {
	return func(cfg *buildConfig) {
		cfg.limits = limits
	}
}

func newBuildConfig(opts []BuildOption) *buildConfig {
	cfg := &buildConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// log returns the logger, falling back to a discard logger if nil.
func (cfg *buildConfig) log() *slog.Logger {
	if cfg.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return cfg.logger
}
