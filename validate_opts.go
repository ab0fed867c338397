package buildvault

import (
	"io"
	"log/slog"
	"net/http"
)

// validateConfig holds configuration for a validate, repair, or download run.
type validateConfig struct {
	repair          bool
	stopOnFirstFail bool
	limits          *Limits
	progress        ProgressFunc
	logger          *slog.Logger
	client          *http.Client
}

// ValidateOption configures ValidateCompressed, ValidateUncompressed,
// Repair, and Download.
type ValidateOption func(*validateConfig)

// ValidateWithRepair re-fetches items that fail validation instead of only
// reporting them. Repair and Download force this on.
func ValidateWithRepair() ValidateOption {
	return func(cfg *validateConfig) {
		cfg.repair = true
	}
}

// ValidateWithStopOnFirstFail short-circuits the whole scan as soon as any
// task observes a failure. Which failure is returned is first-detected, not
// first-listed: callers must treat it as an arbitrary one.
func ValidateWithStopOnFirstFail() ValidateOption {
	return func(cfg *validateConfig) {
		cfg.stopOnFirstFail = true
	}
}

// ValidateWithLimits shares a permit pool with the run. Without it,
// concurrency is unbounded (one task per item).
func ValidateWithLimits(limits *Limits) ValidateOption {
	return func(cfg *validateConfig) {
		cfg.limits = limits
	}
}

// ValidateWithProgress sets the progress callback. See ProgressFunc for the
// concurrency contract.
func ValidateWithProgress(fn ProgressFunc) ValidateOption {
	return func(cfg *validateConfig) {
		cfg.progress = fn
	}
}

// ValidateWithLogger sets the logger for the run. If not set, logging is
// disabled.
func ValidateWithLogger(logger *slog.Logger) ValidateOption {
	return func(cfg *validateConfig) {
		cfg.logger = logger
	}
}

// ValidateWithHTTPClient sets the HTTP client used for repair fetches.
func ValidateWithHTTPClient(client *http.Client) ValidateOption {
	return func(cfg *validateConfig) {
		cfg.client = client
	}
}

func newValidateConfig(opts []ValidateOption) *validateConfig {
	cfg := &validateConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// log returns the logger, falling back to a discard logger if nil.
func (cfg *validateConfig) log() *slog.Logger {
	if cfg.logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return cfg.logger
}

// report sends a progress event if a callback is configured.
func (cfg *validateConfig) report(ev ProgressEvent) {
	if cfg.progress == nil {
		return
	}
	cfg.progress(ev)
}
