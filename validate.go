package buildvault

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/meridian-games/buildvault/internal/fetch"
	"github.com/meridian-games/buildvault/internal/nameenc"
)

// maxDownloadAttempts bounds the repair loop for one item. Exceeding it
// surfaces the last mismatch as that item's corruption; other items continue
// independently.
const maxDownloadAttempts = 5

// Corruption reports one item that failed validation. Repaired marks items
// that were successfully re-fetched during the run; they still appear in the
// report because the on-disk content was wrong when the run started.
type Corruption struct {
	Name     string
	Reason   FailReason
	Repaired bool
}

// runReport accumulates corruptions across tasks. It is append-only until
// all tasks join; no task ever reads it.
type runReport struct {
	mu              sync.Mutex
	items           []Corruption
	stopOnFirstFail bool
	stop            func()
	stopped         atomic.Bool
	repaired        atomic.Uint64
}

func (r *runReport) add(c Corruption) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped.Load() {
		return
	}
	r.items = append(r.items, c)
	if c.Repaired {
		r.repaired.Add(1)
		return
	}
	if r.stopOnFirstFail {
		r.stopped.Store(true)
		r.stop()
	}
}

func (r *runReport) take() []Corruption {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.items
}

// ValidateCompressed fingerprints the main file and every bundle on disk
// against the manifest, concurrently, and returns the items that did not
// match. With ValidateWithRepair, mismatched items are re-fetched from the
// asset URL and re-checked, up to maxDownloadAttempts times each.
//
// The returned order is arbitrary: items are validated as independent tasks
// and report in completion order.
func (m *Manifest) ValidateCompressed(ctx context.Context, dir string, opts ...ValidateOption) ([]Corruption, error) {
	return m.validateCompressed(ctx, dir, newValidateConfig(opts))
}

// Repair re-downloads corrupted bundles in an existing build directory.
// It is ValidateCompressed with repair forced on.
func (m *Manifest) Repair(ctx context.Context, dir string, opts ...ValidateOption) ([]Corruption, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingDirectory, dir)
	}
	cfg := newValidateConfig(opts)
	cfg.repair = true
	cfg.log().Info("repairing build", "build", m.ID, "dir", dir)
	return m.validateCompressed(ctx, dir, cfg)
}

// Download fetches the whole build into a freshly emptied directory.
// Download and Repair share the validate-with-repair code path, so the two
// can never diverge in correctness: a download is a repair of nothing.
func (m *Manifest) Download(ctx context.Context, dir string, opts ...ValidateOption) ([]Corruption, error) {
	cfg := newValidateConfig(opts)
	cfg.repair = true
	cfg.log().Info("downloading build", "build", m.ID, "dir", dir)
	if err := os.RemoveAll(dir); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}
	return m.validateCompressed(ctx, dir, cfg)
}

func (m *Manifest) validateCompressed(parent context.Context, dir string, cfg *validateConfig) ([]Corruption, error) {
	logger := cfg.log()
	logger.Info("validating compressed bundles", "build", m.ID, "dir", dir, "repair", cfg.repair)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	rep := &runReport{stopOnFirstFail: cfg.stopOnFirstFail, stop: cancel}

	type target struct {
		name string
		want Fingerprint
	}
	targets := make([]target, 0, len(m.Bundles)+1)
	if m.MainFileFingerprint != nil {
		targets = append(targets, target{name: MainFileName, want: *m.MainFileFingerprint})
	}
	for name, bf := range m.Bundles {
		targets = append(targets, target{name: name, want: bf.Compressed})
	}

	var wg sync.WaitGroup
	for _, t := range targets {
		t := t
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runItem(ctx, dir, t.name, t.want, cfg, rep)
		}()
	}
	wg.Wait()

	// A short-circuited run canceled its own context; that is a result, not
	// an error. Cancellation from outside escalates.
	if err := parent.Err(); err != nil && !rep.stopped.Load() {
		return nil, err
	}

	corrupted := rep.take()
	logger.Info("validation complete", "corrupted", len(corrupted), "repaired", rep.repaired.Load())
	return corrupted, nil
}

// runItem drives one item through Pending → Validating → {Passed | Downloading
// → Validating | Failed}. Per-item failures fold into the report; they never
// escape the task.
func (m *Manifest) runItem(ctx context.Context, dir, name string, want Fingerprint, cfg *validateConfig, rep *runReport) {
	release, err := cfg.limits.acquireItem(ctx)
	if err != nil {
		return
	}
	defer release()

	logger := cfg.log()
	path := filepath.Join(dir, name)

	var last FailReason
	for attempt := 0; ; attempt++ {
		cfg.report(ProgressEvent{BuildID: m.ID, Item: name, Stage: StageValidating})
		reason := FingerprintFile(path).Verify(want)
		if reason == nil {
			cfg.report(ProgressEvent{
				BuildID: m.ID, Item: name, Stage: StageCompleted,
				BytesDone: want.Size, BytesTotal: want.Size,
			})
			if attempt > 0 {
				logger.Info("repaired", "item", name, "attempts", attempt)
				rep.add(Corruption{Name: name, Reason: last, Repaired: true})
			} else {
				logger.Debug("validated", "item", name)
			}
			return
		}
		last = *reason
		logger.Warn("failed validation", "item", name, "reason", reason.String())

		if !cfg.repair || attempt >= maxDownloadAttempts {
			cfg.report(ProgressEvent{BuildID: m.ID, Item: name, Stage: StageFailed})
			rep.add(Corruption{Name: name, Reason: last})
			return
		}
		if ctx.Err() != nil {
			return
		}

		url := m.AssetURL() + "/" + name
		if err := m.fetchItem(ctx, name, url, path, cfg); err != nil {
			if ctx.Err() != nil {
				return
			}
			// A transport failure consumes the attempt; the next loop pass
			// re-fingerprints whatever is on disk.
			logger.Warn("download failed", "item", name, "url", url, "attempt", attempt+1, "error", err)
		}
	}
}

// fetchItem holds a fetch permit only for the duration of the transfer, so a
// CPU-bound hashing phase of one item never occupies another item's network
// slot.
func (m *Manifest) fetchItem(ctx context.Context, name, url, dest string, cfg *validateConfig) error {
	release, err := cfg.limits.acquireFetch(ctx)
	if err != nil {
		return err
	}
	defer release()

	cfg.log().Info("downloading", "url", url, "dest", dest)
	return fetch.Fetch(ctx, cfg.client, url, dest, func(done, total uint64) {
		cfg.report(ProgressEvent{
			BuildID: m.ID, Item: name, Stage: StageDownloading,
			BytesDone: done, BytesTotal: total,
		})
	})
}

// ValidateUncompressed checks every bundle's contained files under their
// per-bundle extraction directories. It is read-only: contained files are
// never fetched — if they are wrong, the whole bundle must be re-fetched and
// re-extracted by the caller. The repair option is ignored.
func (m *Manifest) ValidateUncompressed(ctx context.Context, dir string, opts ...ValidateOption) ([]Corruption, error) {
	cfg := newValidateConfig(opts)
	logger := cfg.log()
	logger.Info("validating uncompressed bundles", "build", m.ID, "dir", dir)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rep := &runReport{stopOnFirstFail: cfg.stopOnFirstFail, stop: cancel}

	var wg sync.WaitGroup
	for name, bf := range m.Bundles {
		name, bf := name, bf
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.runUncompressedBundle(runCtx, dir, name, bf, cfg, rep)
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil && !rep.stopped.Load() {
		return nil, err
	}

	corrupted := rep.take()
	logger.Info("validation complete", "corrupted", len(corrupted))
	return corrupted, nil
}

func (m *Manifest) runUncompressedBundle(ctx context.Context, dir, name string, bf BundleFingerprint, cfg *validateConfig, rep *runReport) {
	release, err := cfg.limits.acquireItem(ctx)
	if err != nil {
		return
	}
	defer release()

	folder := filepath.Join(dir, nameenc.Encode(name))
	entryNames := make([]string, 0, len(bf.Entries))
	for entryName := range bf.Entries {
		entryNames = append(entryNames, entryName)
	}
	slices.Sort(entryNames)
	for _, entryName := range entryNames {
		if ctx.Err() != nil {
			return
		}
		want := bf.Entries[entryName]
		id := name + "/" + entryName

		cfg.report(ProgressEvent{BuildID: m.ID, Item: id, Stage: StageValidating})
		reason := FingerprintFile(filepath.Join(folder, filepath.FromSlash(entryName))).Verify(want)
		if reason == nil {
			cfg.report(ProgressEvent{
				BuildID: m.ID, Item: id, Stage: StageCompleted,
				BytesDone: want.Size, BytesTotal: want.Size,
			})
			continue
		}
		cfg.log().Warn("failed validation", "item", id, "reason", reason.String())
		cfg.report(ProgressEvent{BuildID: m.ID, Item: id, Stage: StageFailed})
		rep.add(Corruption{Name: id, Reason: *reason})
	}
}
