package buildvault

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-games/buildvault/internal/fetch"
)

// MainFileName is the distinguished main file of a build. It sits next to
// the bundles but is excluded from the bundle map and tracked separately.
const MainFileName = "main.unity3d"

// bundleExtensions are the file extensions (case-insensitive) that mark a
// file as a bundle when scanning a build directory.
var bundleExtensions = []string{".unity3d", ".resourcefile"}

// Manifest is the versioned, exportable description of a build: identity,
// lineage, the asset URL, and a fingerprint for every bundle the build is
// made of. Once assembled, a manifest is immutable except for Hidden and the
// asset-base-URL override.
type Manifest struct {
	ID                    uuid.UUID                    `json:"id"`
	Name                  string                       `json:"name,omitempty"`
	Description           string                       `json:"description,omitempty"`
	ParentID              *uuid.UUID                   `json:"parent_id,omitempty"`
	AssetBaseURL          string                       `json:"asset_base_url"`
	Hidden                bool                         `json:"hidden"`
	MainFileURL           string                       `json:"main_file_url,omitempty"`
	MainFileFingerprint   *Fingerprint                 `json:"main_file_fingerprint,omitempty"`
	TotalCompressedSize   uint64                       `json:"total_compressed_size,omitempty"`
	TotalUncompressedSize uint64                       `json:"total_uncompressed_size,omitempty"`
	Bundles               map[string]BundleFingerprint `json:"containers"`
}

// BuildManifest scans dir for bundles, fingerprints each concurrently, and
// assembles the manifest. baseURL is where consumers will fetch the bundles
// from (one file per bundle name under it).
func BuildManifest(ctx context.Context, dir, baseURL string, opts ...BuildOption) (*Manifest, error) {
	cfg := newBuildConfig(opts)
	logger := cfg.log()

	names, err := bundleNames(dir)
	if err != nil {
		return nil, err
	}
	logger.Info("building manifest", "dir", dir, "bundles", len(names))

	var mu sync.Mutex
	bundles := make(map[string]BundleFingerprint, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		name := name
		g.Go(func() error {
			release, err := cfg.limits.acquireItem(gctx)
			if err != nil {
				return err
			}
			defer release()

			bf, err := FingerprintBundle(gctx, filepath.Join(dir, name), opts...)
			if err != nil {
				return fmt.Errorf("bundle %s: %w", name, err)
			}
			mu.Lock()
			bundles[name] = bf
			mu.Unlock()
			logger.Debug("processed bundle", "bundle", name)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	m := &Manifest{
		ID:           uuid.New(),
		Name:         cfg.name,
		Description:  cfg.description,
		ParentID:     cfg.parent,
		AssetBaseURL: baseURL,
		Hidden:       cfg.hidden,
		Bundles:      bundles,
	}

	if fp := FingerprintFile(filepath.Join(dir, MainFileName)); !fp.IsZero() {
		m.MainFileFingerprint = &fp
		m.MainFileURL = m.AssetURL() + "/" + MainFileName
	}

	for _, bf := range bundles {
		m.TotalCompressedSize += bf.Compressed.Size
		m.TotalUncompressedSize += bf.uncompressedSize()
	}
	if m.MainFileFingerprint != nil {
		m.TotalCompressedSize += m.MainFileFingerprint.Size
	}

	logger.Info("manifest built", "id", m.ID,
		"compressed_bytes", m.TotalCompressedSize, "uncompressed_bytes", m.TotalUncompressedSize)
	return m, nil
}

// bundleNames lists the bundle files in dir: known extensions only, main
// file excluded.
func bundleNames(dir string) ([]string, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		name := de.Name()
		if strings.EqualFold(name, MainFileName) {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		for _, want := range bundleExtensions {
			if ext == want {
				names = append(names, name)
				break
			}
		}
	}
	return names, nil
}

// LoadManifest reads a manifest from a local path or an http(s) URL. A URL
// is fetched to a scratch file first.
func LoadManifest(ctx context.Context, pathOrURL string) (*Manifest, error) {
	path := pathOrURL
	if strings.HasPrefix(pathOrURL, "http://") || strings.HasPrefix(pathOrURL, "https://") {
		tmp, cleanup, err := fetch.TempFile(ctx, nil, pathOrURL)
		if err != nil {
			return nil, fmt.Errorf("fetch manifest: %w", err)
		}
		defer cleanup()
		path = tmp
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return &m, nil
}

// Export writes the manifest as indented JSON, atomically (temp file plus
// rename) so a crashed export never leaves a half-written document.
func (m *Manifest) Export(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".manifest-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// AssetURL returns the asset base URL without a trailing slash.
func (m *Manifest) AssetURL() string {
	return strings.TrimSuffix(m.AssetBaseURL, "/")
}

// SetAssetBaseURL overrides where bundles are fetched from. This exists
// solely to redirect fetches, for mirrors and tests; it does not change what
// content is expected.
func (m *Manifest) SetAssetBaseURL(url string) {
	m.AssetBaseURL = url
}

// SetHidden toggles the hidden flag, the only other mutable field.
func (m *Manifest) SetHidden(hidden bool) {
	m.Hidden = hidden
}

// Bundle returns the fingerprint entry for the named bundle, or false when
// the manifest does not track it.
func (m *Manifest) Bundle(name string) (BundleFingerprint, bool) {
	bf, ok := m.Bundles[name]
	return bf, ok
}
