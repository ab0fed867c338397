package buildvault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-games/buildvault/bundle"
)

// writeTestBundle encodes a real bundle file under dir and returns its path.
// Entries keyed "name" land in section 0; a "1/name" key adds a second
// section holding that entry.
func writeTestBundle(t *testing.T, dir, name string, entries map[string][]byte) string {
	t.Helper()

	var s0, s1 []bundle.Entry
	for key, data := range entries {
		if rest, ok := cutSectionPrefix(key); ok {
			s1 = append(s1, bundle.Entry{Name: rest, Data: data})
		} else {
			s0 = append(s0, bundle.Entry{Name: key, Data: data})
		}
	}

	b := &bundle.Bundle{Sections: []bundle.Section{{Entries: s0}}}
	if len(s1) > 0 {
		b.Sections = append(b.Sections, bundle.Section{Entries: s1})
	}

	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, b.Encode(f))
	require.NoError(t, f.Close())
	return path
}

func cutSectionPrefix(key string) (string, bool) {
	const prefix = "1/"
	if len(key) > len(prefix) && key[:len(prefix)] == prefix {
		return key[len(prefix):], true
	}
	return key, false
}

// writeTestBuild lays out a minimal build: two bundles plus the main file.
// Returns the directory.
func writeTestBuild(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	writeTestBundle(t, dir, "Terrain.unity3d", map[string][]byte{
		"terrain.mesh": []byte("terrain mesh data"),
		"terrain.tex":  []byte("terrain texture data"),
	})
	writeTestBundle(t, dir, "NPCs.resourceFile", map[string][]byte{
		"npc.model": []byte("npc model data"),
	})
	require.NoError(t, os.WriteFile(filepath.Join(dir, MainFileName), []byte("main player binary"), 0o644))
	return dir
}

// copyDir clones a flat directory, for use as a pristine fetch mirror.
func copyDir(t *testing.T, src string) string {
	t.Helper()

	dst := t.TempDir()
	dirEntries, err := os.ReadDir(src)
	require.NoError(t, err)
	for _, de := range dirEntries {
		require.False(t, de.IsDir())
		data, err := os.ReadFile(filepath.Join(src, de.Name()))
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dst, de.Name()), data, 0o644))
	}
	return dst
}

// corruptFile flips bytes in the middle of a file, preserving its size.
func corruptFile(t *testing.T, path string) {
	t.Helper()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	data[len(data)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, data, 0o644))
}
