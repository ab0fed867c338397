package bundle

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
)

// FromDir assembles a bundle from the contents of dir.
//
// Subdirectories whose names are decimal section indexes contribute one
// section each, in index order. Loose files at the root are appended to
// section 0. This is the inverse of Extract, so a directory produced by
// extracting a bundle packs back into a structurally equal one.
func FromDir(dir string, opts ...Option) (*Bundle, error) {
	cfg := newConfig(opts)

	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	sections := make(map[int][]Entry)
	maxIndex := 0
	var rootFiles []string

	for _, de := range dirEntries {
		if !de.IsDir() {
			rootFiles = append(rootFiles, de.Name())
			continue
		}
		index, err := strconv.Atoi(de.Name())
		if err != nil || index < 0 {
			cfg.log().Debug("skipping non-section directory", "dir", de.Name())
			continue
		}
		entries, err := readSectionDir(filepath.Join(dir, de.Name()))
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", index, err)
		}
		sections[index] = entries
		if index > maxIndex {
			maxIndex = index
		}
	}

	sort.Strings(rootFiles)
	for _, name := range rootFiles {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		sections[0] = append(sections[0], Entry{Name: name, Data: data})
	}

	b := &Bundle{Header: defaultHeader()}
	for i := 0; i <= maxIndex; i++ {
		b.Sections = append(b.Sections, Section{Entries: sections[i]})
	}
	if len(b.Sections) == 0 {
		b.Sections = []Section{{}}
	}
	return b, nil
}

// readSectionDir loads one section's entries in name order.
func readSectionDir(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		names = append(names, de.Name())
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Name: name, Data: data})
	}
	return entries, nil
}

// Extract writes the bundle's entries under dir: section 0 at the root,
// every later section in a subdirectory named by its index. The layout is
// what FromDir expects back.
func (b *Bundle) Extract(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	for i, section := range b.Sections {
		target := dir
		if i > 0 {
			target = filepath.Join(dir, strconv.Itoa(i))
			if err := os.MkdirAll(target, 0o750); err != nil {
				return err
			}
		}
		for _, e := range section.Entries {
			if err := os.WriteFile(filepath.Join(target, e.Name), e.Data, 0o644); err != nil {
				return fmt.Errorf("extract %s: %w", e.Name, err)
			}
		}
	}
	return nil
}
