package bundle

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"log/slog"

	"github.com/ulikunitz/xz/lzma"
)

// Decode reads a bundle from r. actualSize is the real byte length of the
// underlying stream when known, or a negative value to skip the declared-size
// cross-check.
//
// The stream is consumed strictly front to back: the header first, then each
// section's compressed bytes in header order. One section is fully decoded
// before the next begins, so a single cursor suffices.
func Decode(r io.Reader, actualSize int64, opts ...Option) (*Bundle, error) {
	cfg := newConfig(opts)
	logger := cfg.log()

	cr := &countReader{br: bufio.NewReader(r)}
	h, err := decodeHeader(cr, logger)
	if err != nil {
		return nil, err
	}

	if actualSize >= 0 && int64(h.CompleteFileSize) != actualSize {
		// Some legacy producers wrote a wrong value here; the fingerprint
		// path measures the real size anyway.
		logger.Warn("declared file size does not match stream size",
			"declared", h.CompleteFileSize, "actual", actualSize)
	}

	b := &Bundle{Header: h, Sections: make([]Section, 0, len(h.SectionEnds))}

	var prevCompressed, prevUncompressed uint32
	for i, se := range h.SectionEnds {
		if se.CompressedEnd < prevCompressed || se.UncompressedEnd < prevUncompressed {
			return nil, fmt.Errorf("%w: section %d ends before section %d", ErrBadSectionBounds, i, i-1)
		}
		compressedLen := int64(se.CompressedEnd - prevCompressed)
		uncompressedLen := se.UncompressedEnd - prevUncompressed

		sr := io.LimitReader(cr, compressedLen)
		payload, err := decompressSection(sr, h.StreamVersion, compressedLen)
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}
		if uncompressedLen > 0 && uint32(len(payload)) != uncompressedLen {
			logger.Warn("section decompressed size does not match header",
				"section", i, "declared", uncompressedLen, "actual", len(payload))
		}

		// Land the cursor on the next section boundary; anything left in the
		// limited reader is end-of-stream padding.
		if _, err := io.Copy(io.Discard, sr); err != nil {
			return nil, fmt.Errorf("section %d: drain padding: %w", i, err)
		}

		section, err := parseSection(payload, i, logger)
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}
		b.Sections = append(b.Sections, section)

		prevCompressed = se.CompressedEnd
		prevUncompressed = se.UncompressedEnd
	}

	return b, nil
}

// decompressSection inflates one section's payload. The legacy framing
// (stream version 2) buffers the whole compressed blob before inflating;
// version 3 streams straight off the wire.
func decompressSection(r io.Reader, streamVersion uint32, compressedLen int64) ([]byte, error) {
	src := r
	if streamVersion == StreamVersionLegacy {
		blob := make([]byte, 0, compressedLen)
		buf := bytes.NewBuffer(blob)
		if _, err := io.Copy(buf, r); err != nil {
			return nil, fmt.Errorf("read compressed blob: %w", err)
		}
		src = bytes.NewReader(buf.Bytes())
	}

	lz, err := lzma.NewReader(src)
	if err != nil {
		return nil, fmt.Errorf("open lzma stream: %w", err)
	}
	payload, err := io.ReadAll(lz)
	if err != nil {
		return nil, fmt.Errorf("decompress: %w", err)
	}
	return payload, nil
}

// parseSection reads the per-section file table and slices out each entry.
//
// Table layout: file count (u32), then per file a null-terminated name, a
// 4-byte offset and a 4-byte size, both big-endian. Offsets are relative to
// the start of the decompressed payload, non-decreasing and 4-byte aligned.
func parseSection(payload []byte, index int, logger *slog.Logger) (Section, error) {
	br := bytes.NewReader(payload)
	count, err := readU32(br)
	if err != nil {
		return Section{}, fmt.Errorf("%w: read file count: %v", ErrTruncated, err)
	}

	type tableEntry struct {
		name   string
		offset uint32
		size   uint32
	}
	table := make([]tableEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		name, err := readCString(br)
		if err != nil {
			return Section{}, fmt.Errorf("%w: read file %d name: %v", ErrTruncated, i, err)
		}
		offset, err := readU32(br)
		if err != nil {
			return Section{}, fmt.Errorf("%w: read file %d offset: %v", ErrTruncated, i, err)
		}
		size, err := readU32(br)
		if err != nil {
			return Section{}, fmt.Errorf("%w: read file %d size: %v", ErrTruncated, i, err)
		}
		table = append(table, tableEntry{name: name, offset: offset, size: size})
	}

	tableEnd := uint32(len(payload) - br.Len())
	prevEnd := tableEnd

	section := Section{Entries: make([]Entry, 0, count)}
	for _, te := range table {
		if te.offset%4 != 0 {
			return Section{}, fmt.Errorf("%w: %q at %d is not 4-byte aligned", ErrBadOffset, te.name, te.offset)
		}
		if te.offset < prevEnd {
			return Section{}, fmt.Errorf("%w: %q at %d overlaps previous end %d", ErrBadOffset, te.name, te.offset, prevEnd)
		}
		end := uint64(te.offset) + uint64(te.size)
		if end > uint64(len(payload)) {
			return Section{}, fmt.Errorf("%w: %q runs past payload end", ErrTruncated, te.name)
		}

		// Observed in some legacy files: the skipped gap is not always zero
		// bytes. Tolerate it, but leave a trace.
		for _, pad := range payload[prevEnd:te.offset] {
			if pad != 0 {
				logger.Debug("non-zero padding before entry", "section", index, "entry", te.name)
				break
			}
		}

		section.Entries = append(section.Entries, Entry{
			Name: te.name,
			Data: payload[te.offset:end],
		})
		prevEnd = uint32(end)
	}

	return section, nil
}
