package bundle

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ulikunitz/xz/lzma"
)

// lzmaHeaderLen is the length of the classic LZMA stream header: one
// properties byte, a 4-byte dictionary size and an 8-byte uncompressed size,
// the latter two little-endian per that format.
const lzmaHeaderLen = 13

// Encode writes the bundle to w in the on-disk container layout.
//
// Section payloads are laid out file-table first, every file's start offset
// aligned up to 4 bytes with zero padding, then streamed through the section
// compressor in table order. The compressor does not know the payload length
// up front, so the 0xFF-filled size field it leaves in its own stream header
// is patched with the true length once the section is flushed.
func (b *Bundle) Encode(w io.Writer, opts ...Option) error {
	cfg := newConfig(opts)

	h := b.Header
	if h.Signature == "" {
		h = defaultHeader()
	}
	h.SectionEnds = make([]SectionEnd, len(b.Sections))

	compressed := make([][]byte, len(b.Sections))
	var compressedTotal, uncompressedTotal uint32
	for i := range b.Sections {
		blob, payloadLen, err := encodeSection(&b.Sections[i], cfg.level)
		if err != nil {
			return fmt.Errorf("encode section %d: %w", i, err)
		}
		compressed[i] = blob
		compressedTotal += uint32(len(blob))
		uncompressedTotal += payloadLen
		h.SectionEnds[i] = SectionEnd{
			CompressedEnd:   compressedTotal,
			UncompressedEnd: uncompressedTotal,
		}
	}

	h.HeaderSize = h.wireSize()
	h.CompleteFileSize = h.HeaderSize + compressedTotal
	h.MinStreamedBytes = h.CompleteFileSize
	if h.MinSectionsToLoad == 0 || int(h.MinSectionsToLoad) > len(b.Sections) {
		h.MinSectionsToLoad = 1
	}

	if err := encodeHeader(w, &h); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, blob := range compressed {
		if _, err := w.Write(blob); err != nil {
			return fmt.Errorf("write section %d: %w", i, err)
		}
	}

	b.Header = h
	return nil
}

// defaultHeader returns the header used for bundles assembled in memory.
func defaultHeader() Header {
	return Header{
		Signature:         Magic,
		StreamVersion:     StreamVersionLegacy,
		PlayerVersion:     DefaultPlayerVersion,
		EngineVersion:     DefaultEngineVersion,
		MinSectionsToLoad: 1,
	}
}

// encodeSection compresses one section and returns the compressed blob
// (padded to a 4-byte boundary) plus the uncompressed payload length.
func encodeSection(s *Section, level int) ([]byte, uint32, error) {
	offsets, payloadLen := layoutSection(s)

	var buf bytes.Buffer
	lz, err := newSectionWriter(&buf, level)
	if err != nil {
		return nil, 0, fmt.Errorf("open lzma stream: %w", err)
	}
	if err := writeSectionPayload(lz, s, offsets); err != nil {
		return nil, 0, fmt.Errorf("compress payload: %w", err)
	}
	if err := lz.Close(); err != nil {
		return nil, 0, fmt.Errorf("flush lzma stream: %w", err)
	}

	blob := buf.Bytes()
	if err := patchStreamSize(blob, uint64(payloadLen)); err != nil {
		return nil, 0, err
	}
	for uint32(len(blob))%4 != 0 {
		blob = append(blob, 0)
	}
	return blob, payloadLen, nil
}

// layoutSection computes each entry's payload offset. The file table comes
// first; every entry's data starts on the next 4-byte boundary after the
// previous one ends.
func layoutSection(s *Section) (offsets []uint32, payloadLen uint32) {
	tableLen := uint32(4)
	for _, e := range s.Entries {
		tableLen += uint32(len(e.Name)) + 1 + 8
	}

	offsets = make([]uint32, len(s.Entries))
	off := tableLen
	for i, e := range s.Entries {
		off = align4(off)
		offsets[i] = off
		off += uint32(len(e.Data))
	}
	return offsets, off
}

// writeSectionPayload writes the file table, then each entry's bytes with
// zero padding up to its aligned offset.
func writeSectionPayload(w io.Writer, s *Section, offsets []uint32) error {
	if len(s.Entries) == 0 {
		var empty [4]byte
		_, err := w.Write(empty[:])
		return err
	}

	table := make([]byte, 0, offsets[0])
	table = binary.BigEndian.AppendUint32(table, uint32(len(s.Entries)))
	for i, e := range s.Entries {
		table = append(table, e.Name...)
		table = append(table, 0)
		table = binary.BigEndian.AppendUint32(table, offsets[i])
		table = binary.BigEndian.AppendUint32(table, uint32(len(e.Data)))
	}
	if _, err := w.Write(table); err != nil {
		return err
	}

	written := uint32(len(table))
	var pad [3]byte
	for i, e := range s.Entries {
		if offsets[i] > written {
			if _, err := w.Write(pad[:offsets[i]-written]); err != nil {
				return err
			}
			written = offsets[i]
		}
		if _, err := w.Write(e.Data); err != nil {
			return err
		}
		written += uint32(len(e.Data))
	}
	return nil
}

// newSectionWriter opens the section compressor. Level maps to dictionary
// capacity; zero keeps the encoder default.
func newSectionWriter(w io.Writer, level int) (*lzma.Writer, error) {
	if level <= 0 {
		return lzma.NewWriter(w)
	}
	if level > 9 {
		level = 9
	}
	cfg := lzma.WriterConfig{DictCap: 1 << (15 + level)}
	return cfg.NewWriter(w)
}

// patchStreamSize overwrites the placeholder uncompressed-size field the
// streaming compressor left in its header. A compressor configured with a
// known size writes the field itself, in which case there is nothing to do.
func patchStreamSize(blob []byte, payloadLen uint64) error {
	if len(blob) < lzmaHeaderLen {
		return fmt.Errorf("%w: compressed stream shorter than its header", ErrTruncated)
	}
	sizeField := blob[5:lzmaHeaderLen]
	for _, b := range sizeField {
		if b != 0xFF {
			return nil
		}
	}
	binary.LittleEndian.PutUint64(sizeField, payloadLen)
	return nil
}
