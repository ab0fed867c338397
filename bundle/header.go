package bundle

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Magic is the container signature. A stream that does not begin with it is
// rejected outright.
const Magic = "UnityWeb"

// Stream versions with a defined section framing. Version 2 compresses each
// section as a single legacy whole-buffer blob; version 3 uses the streaming
// per-section encoder.
const (
	StreamVersionLegacy    = 2
	StreamVersionStreaming = 3
)

// Expected version-string prefixes. Divergence is cosmetic (producers bump
// these freely) and produces a warning rather than a decode failure.
const (
	playerVersionPrefix = "fusion-2"
	engineVersionPrefix = "2."
)

// Defaults for bundles assembled in memory.
const (
	DefaultPlayerVersion = "fusion-2.x.x"
	DefaultEngineVersion = "2.x.x"
)

// Header is the fixed-field container header.
//
// On disk: magic signature (null-terminated), stream version (u32), player
// version and engine version (null-terminated), minimum streamed bytes (u32),
// header size (u32), minimum sections to load (u32), section count (u32),
// then per section a (compressed end, uncompressed end) cumulative pair, and
// for stream version >= 2 the complete file size (u32). The header is
// zero-padded to a 4-byte boundary; HeaderSize is the padded length.
type Header struct {
	Signature         string
	StreamVersion     uint32
	PlayerVersion     string
	EngineVersion     string
	MinStreamedBytes  uint32
	HeaderSize        uint32
	MinSectionsToLoad uint32
	SectionEnds       []SectionEnd
	CompleteFileSize  uint32
}

// SectionEnd is one cumulative offset pair from the header. CompressedEnd is
// measured from the end of the header, UncompressedEnd across decompressed
// section payloads.
type SectionEnd struct {
	CompressedEnd   uint32
	UncompressedEnd uint32
}

// countReader tracks how many bytes have been consumed from the underlying
// stream, so decoding knows where the header padding ends.
type countReader struct {
	br *bufio.Reader
	n  uint32
}

func (c *countReader) Read(p []byte) (int, error) {
	n, err := c.br.Read(p)
	c.n += uint32(n)
	return n, err
}

func (c *countReader) ReadByte() (byte, error) {
	b, err := c.br.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

func readU32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

func readCString(r io.ByteReader) (string, error) {
	var sb strings.Builder
	for {
		b, err := r.ReadByte()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return sb.String(), nil
		}
		sb.WriteByte(b)
	}
}

// decodeHeader parses the header and consumes the trailing padding, leaving
// the reader positioned at the first section's compressed bytes.
func decodeHeader(cr *countReader, logger *slog.Logger) (Header, error) {
	var h Header
	var err error

	if h.Signature, err = readCString(cr); err != nil {
		return h, fmt.Errorf("read signature: %w", err)
	}
	if h.Signature != Magic {
		return h, fmt.Errorf("%w: %q", ErrBadMagic, h.Signature)
	}

	if h.StreamVersion, err = readU32(cr); err != nil {
		return h, fmt.Errorf("read stream version: %w", err)
	}
	if h.StreamVersion != StreamVersionLegacy && h.StreamVersion != StreamVersionStreaming {
		return h, fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.StreamVersion)
	}

	if h.PlayerVersion, err = readCString(cr); err != nil {
		return h, fmt.Errorf("read player version: %w", err)
	}
	if !strings.HasPrefix(h.PlayerVersion, playerVersionPrefix) {
		logger.Warn("unexpected player version", "got", h.PlayerVersion, "want_prefix", playerVersionPrefix)
	}

	if h.EngineVersion, err = readCString(cr); err != nil {
		return h, fmt.Errorf("read engine version: %w", err)
	}
	if !strings.HasPrefix(h.EngineVersion, engineVersionPrefix) {
		logger.Warn("unexpected engine version", "got", h.EngineVersion, "want_prefix", engineVersionPrefix)
	}

	if h.MinStreamedBytes, err = readU32(cr); err != nil {
		return h, fmt.Errorf("read min streamed bytes: %w", err)
	}
	if h.HeaderSize, err = readU32(cr); err != nil {
		return h, fmt.Errorf("read header size: %w", err)
	}
	if h.MinSectionsToLoad, err = readU32(cr); err != nil {
		return h, fmt.Errorf("read min sections: %w", err)
	}

	sectionCount, err := readU32(cr)
	if err != nil {
		return h, fmt.Errorf("read section count: %w", err)
	}

	h.SectionEnds = make([]SectionEnd, sectionCount)
	for i := range h.SectionEnds {
		if h.SectionEnds[i].CompressedEnd, err = readU32(cr); err != nil {
			return h, fmt.Errorf("read section %d compressed end: %w", i, err)
		}
		if h.SectionEnds[i].UncompressedEnd, err = readU32(cr); err != nil {
			return h, fmt.Errorf("read section %d uncompressed end: %w", i, err)
		}
	}

	if h.StreamVersion >= 2 {
		if h.CompleteFileSize, err = readU32(cr); err != nil {
			return h, fmt.Errorf("read complete file size: %w", err)
		}
	}

	// The header is padded to its declared size; discard the padding.
	if cr.n > h.HeaderSize {
		return h, fmt.Errorf("%w: header fields overrun declared size %d", ErrBadSectionBounds, h.HeaderSize)
	}
	if _, err := io.CopyN(io.Discard, cr, int64(h.HeaderSize-cr.n)); err != nil {
		return h, fmt.Errorf("skip header padding: %w", err)
	}

	return h, nil
}

// wireSize returns the padded on-disk length of the header.
func (h *Header) wireSize() uint32 {
	n := uint32(len(h.Signature) + 1)
	n += 4 // stream version
	n += uint32(len(h.PlayerVersion) + 1)
	n += uint32(len(h.EngineVersion) + 1)
	n += 4 * 4 // min streamed bytes, header size, min sections, section count
	n += 8 * uint32(len(h.SectionEnds))
	if h.StreamVersion >= 2 {
		n += 4
	}
	return align4(n)
}

// encodeHeader writes the header including its alignment padding.
func encodeHeader(w io.Writer, h *Header) error {
	buf := make([]byte, 0, h.HeaderSize)
	buf = append(buf, h.Signature...)
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint32(buf, h.StreamVersion)
	buf = append(buf, h.PlayerVersion...)
	buf = append(buf, 0)
	buf = append(buf, h.EngineVersion...)
	buf = append(buf, 0)
	buf = binary.BigEndian.AppendUint32(buf, h.MinStreamedBytes)
	buf = binary.BigEndian.AppendUint32(buf, h.HeaderSize)
	buf = binary.BigEndian.AppendUint32(buf, h.MinSectionsToLoad)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(h.SectionEnds)))
	for _, se := range h.SectionEnds {
		buf = binary.BigEndian.AppendUint32(buf, se.CompressedEnd)
		buf = binary.BigEndian.AppendUint32(buf, se.UncompressedEnd)
	}
	if h.StreamVersion >= 2 {
		buf = binary.BigEndian.AppendUint32(buf, h.CompleteFileSize)
	}
	for uint32(len(buf)) < h.HeaderSize {
		buf = append(buf, 0)
	}
	_, err := w.Write(buf)
	return err
}

// align4 rounds n up to the next 4-byte boundary.
func align4(n uint32) uint32 {
	return (n + 3) &^ 3
}
