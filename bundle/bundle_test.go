package bundle

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCountReader(data []byte) *countReader {
	return &countReader{br: bufio.NewReader(bytes.NewReader(data))}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func roundTrip(t *testing.T, b *Bundle, opts ...Option) *Bundle {
	t.Helper()

	var buf bytes.Buffer
	require.NoError(t, b.Encode(&buf, opts...))

	decoded, err := Decode(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	return decoded
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	t.Parallel()

	b := &Bundle{
		Sections: []Section{{
			Entries: []Entry{
				{Name: "CustomAssetInfo", Data: []byte("hello bundle")},
				{Name: "BuildPlayer-scene", Data: bytes.Repeat([]byte{0xAB}, 1000)},
			},
		}},
	}

	got := roundTrip(t, b)
	require.Len(t, got.Sections, 1)
	require.Len(t, got.Sections[0].Entries, 2)
	assert.Equal(t, "CustomAssetInfo", got.Sections[0].Entries[0].Name)
	assert.Equal(t, []byte("hello bundle"), got.Sections[0].Entries[0].Data)
	assert.Equal(t, b.Sections[0].Entries[1].Data, got.Sections[0].Entries[1].Data)

	assert.Equal(t, Magic, got.Header.Signature)
	assert.Equal(t, uint32(StreamVersionLegacy), got.Header.StreamVersion)
	assert.Equal(t, DefaultPlayerVersion, got.Header.PlayerVersion)
}

func TestEncodeDecodeMultiSection(t *testing.T) {
	t.Parallel()

	b := &Bundle{
		Sections: []Section{
			{Entries: []Entry{{Name: "main", Data: []byte("first section")}}},
			{Entries: []Entry{
				{Name: "meshes", Data: bytes.Repeat([]byte("mesh"), 64)},
				{Name: "textures", Data: bytes.Repeat([]byte{0x01, 0x02, 0x03}, 33)},
			}},
			{}, // empty sections are legal
		},
	}

	got := roundTrip(t, b)
	require.Len(t, got.Sections, 3)
	assert.Equal(t, []byte("first section"), got.Sections[0].Entries[0].Data)
	require.Len(t, got.Sections[1].Entries, 2)
	assert.Equal(t, b.Sections[1].Entries[1].Data, got.Sections[1].Entries[1].Data)
	assert.Empty(t, got.Sections[2].Entries)

	require.Len(t, got.Header.SectionEnds, 3)
	for i := 1; i < len(got.Header.SectionEnds); i++ {
		assert.GreaterOrEqual(t, got.Header.SectionEnds[i].CompressedEnd,
			got.Header.SectionEnds[i-1].CompressedEnd)
	}
}

func TestEncodeOddSizesAligned(t *testing.T) {
	t.Parallel()

	// Sizes chosen to force padding between every pair of entries.
	b := &Bundle{
		Sections: []Section{{
			Entries: []Entry{
				{Name: "a", Data: []byte{1}},
				{Name: "bb", Data: []byte{2, 3, 4}},
				{Name: "ccc", Data: []byte{5, 6, 7, 8, 9}},
				{Name: "d", Data: nil},
			},
		}},
	}

	got := roundTrip(t, b)
	require.Len(t, got.Sections[0].Entries, 4)
	for i, e := range b.Sections[0].Entries {
		assert.Equal(t, e.Name, got.Sections[0].Entries[i].Name)
		assert.Equal(t, []byte(e.Data), append([]byte{}, got.Sections[0].Entries[i].Data...))
	}
}

func TestEncodeRecomputesHeader(t *testing.T) {
	t.Parallel()

	b := &Bundle{
		Sections: []Section{{Entries: []Entry{{Name: "f", Data: []byte("data")}}}},
	}

	var buf bytes.Buffer
	require.NoError(t, b.Encode(&buf))

	assert.Equal(t, uint32(buf.Len()), b.Header.CompleteFileSize)
	assert.Equal(t, b.Header.CompleteFileSize, b.Header.MinStreamedBytes)
	assert.Equal(t, uint32(1), b.Header.MinSectionsToLoad)
	assert.Zero(t, b.Header.HeaderSize%4)
	require.Len(t, b.Header.SectionEnds, 1)
	assert.Equal(t, b.Header.CompleteFileSize-b.Header.HeaderSize,
		b.Header.SectionEnds[0].CompressedEnd)
}

func TestEncodeWithLevel(t *testing.T) {
	t.Parallel()

	b := &Bundle{
		Sections: []Section{{Entries: []Entry{
			{Name: "blob", Data: bytes.Repeat([]byte("compressible "), 512)},
		}}},
	}

	got := roundTrip(t, b, WithLevel(9))
	assert.Equal(t, b.Sections[0].Entries[0].Data, got.Sections[0].Entries[0].Data)
}

func TestDecodeBadMagic(t *testing.T) {
	t.Parallel()

	data := append([]byte("NotUnity\x00"), make([]byte, 64)...)
	_, err := Decode(bytes.NewReader(data), int64(len(data)))
	require.ErrorIs(t, err, ErrBadMagic)
}

func TestDecodeUnsupportedVersion(t *testing.T) {
	t.Parallel()

	data := append([]byte(Magic), 0)
	data = binary.BigEndian.AppendUint32(data, 7)
	data = append(data, make([]byte, 64)...)

	_, err := Decode(bytes.NewReader(data), int64(len(data)))
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestDecodeTruncatedHeader(t *testing.T) {
	t.Parallel()

	data := append([]byte(Magic), 0)
	data = binary.BigEndian.AppendUint32(data, StreamVersionLegacy)
	// Stream ends inside the player version string.
	data = append(data, "fusion-2."...)

	_, err := Decode(bytes.NewReader(data), int64(len(data)))
	require.Error(t, err)
}

func TestHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	h := Header{
		Signature:         Magic,
		StreamVersion:     StreamVersionLegacy,
		PlayerVersion:     "fusion-2.1.0",
		EngineVersion:     "2.5.4b5",
		MinStreamedBytes:  1234,
		MinSectionsToLoad: 1,
		SectionEnds: []SectionEnd{
			{CompressedEnd: 100, UncompressedEnd: 400},
			{CompressedEnd: 260, UncompressedEnd: 900},
		},
		CompleteFileSize: 1234,
	}
	h.HeaderSize = h.wireSize()

	var buf bytes.Buffer
	require.NoError(t, encodeHeader(&buf, &h))
	require.Equal(t, int(h.HeaderSize), buf.Len())

	got, err := decodeHeader(newTestCountReader(buf.Bytes()), discardLogger())
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestParseSectionRejectsMisalignedOffset(t *testing.T) {
	t.Parallel()

	payload := sectionPayload(t, []tableRow{{name: "f", offset: 14, size: 2}}, 32)
	_, err := parseSection(payload, 0, discardLogger())
	require.ErrorIs(t, err, ErrBadOffset)
}

func TestParseSectionRejectsOverlap(t *testing.T) {
	t.Parallel()

	// Second entry starts before the first one ends.
	payload := sectionPayload(t, []tableRow{
		{name: "a", offset: 24, size: 8},
		{name: "b", offset: 28, size: 4},
	}, 64)
	_, err := parseSection(payload, 0, discardLogger())
	require.ErrorIs(t, err, ErrBadOffset)
}

func TestParseSectionRejectsEntryPastEnd(t *testing.T) {
	t.Parallel()

	payload := sectionPayload(t, []tableRow{{name: "f", offset: 16, size: 1 << 20}}, 32)
	_, err := parseSection(payload, 0, discardLogger())
	require.ErrorIs(t, err, ErrTruncated)
}

func TestFromDirExtractFixedPoint(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, "b.bin"), []byte("second"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.bin"), []byte("first"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "1"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(src, "1", "x.dat"), bytes.Repeat([]byte{7}, 100), 0o644))

	b, err := FromDir(src)
	require.NoError(t, err)
	require.Len(t, b.Sections, 2)
	// Root files land in section 0 in name order.
	require.Len(t, b.Sections[0].Entries, 2)
	assert.Equal(t, "a.bin", b.Sections[0].Entries[0].Name)
	assert.Equal(t, "b.bin", b.Sections[0].Entries[1].Name)

	out := t.TempDir()
	require.NoError(t, b.Extract(out))

	again, err := FromDir(out)
	require.NoError(t, err)
	require.Equal(t, len(b.Sections), len(again.Sections))
	for i := range b.Sections {
		assert.Equal(t, b.Sections[i].Entries, again.Sections[i].Entries, "section %d", i)
	}
}

func TestFromFile(t *testing.T) {
	t.Parallel()

	b := &Bundle{
		Sections: []Section{{Entries: []Entry{{Name: "f", Data: []byte("on disk")}}}},
	}
	path := filepath.Join(t.TempDir(), "test.unity3d")

	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, b.Encode(f))
	require.NoError(t, f.Close())

	got, err := FromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "test.unity3d", got.Name)
	assert.Equal(t, b.Header.CompleteFileSize, got.Header.CompleteFileSize)
	assert.Equal(t, uint64(b.Header.CompleteFileSize), got.DeclaredSize())
	assert.Equal(t, 1, got.EntryCount())
	assert.Equal(t, []byte("on disk"), got.Sections[0].Entries[0].Data)
}

func TestPatchStreamSize(t *testing.T) {
	t.Parallel()

	blob := make([]byte, 20)
	for i := 5; i < lzmaHeaderLen; i++ {
		blob[i] = 0xFF
	}
	require.NoError(t, patchStreamSize(blob, 4242))
	assert.Equal(t, uint64(4242), binary.LittleEndian.Uint64(blob[5:lzmaHeaderLen]))

	// An explicit size field is left alone.
	explicit := make([]byte, 20)
	binary.LittleEndian.PutUint64(explicit[5:lzmaHeaderLen], 99)
	require.NoError(t, patchStreamSize(explicit, 4242))
	assert.Equal(t, uint64(99), binary.LittleEndian.Uint64(explicit[5:lzmaHeaderLen]))

	require.ErrorIs(t, patchStreamSize(make([]byte, 4), 1), ErrTruncated)
}

// tableRow is a hand-built file-table row for corrupt-payload tests.
type tableRow struct {
	name   string
	offset uint32
	size   uint32
}

// sectionPayload assembles a decompressed section payload with the given
// table rows over a zero-filled body of total bytes.
func sectionPayload(t *testing.T, rows []tableRow, total int) []byte {
	t.Helper()

	buf := binary.BigEndian.AppendUint32(nil, uint32(len(rows)))
	for _, row := range rows {
		buf = append(buf, row.name...)
		buf = append(buf, 0)
		buf = binary.BigEndian.AppendUint32(buf, row.offset)
		buf = binary.BigEndian.AppendUint32(buf, row.size)
	}
	require.LessOrEqual(t, len(buf), total, "table larger than requested payload")
	return append(buf, make([]byte, total-len(buf))...)
}
