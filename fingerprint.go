package buildvault

import (
	"context"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/opencontainers/go-digest"

	"github.com/meridian-games/buildvault/bundle"
	"github.com/meridian-games/buildvault/internal/fetch"
)

// hashChunkSize bounds how much of a file is held in memory while hashing.
const hashChunkSize = 32 * 1024

// Fingerprint identifies exact byte content: a canonical content digest plus
// the byte size. It is always computed by streaming the full content through
// the hash, never from file metadata.
//
// The zero Fingerprint is the "content inaccessible" sentinel: it signals a
// missing or unreadable file without raising an error through the comparison
// path.
type Fingerprint struct {
	Hash digest.Digest `json:"hash"`
	Size uint64        `json:"size"`
}

// IsZero reports whether f is the inaccessible sentinel.
func (f Fingerprint) IsZero() bool {
	return f.Hash == "" && f.Size == 0
}

// Equal reports whether both hash and size match.
func (f Fingerprint) Equal(other Fingerprint) bool {
	return f.Hash == other.Hash && f.Size == other.Size
}

// Verify compares f (measured from disk) against want (from the manifest)
// and returns nil on a match. Checks are ordered: a missing file wins over
// everything, and size is compared before hash, since a size mismatch makes
// the hash mismatch redundant information.
func (f Fingerprint) Verify(want Fingerprint) *FailReason {
	if f.IsZero() && !want.IsZero() {
		return &FailReason{Kind: FailMissing, ExpectedSize: want.Size, ExpectedHash: want.Hash}
	}
	if f.Size != want.Size {
		return &FailReason{Kind: FailBadSize, ExpectedSize: want.Size, ActualSize: f.Size}
	}
	if f.Hash != want.Hash {
		return &FailReason{
			Kind:         FailBadHash,
			ExpectedSize: want.Size,
			ActualSize:   f.Size,
			ExpectedHash: want.Hash,
			ActualHash:   f.Hash,
		}
	}
	return nil
}

// FingerprintBytes fingerprints an in-memory buffer.
func FingerprintBytes(b []byte) Fingerprint {
	return Fingerprint{Hash: digest.FromBytes(b), Size: uint64(len(b))}
}

// FingerprintReader streams r through the hash in bounded chunks.
func FingerprintReader(r io.Reader) (Fingerprint, error) {
	digester := digest.Canonical.Digester()
	n, err := io.CopyBuffer(digester.Hash(), r, make([]byte, hashChunkSize))
	if err != nil {
		return Fingerprint{}, err
	}
	return Fingerprint{Hash: digester.Digest(), Size: uint64(n)}, nil
}

// FingerprintFile fingerprints the file at path. An inaccessible file
// degrades to the zero sentinel rather than an error: downstream validation
// treats "unreadable" and "corrupt" identically.
func FingerprintFile(path string) Fingerprint {
	f, err := os.Open(path)
	if err != nil {
		return Fingerprint{}
	}
	defer f.Close()

	fp, err := FingerprintReader(f)
	if err != nil {
		return Fingerprint{}
	}
	return fp
}

// FingerprintRemote fetches url to a scratch file and fingerprints it.
// Unlike FingerprintFile, a transfer failure is an error: the caller asked
// for remote content and silence would hide a transport problem.
func FingerprintRemote(ctx context.Context, client *http.Client, url string) (Fingerprint, error) {
	path, cleanup, err := fetch.TempFile(ctx, client, url)
	if err != nil {
		return Fingerprint{}, err
	}
	defer cleanup()
	return FingerprintFile(path), nil
}

// BundleFingerprint pairs a bundle file's outer fingerprint with the
// fingerprints of the entries it contains once decoded. Entries may be empty
// when internal decoding is unavailable, in which case only the outer
// fingerprint is checked.
type BundleFingerprint struct {
	Compressed Fingerprint            `json:"compressed"`
	Entries    map[string]Fingerprint `json:"files,omitempty"`
}

// uncompressedSize sums the contained entries' sizes.
func (bf BundleFingerprint) uncompressedSize() uint64 {
	var total uint64
	for _, fp := range bf.Entries {
		total += fp.Size
	}
	return total
}

// FingerprintBundle fingerprints the bundle file at path inside and out:
// the compressed file as a whole, then every entry it contains.
func FingerprintBundle(ctx context.Context, path string, opts ...BuildOption) (BundleFingerprint, error) {
	cfg := newBuildConfig(opts)
	logger := cfg.log()

	compressed := FingerprintFile(path)

	b, err := bundle.FromFile(path, bundle.WithLogger(cfg.logger))
	if err != nil {
		return BundleFingerprint{}, err
	}
	if b.DeclaredSize() != compressed.Size {
		logger.Warn("bundle header size does not match measured size",
			"bundle", b.Name, "declared", b.DeclaredSize(), "measured", compressed.Size)
	}

	// Keys mirror the extraction layout: section 0 entries by bare name,
	// later sections under their index.
	entries := make(map[string]Fingerprint, b.EntryCount())
	for i, section := range b.Sections {
		for _, e := range section.Entries {
			if err := ctx.Err(); err != nil {
				return BundleFingerprint{}, err
			}
			key := e.Name
			if i > 0 {
				key = strconv.Itoa(i) + "/" + e.Name
			}
			entries[key] = FingerprintBytes(e.Data)
		}
	}

	return BundleFingerprint{Compressed: compressed, Entries: entries}, nil
}
