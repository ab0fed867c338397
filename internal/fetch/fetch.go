// Package fetch retrieves a URL to a local file, streaming bytes and
// reporting byte-level progress. It understands http(s) URLs and the
// file:/// pseudo-URL, which copies a local file without touching the
// network stack.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// copyChunkSize bounds how much is buffered between progress reports.
const copyChunkSize = 32 * 1024

// ProgressSink receives (bytes so far, total bytes) as the transfer streams.
// Total is zero when the source does not advertise a length. Calls are
// fire-and-forget; implementations must not block.
type ProgressSink func(done, total uint64)

// Fetch retrieves url to dest. The destination file is created (or
// truncated) before the first byte arrives.
func Fetch(ctx context.Context, client *http.Client, url, dest string, sink ProgressSink) error {
	if strings.HasPrefix(url, "file://") {
		return copyLocal(ctx, strings.TrimPrefix(url, "file://"), dest, sink)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: %s", url, resp.Status)
	}

	var total uint64
	if resp.ContentLength > 0 {
		total = uint64(resp.ContentLength)
	}
	return streamTo(dest, resp.Body, total, sink)
}

// copyLocal copies a local file with the same progress contract as a
// network fetch.
func copyLocal(ctx context.Context, src, dest string, sink ProgressSink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(filepath.FromSlash(src))
	if err != nil {
		return err
	}
	defer f.Close()

	var total uint64
	if info, err := f.Stat(); err == nil {
		total = uint64(info.Size())
	}
	return streamTo(dest, f, total, sink)
}

// streamTo copies r into dest in bounded chunks, reporting after each one.
func streamTo(dest string, r io.Reader, total uint64, sink ProgressSink) error {
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if sink != nil {
		sink(0, total)
	}

	buf := make([]byte, copyChunkSize)
	var done uint64
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return err
			}
			done += uint64(n)
			if sink != nil {
				sink(done, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}
	return out.Close()
}

// TempFile fetches url into a scratch file and returns its path plus a
// cleanup function that removes it.
func TempFile(ctx context.Context, client *http.Client, url string) (string, func(), error) {
	path := filepath.Join(os.TempDir(), uuid.NewString())
	if err := Fetch(ctx, client, url, path, nil); err != nil {
		os.Remove(path)
		return "", nil, err
	}
	return path, func() { os.Remove(path) }, nil
}
