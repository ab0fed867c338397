package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchHTTP(t *testing.T) {
	t.Parallel()

	payload := bytes.Repeat([]byte("asset bytes "), 10_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Write(payload)
	}))
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "out.bin")

	var lastDone, lastTotal atomic.Uint64
	err := Fetch(context.Background(), srv.Client(), srv.URL+"/asset", dest, func(done, total uint64) {
		lastDone.Store(done)
		lastTotal.Store(total)
	})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
	assert.Equal(t, uint64(len(payload)), lastDone.Load())
	assert.Equal(t, uint64(len(payload)), lastTotal.Load())
}

func TestFetchHTTPNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	dest := filepath.Join(t.TempDir(), "out.bin")
	err := Fetch(context.Background(), srv.Client(), srv.URL+"/missing", dest, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestFetchFileURL(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "src.bin")
	content := []byte("local copy, no network")
	require.NoError(t, os.WriteFile(src, content, 0o644))

	dest := filepath.Join(dir, "dest.bin")
	var finalDone uint64
	err := Fetch(context.Background(), nil, "file://"+filepath.ToSlash(src), dest, func(done, total uint64) {
		finalDone = done
		assert.Equal(t, uint64(len(content)), total)
	})
	require.NoError(t, err)

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
	assert.Equal(t, uint64(len(content)), finalDone)
}

func TestFetchFileURLMissingSource(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "dest.bin")
	err := Fetch(context.Background(), nil, "file:///does/not/exist", dest, nil)
	require.Error(t, err)
}

func TestFetchCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := filepath.Join(t.TempDir(), "dest.bin")
	err := Fetch(ctx, nil, "file:///irrelevant", dest, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestTempFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("scratch"))
	}))
	t.Cleanup(srv.Close)

	path, cleanup, err := TempFile(context.Background(), srv.Client(), srv.URL)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte("scratch"), got)

	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
