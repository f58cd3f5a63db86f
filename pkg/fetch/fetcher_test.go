package fetch

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrayforge/arrayforge/pkg/workspace"
)

// makeTarGz builds a gzipped tarball with the given files under prefix.
func makeTarGz(t *testing.T, prefix string, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for name, content := range files {
		hdr := &tar.Header{
			Name: prefix + "/" + name,
			Mode: 0o644,
			Size: int64(len(content)),
		}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func newTestFetcher(t *testing.T, storeDir string, opts Options) *Fetcher {
	t.Helper()
	opts.StoreDir = storeDir
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Millisecond
	}
	f, err := NewFetcher(opts, nil)
	require.NoError(t, err)
	return f
}

func TestFetcher_Fetch_Success(t *testing.T) {
	archive := makeTarGz(t, "xla-abc123", map[string]string{
		"BUILD":          "package(default_visibility = [\"//visibility:public\"])",
		"lib/compiler.h": "#pragma once",
	})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	store := t.TempDir()
	f := newTestFetcher(t, store, Options{})

	pin := &workspace.Pin{
		Name:        "xla-toolchain",
		Commit:      "abc123def456789",
		SHA256:      sha256Hex(archive),
		URLs:        []string{srv.URL + "/archive/{commit}.tar.gz"},
		StripPrefix: "xla-abc123",
	}

	res, err := f.Fetch(context.Background(), pin)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(store, "xla-toolchain-abc123def456"), res.Path)
	assert.Equal(t, int64(len(archive)), res.SizeBytes)
	assert.False(t, res.Skipped)

	// strip_prefix removed, contents extracted
	data, err := os.ReadFile(filepath.Join(res.Path, "lib", "compiler.h"))
	require.NoError(t, err)
	assert.Equal(t, "#pragma once", string(data))

	// verified archive is kept for later re-verification
	_, err = os.Stat(res.ArchivePath)
	require.NoError(t, err)

	// a second fetch is a no-op
	res2, err := f.Fetch(context.Background(), pin)
	require.NoError(t, err)
	assert.True(t, res2.Skipped)
}

func TestFetcher_Fetch_ChecksumMismatchFailsClosed(t *testing.T) {
	archive := makeTarGz(t, "p", map[string]string{"f": "content"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	store := t.TempDir()
	f := newTestFetcher(t, store, Options{Retries: 3})

	pin := &workspace.Pin{
		Name:   "bad-pin",
		Commit: "abc123def456789",
		// pinned hash deliberately wrong
		SHA256: sha256Hex([]byte("something else")),
		URLs:   []string{srv.URL + "/a.tar.gz"},
	}

	_, err := f.Fetch(context.Background(), pin)
	require.Error(t, err)
	assert.True(t, IsChecksum(err), "expected checksum error, got %v", err)
	assert.False(t, IsTransient(err))

	// nothing installed, no archive kept
	_, statErr := os.Stat(filepath.Join(store, "bad-pin-abc123def456"))
	assert.True(t, os.IsNotExist(statErr), "install dir must not exist after checksum failure")

	entries, err := os.ReadDir(filepath.Join(store, "downloads"))
	require.NoError(t, err)
	assert.Empty(t, entries, "no archive may survive a checksum failure")
}

func TestFetcher_Fetch_RetriesTransientErrors(t *testing.T) {
	archive := makeTarGz(t, "p", map[string]string{"f": "retry me"})

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	f := newTestFetcher(t, t.TempDir(), Options{Retries: 3})

	pin := &workspace.Pin{
		Name:   "flaky",
		Commit: "abc123def456789",
		SHA256: sha256Hex(archive),
		URLs:   []string{srv.URL + "/a.tar.gz"},
	}

	res, err := f.Fetch(context.Background(), pin)
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, int64(len(archive)), res.SizeBytes)
}

func TestFetcher_Fetch_FallsBackToMirror(t *testing.T) {
	archive := makeTarGz(t, "p", map[string]string{"f": "mirrored"})

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer dead.Close()

	alive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer alive.Close()

	f := newTestFetcher(t, t.TempDir(), Options{})

	pin := &workspace.Pin{
		Name:   "mirrored",
		Commit: "abc123def456789",
		SHA256: sha256Hex(archive),
		URLs: []string{
			dead.URL + "/a.tar.gz",
			alive.URL + "/a.tar.gz",
		},
	}

	res, err := f.Fetch(context.Background(), pin)
	require.NoError(t, err)
	assert.Equal(t, alive.URL+"/a.tar.gz", res.URL)
}

func TestFetcher_Fetch_LocalOverrideSkipsDownload(t *testing.T) {
	override := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(override, "local.txt"), []byte("dev"), 0o644))

	f := newTestFetcher(t, t.TempDir(), Options{})

	pin := &workspace.Pin{
		Name:     "dev-pin",
		Commit:   "abc123def456789",
		Override: override,
	}

	res, err := f.Fetch(context.Background(), pin)
	require.NoError(t, err)
	assert.True(t, res.Overridden)
	assert.Equal(t, override, res.Path)
	assert.Empty(t, res.ArchivePath)
}

func TestFetcher_Fetch_OverrideMissingPath(t *testing.T) {
	f := newTestFetcher(t, t.TempDir(), Options{})

	pin := &workspace.Pin{
		Name:     "dev-pin",
		Commit:   "abc123def456789",
		Override: "/nonexistent/path/to/checkout",
	}

	_, err := f.Fetch(context.Background(), pin)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestFetcher_FetchAll(t *testing.T) {
	archiveA := makeTarGz(t, "a", map[string]string{"f": "aaa"})
	archiveB := makeTarGz(t, "b", map[string]string{"f": "bbb"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a.tar.gz":
			_, _ = w.Write(archiveA)
		case "/b.tar.gz":
			_, _ = w.Write(archiveB)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	f := newTestFetcher(t, t.TempDir(), Options{Parallelism: 2})

	ws := &workspace.Workspace{
		Pins: []*workspace.Pin{
			{Name: "aa", Commit: "abc123def456789", SHA256: sha256Hex(archiveA), URLs: []string{srv.URL + "/a.tar.gz"}},
			{Name: "bb", Commit: "abc123def456789", SHA256: sha256Hex(archiveB), URLs: []string{srv.URL + "/b.tar.gz"}},
		},
	}

	results, err := f.FetchAll(context.Background(), ws, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// results keep workspace order regardless of completion order
	assert.Equal(t, "aa", results[0].Pin.Name)
	assert.Equal(t, "bb", results[1].Pin.Name)

	_, err = f.FetchAll(context.Background(), ws, []string{"missing"})
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
}

func TestLockfileRoundTripAndVerify(t *testing.T) {
	archive := makeTarGz(t, "p", map[string]string{"f": "verify me"})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(archive)
	}))
	defer srv.Close()

	store := t.TempDir()
	f := newTestFetcher(t, store, Options{})

	pin := &workspace.Pin{
		Name:   "verified",
		Commit: "abc123def456789",
		SHA256: sha256Hex(archive),
		URLs:   []string{srv.URL + "/a.tar.gz"},
	}

	res, err := f.Fetch(context.Background(), pin)
	require.NoError(t, err)

	lockPath := filepath.Join(store, "forge.lock")
	require.NoError(t, WriteLockfile(lockPath, NewLockfile([]*Result{res})))

	lf, err := ReadLockfile(lockPath)
	require.NoError(t, err)
	require.Len(t, lf.Archives, 1)
	assert.Equal(t, "verified", lf.Archives[0].Name)

	findings := Verify(lf)
	require.Len(t, findings, 1)
	assert.Equal(t, VerifyOK, findings[0].Status)
	assert.False(t, findings[0].Failed())

	// corrupt the kept archive: verification must fail closed
	require.NoError(t, os.WriteFile(lf.Archives[0].ArchivePath, []byte("tampered"), 0o644))

	findings = Verify(lf)
	assert.Equal(t, VerifyMismatch, findings[0].Status)
	assert.True(t, findings[0].Failed())
}

func TestVerify_OverriddenNeverFails(t *testing.T) {
	lf := &Lockfile{
		Version: LockfileVersion,
		Archives: []LockEntry{
			{Name: "dev", Path: "/src/dev", Overridden: true},
		},
	}

	findings := Verify(lf)
	require.Len(t, findings, 1)
	assert.Equal(t, VerifyOverridden, findings[0].Status)
	assert.False(t, findings[0].Failed())
}
