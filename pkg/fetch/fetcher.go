package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arrayforge/arrayforge/pkg/telemetry"
	"github.com/arrayforge/arrayforge/pkg/workspace"
)

// Options configures a Fetcher.
type Options struct {
	// StoreDir is the content store root. Downloaded archives are kept in
	// <StoreDir>/downloads, extracted trees in <StoreDir>/<name>-<commit>.
	StoreDir string

	// Parallelism bounds concurrent pin fetches.
	Parallelism int

	// Retries is the number of retry attempts per URL for transient errors.
	Retries int

	// RetryBackoff is the base delay between retries. The delay doubles per
	// attempt and is capped at 8x the base.
	RetryBackoff time.Duration

	// Force re-downloads and re-installs pins that are already present.
	Force bool

	// Client is the HTTP client used for downloads.
	Client *http.Client

	// Tracer records a span per pin fetch. Nil disables tracing.
	Tracer *telemetry.Tracer
}

// Result records the outcome of fetching one pin.
type Result struct {
	Pin *workspace.Pin `json:"pin"`

	// Path is the extracted tree (or the override path).
	Path string `json:"path"`

	// ArchivePath is the verified archive kept in the download area. Empty
	// for overridden pins.
	ArchivePath string `json:"archive_path,omitempty"`

	// URL is the mirror the archive was fetched from.
	URL string `json:"url,omitempty"`

	// SHA256 is the verified content hash.
	SHA256 string `json:"sha256,omitempty"`

	SizeBytes  int64         `json:"size_bytes,omitempty"`
	Duration   time.Duration `json:"duration"`
	Overridden bool          `json:"overridden,omitempty"`

	// Skipped is true when the pin was already installed and Force was off.
	Skipped bool `json:"skipped,omitempty"`
}

// Fetcher downloads, verifies, and installs pinned archives.
type Fetcher struct {
	opts    Options
	metrics *telemetry.Metrics
	tracer  *telemetry.Tracer
}

// NewFetcher creates a fetcher. A nil metrics collector disables metrics.
func NewFetcher(opts Options, metrics *telemetry.Metrics) (*Fetcher, error) {
	if opts.StoreDir == "" {
		return nil, fmt.Errorf("store directory is required")
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.RetryBackoff == 0 {
		opts.RetryBackoff = time.Second
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Minute}
	}
	if metrics == nil {
		m, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: false})
		if err != nil {
			return nil, err
		}
		metrics = m
	}
	tracer := opts.Tracer
	if tracer == nil {
		t, err := telemetry.NewTracer(telemetry.TracingConfig{Enabled: false}, "forge", "", "")
		if err != nil {
			return nil, err
		}
		tracer = t
	}
	return &Fetcher{opts: opts, metrics: metrics, tracer: tracer}, nil
}

// FetchAll fetches every pin in the workspace, bounded by Parallelism.
// When only is non-empty, it restricts the fetch to the named pins. The
// first error cancels in-flight fetches.
func (f *Fetcher) FetchAll(ctx context.Context, ws *workspace.Workspace, only []string) ([]*Result, error) {
	pins := ws.Pins
	if len(only) > 0 {
		pins = nil
		for _, name := range only {
			p := ws.Pin(name)
			if p == nil {
				return nil, NewPermanentError(fmt.Sprintf("unknown pin %q", name), nil)
			}
			pins = append(pins, p)
		}
	}

	results := make([]*Result, len(pins))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.opts.Parallelism)

	for i, pin := range pins {
		g.Go(func() error {
			res, err := f.Fetch(gctx, pin)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Fetch retrieves and installs a single pin.
func (f *Fetcher) Fetch(ctx context.Context, pin *workspace.Pin) (*Result, error) {
	ctx, span := f.tracer.StartFetchSpan(ctx, pin.Name, pin.Commit)
	defer span.End()

	res, err := f.fetch(ctx, pin)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.RecordSuccess(span)
	return res, nil
}

func (f *Fetcher) fetch(ctx context.Context, pin *workspace.Pin) (*Result, error) {
	logger := telemetry.FromContext(ctx).WithArchive(pin.Name)
	start := time.Now()

	if pin.Overridden() {
		info, err := os.Stat(pin.Override)
		if err != nil {
			return nil, NewPermanentError("local override path does not exist", err).WithArchive(pin.Name)
		}
		if !info.IsDir() {
			return nil, NewPermanentError(
				fmt.Sprintf("local override %s is not a directory", pin.Override), nil).WithArchive(pin.Name)
		}
		logger.Infof("using local override %s, skipping fetch", pin.Override)
		return &Result{
			Pin:        pin,
			Path:       pin.Override,
			Overridden: true,
			Duration:   time.Since(start),
		}, nil
	}

	installDir := f.installDir(pin)
	if _, err := os.Stat(installDir); err == nil && !f.opts.Force {
		logger.Debugf("already installed at %s", installDir)
		return &Result{
			Pin:         pin,
			Path:        installDir,
			ArchivePath: f.archivePath(pin, pin.ResolvedURLs()[0]),
			SHA256:      pin.SHA256,
			Skipped:     true,
			Duration:    time.Since(start),
		}, nil
	}

	f.metrics.RecordFetchStarted(pin.Name)

	archivePath, url, size, err := f.download(ctx, pin)
	if err != nil {
		f.metrics.RecordFetchCompleted(pin.Name, "error", time.Since(start))
		return nil, err
	}

	if err := f.install(archivePath, installDir, pin.StripPrefix); err != nil {
		f.metrics.RecordFetchCompleted(pin.Name, "error", time.Since(start))
		return nil, err
	}

	d := time.Since(start)
	f.metrics.RecordFetchCompleted(pin.Name, "ok", d)
	f.metrics.RecordFetchBytes(pin.Name, size)
	logger.Infof("installed %s (%d bytes) in %s", installDir, size, d.Round(time.Millisecond))

	return &Result{
		Pin:         pin,
		Path:        installDir,
		ArchivePath: archivePath,
		URL:         url,
		SHA256:      pin.SHA256,
		SizeBytes:   size,
		Duration:    d,
	}, nil
}

// download tries each mirror URL in order, retrying transient failures,
// and verifies the stream against the pinned hash. The verified archive is
// kept under the downloads area for later re-verification.
func (f *Fetcher) download(ctx context.Context, pin *workspace.Pin) (path, url string, size int64, err error) {
	downloads := filepath.Join(f.opts.StoreDir, "downloads")
	if err := os.MkdirAll(downloads, 0o755); err != nil {
		return "", "", 0, NewPermanentError("failed to create download area", err).WithArchive(pin.Name)
	}

	var lastErr error
	for _, u := range pin.ResolvedURLs() {
		dst := f.archivePath(pin, u)

		backoff := f.opts.RetryBackoff
		for attempt := 0; attempt <= f.opts.Retries; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return "", "", 0, ctx.Err()
				case <-time.After(backoff):
				}
				if backoff < 8*f.opts.RetryBackoff {
					backoff *= 2
				}
			}

			n, err := f.downloadOne(ctx, pin, u, dst)
			if err == nil {
				return dst, u, n, nil
			}
			lastErr = err

			if IsChecksum(err) {
				// Fail closed. A mismatch is not a flaky network; the
				// pinned content is simply not what is being served.
				f.metrics.RecordChecksumFailure(pin.Name)
				return "", "", 0, err
			}
			if !IsTransient(err) {
				break // try the next mirror
			}
		}
	}

	if lastErr == nil {
		lastErr = NewPermanentError("no URLs to fetch from", nil).WithArchive(pin.Name)
	}
	return "", "", 0, lastErr
}

// downloadOne streams a single URL to dst while hashing, verifying before
// the file is moved into place.
func (f *Fetcher) downloadOne(ctx context.Context, pin *workspace.Pin, url, dst string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, NewPermanentError("invalid URL", err).WithArchive(pin.Name).WithURL(url)
	}

	resp, err := f.opts.Client.Do(req)
	if err != nil {
		return 0, NewTransientError("request failed", err).WithArchive(pin.Name).WithURL(url)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return 0, NewTransientError(
			fmt.Sprintf("server returned %s", resp.Status), nil).WithArchive(pin.Name).WithURL(url)
	default:
		return 0, NewPermanentError(
			fmt.Sprintf("server returned %s", resp.Status), nil).WithArchive(pin.Name).WithURL(url)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".pending-*")
	if err != nil {
		return 0, NewPermanentError("failed to create temp file", err).WithArchive(pin.Name)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	hasher := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, hasher), resp.Body)
	if err != nil {
		return 0, NewTransientError("download interrupted", err).WithArchive(pin.Name).WithURL(url)
	}

	got := hex.EncodeToString(hasher.Sum(nil))
	if !strings.EqualFold(got, pin.SHA256) {
		return 0, NewChecksumError(pin.Name, pin.SHA256, got).WithURL(url)
	}

	if err := tmp.Close(); err != nil {
		return 0, NewPermanentError("failed to close temp file", err).WithArchive(pin.Name)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return 0, NewPermanentError("failed to move archive into place", err).WithArchive(pin.Name)
	}
	return n, nil
}

// install extracts the verified archive into a staging directory and
// renames it into place so partially extracted trees are never visible.
func (f *Fetcher) install(archivePath, installDir, stripPrefix string) error {
	staging, err := os.MkdirTemp(f.opts.StoreDir, ".staging-*")
	if err != nil {
		return NewPermanentError("failed to create staging directory", err)
	}
	defer os.RemoveAll(staging)

	if err := Extract(archivePath, staging, stripPrefix); err != nil {
		return err
	}

	if f.opts.Force {
		if err := os.RemoveAll(installDir); err != nil {
			return NewPermanentError("failed to remove existing install", err)
		}
	}
	if err := os.Rename(staging, installDir); err != nil {
		return NewPermanentError("failed to move install into place", err)
	}
	return nil
}

// installDir returns the extraction target for a pin.
func (f *Fetcher) installDir(pin *workspace.Pin) string {
	return filepath.Join(f.opts.StoreDir, pin.Name+"-"+shortCommit(pin.Commit))
}

// archivePath returns where the verified archive for a pin is kept.
func (f *Fetcher) archivePath(pin *workspace.Pin, url string) string {
	return filepath.Join(f.opts.StoreDir, "downloads", pin.Name+"-"+shortCommit(pin.Commit)+archiveExt(url))
}

// shortCommit truncates a commit identifier for use in directory names.
func shortCommit(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

// archiveExt returns the archive extension of a URL, default ".tar.gz".
func archiveExt(url string) string {
	switch {
	case strings.HasSuffix(url, ".zip"):
		return ".zip"
	case strings.HasSuffix(url, ".tgz"):
		return ".tgz"
	case strings.HasSuffix(url, ".tar"):
		return ".tar"
	default:
		return ".tar.gz"
	}
}

// HashFile computes the hex SHA-256 of a file. Used by verify to re-check
// installed archives against the lockfile.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
