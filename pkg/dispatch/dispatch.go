package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync/atomic"
	"time"

	"github.com/arrayforge/arrayforge/pkg/cache"
	"github.com/arrayforge/arrayforge/pkg/compiler"
	"github.com/arrayforge/arrayforge/pkg/telemetry"
)

// Config controls dispatcher behavior.
type Config struct {
	// MinCompileTime gates cache writes. Compilations faster than this are
	// cheaper to redo than to store and retrieve.
	MinCompileTime time.Duration

	// StrictCacheErrors turns cache read and write failures into compile
	// failures instead of warnings.
	StrictCacheErrors bool

	// DumpIRTo, when set, writes each module's IR into this directory
	// before compiling it.
	DumpIRTo string
}

// Dispatcher compiles modules, consulting the persistent cache first.
type Dispatcher struct {
	registry *compiler.Registry
	cache    *cache.Cache
	metrics  *telemetry.Metrics
	logger   *telemetry.Logger
	cfg      Config

	dumpCounter atomic.Uint64
}

// New creates a dispatcher. A nil cache disables persistent caching and a
// nil metrics collector disables metrics.
func New(registry *compiler.Registry, c *cache.Cache, metrics *telemetry.Metrics, logger *telemetry.Logger, cfg Config) (*Dispatcher, error) {
	if registry == nil {
		return nil, fmt.Errorf("nil backend registry")
	}
	if metrics == nil {
		m, err := telemetry.NewMetrics(telemetry.MetricsConfig{Enabled: false})
		if err != nil {
			return nil, err
		}
		metrics = m
	}
	if logger == nil {
		l, err := telemetry.NewLogger(telemetry.DefaultConfig().Logging)
		if err != nil {
			return nil, err
		}
		logger = l
	}
	return &Dispatcher{
		registry: registry,
		cache:    c,
		metrics:  metrics,
		logger:   logger.NewComponentLogger("dispatch"),
		cfg:      cfg,
	}, nil
}

// Compile compiles the module on the named platform, returning a cached
// executable when one exists.
func (d *Dispatcher) Compile(ctx context.Context, platform string, module *compiler.Module, opts *compiler.Options) (*compiler.Executable, error) {
	backend, err := d.registry.Get(platform)
	if err != nil {
		return nil, err
	}

	log := d.logger.WithModule(module.Name).WithBackend(platform)

	if d.cfg.DumpIRTo != "" {
		if err := d.dumpIR(module); err != nil {
			// Dumping is diagnostic output only.
			log.WithError(err).Warn("failed to dump module IR")
		}
	}

	useCache := d.cache != nil && backend.SupportsPersistentCache()

	var key cache.Key
	if useCache {
		key = cache.NewKey(module, opts, platform)
		log = log.WithCacheKey(key.String())

		exec, ok, err := d.lookup(ctx, key, platform, log)
		if err != nil {
			return nil, err
		}
		if ok {
			return exec, nil
		}
	}

	start := time.Now()
	exec, err := backend.Compile(ctx, module, opts)
	if err != nil {
		d.metrics.RecordCompile(platform, "error", time.Since(start))
		return nil, fmt.Errorf("compilation of %s failed: %w", module.Name, err)
	}
	d.metrics.RecordCompile(platform, "ok", exec.CompileTime)

	if useCache {
		if err := d.store(ctx, key, exec, log); err != nil {
			return nil, err
		}
	}

	return exec, nil
}

// lookup reads the cache. A read failure is a warning unless strict cache
// errors are on.
func (d *Dispatcher) lookup(ctx context.Context, key cache.Key, platform string, log *telemetry.Logger) (*compiler.Executable, bool, error) {
	retrievalStart := time.Now()
	entry, ok, err := d.cache.Get(ctx, key)
	if err != nil {
		d.metrics.RecordCacheError("read")
		if d.cfg.StrictCacheErrors {
			return nil, false, fmt.Errorf("compilation cache read failed: %w", err)
		}
		log.WithError(err).Warn("compilation cache read failed, compiling instead")
		return nil, false, nil
	}
	if !ok {
		d.metrics.RecordCacheMiss(platform)
		log.Debug("compilation cache miss")
		return nil, false, nil
	}

	retrieval := time.Since(retrievalStart)
	saved := entry.Executable.CompileTime - retrieval
	if saved < 0 {
		saved = 0
	}
	d.metrics.RecordCacheHit(platform, retrieval, saved)
	log.WithField("retrieval", retrieval.String()).
		WithField("time_saved", saved.String()).
		Info("persistent compilation cache hit")
	return entry.Executable, true, nil
}

// store writes a fresh executable back to the cache when it is worth
// keeping. Executables with host callbacks hold process-local state and
// are never written.
func (d *Dispatcher) store(ctx context.Context, key cache.Key, exec *compiler.Executable, log *telemetry.Logger) error {
	if exec.HostCallbacks {
		log.Debug("executable captures host callbacks, not caching")
		return nil
	}
	if exec.CompileTime < d.cfg.MinCompileTime {
		log.Debugf("compile took %s, below the %s cache threshold, not caching",
			exec.CompileTime, d.cfg.MinCompileTime)
		return nil
	}

	if err := d.cache.Put(ctx, key, &cache.Entry{Executable: exec}); err != nil {
		d.metrics.RecordCacheError("write")
		if d.cfg.StrictCacheErrors {
			return fmt.Errorf("compilation cache write failed: %w", err)
		}
		log.WithError(err).Warn("compilation cache write failed")
		return nil
	}
	log.Debug("wrote executable to compilation cache")
	return nil
}

// unsafeNameRe matches characters that are not safe in dump filenames.
var unsafeNameRe = regexp.MustCompile(`[^\w.-]`)

// dumpIR writes the module IR into the dump directory. Filenames carry a
// process-wide counter so repeated compiles of the same module stay
// distinguishable.
func (d *Dispatcher) dumpIR(module *compiler.Module) error {
	if err := os.MkdirAll(d.cfg.DumpIRTo, 0o755); err != nil {
		return err
	}
	n := d.dumpCounter.Add(1)
	name := unsafeNameRe.ReplaceAllString(module.Name, "_")
	path := filepath.Join(d.cfg.DumpIRTo, fmt.Sprintf("%04d-%s.mlir", n, name))
	return os.WriteFile(path, module.Text, 0o644)
}
