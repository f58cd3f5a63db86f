package compiler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Executable is the result of compiling a module for a backend.
type Executable struct {
	// ModuleName is the name of the compiled module.
	ModuleName string `json:"module_name"`

	// Platform is the backend platform that produced the executable.
	Platform string `json:"platform"`

	// Artifact is the backend-specific compiled form.
	Artifact []byte `json:"artifact"`

	// Fingerprint identifies the options the executable was built with.
	Fingerprint []byte `json:"fingerprint"`

	// CompileTime is how long compilation took.
	CompileTime time.Duration `json:"compile_time"`

	// HostCallbacks reports whether the executable captures host callbacks.
	// Such executables are process-bound and must never be cached.
	HostCallbacks bool `json:"host_callbacks"`
}

// Backend compiles modules for one platform.
type Backend interface {
	// Platform returns the backend platform name, e.g. "cpu".
	Platform() string

	// SupportsPersistentCache reports whether executables from this backend
	// survive serialization across processes.
	SupportsPersistentCache() bool

	// Compile compiles a module with the given options.
	Compile(ctx context.Context, module *Module, opts *Options) (*Executable, error)
}

// Registry holds the available backends keyed by platform.
type Registry struct {
	// mu protects the registry state.
	mu sync.RWMutex

	// backends maps platform name to backend instance.
	backends map[string]Backend
}

// NewRegistry creates an empty backend registry.
func NewRegistry() *Registry {
	return &Registry{
		backends: make(map[string]Backend),
	}
}

// Register registers a backend under its platform name.
func (r *Registry) Register(b Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	platform := b.Platform()
	if platform == "" {
		return fmt.Errorf("backend has empty platform name")
	}
	if _, ok := r.backends[platform]; ok {
		return fmt.Errorf("backend already registered for platform: %s", platform)
	}

	r.backends[platform] = b
	return nil
}

// Get returns the backend for a platform.
func (r *Registry) Get(platform string) (Backend, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.backends[platform]
	if !ok {
		return nil, fmt.Errorf("no backend registered for platform: %s", platform)
	}
	return b, nil
}

// List returns the registered platform names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	platforms := make([]string, 0, len(r.backends))
	for p := range r.backends {
		platforms = append(platforms, p)
	}
	sort.Strings(platforms)
	return platforms
}

// DefaultRegistry returns a registry with the builtin backends registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	// The interpreter backend is always available.
	_ = r.Register(NewInterpBackend())
	return r
}
