package compiler

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// InterpBackend is the builtin interpreter backend for the "cpu" platform.
// It lowers textual IR to a canonical artifact without real optimization
// work, which makes it useful for pipeline and cache plumbing as well as
// environments without a native toolchain.
type InterpBackend struct{}

// NewInterpBackend creates the interpreter backend.
func NewInterpBackend() *InterpBackend {
	return &InterpBackend{}
}

// Platform returns "cpu".
func (b *InterpBackend) Platform() string { return "cpu" }

// SupportsPersistentCache reports true; interpreter artifacts are plain
// bytes and survive serialization.
func (b *InterpBackend) SupportsPersistentCache() bool { return true }

// Compile lowers the module. The artifact is the canonical bytecode behind
// a small header recording the partitioning the module was compiled for.
func (b *InterpBackend) Compile(ctx context.Context, module *Module, opts *Options) (*Executable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if module == nil || len(module.Text) == 0 {
		return nil, fmt.Errorf("empty module")
	}
	if opts == nil {
		return nil, fmt.Errorf("nil compile options")
	}

	start := time.Now()

	bytecode := module.Bytecode()

	var sb strings.Builder
	fmt.Fprintf(&sb, "; interp v1 replicas=%d partitions=%d opt=%d\n",
		opts.NumReplicas, opts.NumPartitions, opts.OptimizationLevel)
	sb.Write(bytecode)

	return &Executable{
		ModuleName:    module.Name,
		Platform:      b.Platform(),
		Artifact:      []byte(sb.String()),
		Fingerprint:   opts.Fingerprint(),
		CompileTime:   time.Since(start),
		HostCallbacks: hasHostCallbacks(bytecode),
	}, nil
}

// hasHostCallbacks scans the IR for host callback custom calls. Executables
// that capture callbacks hold process-local state and are never cached.
func hasHostCallbacks(bytecode []byte) bool {
	s := string(bytecode)
	return strings.Contains(s, "xla_python_cpu_callback") ||
		strings.Contains(s, "xla_ffi_python_cpu_callback") ||
		strings.Contains(s, "host_callback")
}
