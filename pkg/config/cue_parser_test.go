package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCUEParser_ParseInline(t *testing.T) {
	parser := NewCUEParser()
	ctx := context.Background()

	tests := []struct {
		name      string
		content   string
		wantErr   string
		checkFunc func(*testing.T, *Project)
	}{
		{
			name: "full config",
			content: `
build: {
	backend:     "cpu"
	parallelism: 8
	store_dir:   "/var/lib/forge/store"
	cache_dir:   "/var/lib/forge/cache"
	cache_min_compile_seconds: 2.0
	strict_cache_errors:       true
}
checks: {
	allowed_hosts: ["github.com", "storage.googleapis.com"]
	suppressions: [
		{check: "untyped-call", path: "gen/", reason: "generated code"},
	]
}
tests: {
	filters: [
		{pattern: "slow_*", action: "skip", reason: "exceeds CI budget"},
	]
}
`,
			checkFunc: func(t *testing.T, p *Project) {
				if p.Build.Parallelism != 8 {
					t.Errorf("parallelism = %d, want 8", p.Build.Parallelism)
				}
				if !p.Build.StrictCacheErrors {
					t.Error("expected strict_cache_errors to be true")
				}
				if !p.Checks.HostAllowed("github.com") {
					t.Error("github.com should be allowed")
				}
				if p.Checks.HostAllowed("evil.example.com") {
					t.Error("evil.example.com should not be allowed")
				}
				if !p.Checks.IsSuppressed("untyped-call", "gen/ops.go") {
					t.Error("suppression with matching path prefix should apply")
				}
				if p.Checks.IsSuppressed("untyped-call", "src/ops.go") {
					t.Error("suppression must not apply outside its path prefix")
				}
			},
		},
		{
			name:    "empty config falls back to defaults",
			content: ``,
			checkFunc: func(t *testing.T, p *Project) {
				if p.Build.Backend != "cpu" {
					t.Errorf("default backend = %s, want cpu", p.Build.Backend)
				}
				if p.Build.Parallelism != 4 {
					t.Errorf("default parallelism = %d, want 4", p.Build.Parallelism)
				}
			},
		},
		{
			name: "partial build section keeps other defaults",
			content: `
build: parallelism: 16
`,
			checkFunc: func(t *testing.T, p *Project) {
				if p.Build.Parallelism != 16 {
					t.Errorf("parallelism = %d, want 16", p.Build.Parallelism)
				}
				if p.Build.StoreDir != ".forge/store" {
					t.Errorf("store_dir = %s, want default", p.Build.StoreDir)
				}
			},
		},
		{
			name: "cue syntax error has position",
			content: `
build: {
	backend "cpu"
}
`,
			wantErr: "forge.cue",
		},
		{
			name: "invalid filter action rejected",
			content: `
tests: filters: [{pattern: "x_*", action: "maybe"}]
`,
			wantErr: "validation failed",
		},
		{
			name: "invalid glob pattern rejected",
			content: `
tests: filters: [{pattern: "[", action: "skip"}]
`,
			wantErr: "invalid pattern",
		},
		{
			name: "parallelism out of range rejected",
			content: `
build: parallelism: 0
`,
			wantErr: "validation failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			proj, err := parser.ParseInline(ctx, tt.content, "forge.cue")

			if tt.wantErr != "" {
				if err == nil {
					t.Fatalf("expected error containing %q, got nil", tt.wantErr)
				}
				if !strings.Contains(err.Error(), tt.wantErr) {
					t.Errorf("error = %v, want substring %q", err, tt.wantErr)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.checkFunc != nil {
				tt.checkFunc(t, proj)
			}
		})
	}
}

func TestCUEParser_Load_MissingFile(t *testing.T) {
	parser := NewCUEParser()

	proj, err := parser.Load(context.Background(), filepath.Join(t.TempDir(), "forge.cue"))
	if err != nil {
		t.Fatalf("missing config should yield defaults, got error: %v", err)
	}
	if proj.Build.Backend != "cpu" {
		t.Errorf("backend = %s, want cpu", proj.Build.Backend)
	}
}

func TestCUEParser_Load_File(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "forge.cue")
	content := `build: backend: "tpu"`
	if err := os.WriteFile(file, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	parser := NewCUEParser()
	proj, err := parser.Load(context.Background(), file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if proj.Build.Backend != "tpu" {
		t.Errorf("backend = %s, want tpu", proj.Build.Backend)
	}
	if proj.Source != file {
		t.Errorf("source = %s, want %s", proj.Source, file)
	}
}

func TestTestsConfig_ShouldRun(t *testing.T) {
	tests := []struct {
		name    string
		filters []TestFilter
		test    string
		want    bool
	}{
		{"no filters runs everything", nil, "anything", true},
		{
			"skip filter excludes match",
			[]TestFilter{{Pattern: "slow_*", Action: "skip"}},
			"slow_matmul", false,
		},
		{
			"skip filter keeps non-match",
			[]TestFilter{{Pattern: "slow_*", Action: "skip"}},
			"fast_matmul", true,
		},
		{
			"only filter restricts run set",
			[]TestFilter{{Pattern: "gpu_*", Action: "only"}},
			"cpu_reduce", false,
		},
		{
			"only filter admits match",
			[]TestFilter{{Pattern: "gpu_*", Action: "only"}},
			"gpu_reduce", true,
		},
		{
			"skip wins over only",
			[]TestFilter{
				{Pattern: "gpu_*", Action: "only"},
				{Pattern: "gpu_flaky*", Action: "skip"},
			},
			"gpu_flaky_scan", false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tc := &TestsConfig{Filters: tt.filters}
			if got := tc.ShouldRun(tt.test); got != tt.want {
				t.Errorf("ShouldRun(%q) = %v, want %v", tt.test, got, tt.want)
			}
		})
	}
}
