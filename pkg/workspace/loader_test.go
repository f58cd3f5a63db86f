package workspace

import (
	"context"
	"strings"
	"testing"
	"time"
)

const validSHA = "b31591e9b2a69d0797e67027cb0247acef46dea5bcfa462201b39c9ba7e7f39b"

func newTestLoader(env map[string]string) *Loader {
	l := NewLoader(5 * time.Second)
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func TestLoader_LoadSource(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name      string
		content   string
		env       map[string]string
		wantErr   string
		checkFunc func(*testing.T, *Workspace)
	}{
		{
			name: "single archive",
			content: `
archive(
    name = "xla-toolchain",
    commit = "4ccfe33c71101c9c14834a8b0bbc68e2cafac0ce",
    sha256 = "` + validSHA + `",
    urls = ["https://github.com/openxla/xla/archive/{commit}.tar.gz"],
    strip_prefix = "xla-{commit}",
)
`,
			checkFunc: func(t *testing.T, ws *Workspace) {
				if len(ws.Pins) != 1 {
					t.Fatalf("expected 1 pin, got %d", len(ws.Pins))
				}
				p := ws.Pins[0]
				if p.Name != "xla-toolchain" {
					t.Errorf("unexpected name: %s", p.Name)
				}
				urls := p.ResolvedURLs()
				want := "https://github.com/openxla/xla/archive/4ccfe33c71101c9c14834a8b0bbc68e2cafac0ce.tar.gz"
				if urls[0] != want {
					t.Errorf("resolved URL = %s, want %s", urls[0], want)
				}
			},
		},
		{
			name: "multiple archives preserve order",
			content: `
archive(name = "aa", commit = "1111111", sha256 = "` + validSHA + `", urls = ["https://example.com/a.tar.gz"])
archive(name = "bb", commit = "2222222", sha256 = "` + validSHA + `", urls = ["https://example.com/b.tar.gz"])
`,
			checkFunc: func(t *testing.T, ws *Workspace) {
				if len(ws.Pins) != 2 {
					t.Fatalf("expected 2 pins, got %d", len(ws.Pins))
				}
				if ws.Pins[0].Name != "aa" || ws.Pins[1].Name != "bb" {
					t.Errorf("declaration order not preserved: %v, %v", ws.Pins[0].Name, ws.Pins[1].Name)
				}
			},
		},
		{
			name: "duplicate pin rejected",
			content: `
archive(name = "aa", commit = "1111111", sha256 = "` + validSHA + `", urls = ["https://example.com/a.tar.gz"])
archive(name = "aa", commit = "2222222", sha256 = "` + validSHA + `", urls = ["https://example.com/b.tar.gz"])
`,
			wantErr: "duplicate pin",
		},
		{
			name: "missing sha256 rejected",
			content: `
archive(name = "aa", commit = "1111111", sha256 = "", urls = ["https://example.com/a.tar.gz"])
`,
			wantErr: "sha256 is required",
		},
		{
			name: "bad sha256 length rejected",
			content: `
archive(name = "aa", commit = "1111111", sha256 = "abcd", urls = ["https://example.com/a.tar.gz"])
`,
			wantErr: "validation",
		},
		{
			name: "local_override skips checksum requirement",
			content: `
archive(name = "aa", commit = "1111111", sha256 = "", urls = [])
local_override(name = "aa", path = "/src/local-toolchain")
`,
			checkFunc: func(t *testing.T, ws *Workspace) {
				p := ws.Pin("aa")
				if !p.Overridden() {
					t.Fatal("expected pin to be overridden")
				}
				if p.Override != "/src/local-toolchain" {
					t.Errorf("unexpected override path: %s", p.Override)
				}
			},
		},
		{
			name: "local_override for unknown pin rejected",
			content: `
local_override(name = "missing", path = "/tmp/x")
`,
			wantErr: "unknown pin",
		},
		{
			name: "env override wins over workspace declaration",
			content: `
archive(name = "aa", commit = "1111111", sha256 = "` + validSHA + `", urls = ["https://example.com/a.tar.gz"])
local_override(name = "aa", path = "/src/checked-in")
`,
			env: map[string]string{
				"FORGE_OVERRIDE_AA": "/src/from-env",
			},
			checkFunc: func(t *testing.T, ws *Workspace) {
				if got := ws.Pin("aa").Override; got != "/src/from-env" {
					t.Errorf("override = %s, want /src/from-env", got)
				}
			},
		},
		{
			name:    "syntax error reported",
			content: `archive(name = `,
			wantErr: "workspace evaluation failed",
		},
		{
			name: "starlark logic allowed",
			content: `
_commit = "3333333"
_mirrors = ["https://mirror-%d.example.com/{commit}.tar.gz" % i for i in [1, 2]]
archive(name = "cc", commit = _commit, sha256 = "` + validSHA + `", urls = _mirrors)
`,
			checkFunc: func(t *testing.T, ws *Workspace) {
				p := ws.Pin("cc")
				if len(p.URLs) != 2 {
					t.Fatalf("expected 2 urls, got %d", len(p.URLs))
				}
				if got := p.ResolvedURLs()[1]; got != "https://mirror-2.example.com/3333333.tar.gz" {
					t.Errorf("unexpected resolved URL: %s", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loader := newTestLoader(tt.env)
			ws, err := loader.LoadSource(ctx, "WORKSPACE.star", tt.content)

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
				tt.checkFunc(t, ws)
			}
		})
	}
}

func TestEnvOverrideName(t *testing.T) {
	tests := []struct {
		pin  string
		want string
	}{
		{"xla-toolchain", "FORGE_OVERRIDE_XLA_TOOLCHAIN"},
		{"llvm.project", "FORGE_OVERRIDE_LLVM_PROJECT"},
		{"simple", "FORGE_OVERRIDE_SIMPLE"},
	}
	for _, tt := range tests {
		if got := EnvOverrideName(tt.pin); got != tt.want {
			t.Errorf("EnvOverrideName(%q) = %q, want %q", tt.pin, got, tt.want)
		}
	}
}
