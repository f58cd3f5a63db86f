package policy

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arrayforge/arrayforge/pkg/workspace"
)

const (
	fullCommit = "0123456789abcdef0123456789abcdef01234567"
	testSHA    = "a665a45920422f9d417e4867efdc4fb8a04a1f3fff1fa07e998e86f7f7a27ae3"
)

func goodPin() *workspace.Pin {
	return &workspace.Pin{
		Name:   "runtime",
		Commit: fullCommit,
		SHA256: testSHA,
		URLs:   []string{"https://github.com/example/runtime/archive/" + fullCommit + ".tar.gz"},
	}
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e
}

func violationPolicies(vs []Violation) []string {
	var names []string
	for _, v := range vs {
		names = append(names, v.Policy)
	}
	return names
}

func TestEvaluatePin(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	tests := []struct {
		name         string
		pin          func() *workspace.Pin
		allowedHosts []string
		wantAllowed  bool
		wantPolicy   string // expected in violations or warnings
	}{
		{
			name:        "clean pin passes",
			pin:         goodPin,
			wantAllowed: true,
		},
		{
			name: "plain http is denied",
			pin: func() *workspace.Pin {
				p := goodPin()
				p.URLs = []string{"http://github.com/example/runtime.tar.gz"}
				return p
			},
			wantAllowed: false,
			wantPolicy:  "archive-transport",
		},
		{
			name: "missing checksum is denied",
			pin: func() *workspace.Pin {
				p := goodPin()
				p.SHA256 = ""
				return p
			},
			wantAllowed: false,
			wantPolicy:  "archive-integrity",
		},
		{
			name: "abbreviated commit warns",
			pin: func() *workspace.Pin {
				p := goodPin()
				p.Commit = "0123456"
				return p
			},
			wantAllowed: true,
			wantPolicy:  "archive-integrity",
		},
		{
			name:         "host on allowlist passes",
			pin:          goodPin,
			allowedHosts: []string{"github.com"},
			wantAllowed:  true,
		},
		{
			name:         "host off allowlist is denied",
			pin:          goodPin,
			allowedHosts: []string{"downloads.example.com"},
			wantAllowed:  false,
			wantPolicy:   "archive-hosts",
		},
		{
			name: "override skips remote checks but warns",
			pin: func() *workspace.Pin {
				p := goodPin()
				p.Override = "/home/dev/runtime"
				p.SHA256 = ""
				p.URLs = []string{"http://github.com/example/runtime.tar.gz"}
				return p
			},
			allowedHosts: []string{"downloads.example.com"},
			wantAllowed:  true,
			wantPolicy:   "local-override",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.EvaluatePin(ctx, tt.pin(), tt.allowedHosts)
			if err != nil {
				t.Fatalf("EvaluatePin: %v", err)
			}
			if result.Allowed != tt.wantAllowed {
				t.Errorf("allowed = %v, want %v (violations: %v)",
					result.Allowed, tt.wantAllowed, result.Violations)
			}
			if tt.wantPolicy == "" {
				return
			}
			all := append(violationPolicies(result.Violations), violationPolicies(result.Warnings)...)
			found := false
			for _, name := range all {
				if name == tt.wantPolicy {
					found = true
				}
			}
			if !found {
				t.Errorf("expected finding from policy %s, got %v", tt.wantPolicy, all)
			}
		})
	}
}

func TestSetEnabled(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	pin := goodPin()
	pin.URLs = []string{"http://github.com/example/runtime.tar.gz"}

	if err := e.SetEnabled("archive-transport", false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	result, err := e.EvaluatePin(ctx, pin, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Errorf("disabled policy still denied the pin: %v", result.Violations)
	}

	if err := e.SetEnabled("no-such-policy", true); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestLoadProjectPolicies(t *testing.T) {
	dir := t.TempDir()
	src := `# description: rejects every pin
# severity: error
package forge.policies.custom

import rego.v1

deny contains violation if {
	input.pin
	violation := {
		"message": sprintf("pin %s rejected by project policy", [input.pin.name]),
		"severity": "error",
		"archive": input.pin.name,
	}
}
`
	if err := os.WriteFile(filepath.Join(dir, "reject-all.rego"), []byte(src), 0o644); err != nil {
		t.Fatal(err)
	}

	e := newTestEngine(t)
	ctx := context.Background()
	if err := e.LoadPolicies(ctx, []string{dir}); err != nil {
		t.Fatalf("LoadPolicies: %v", err)
	}

	p, err := e.GetPolicy("reject-all")
	if err != nil {
		t.Fatalf("GetPolicy: %v", err)
	}
	if p.Description != "rejects every pin" {
		t.Errorf("description = %q", p.Description)
	}

	result, err := e.EvaluatePin(ctx, goodPin(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if result.Allowed {
		t.Error("project policy should have denied the pin")
	}
}

func TestListPolicies(t *testing.T) {
	e := newTestEngine(t)

	policies := e.ListPolicies()
	if len(policies) != len(BuiltinPolicies()) {
		t.Fatalf("policies = %d, want %d", len(policies), len(BuiltinPolicies()))
	}
	for i := 1; i < len(policies); i++ {
		if strings.Compare(policies[i-1].Name, policies[i].Name) > 0 {
			t.Errorf("policies not sorted: %s before %s", policies[i-1].Name, policies[i].Name)
		}
	}
}
