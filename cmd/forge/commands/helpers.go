package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/arrayforge/arrayforge/pkg/config"
	"github.com/arrayforge/arrayforge/pkg/policy"
	"github.com/arrayforge/arrayforge/pkg/telemetry"
	"github.com/arrayforge/arrayforge/pkg/workspace"
)

const (
	defaultWorkspaceFile = "forge.star"
	defaultConfigFile    = "forge.cue"
	defaultLockfileName  = "forge.lock"
	defaultPolicyDir     = "policies"

	workspaceLoadTimeout = 30 * time.Second
)

// resolveConfigPath applies the --config flag.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return defaultConfigFile
}

// resolveWorkspacePath applies the --workspace flag.
func resolveWorkspacePath() string {
	if workspacePath != "" {
		return workspacePath
	}
	return defaultWorkspaceFile
}

// loadProject parses the CUE project config. A missing file yields the
// defaults.
func loadProject(ctx context.Context) (*config.Project, error) {
	return config.NewCUEParser().Load(ctx, resolveConfigPath())
}

// loadWorkspace evaluates and validates the Starlark workspace file.
func loadWorkspace(ctx context.Context) (*workspace.Workspace, error) {
	ws, err := workspace.NewLoader(workspaceLoadTimeout).Load(ctx, resolveWorkspacePath())
	if err != nil {
		return nil, err
	}
	if err := ws.Validate(); err != nil {
		return nil, err
	}
	return ws, nil
}

// newPolicyEngine builds the admission engine with the builtin rules plus
// any project policies under the policies directory.
func newPolicyEngine(ctx context.Context) (*policy.Engine, error) {
	engine, err := policy.NewEngine(nil)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(defaultPolicyDir); err == nil && info.IsDir() {
		if err := engine.LoadPolicies(ctx, []string{defaultPolicyDir}); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

// selectPins returns the pins to operate on, restricted to only when it is
// non-empty.
func selectPins(ws *workspace.Workspace, only []string) ([]*workspace.Pin, error) {
	if len(only) == 0 {
		return ws.Pins, nil
	}
	pins := make([]*workspace.Pin, 0, len(only))
	for _, name := range only {
		pin := ws.Pin(name)
		if pin == nil {
			return nil, fmt.Errorf("unknown pin: %s", name)
		}
		pins = append(pins, pin)
	}
	return pins, nil
}

// applySuppressions drops violations and warnings silenced by the
// checks.suppressions table. The suppression path scopes to the archive name.
func applySuppressions(checks *config.ChecksConfig, result *policy.Result) {
	result.Violations = dropSuppressed(checks, result.Violations)
	result.Warnings = dropSuppressed(checks, result.Warnings)
	result.Allowed = len(result.Violations) == 0
}

func dropSuppressed(checks *config.ChecksConfig, vs []policy.Violation) []policy.Violation {
	kept := vs[:0]
	for _, v := range vs {
		if checks.IsSuppressed(v.Policy, v.Archive) {
			continue
		}
		kept = append(kept, v)
	}
	return kept
}

// newTracer builds the span tracer from the FORGE_TRACE environment
// variable: unset disables tracing, "stdout" pretty-prints spans, anything
// else is taken as an OTLP gRPC endpoint.
func newTracer() (*telemetry.Tracer, error) {
	cfg := telemetry.DefaultConfig().Tracing
	switch exp := os.Getenv("FORGE_TRACE"); exp {
	case "":
		cfg.Enabled = false
	case "stdout":
		cfg.Enabled = true
		cfg.Exporter = "stdout"
	default:
		cfg.Enabled = true
		cfg.Exporter = "otlp"
		cfg.Endpoint = exp
	}
	return telemetry.NewTracer(cfg, "forge", "", "cli")
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
