package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"

	"github.com/arrayforge/arrayforge/pkg/telemetry"
	"github.com/arrayforge/arrayforge/pkg/workspace"
)

// Engine compiles and evaluates admission rules.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   *telemetry.Logger
}

// compiledPolicy is a policy with its prepared deny query.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates an engine with the builtin policies loaded.
func NewEngine(logger *telemetry.Logger) (*Engine, error) {
	if logger == nil {
		l, err := telemetry.NewLogger(telemetry.DefaultConfig().Logging)
		if err != nil {
			return nil, err
		}
		logger = l
	}

	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.NewComponentLogger("policy"),
	}

	for _, p := range BuiltinPolicies() {
		p := p
		if err := e.compileAndStore(context.Background(), &p); err != nil {
			return nil, fmt.Errorf("failed to compile builtin policy %s: %w", p.Name, err)
		}
	}

	return e, nil
}

// LoadPolicies loads and compiles project policy files on top of the
// builtins. Later loads with the same name replace earlier policies.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := LoadFromPaths(paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range policies {
		if err := e.compileAndStore(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.WithField("count", len(policies)).Info("project policies loaded")
	return nil
}

// EvaluatePin runs every enabled policy against a pin. The pin is allowed
// when no violation at error severity was produced.
func (e *Engine) EvaluatePin(ctx context.Context, pin *workspace.Pin, allowedHosts []string) (*Result, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if allowedHosts == nil {
		allowedHosts = []string{}
	}
	input, err := toInputDocument(&Input{
		Pin:          pin,
		AllowedHosts: allowedHosts,
		Operation:    "fetch",
	})
	if err != nil {
		return nil, err
	}

	result := &Result{Allowed: true, EvaluatedAt: time.Now()}

	for _, cp := range e.sortedPolicies() {
		if !cp.policy.Enabled {
			continue
		}

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			return nil, fmt.Errorf("policy %s evaluation failed: %w", cp.policy.Name, err)
		}

		for _, v := range violations {
			if v.Severity == SeverityError {
				result.Allowed = false
				result.Violations = append(result.Violations, v)
			} else {
				result.Warnings = append(result.Warnings, v)
			}
		}
	}

	e.logger.WithArchive(pin.Name).
		WithField("allowed", result.Allowed).
		WithField("violations", len(result.Violations)).
		Debug("pin admission evaluated")

	return result, nil
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}
	return cp.policy, nil
}

// ListPolicies returns all loaded policies sorted by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Policy, 0, len(e.policies))
	for _, cp := range e.sortedPolicies() {
		out = append(out, *cp.policy)
	}
	return out
}

// SetEnabled enables or disables a policy by name.
func (e *Engine) SetEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}
	cp.policy.Enabled = enabled
	return nil
}

// sortedPolicies returns the compiled policies in name order for
// deterministic evaluation. Callers hold at least a read lock.
func (e *Engine) sortedPolicies() []*compiledPolicy {
	out := make([]*compiledPolicy, 0, len(e.policies))
	for _, cp := range e.policies {
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].policy.Name < out[j].policy.Name })
	return out
}

// compileAndStore prepares the deny query for a policy. Callers hold the
// write lock (or run before the engine is shared).
func (e *Engine) compileAndStore(ctx context.Context, policy *Policy) error {
	query := fmt.Sprintf("data.%s.deny", packageName(policy.Rego))

	prepared, err := rego.New(
		rego.Module(policy.Name+".rego", policy.Rego),
		rego.Query(query),
	).PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		query:    prepared,
		compiled: time.Now(),
	}
	return nil
}

// evaluatePolicy runs one prepared deny query against the input document.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input map[string]interface{}) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, result := range results {
		for _, expr := range result.Expressions {
			denySet, ok := expr.Value.([]interface{})
			if !ok {
				continue
			}
			for _, d := range denySet {
				violations = append(violations, newViolation(cp.policy, d))
			}
		}
	}
	return violations, nil
}

// newViolation converts a deny result into a Violation, falling back to
// the policy's default severity.
func newViolation(policy *Policy, result interface{}) Violation {
	v := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
		if sev, ok := r["severity"].(string); ok {
			v.Severity = Severity(sev)
		}
		if archive, ok := r["archive"].(string); ok {
			v.Archive = archive
		}
	default:
		v.Message = fmt.Sprintf("%v", result)
	}

	return v
}

// packageName extracts the package name from Rego source.
func packageName(src string) string {
	for _, line := range strings.Split(src, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			if parts := strings.Fields(trimmed); len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "forge.policies"
}

// toInputDocument round-trips the input through JSON so OPA sees plain
// maps and slices.
func toInputDocument(in *Input) (map[string]interface{}, error) {
	buf, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal policy input: %w", err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(buf, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal policy input: %w", err)
	}
	return doc, nil
}
