package policy

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LoadFromPaths reads .rego policy files. Each path may be a single file
// or a directory, which is walked recursively.
func LoadFromPaths(paths []string) ([]Policy, error) {
	var policies []Policy
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat policy path %s: %w", p, err)
		}

		if !info.IsDir() {
			policy, err := loadFile(p)
			if err != nil {
				return nil, err
			}
			policies = append(policies, *policy)
			continue
		}

		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".rego") {
				return nil
			}
			policy, err := loadFile(path)
			if err != nil {
				return err
			}
			policies = append(policies, *policy)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return policies, nil
}

// loadFile reads one policy file. The policy name is the file's base name
// and leading comment directives may override the defaults:
//
//	# description: what the policy checks
//	# severity: warning
func loadFile(path string) (*Policy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	policy := &Policy{
		Name:     strings.TrimSuffix(filepath.Base(path), ".rego"),
		Rego:     string(src),
		Severity: SeverityError,
		Enabled:  true,
	}

	for _, line := range strings.Split(string(src), "\n") {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			// Directives only appear in the leading comment block.
			if trimmed != "" {
				break
			}
			continue
		}
		directive := strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
		switch {
		case strings.HasPrefix(directive, "description:"):
			policy.Description = strings.TrimSpace(strings.TrimPrefix(directive, "description:"))
		case strings.HasPrefix(directive, "severity:"):
			sev := Severity(strings.TrimSpace(strings.TrimPrefix(directive, "severity:")))
			switch sev {
			case SeverityInfo, SeverityWarning, SeverityError:
				policy.Severity = sev
			default:
				return nil, fmt.Errorf("policy %s has unknown severity %q", policy.Name, sev)
			}
		}
	}

	return policy, nil
}
