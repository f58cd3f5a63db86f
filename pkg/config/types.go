package config

import (
	"path"
	"strings"
	"time"
)

// Project is the parsed forge.cue configuration.
type Project struct {
	Build  BuildConfig  `json:"build"`
	Checks ChecksConfig `json:"checks"`
	Tests  TestsConfig  `json:"tests"`

	// Source is the path the configuration was loaded from.
	Source string `json:"-"`

	// ParsedAt records when the configuration was parsed.
	ParsedAt time.Time `json:"-"`
}

// BuildConfig controls fetching, the content store, and compilation.
type BuildConfig struct {
	// Backend is the default compilation backend platform.
	Backend string `json:"backend" validate:"required"`

	// Parallelism bounds concurrent archive fetches.
	Parallelism int `json:"parallelism" validate:"gte=1,lte=64"`

	// StoreDir is where verified archives are extracted.
	StoreDir string `json:"store_dir" validate:"required"`

	// CacheDir is the persistent compilation cache directory.
	CacheDir string `json:"cache_dir" validate:"required"`

	// CacheMinCompileSeconds gates cache writes: compilations faster than
	// this are not worth persisting.
	CacheMinCompileSeconds float64 `json:"cache_min_compile_seconds" validate:"gte=0"`

	// StrictCacheErrors turns cache read/write failures into hard errors
	// instead of warnings.
	StrictCacheErrors bool `json:"strict_cache_errors"`

	// DisableMostOptimizations lowers the backend optimization level to 0.
	// Useful when optimization costs more than running unoptimized code.
	DisableMostOptimizations bool `json:"disable_most_optimizations"`

	// DumpIRTo, when set, is a directory where compiler input IR is dumped
	// as text files.
	DumpIRTo string `json:"dump_ir_to"`
}

// Suppression silences a named check, optionally scoped to a path prefix.
type Suppression struct {
	Check  string `json:"check" validate:"required"`
	Path   string `json:"path,omitempty"`
	Reason string `json:"reason" validate:"required"`
}

// ChecksConfig holds static-analysis suppressions and the URL host allowlist.
type ChecksConfig struct {
	Suppressions []Suppression `json:"suppressions,omitempty" validate:"dive"`

	// AllowedHosts are hosts archives may be fetched from. Empty means any
	// host is accepted.
	AllowedHosts []string `json:"allowed_hosts,omitempty"`
}

// IsSuppressed reports whether the named check is suppressed for the given
// path. A suppression without a path applies everywhere.
func (c *ChecksConfig) IsSuppressed(check, p string) bool {
	for _, s := range c.Suppressions {
		if s.Check != check {
			continue
		}
		if s.Path == "" || strings.HasPrefix(p, s.Path) {
			return true
		}
	}
	return false
}

// HostAllowed reports whether the host is permitted by the allowlist.
func (c *ChecksConfig) HostAllowed(host string) bool {
	if len(c.AllowedHosts) == 0 {
		return true
	}
	for _, h := range c.AllowedHosts {
		if strings.EqualFold(h, host) {
			return true
		}
	}
	return false
}

// TestFilter is a single test-runner filter rule.
type TestFilter struct {
	// Pattern is a glob matched against the test name.
	Pattern string `json:"pattern" validate:"required"`

	// Action is "skip" or "only".
	Action string `json:"action" validate:"required,oneof=skip only"`

	Reason string `json:"reason,omitempty"`
}

// TestsConfig holds the test-filter rules.
type TestsConfig struct {
	Filters []TestFilter `json:"filters,omitempty" validate:"dive"`
}

// ShouldRun applies the filter rules to a test name. "only" rules, when
// present, restrict the run set; "skip" rules always exclude.
func (t *TestsConfig) ShouldRun(name string) bool {
	hasOnly := false
	matchedOnly := false

	for _, f := range t.Filters {
		ok, err := path.Match(f.Pattern, name)
		if err != nil {
			// An invalid pattern never matches; Load validates patterns
			// so this only happens for hand-built configs.
			continue
		}
		switch f.Action {
		case "skip":
			if ok {
				return false
			}
		case "only":
			hasOnly = true
			if ok {
				matchedOnly = true
			}
		}
	}

	if hasOnly {
		return matchedOnly
	}
	return true
}

// Default returns the built-in project configuration.
func Default() *Project {
	return &Project{
		Build: BuildConfig{
			Backend:                "cpu",
			Parallelism:            4,
			StoreDir:               ".forge/store",
			CacheDir:               ".forge/cache",
			CacheMinCompileSeconds: 1.0,
		},
	}
}
