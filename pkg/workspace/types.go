package workspace

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Pin is a single pinned external archive declared in the workspace file.
type Pin struct {
	// Name is the local name the archive is registered under.
	Name string `json:"name" validate:"required,min=1"`

	// Commit is the revision identifier of the pinned archive.
	Commit string `json:"commit" validate:"required,min=7"`

	// SHA256 is the expected content hash of the remote archive, hex encoded.
	// Empty only when a local override is in effect.
	SHA256 string `json:"sha256" validate:"omitempty,len=64,hexadecimal"`

	// URLs are candidate download locations. "{commit}" placeholders are
	// substituted with Commit at fetch time.
	URLs []string `json:"urls" validate:"omitempty,dive,url"`

	// StripPrefix is a leading path component removed during extraction.
	StripPrefix string `json:"strip_prefix,omitempty"`

	// Override is a local filesystem path that replaces the remote archive.
	// When set, no fetch happens and the checksum is not checked.
	Override string `json:"override,omitempty"`
}

// Overridden reports whether the pin is redirected to a local path.
func (p *Pin) Overridden() bool {
	return p.Override != ""
}

// ResolvedURLs returns the download URLs with commit placeholders expanded.
func (p *Pin) ResolvedURLs() []string {
	urls := make([]string, len(p.URLs))
	for i, u := range p.URLs {
		urls[i] = strings.ReplaceAll(u, "{commit}", p.Commit)
	}
	return urls
}

// Workspace is the parsed workspace file: an ordered list of pins.
type Workspace struct {
	// Source is the path the workspace was loaded from.
	Source string `json:"source"`

	// Pins are the declared archives in declaration order.
	Pins []*Pin `json:"pins"`
}

// Pin returns the pin with the given name, or nil.
func (w *Workspace) Pin(name string) *Pin {
	for _, p := range w.Pins {
		if p.Name == name {
			return p
		}
	}
	return nil
}

// Validate checks every pin against its struct tags and workspace-level
// rules: names must be unique, and a pin without a local override must carry
// a checksum and at least one URL.
func (w *Workspace) Validate() error {
	v := validator.New()

	seen := make(map[string]bool, len(w.Pins))
	for _, p := range w.Pins {
		if seen[p.Name] {
			return fmt.Errorf("duplicate pin %q", p.Name)
		}
		seen[p.Name] = true

		if err := v.Struct(p); err != nil {
			return fmt.Errorf("pin %q: %w", p.Name, err)
		}

		if p.Overridden() {
			continue
		}
		if p.SHA256 == "" {
			return fmt.Errorf("pin %q: sha256 is required without a local override", p.Name)
		}
		if len(p.URLs) == 0 {
			return fmt.Errorf("pin %q: at least one URL is required without a local override", p.Name)
		}
	}

	return nil
}

// EnvOverrideName returns the environment variable consulted for a local
// override of the named pin, e.g. "xla-toolchain" -> FORGE_OVERRIDE_XLA_TOOLCHAIN.
func EnvOverrideName(pin string) string {
	s := strings.ToUpper(pin)
	s = strings.NewReplacer("-", "_", ".", "_", "/", "_").Replace(s)
	return "FORGE_OVERRIDE_" + s
}
