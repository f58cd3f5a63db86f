package fetch

import (
	"fmt"
	"os"
	"time"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// LockfileVersion is the current lockfile schema version.
const LockfileVersion = 1

// Lockfile records the resolved state of every pin after a fetch.
type Lockfile struct {
	Version     int         `yaml:"version"`
	GeneratedAt time.Time   `yaml:"generated_at"`
	Archives    []LockEntry `yaml:"archives"`
}

// LockEntry is the resolved record for one pin.
type LockEntry struct {
	Name        string `yaml:"name"`
	Commit      string `yaml:"commit"`
	SHA256      string `yaml:"sha256,omitempty"`
	URL         string `yaml:"url,omitempty"`
	Path        string `yaml:"path"`
	ArchivePath string `yaml:"archive_path,omitempty"`
	SizeBytes   int64  `yaml:"size_bytes,omitempty"`
	Overridden  bool   `yaml:"overridden,omitempty"`
}

// Entry returns the lock entry for a pin name, or nil.
func (l *Lockfile) Entry(name string) *LockEntry {
	for i := range l.Archives {
		if l.Archives[i].Name == name {
			return &l.Archives[i]
		}
	}
	return nil
}

// NewLockfile builds a lockfile from fetch results.
func NewLockfile(results []*Result) *Lockfile {
	lf := &Lockfile{
		Version:     LockfileVersion,
		GeneratedAt: time.Now().UTC(),
	}
	for _, r := range results {
		lf.Archives = append(lf.Archives, LockEntry{
			Name:        r.Pin.Name,
			Commit:      r.Pin.Commit,
			SHA256:      r.SHA256,
			URL:         r.URL,
			Path:        r.Path,
			ArchivePath: r.ArchivePath,
			SizeBytes:   r.SizeBytes,
			Overridden:  r.Overridden,
		})
	}
	return lf
}

// MergeLockfile folds fetch results into an existing lockfile: entries are
// replaced by pin name in place, new pins are appended, and entries for pins
// outside the fetched set are kept. A nil existing lockfile starts fresh, so
// a partial fetch never drops the resolved state of untouched pins.
func MergeLockfile(existing *Lockfile, results []*Result) *Lockfile {
	fresh := NewLockfile(results)
	if existing == nil {
		return fresh
	}

	merged := &Lockfile{
		Version:     LockfileVersion,
		GeneratedAt: fresh.GeneratedAt,
		Archives:    make([]LockEntry, 0, len(existing.Archives)+len(fresh.Archives)),
	}
	replaced := make(map[string]bool, len(fresh.Archives))
	for _, old := range existing.Archives {
		if e := fresh.Entry(old.Name); e != nil {
			merged.Archives = append(merged.Archives, *e)
			replaced[old.Name] = true
			continue
		}
		merged.Archives = append(merged.Archives, old)
	}
	for _, e := range fresh.Archives {
		if !replaced[e.Name] {
			merged.Archives = append(merged.Archives, e)
		}
	}
	return merged
}

// WriteLockfile writes the lockfile atomically. A crash mid-write never
// leaves a truncated lockfile behind.
func WriteLockfile(path string, lf *Lockfile) error {
	data, err := yaml.Marshal(lf)
	if err != nil {
		return fmt.Errorf("failed to marshal lockfile: %w", err)
	}
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write lockfile: %w", err)
	}
	return nil
}

// ReadLockfile reads a lockfile from disk.
func ReadLockfile(path string) (*Lockfile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read lockfile: %w", err)
	}

	var lf Lockfile
	if err := yaml.Unmarshal(data, &lf); err != nil {
		return nil, fmt.Errorf("failed to parse lockfile: %w", err)
	}
	if lf.Version != LockfileVersion {
		return nil, fmt.Errorf("unsupported lockfile version %d", lf.Version)
	}
	return &lf, nil
}
