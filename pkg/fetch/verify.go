package fetch

import (
	"fmt"
	"os"
	"strings"
)

// VerifyStatus is the outcome of re-checking one installed pin.
type VerifyStatus string

const (
	VerifyOK         VerifyStatus = "ok"
	VerifyMissing    VerifyStatus = "missing"
	VerifyMismatch   VerifyStatus = "mismatch"
	VerifyOverridden VerifyStatus = "overridden"
)

// Finding is the verification result for one lockfile entry.
type Finding struct {
	Name   string       `json:"name"`
	Status VerifyStatus `json:"status"`
	Detail string       `json:"detail,omitempty"`
}

// Failed reports whether the finding should fail verification. Overridden
// pins are reported but never fail: they are explicitly outside the
// checksum contract.
func (f Finding) Failed() bool {
	return f.Status == VerifyMissing || f.Status == VerifyMismatch
}

// Verify re-hashes every archive recorded in the lockfile against its
// pinned checksum. Any mismatch or missing install is a failure; callers
// must treat failures as fatal (fail closed).
func Verify(lf *Lockfile) []Finding {
	findings := make([]Finding, 0, len(lf.Archives))

	for _, e := range lf.Archives {
		findings = append(findings, verifyEntry(e))
	}
	return findings
}

func verifyEntry(e LockEntry) Finding {
	if e.Overridden {
		return Finding{
			Name:   e.Name,
			Status: VerifyOverridden,
			Detail: fmt.Sprintf("local override at %s, checksum not enforced", e.Path),
		}
	}

	if _, err := os.Stat(e.Path); err != nil {
		return Finding{
			Name:   e.Name,
			Status: VerifyMissing,
			Detail: fmt.Sprintf("installed tree %s is missing", e.Path),
		}
	}

	if e.ArchivePath == "" {
		return Finding{
			Name:   e.Name,
			Status: VerifyMissing,
			Detail: "lockfile entry has no archive to verify",
		}
	}

	got, err := HashFile(e.ArchivePath)
	if err != nil {
		return Finding{
			Name:   e.Name,
			Status: VerifyMissing,
			Detail: fmt.Sprintf("archive %s is unreadable: %v", e.ArchivePath, err),
		}
	}

	if !strings.EqualFold(got, e.SHA256) {
		return Finding{
			Name:   e.Name,
			Status: VerifyMismatch,
			Detail: fmt.Sprintf("archive sha256 %s does not match pinned %s", got, e.SHA256),
		}
	}

	return Finding{Name: e.Name, Status: VerifyOK}
}
