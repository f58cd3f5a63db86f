package stores

import (
	"time"
)

// RunStatus represents the status of a fetch run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// ArchiveStatus represents how a run satisfied one archive pin.
type ArchiveStatus string

const (
	ArchiveStatusDownloaded ArchiveStatus = "downloaded"
	ArchiveStatusCached     ArchiveStatus = "cached"
	ArchiveStatusOverridden ArchiveStatus = "overridden"
	ArchiveStatusFailed     ArchiveStatus = "failed"
)

// EventLevel represents the severity level of an event.
type EventLevel string

const (
	EventLevelDebug   EventLevel = "debug"
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run represents one invocation of the fetcher against a workspace file.
type Run struct {
	ID            string     `json:"id"`
	WorkspacePath string     `json:"workspace_path"`
	Status        RunStatus  `json:"status"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	Error         *string    `json:"error,omitempty"`
	Metadata      string     `json:"metadata"` // JSON blob
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// Archive records how one pin was satisfied during a run.
type Archive struct {
	ID          string        `json:"id"`
	RunID       string        `json:"run_id"`
	Name        string        `json:"name"`
	Commit      string        `json:"commit"`
	SHA256      string        `json:"sha256"`
	URL         string        `json:"url"`
	InstallPath string        `json:"install_path"`
	Status      ArchiveStatus `json:"status"`
	SizeBytes   int64         `json:"size_bytes"`
	DurationMS  int64         `json:"duration_ms"`
	Error       *string       `json:"error,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Event represents an append-only audit log entry.
type Event struct {
	ID        int64      `json:"id"`
	RunID     *string    `json:"run_id,omitempty"`
	Archive   *string    `json:"archive,omitempty"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Fields    string     `json:"fields"` // JSON blob
	CreatedAt time.Time  `json:"created_at"`
}
