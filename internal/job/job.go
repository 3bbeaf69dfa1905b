package job

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is one unit of requested transcoding work. The record is owned
// by the store; callers get value copies and mutate through store
// methods, which enforce the queued -> processing -> completed/failed
// ordering.
type Job struct {
	ID       string   `json:"id"`
	Status   Status   `json:"status"`
	Command  []string `json:"command"`
	Progress int      `json:"progress"`
	// Uploads maps upload field names to staged file paths; command
	// placeholders resolve against it at dispatch time.
	Uploads     map[string]string `json:"-"`
	InputPaths  []string          `json:"-"`
	OutputPath  string            `json:"-"`
	LogLines    []string          `json:"-"`
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// New creates a queued job with a fresh id.
func New(command []string) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Command:   append([]string(nil), command...),
		CreatedAt: time.Now().UTC(),
	}
}
