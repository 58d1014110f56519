package model

import (
	"context"
	"time"
)

type RunStatus string

const (
	StatusStarted   RunStatus = "started"
	StatusCompleted RunStatus = "completed"
	StatusError     RunStatus = "error"
)

func ParseRunStatus(s string) (RunStatus, error) {
	switch RunStatus(s) {
	case StatusStarted, StatusCompleted, StatusError:
		return RunStatus(s), nil
	}
	return "", ErrorNotFound
}

// JobRun is one append-only activity log entry. A run is represented by a
// Started entry followed by exactly one terminal (completed or error) entry;
// the terminal entry's RunID references the Started entry's ID.
type JobRun struct {
	ID             string    `json:"id"`
	RunID          string    `json:"runId,omitempty"`
	Kind           JobKind   `json:"kind"`
	Status         RunStatus `json:"status"`
	Message        string    `json:"message"`
	DurationMs     *uint64   `json:"durationMs,omitempty"`
	ItemsProcessed *uint64   `json:"itemsProcessed,omitempty"`
	ErrorMessages  []string  `json:"errors,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

type RunLog interface {
	// RecordStart appends a Started entry and returns its id as the run id.
	RecordStart(ctx context.Context, kind JobKind, message string) (string, error)
	// RecordTerminal appends the terminal entry for runID. Repeat calls for
	// the same runID are no-ops: a flaky collector signalling completion
	// twice must not double the log.
	RecordTerminal(ctx context.Context, runID string, status RunStatus, message string, durationMs uint64, itemsProcessed *uint64, errorMessages []string) error
	// Append writes a fully formed entry (operator log endpoint).
	Append(ctx context.Context, entry JobRun) error
	// Query returns up to limit entries for kind, newest first, older than
	// before when it is non-nil. Limits above MaxQueryLimit are clamped.
	Query(ctx context.Context, kind JobKind, limit int, before *time.Time) ([]JobRun, error)
}

// MaxQueryLimit caps how many entries a single Query call returns; callers
// wanting more page with before.
const MaxQueryLimit = 500
