package model

import (
	"context"
	"time"
)

// JobConfig is the single durable record per job kind. NextRunAt is an
// advisory cache of the last computed schedule time; the schedule computer
// output is authoritative.
type JobConfig struct {
	Kind          JobKind    `json:"kind"`
	Enabled       bool       `json:"enabled"`
	IntervalHours uint       `json:"intervalHours"`
	LastRunAt     *time.Time `json:"lastRunAt"`
	NextRunAt     *time.Time `json:"nextRunAt"`
	Running       bool       `json:"running"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// ConfigPatch carries the operator-editable fields; nil means "keep current".
type ConfigPatch struct {
	Enabled       *bool
	IntervalHours *uint
}

type ConfigStore interface {
	// Get returns the config for kind, creating the default record if absent.
	Get(ctx context.Context, kind JobKind) (JobConfig, error)
	List(ctx context.Context) ([]JobConfig, error)
	// Update merges the patch into the stored config. Enabled and
	// IntervalHours always resolve to a defined value.
	Update(ctx context.Context, kind JobKind, patch ConfigPatch) (JobConfig, error)
	// SetRunning forces the running flag; a non-nil lastRunAt stamps the
	// completion time. Used by the guard release and the operator PATCH.
	SetRunning(ctx context.Context, kind JobKind, running bool, lastRunAt *time.Time) (JobConfig, error)
	// TryMarkRunning atomically flips running to true iff it was false.
	// Returns false without side effects when a run is already in flight.
	TryMarkRunning(ctx context.Context, kind JobKind) (bool, error)
	// SetNextRun stores the advisory next-run cache; nil clears it.
	SetNextRun(ctx context.Context, kind JobKind, next *time.Time) error
}
