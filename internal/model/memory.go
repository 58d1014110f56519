package model

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process ConfigStore and RunLog. It backs tests and
// small single-node deployments that have no postgres at hand. Each kind has
// its own lock so operations on different kinds proceed in parallel. Both
// maps are fully populated at construction and never written again; only the
// pointed-to configs mutate, each under its kind's lock.
type MemoryStore struct {
	locks   map[JobKind]*sync.Mutex
	configs map[JobKind]*JobConfig

	logLock sync.Mutex
	runs    []JobRun

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	locks := make(map[JobKind]*sync.Mutex, len(Kinds()))
	configs := make(map[JobKind]*JobConfig, len(Kinds()))
	createdAt := time.Now()
	for _, kind := range Kinds() {
		locks[kind] = &sync.Mutex{}
		configs[kind] = &JobConfig{
			Kind:          kind,
			Enabled:       true,
			IntervalHours: kind.DefaultInterval(),
			UpdatedAt:     createdAt,
		}
	}
	return &MemoryStore{
		locks:   locks,
		configs: configs,
		now:     time.Now,
	}
}

// SetClock replaces the time source, for tests.
func (ms *MemoryStore) SetClock(now func() time.Time) {
	ms.now = now
}

func (ms *MemoryStore) lock(kind JobKind) (*sync.Mutex, error) {
	mutex, ok := ms.locks[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrorUnknownKind, string(kind))
	}
	return mutex, nil
}

func (ms *MemoryStore) Get(ctx context.Context, kind JobKind) (JobConfig, error) {
	mutex, err := ms.lock(kind)
	if err != nil {
		return JobConfig{}, err
	}
	mutex.Lock()
	defer mutex.Unlock()
	return *ms.configs[kind], nil
}

func (ms *MemoryStore) List(ctx context.Context) ([]JobConfig, error) {
	configs := make([]JobConfig, 0, len(Kinds()))
	for _, kind := range Kinds() {
		config, err := ms.Get(ctx, kind)
		if err != nil {
			return nil, err
		}
		configs = append(configs, config)
	}
	return configs, nil
}

func (ms *MemoryStore) Update(ctx context.Context, kind JobKind, patch ConfigPatch) (JobConfig, error) {
	mutex, err := ms.lock(kind)
	if err != nil {
		return JobConfig{}, err
	}
	mutex.Lock()
	defer mutex.Unlock()

	config := ms.configs[kind]
	enabled := config.Enabled
	if patch.Enabled != nil {
		enabled = *patch.Enabled
	}
	interval := config.IntervalHours
	if patch.IntervalHours != nil {
		interval = *patch.IntervalHours
	}
	if err := kind.ValidateInterval(interval); err != nil {
		return JobConfig{}, err
	}

	config.Enabled = enabled
	config.IntervalHours = interval
	config.UpdatedAt = ms.now()
	return *config, nil
}

func (ms *MemoryStore) SetRunning(ctx context.Context, kind JobKind, running bool, lastRunAt *time.Time) (JobConfig, error) {
	mutex, err := ms.lock(kind)
	if err != nil {
		return JobConfig{}, err
	}
	mutex.Lock()
	defer mutex.Unlock()

	config := ms.configs[kind]
	config.Running = running
	if lastRunAt != nil {
		stamp := *lastRunAt
		config.LastRunAt = &stamp
	}
	config.UpdatedAt = ms.now()
	return *config, nil
}

func (ms *MemoryStore) TryMarkRunning(ctx context.Context, kind JobKind) (bool, error) {
	mutex, err := ms.lock(kind)
	if err != nil {
		return false, err
	}
	mutex.Lock()
	defer mutex.Unlock()

	config := ms.configs[kind]
	if config.Running {
		return false, nil
	}
	config.Running = true
	config.UpdatedAt = ms.now()
	return true, nil
}

func (ms *MemoryStore) SetNextRun(ctx context.Context, kind JobKind, next *time.Time) error {
	mutex, err := ms.lock(kind)
	if err != nil {
		return err
	}
	mutex.Lock()
	defer mutex.Unlock()

	config := ms.configs[kind]
	if next != nil {
		stamp := *next
		config.NextRunAt = &stamp
	} else {
		config.NextRunAt = nil
	}
	config.UpdatedAt = ms.now()
	return nil
}

func (ms *MemoryStore) RecordStart(ctx context.Context, kind JobKind, message string) (string, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", ErrorUnknownKind, string(kind))
	}
	entry := JobRun{
		ID:        uuid.NewString(),
		Kind:      kind,
		Status:    StatusStarted,
		Message:   message,
		CreatedAt: ms.now(),
	}

	ms.logLock.Lock()
	defer ms.logLock.Unlock()
	ms.runs = append(ms.runs, entry)
	return entry.ID, nil
}

func (ms *MemoryStore) RecordTerminal(ctx context.Context, runID string, status RunStatus, message string, durationMs uint64, itemsProcessed *uint64, errorMessages []string) error {
	if status != StatusCompleted && status != StatusError {
		return fmt.Errorf("status %q is not terminal", status)
	}

	ms.logLock.Lock()
	defer ms.logLock.Unlock()

	var started *JobRun
	for i := range ms.runs {
		if ms.runs[i].RunID == runID && ms.runs[i].Status != StatusStarted {
			return nil // already recorded
		}
		if ms.runs[i].ID == runID && ms.runs[i].Status == StatusStarted {
			started = &ms.runs[i]
		}
	}
	if started == nil {
		return fmt.Errorf("run %s: %w", runID, ErrorNotFound)
	}

	duration := durationMs
	entry := JobRun{
		ID:            uuid.NewString(),
		RunID:         runID,
		Kind:          started.Kind,
		Status:        status,
		Message:       message,
		DurationMs:    &duration,
		ErrorMessages: errorMessages,
		CreatedAt:     ms.now(),
	}
	if itemsProcessed != nil {
		items := *itemsProcessed
		entry.ItemsProcessed = &items
	}
	ms.runs = append(ms.runs, entry)
	return nil
}

func (ms *MemoryStore) Append(ctx context.Context, entry JobRun) error {
	if !entry.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrorUnknownKind, string(entry.Kind))
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = ms.now()
	}

	ms.logLock.Lock()
	defer ms.logLock.Unlock()
	ms.runs = append(ms.runs, entry)
	return nil
}

func (ms *MemoryStore) Query(ctx context.Context, kind JobKind, limit int, before *time.Time) ([]JobRun, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrorUnknownKind, string(kind))
	}

	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}

	ms.logLock.Lock()
	defer ms.logLock.Unlock()

	// Appends are chronological, so reverse insertion order is newest first.
	capacity := limit
	if capacity > len(ms.runs) {
		capacity = len(ms.runs)
	}
	matched := make([]JobRun, 0, capacity)
	for i := len(ms.runs) - 1; i >= 0 && len(matched) < limit; i-- {
		run := ms.runs[i]
		if run.Kind != kind {
			continue
		}
		if before != nil && !run.CreatedAt.Before(*before) {
			continue
		}
		matched = append(matched, run)
	}
	return matched, nil
}
