// Package orchestrator ties the config store, schedule computer, activity
// log and collector registry together. It owns the single-flight guarantee:
// every run, manual or scheduled, passes through the same acquire/release
// path around the collector call.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"scraperd/internal/collector"
	"scraperd/internal/model"
	"scraperd/internal/schedule"
)

var (
	ErrorCollectorFailed  = errors.New("collector failed")
	ErrorCollectorTimeout = errors.New("collector timed out")
)

const (
	defaultRunTimeout = 10 * time.Minute
	recentRunsLimit   = 20
)

type Orchestrator struct {
	configs    model.ConfigStore
	runLog     model.RunLog
	sched      *schedule.Computer
	registry   *collector.Registry
	runTimeout time.Duration
	now        func() time.Time
}

// Status is the read-only projection polled by the dashboard.
type Status struct {
	Config          model.JobConfig `json:"config"`
	ComputedNextRun *time.Time      `json:"computedNextRun"`
	RecentRuns      []model.JobRun  `json:"recentRuns"`
}

type Option func(*Orchestrator)

// WithRunTimeout bounds how long RunNow waits for a collector.
func WithRunTimeout(timeout time.Duration) Option {
	return func(o *Orchestrator) { o.runTimeout = timeout }
}

// WithClock replaces the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(configs model.ConfigStore, runLog model.RunLog, sched *schedule.Computer, registry *collector.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		configs:    configs,
		runLog:     runLog,
		sched:      sched,
		registry:   registry,
		runTimeout: defaultRunTimeout,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RunNow executes one collection run for kind. It acquires the per-kind
// guard, records the start entry, invokes the collector under the run
// timeout, records the terminal entry and releases the guard. Collector
// failures come back as wrapped ErrorCollectorFailed/ErrorCollectorTimeout
// after the log and config have already been settled; the guard is released
// on every exit path.
func (o *Orchestrator) RunNow(ctx context.Context, kind model.JobKind) (collector.Summary, error) {
	if !kind.Valid() {
		return collector.Summary{}, fmt.Errorf("%w: %q", model.ErrorUnknownKind, string(kind))
	}
	coll, err := o.registry.Lookup(kind)
	if err != nil {
		return collector.Summary{}, err
	}

	acquired, err := o.configs.TryMarkRunning(ctx, kind)
	if err != nil {
		return collector.Summary{}, fmt.Errorf("failed acquiring run guard for %s: %w", kind, err)
	}
	if !acquired {
		return collector.Summary{}, fmt.Errorf("%w: %s", model.ErrorAlreadyRunning, kind)
	}

	startedAt := o.now()
	runID, err := o.runLog.RecordStart(ctx, kind, fmt.Sprintf("%s scrape started", kind))
	if err != nil {
		// The run must not proceed with no start entry, and the guard must
		// not stay held.
		o.release(ctx, kind, nil)
		return collector.Summary{}, fmt.Errorf("failed recording run start for %s: %w", kind, err)
	}

	log.WithFields(log.Fields{"kind": kind, "runId": runID}).Info("Starting scrape run")
	summary, collectErr := o.collect(ctx, coll)
	finishedAt := o.now()
	durationMs := uint64(finishedAt.Sub(startedAt).Milliseconds())

	if collectErr != nil {
		message := fmt.Sprintf("%s scrape failed", kind)
		wrapped := fmt.Errorf("%w: %s", ErrorCollectorFailed, collectErr.Error())
		if errors.Is(collectErr, context.DeadlineExceeded) {
			message = fmt.Sprintf("%s scrape timed out after %s", kind, o.runTimeout)
			wrapped = fmt.Errorf("%w after %s", ErrorCollectorTimeout, o.runTimeout)
		}
		if err := o.runLog.RecordTerminal(ctx, runID, model.StatusError, message, durationMs, nil, []string{collectErr.Error()}); err != nil {
			log.WithFields(log.Fields{"kind": kind, "runId": runID, "error": err}).Error("Failed recording error entry")
		}
		o.release(ctx, kind, &finishedAt)
		log.WithFields(log.Fields{"kind": kind, "runId": runID, "error": collectErr}).Error("Scrape run failed")
		return collector.Summary{}, wrapped
	}

	items := summary.Items()
	message := fmt.Sprintf("%s scrape completed with %d items", kind, items)
	if err := o.runLog.RecordTerminal(ctx, runID, model.StatusCompleted, message, durationMs, &items, nil); err != nil {
		o.release(ctx, kind, &finishedAt)
		return collector.Summary{}, fmt.Errorf("failed recording completion for %s: %w", kind, err)
	}
	if err := o.release(ctx, kind, &finishedAt); err != nil {
		return collector.Summary{}, err
	}
	log.WithFields(log.Fields{"kind": kind, "runId": runID, "items": items, "durationMs": durationMs}).Info("Scrape run completed")
	return summary, nil
}

type collectResult struct {
	summary collector.Summary
	err     error
}

// collect bounds the collector call by the run timeout. A collector that
// ignores cancellation is abandoned: the goroutine may finish on its own,
// but the orchestrator stops waiting once the deadline passes.
func (o *Orchestrator) collect(ctx context.Context, coll collector.Collector) (collector.Summary, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, o.runTimeout)
	defer cancel()

	resultChannel := make(chan collectResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultChannel <- collectResult{err: fmt.Errorf("collector crashed: %v", r)}
			}
		}()
		summary, err := coll.Collect(timeoutCtx)
		resultChannel <- collectResult{summary, err}
	}()

	select {
	case result := <-resultChannel:
		return result.summary, result.err
	case <-timeoutCtx.Done():
		return collector.Summary{}, timeoutCtx.Err()
	}
}

// release clears the running flag, stamps lastRunAt when provided, and
// refreshes the advisory next-run cache.
func (o *Orchestrator) release(ctx context.Context, kind model.JobKind, lastRunAt *time.Time) error {
	config, err := o.configs.SetRunning(ctx, kind, false, lastRunAt)
	if err != nil {
		log.WithFields(log.Fields{"kind": kind, "error": err}).Error("Failed releasing run guard")
		return fmt.Errorf("failed releasing run guard for %s: %w", kind, err)
	}
	next := o.sched.NextRun(kind, o.now(), config.Enabled, nil)
	if err := o.configs.SetNextRun(ctx, kind, next); err != nil {
		log.WithFields(log.Fields{"kind": kind, "error": err}).Error("Failed caching next run time")
	}
	return nil
}

// UpdateConfig merges the patch and refreshes the next-run cache. Updates
// are accepted while a run is in flight; they take effect on the next
// computed schedule.
func (o *Orchestrator) UpdateConfig(ctx context.Context, kind model.JobKind, patch model.ConfigPatch) (model.JobConfig, error) {
	config, err := o.configs.Update(ctx, kind, patch)
	if err != nil {
		return model.JobConfig{}, err
	}
	next := o.sched.NextRun(kind, o.now(), config.Enabled, nil)
	if err := o.configs.SetNextRun(ctx, kind, next); err != nil {
		return model.JobConfig{}, err
	}
	config.NextRunAt = next
	return config, nil
}

// SetRunning forces the run state (operator PATCH). lastRunAt is optional.
func (o *Orchestrator) SetRunning(ctx context.Context, kind model.JobKind, running bool, lastRunAt *time.Time) (model.JobConfig, error) {
	return o.configs.SetRunning(ctx, kind, running, lastRunAt)
}

// Configs lists all per-kind configs, creating defaults lazily.
func (o *Orchestrator) Configs(ctx context.Context) ([]model.JobConfig, error) {
	return o.configs.List(ctx)
}

// Status composes config, freshly computed next run and recent log entries.
// It never mutates state.
func (o *Orchestrator) Status(ctx context.Context, kind model.JobKind) (Status, error) {
	config, err := o.configs.Get(ctx, kind)
	if err != nil {
		return Status{}, err
	}
	runs, err := o.runLog.Query(ctx, kind, recentRunsLimit, nil)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Config:          config,
		ComputedNextRun: o.sched.NextRun(kind, o.now(), config.Enabled, config.NextRunAt),
		RecentRuns:      runs,
	}, nil
}

// AppendLog writes an operator-supplied activity entry.
func (o *Orchestrator) AppendLog(ctx context.Context, entry model.JobRun) error {
	return o.runLog.Append(ctx, entry)
}

// Logs returns recent activity entries for kind, newest first.
func (o *Orchestrator) Logs(ctx context.Context, kind model.JobKind, limit int, before *time.Time) ([]model.JobRun, error) {
	return o.runLog.Query(ctx, kind, limit, before)
}

// Due reports which kinds are eligible for an automatic trigger at now:
// enabled, not running, and past their cached next-run time. A missing
// cache is backfilled from the schedule computer instead of firing.
func (o *Orchestrator) Due(ctx context.Context, now time.Time) ([]model.JobKind, error) {
	due := make([]model.JobKind, 0, len(model.Kinds()))
	for _, kind := range model.Kinds() {
		config, err := o.configs.Get(ctx, kind)
		if err != nil {
			return nil, err
		}
		if !config.Enabled || config.Running {
			continue
		}
		if config.NextRunAt == nil {
			next := o.sched.NextRun(kind, now, config.Enabled, nil)
			if err := o.configs.SetNextRun(ctx, kind, next); err != nil {
				return nil, err
			}
			continue
		}
		if !config.NextRunAt.After(now) {
			due = append(due, kind)
		}
	}
	return due, nil
}
