package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scraperd/internal/collector"
	"scraperd/internal/model"
	"scraperd/internal/schedule"
)

func uint64Ptr(v uint64) *uint64 { return &v }
func boolPtr(v bool) *bool       { return &v }
func uintPtr(v uint) *uint       { return &v }

type fixture struct {
	store    *model.MemoryStore
	registry *collector.Registry
	orch     *Orchestrator
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	sched, err := schedule.NewComputer("UTC")
	require.NoError(t, err)
	store := model.NewMemoryStore()
	registry := collector.NewRegistry()
	return &fixture{
		store:    store,
		registry: registry,
		orch:     New(store, store, sched, registry, opts...),
	}
}

func countingCollector(calls *int32, summary collector.Summary) collector.Func {
	var lock sync.Mutex
	return func(ctx context.Context) (collector.Summary, error) {
		lock.Lock()
		*calls++
		lock.Unlock()
		return summary, nil
	}
}

func waitForRunning(t *testing.T, store *model.MemoryStore, kind model.JobKind, running bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		config, err := store.Get(context.Background(), kind)
		require.NoError(t, err)
		if config.Running == running {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s running=%t", kind, running)
}

func TestRunNowHappyPath(t *testing.T) {
	fx := newFixture(t)
	var calls int32
	fx.registry.Register(model.KindBusinesses, countingCollector(&calls, collector.Summary{
		New:     uint64Ptr(3),
		Updated: uint64Ptr(1),
	}))

	before := time.Now()
	summary, err := fx.orch.RunNow(context.Background(), model.KindBusinesses)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), summary.Items())
	assert.EqualValues(t, 1, calls)

	config, err := fx.store.Get(context.Background(), model.KindBusinesses)
	require.NoError(t, err)
	assert.False(t, config.Running)
	require.NotNil(t, config.LastRunAt)
	assert.False(t, config.LastRunAt.Before(before))
	require.NotNil(t, config.NextRunAt, "completion must refresh the next-run cache")

	runs, err := fx.store.Query(context.Background(), model.KindBusinesses, 10, nil)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.StatusCompleted, runs[0].Status)
	require.NotNil(t, runs[0].ItemsProcessed)
	assert.Equal(t, uint64(4), *runs[0].ItemsProcessed)
	assert.Equal(t, model.StatusStarted, runs[1].Status)
}

func TestRunNowSingleFlight(t *testing.T) {
	fx := newFixture(t)
	release := make(chan struct{})
	var calls int32
	fx.registry.Register(model.KindNews, collector.Func(func(ctx context.Context) (collector.Summary, error) {
		calls++
		<-release
		return collector.Summary{Total: uint64Ptr(2)}, nil
	}))

	firstDone := make(chan error, 1)
	go func() {
		_, err := fx.orch.RunNow(context.Background(), model.KindNews)
		firstDone <- err
	}()
	waitForRunning(t, fx.store, model.KindNews, true)

	_, err := fx.orch.RunNow(context.Background(), model.KindNews)
	assert.ErrorIs(t, err, model.ErrorAlreadyRunning)

	runs, err := fx.store.Query(context.Background(), model.KindNews, 10, nil)
	require.NoError(t, err)
	assert.Len(t, runs, 1, "rejected run must not write a log entry")

	close(release)
	require.NoError(t, <-firstDone)
	assert.EqualValues(t, 1, calls, "exactly one collector invocation")

	runs, err = fx.store.Query(context.Background(), model.KindNews, 10, nil)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestRunNowKindsAreIndependent(t *testing.T) {
	fx := newFixture(t)

	// Each collector waits until the other has started; serialized execution
	// would deadlock until the test timeout below trips.
	newsStarted := make(chan struct{})
	eventsStarted := make(chan struct{})
	fx.registry.Register(model.KindNews, collector.Func(func(ctx context.Context) (collector.Summary, error) {
		close(newsStarted)
		select {
		case <-eventsStarted:
			return collector.Summary{}, nil
		case <-ctx.Done():
			return collector.Summary{}, ctx.Err()
		}
	}))
	fx.registry.Register(model.KindEvents, collector.Func(func(ctx context.Context) (collector.Summary, error) {
		close(eventsStarted)
		select {
		case <-newsStarted:
			return collector.Summary{}, nil
		case <-ctx.Done():
			return collector.Summary{}, ctx.Err()
		}
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	wg := sync.WaitGroup{}
	errs := make(chan error, 2)
	for _, kind := range []model.JobKind{model.KindNews, model.KindEvents} {
		wg.Add(1)
		go func(kind model.JobKind) {
			defer wg.Done()
			_, err := fx.orch.RunNow(ctx, kind)
			errs <- err
		}(kind)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestRunNowCollectorFailureReleasesGuard(t *testing.T) {
	fx := newFixture(t)
	fx.registry.Register(model.KindNews, collector.Func(func(ctx context.Context) (collector.Summary, error) {
		return collector.Summary{}, fmt.Errorf("fetch failed: connection refused")
	}))

	_, err := fx.orch.RunNow(context.Background(), model.KindNews)
	assert.ErrorIs(t, err, ErrorCollectorFailed)

	config, err := fx.store.Get(context.Background(), model.KindNews)
	require.NoError(t, err)
	assert.False(t, config.Running)
	require.NotNil(t, config.LastRunAt, "a failed run still stamps lastRunAt")

	runs, err := fx.store.Query(context.Background(), model.KindNews, 10, nil)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.StatusError, runs[0].Status)
	assert.Equal(t, []string{"fetch failed: connection refused"}, runs[0].ErrorMessages)
}

func TestRunNowCollectorPanicIsContained(t *testing.T) {
	fx := newFixture(t)
	fx.registry.Register(model.KindEvents, collector.Func(func(ctx context.Context) (collector.Summary, error) {
		panic("index out of range")
	}))

	_, err := fx.orch.RunNow(context.Background(), model.KindEvents)
	require.ErrorIs(t, err, ErrorCollectorFailed)
	assert.Contains(t, err.Error(), "collector crashed")

	config, err := fx.store.Get(context.Background(), model.KindEvents)
	require.NoError(t, err)
	assert.False(t, config.Running)

	runs, err := fx.store.Query(context.Background(), model.KindEvents, 10, nil)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.StatusError, runs[0].Status)
}

func TestRunNowTimeout(t *testing.T) {
	fx := newFixture(t, WithRunTimeout(50*time.Millisecond))
	fx.registry.Register(model.KindNews, collector.Func(func(ctx context.Context) (collector.Summary, error) {
		// Ignores cancellation on purpose; the orchestrator must stop
		// waiting anyway.
		time.Sleep(time.Second)
		return collector.Summary{}, nil
	}))

	started := time.Now()
	_, err := fx.orch.RunNow(context.Background(), model.KindNews)
	assert.ErrorIs(t, err, ErrorCollectorTimeout)
	assert.Less(t, time.Since(started), 500*time.Millisecond, "must not wait for the abandoned collector")

	config, err := fx.store.Get(context.Background(), model.KindNews)
	require.NoError(t, err)
	assert.False(t, config.Running, "state must not remain running past the timeout")

	runs, err := fx.store.Query(context.Background(), model.KindNews, 10, nil)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, model.StatusError, runs[0].Status)
	assert.Contains(t, runs[0].Message, "timed out")
}

func TestRunNowUnknownKind(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.orch.RunNow(context.Background(), model.JobKind("weather"))
	assert.ErrorIs(t, err, model.ErrorUnknownKind)
}

func TestRunNowNoCollector(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.orch.RunNow(context.Background(), model.KindNews)
	assert.ErrorIs(t, err, collector.ErrorNoCollector)

	config, err := fx.store.Get(context.Background(), model.KindNews)
	require.NoError(t, err)
	assert.False(t, config.Running, "lookup failure must not hold the guard")
}

type failingStartLog struct {
	*model.MemoryStore
}

func (f failingStartLog) RecordStart(context.Context, model.JobKind, string) (string, error) {
	return "", errors.New("log storage unavailable")
}

func TestRunNowStartRecordFailureReleasesGuard(t *testing.T) {
	sched, err := schedule.NewComputer("UTC")
	require.NoError(t, err)
	store := model.NewMemoryStore()
	registry := collector.NewRegistry()
	var calls int32
	registry.Register(model.KindNews, countingCollector(&calls, collector.Summary{}))
	orch := New(store, failingStartLog{store}, sched, registry)

	_, err = orch.RunNow(context.Background(), model.KindNews)
	require.Error(t, err)
	assert.EqualValues(t, 0, calls, "run must not proceed without a start entry")

	config, err := store.Get(context.Background(), model.KindNews)
	require.NoError(t, err)
	assert.False(t, config.Running)
	assert.Nil(t, config.LastRunAt, "an aborted run is not a completed run")
}

func TestUpdateConfigRefreshesNextRunCache(t *testing.T) {
	fx := newFixture(t)

	config, err := fx.orch.UpdateConfig(context.Background(), model.KindNews, model.ConfigPatch{IntervalHours: uintPtr(12)})
	require.NoError(t, err)
	assert.Equal(t, uint(12), config.IntervalHours)
	require.NotNil(t, config.NextRunAt)
	assert.True(t, config.NextRunAt.After(time.Now().Add(-time.Minute)))

	config, err = fx.orch.UpdateConfig(context.Background(), model.KindNews, model.ConfigPatch{Enabled: boolPtr(false)})
	require.NoError(t, err)
	assert.Equal(t, uint(12), config.IntervalHours, "interval survives an enabled-only patch")
	assert.Nil(t, config.NextRunAt, "disabling clears the cache")
}

func TestStatusIsReadOnly(t *testing.T) {
	fx := newFixture(t)

	status, err := fx.orch.Status(context.Background(), model.KindBusinesses)
	require.NoError(t, err)
	assert.True(t, status.Config.Enabled)
	require.NotNil(t, status.ComputedNextRun)
	assert.Equal(t, time.Monday, status.ComputedNextRun.Weekday())
	assert.Empty(t, status.RecentRuns)

	// The projection must not have persisted anything.
	config, err := fx.store.Get(context.Background(), model.KindBusinesses)
	require.NoError(t, err)
	assert.Nil(t, config.NextRunAt)
}

func TestStatusDisabledHasNoNextRun(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.orch.UpdateConfig(context.Background(), model.KindNews, model.ConfigPatch{Enabled: boolPtr(false)})
	require.NoError(t, err)

	status, err := fx.orch.Status(context.Background(), model.KindNews)
	require.NoError(t, err)
	assert.Nil(t, status.ComputedNextRun)
}

func TestDue(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	now := time.Now()

	// First pass backfills the missing caches instead of firing.
	due, err := fx.orch.Due(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)
	config, err := fx.store.Get(ctx, model.KindNews)
	require.NoError(t, err)
	require.NotNil(t, config.NextRunAt)

	// A past next-run time makes the kind due.
	past := now.Add(-time.Hour)
	require.NoError(t, fx.store.SetNextRun(ctx, model.KindNews, &past))
	due, err = fx.orch.Due(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, []model.JobKind{model.KindNews}, due)

	// Disabled and running kinds are never due.
	_, err = fx.orch.UpdateConfig(ctx, model.KindNews, model.ConfigPatch{Enabled: boolPtr(false)})
	require.NoError(t, err)
	require.NoError(t, fx.store.SetNextRun(ctx, model.KindNews, &past))
	due, err = fx.orch.Due(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)

	require.NoError(t, fx.store.SetNextRun(ctx, model.KindEvents, &past))
	acquired, err := fx.store.TryMarkRunning(ctx, model.KindEvents)
	require.NoError(t, err)
	require.True(t, acquired)
	due, err = fx.orch.Due(ctx, now)
	require.NoError(t, err)
	assert.Empty(t, due)
}
