package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scraperd/internal/model"
)

const referenceZone = "America/New_York"

func newTestComputer(t *testing.T) (*Computer, *time.Location) {
	t.Helper()
	computer, err := NewComputer(referenceZone)
	require.NoError(t, err)
	location, err := time.LoadLocation(referenceZone)
	require.NoError(t, err)
	return computer, location
}

func TestDailyBeforeBoundary(t *testing.T) {
	computer, location := newTestComputer(t)
	now := time.Date(2024, 3, 12, 5, 59, 0, 0, location)

	next := computer.NextRun(model.KindNews, now, true, nil)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2024, 3, 12, 6, 0, 0, 0, location), *next)
}

func TestDailyAfterBoundary(t *testing.T) {
	computer, location := newTestComputer(t)
	now := time.Date(2024, 3, 12, 6, 1, 0, 0, location)

	next := computer.NextRun(model.KindEvents, now, true, nil)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2024, 3, 13, 6, 0, 0, 0, location), *next)
}

func TestDailyExactlyAtBoundaryIsStrictlyAfter(t *testing.T) {
	computer, location := newTestComputer(t)
	now := time.Date(2024, 3, 12, 6, 0, 0, 0, location)

	next := computer.NextRun(model.KindNews, now, true, nil)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2024, 3, 13, 6, 0, 0, 0, location), *next)
}

func TestWeeklyFromTuesday(t *testing.T) {
	computer, location := newTestComputer(t)
	// Tuesday 2024-03-12 10:00 -> upcoming Monday, never the same week.
	now := time.Date(2024, 3, 12, 10, 0, 0, 0, location)

	next := computer.NextRun(model.KindBusinesses, now, true, nil)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2024, 3, 18, 6, 0, 0, 0, location), *next)
	assert.Equal(t, time.Monday, next.Weekday())
}

func TestWeeklyMondayBeforeBoundary(t *testing.T) {
	computer, location := newTestComputer(t)
	now := time.Date(2024, 3, 11, 5, 0, 0, 0, location)

	next := computer.NextRun(model.KindBusinesses, now, true, nil)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2024, 3, 11, 6, 0, 0, 0, location), *next)
}

func TestDisabledReturnsNil(t *testing.T) {
	computer, location := newTestComputer(t)
	now := time.Date(2024, 3, 12, 5, 0, 0, 0, location)

	for _, kind := range model.Kinds() {
		assert.Nil(t, computer.NextRun(kind, now, false, nil), "kind %s", kind)
	}
}

func TestSpringForwardDoesNotSkipDay(t *testing.T) {
	computer, location := newTestComputer(t)
	// 2024-03-10 is the US spring-forward day; 02:00 local does not exist.
	now := time.Date(2024, 3, 9, 23, 0, 0, 0, location)

	next := computer.NextRun(model.KindNews, now, true, nil)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2024, 3, 10, 6, 0, 0, 0, location), *next)

	after := computer.NextRun(model.KindNews, time.Date(2024, 3, 10, 6, 1, 0, 0, location), true, nil)
	require.NotNil(t, after)
	assert.Equal(t, time.Date(2024, 3, 11, 6, 0, 0, 0, location), *after)
}

func TestFallBackDoesNotDoubleFire(t *testing.T) {
	computer, location := newTestComputer(t)
	// 2024-11-03 is the US fall-back day; 01:00-02:00 local repeats.
	now := time.Date(2024, 11, 2, 22, 0, 0, 0, location)

	next := computer.NextRun(model.KindEvents, now, true, nil)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2024, 11, 3, 6, 0, 0, 0, location), *next)
}

func TestNowInOtherZoneIsConvertedToReferenceZone(t *testing.T) {
	computer, location := newTestComputer(t)
	// 09:59 UTC on 2024-03-12 is 05:59 EDT in New York.
	now := time.Date(2024, 3, 12, 9, 59, 0, 0, time.UTC)

	next := computer.NextRun(model.KindNews, now, true, nil)
	require.NotNil(t, next)
	assert.True(t, next.Equal(time.Date(2024, 3, 12, 6, 0, 0, 0, location)))
}

func TestPreviousOnBoundaryIsReused(t *testing.T) {
	computer, location := newTestComputer(t)
	now := time.Date(2024, 3, 12, 3, 0, 0, 0, location)
	previous := time.Date(2024, 3, 12, 6, 0, 0, 0, location)

	next := computer.NextRun(model.KindNews, now, true, &previous)
	require.NotNil(t, next)
	assert.True(t, next.Equal(previous))
}

func TestStalePreviousIsRecomputed(t *testing.T) {
	computer, location := newTestComputer(t)
	now := time.Date(2024, 3, 12, 7, 0, 0, 0, location)
	previous := time.Date(2024, 3, 12, 6, 0, 0, 0, location) // already passed

	next := computer.NextRun(model.KindNews, now, true, &previous)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2024, 3, 13, 6, 0, 0, 0, location), *next)
}

func TestOffBoundaryPreviousIsRecomputed(t *testing.T) {
	computer, location := newTestComputer(t)
	now := time.Date(2024, 3, 12, 3, 0, 0, 0, location)
	previous := time.Date(2024, 3, 12, 6, 30, 0, 0, location) // not a policy time

	next := computer.NextRun(model.KindNews, now, true, &previous)
	require.NotNil(t, next)
	assert.Equal(t, time.Date(2024, 3, 12, 6, 0, 0, 0, location), *next)
}
