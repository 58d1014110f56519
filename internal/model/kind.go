package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// JobKind identifies one of the fixed scraper categories. The set is closed:
// anything outside it is rejected with ErrorUnknownKind before touching storage.
type JobKind string

const (
	KindNews       JobKind = "news"
	KindEvents     JobKind = "events"
	KindBusinesses JobKind = "businesses"
)

var (
	ErrorNotFound        = errors.New("not found")
	ErrorUnknownKind     = errors.New("unknown job kind")
	ErrorInvalidInterval = errors.New("interval out of range")
	ErrorAlreadyRunning  = errors.New("job already running")
)

type intervalBounds struct {
	min, max, fallback uint
}

var kindIntervals = map[JobKind]intervalBounds{
	KindNews:       {1, 24, 24},
	KindEvents:     {1, 24, 24},
	KindBusinesses: {12, 720, 168},
}

// Kinds returns every job kind in a stable order.
func Kinds() []JobKind {
	return []JobKind{KindNews, KindEvents, KindBusinesses}
}

func ParseKind(s string) (JobKind, error) {
	kind := JobKind(s)
	if _, ok := kindIntervals[kind]; !ok {
		return "", fmt.Errorf("%w: %q", ErrorUnknownKind, s)
	}
	return kind, nil
}

func (k JobKind) Valid() bool {
	_, ok := kindIntervals[k]
	return ok
}

// DefaultInterval is the cadence a lazily created config starts with, in hours.
func (k JobKind) DefaultInterval() uint {
	return kindIntervals[k].fallback
}

// ValidateInterval checks hours against the kind's allowed range.
func (k JobKind) ValidateInterval(hours uint) error {
	bounds, ok := kindIntervals[k]
	if !ok {
		return fmt.Errorf("%w: %q", ErrorUnknownKind, string(k))
	}
	if hours < bounds.min || hours > bounds.max {
		return fmt.Errorf("%w: %d hours for %s, allowed %d-%d", ErrorInvalidInterval, hours, k, bounds.min, bounds.max)
	}
	return nil
}

func (k *JobKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	kind, err := ParseKind(s)
	if err != nil {
		return err
	}
	*k = kind
	return nil
}
