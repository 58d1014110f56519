// Package collector defines the contract between the orchestration core and
// the external processes that actually fetch content. The core never looks
// at source-specific response shapes: every adapter normalizes its result
// into a Summary before handing it back.
package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"scraperd/internal/model"
)

var ErrorNoCollector = errors.New("no collector registered")

// Summary is the normalized outcome of one collection run. Sources report
// either new/updated counts or a bare total; absent fields stay nil.
type Summary struct {
	New     *uint64 `json:"new,omitempty"`
	Updated *uint64 `json:"updated,omitempty"`
	Total   *uint64 `json:"total,omitempty"`
}

// Items is the processed-item count for the activity log: new+updated when
// either is reported, otherwise total, otherwise zero.
func (s Summary) Items() uint64 {
	if s.New != nil || s.Updated != nil {
		var items uint64
		if s.New != nil {
			items += *s.New
		}
		if s.Updated != nil {
			items += *s.Updated
		}
		return items
	}
	if s.Total != nil {
		return *s.Total
	}
	return 0
}

type Collector interface {
	Collect(ctx context.Context) (Summary, error)
}

// Func adapts a plain function to the Collector interface.
type Func func(ctx context.Context) (Summary, error)

func (f Func) Collect(ctx context.Context) (Summary, error) {
	return f(ctx)
}

// Registry maps each job kind to its collector.
type Registry struct {
	lock       sync.RWMutex
	collectors map[model.JobKind]Collector
}

func NewRegistry() *Registry {
	return &Registry{collectors: make(map[model.JobKind]Collector)}
}

func (r *Registry) Register(kind model.JobKind, c Collector) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.collectors[kind] = c
}

func (r *Registry) Lookup(kind model.JobKind) (Collector, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()
	c, ok := r.collectors[kind]
	if !ok {
		return nil, fmt.Errorf("%w for kind %s", ErrorNoCollector, kind)
	}
	return c, nil
}
