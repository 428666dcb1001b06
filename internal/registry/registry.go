// Package registry holds the fixed set of downstream workers known to the
// dispatcher (WorkerRegistry in spec terms): a key->WorkerLoad map whose
// membership is frozen between Configure and Scrap, plus a round-robin
// selection cursor owned exclusively by the dispatcher.
package registry

import (
	"fmt"

	"github.com/eljelink/dfo/internal/trbstate"
)

// AppSpec describes one dataflow_applications entry from configuration.
type AppSpec struct {
	ConnectionName string
	BusyThreshold  int
	FreeThreshold  int
}

// Registry owns every WorkerLoad for the lifetime of a run. Its key set is
// immutable once Configure returns; only the WorkerLoads themselves mutate
// afterward.
type Registry struct {
	keys    []string // stable order, indexed by the round-robin cursor
	workers map[string]*trbstate.WorkerLoad
	cursor  int
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{workers: make(map[string]*trbstate.WorkerLoad)}
}

// Configure populates the registry from a fixed list of application specs.
// It is the only mutator of the key set; after Configure returns, the set
// of worker IDs never changes until Scrap.
func (r *Registry) Configure(specs []AppSpec) error {
	r.keys = r.keys[:0]
	r.workers = make(map[string]*trbstate.WorkerLoad, len(specs))
	r.cursor = -1

	for _, spec := range specs {
		w, err := trbstate.NewWorkerLoadWithThresholds(spec.ConnectionName, spec.BusyThreshold, spec.FreeThreshold)
		if err != nil {
			return err
		}
		if _, exists := r.workers[spec.ConnectionName]; exists {
			return fmt.Errorf("dfo: duplicate dataflow application %q", spec.ConnectionName)
		}
		r.workers[spec.ConnectionName] = w
		r.keys = append(r.keys, spec.ConnectionName)
	}
	return nil
}

// Scrap clears the registry, releasing every WorkerLoad.
func (r *Registry) Scrap() {
	r.keys = nil
	r.workers = make(map[string]*trbstate.WorkerLoad)
	r.cursor = -1
}

// Get returns the WorkerLoad for id, or nil if id is unknown.
func (r *Registry) Get(id string) *trbstate.WorkerLoad {
	return r.workers[id]
}

// Len returns the number of configured workers.
func (r *Registry) Len() int { return len(r.keys) }

// Workers returns a stable-order snapshot of every WorkerLoad, for
// telemetry scraping.
func (r *Registry) Workers() []*trbstate.WorkerLoad {
	out := make([]*trbstate.WorkerLoad, 0, len(r.keys))
	for _, k := range r.keys {
		out = append(out, r.workers[k])
	}
	return out
}

// HasAnySlot is the logical OR of HasSlot over every worker. O(n).
func (r *Registry) HasAnySlot() bool {
	for _, k := range r.keys {
		if r.workers[k].HasSlot() {
			return true
		}
	}
	return false
}

// SelectNext performs one round-robin scan starting from the cursor's
// successor, advancing the cursor at every step, and returns the first
// worker with a free slot. It scans at most len(keys) workers and returns
// nil if none are free. The cursor survives across calls and is owned
// exclusively by the caller (the dispatcher) — Registry never advances it
// on its own.
func (r *Registry) SelectNext() *trbstate.WorkerLoad {
	n := len(r.keys)
	if n == 0 {
		return nil
	}
	for tries := 0; tries < n; tries++ {
		r.cursor = (r.cursor + 1) % n
		w := r.workers[r.keys[r.cursor]]
		if w.HasSlot() {
			return w
		}
	}
	return nil
}
