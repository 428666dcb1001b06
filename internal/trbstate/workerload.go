package trbstate

import (
	"sync"
	"sync/atomic"
	"time"
)

const maxLatencyWindow = 1000

// WorkerLoad tracks the in-flight assignments of a single downstream
// trigger-record-builder worker, applying busy/free hysteresis so the
// dispatcher stops routing to a worker once it is saturated and only
// resumes once it has drained comfortably below threshold.
//
// inflight and isBusy are both guarded by mu so a reader never observes a
// busy flag that is stale with respect to the inflight slice it was derived
// from. isBusy is additionally mirrored into an atomic so HasSlot is
// lock-free, per the concurrency contract in spec.md 4.1.
type WorkerLoad struct {
	connectionName string

	busyThreshold atomic.Int64
	freeThreshold atomic.Int64

	mu       sync.Mutex
	inflight []*Assignment
	isBusy   atomic.Bool
	inError  atomic.Bool

	latencyMu     sync.Mutex
	latencyWindow []LatencySample
	metadata      map[string]any
}

// NewWorkerLoad builds a WorkerLoad with equal busy/free thresholds (the
// single-capacity configuration form).
func NewWorkerLoad(connectionName string, capacity int) (*WorkerLoad, error) {
	return NewWorkerLoadWithThresholds(connectionName, capacity, capacity)
}

// NewWorkerLoadWithThresholds builds a WorkerLoad with distinct busy/free
// thresholds. busyThreshold must be >= freeThreshold.
func NewWorkerLoadWithThresholds(connectionName string, busyThreshold, freeThreshold int) (*WorkerLoad, error) {
	if busyThreshold < freeThreshold {
		return nil, &ErrThresholdsNotConsistent{
			ConnectionName: connectionName,
			BusyThreshold:  busyThreshold,
			FreeThreshold:  freeThreshold,
		}
	}
	w := &WorkerLoad{
		connectionName: connectionName,
		metadata:       make(map[string]any),
	}
	w.busyThreshold.Store(int64(busyThreshold))
	w.freeThreshold.Store(int64(freeThreshold))
	return w, nil
}

// ConnectionName returns the stable worker identifier.
func (w *WorkerLoad) ConnectionName() string { return w.connectionName }

// MakeAssignment is a pure constructor; it never fails and does not mutate
// the WorkerLoad.
func (w *WorkerLoad) MakeAssignment(decision TriggerDecision) *Assignment {
	return &Assignment{
		Decision:     decision,
		WorkerID:     w.connectionName,
		AssignedTime: time.Now(),
	}
}

// AddAssignment appends an assignment to the in-flight list. It fails with
// ErrNoSlotsAvailable if the worker is currently quarantined. If the
// resulting in-flight size reaches the busy threshold, the worker becomes
// busy.
func (w *WorkerLoad) AddAssignment(a *Assignment) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.inError.Load() {
		return &ErrNoSlotsAvailable{ConnectionName: w.connectionName, TriggerNumber: a.Decision.TriggerNumber}
	}

	w.inflight = append(w.inflight, a)
	if int64(len(w.inflight)) >= w.busyThreshold.Load() {
		w.isBusy.Store(true)
	}
	return nil
}

// ExtractAssignment removes and returns the first in-flight assignment
// matching triggerNumber, or nil if none match. After removal, if the
// in-flight size drops below the free threshold, the worker leaves busy.
func (w *WorkerLoad) ExtractAssignment(triggerNumber uint64) *Assignment {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.extractLocked(triggerNumber)
}

func (w *WorkerLoad) extractLocked(triggerNumber uint64) *Assignment {
	for i, a := range w.inflight {
		if a.Decision.TriggerNumber == triggerNumber {
			w.inflight = append(w.inflight[:i], w.inflight[i+1:]...)
			if int64(len(w.inflight)) < w.freeThreshold.Load() {
				w.isBusy.Store(false)
			}
			return a
		}
	}
	return nil
}

// GetAssignment is a read-only lookup; it does not mutate busy state.
func (w *WorkerLoad) GetAssignment(triggerNumber uint64) *Assignment {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, a := range w.inflight {
		if a.Decision.TriggerNumber == triggerNumber {
			return a
		}
	}
	return nil
}

// InFlightCount returns the current number of outstanding assignments.
func (w *WorkerLoad) InFlightCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inflight)
}

// CompleteAssignment extracts the matching assignment, records its service
// time in the latency window, invokes metadataFn on the worker's metadata
// accumulator, and returns the service time. It fails with
// ErrAssignmentNotFound if no assignment matches.
func (w *WorkerLoad) CompleteAssignment(triggerNumber uint64, metadataFn func(map[string]any)) (time.Duration, error) {
	w.mu.Lock()
	a := w.extractLocked(triggerNumber)
	w.mu.Unlock()

	if a == nil {
		return 0, &ErrAssignmentNotFound{ConnectionName: w.connectionName, TriggerNumber: triggerNumber}
	}

	now := time.Now()
	serviceTime := now.Sub(a.AssignedTime)

	w.latencyMu.Lock()
	w.latencyWindow = append(w.latencyWindow, LatencySample{CompletionTime: now, ServiceTime: serviceTime})
	if len(w.latencyWindow) > maxLatencyWindow {
		w.latencyWindow = w.latencyWindow[len(w.latencyWindow)-maxLatencyWindow:]
	}
	if metadataFn != nil {
		metadataFn(w.metadata)
	}
	w.latencyMu.Unlock()

	return serviceTime, nil
}

// HasSlot reports whether this worker can currently accept another
// assignment. It is wait-free: both isBusy and inError are atomics.
func (w *WorkerLoad) HasSlot() bool {
	return !w.isBusy.Load() && !w.inError.Load()
}

// SetInError sets or clears the soft-quarantine flag.
func (w *WorkerLoad) SetInError(flag bool) { w.inError.Store(flag) }

// IsInError reports the current quarantine state.
func (w *WorkerLoad) IsInError() bool { return w.inError.Load() }

// IsBusy reports the current hysteresis busy state.
func (w *WorkerLoad) IsBusy() bool { return w.isBusy.Load() }

// AverageLatency scans the latency window from newest to oldest, stopping
// at the first sample older than since, and returns the arithmetic mean of
// the included samples. It returns 0 if no sample falls in range (see
// DESIGN.md for the Open Question this resolves).
func (w *WorkerLoad) AverageLatency(since time.Time) time.Duration {
	w.latencyMu.Lock()
	defer w.latencyMu.Unlock()

	var sum time.Duration
	var count int
	for i := len(w.latencyWindow) - 1; i >= 0; i-- {
		sample := w.latencyWindow[i]
		if sample.CompletionTime.Before(since) {
			break
		}
		sum += sample.ServiceTime
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / time.Duration(count)
}

// LatencyWindowLen returns the number of retained latency samples.
func (w *WorkerLoad) LatencyWindowLen() int {
	w.latencyMu.Lock()
	defer w.latencyMu.Unlock()
	return len(w.latencyWindow)
}
