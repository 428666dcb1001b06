package dispatcher

import (
	"sync"
	"time"
)

// SlotSignal is the slot-available condition variable from spec.md 5: the
// dispatcher waits on it with a 1ms timeout while no worker has a free
// slot; the token receiver broadcasts on it unconditionally whenever a
// completion token might have crossed the hysteresis boundary.
type SlotSignal struct {
	mu   sync.Mutex
	cond *sync.Cond
}

// NewSlotSignal builds a ready-to-use SlotSignal.
func NewSlotSignal() *SlotSignal {
	s := &SlotSignal{}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Notify wakes every waiter. Safe to call with no waiters present.
func (s *SlotSignal) Notify() {
	s.mu.Lock()
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Wait blocks until Notify is called or timeout elapses, whichever comes
// first. Spurious wakes are tolerated by design (spec.md 9) — callers are
// expected to re-check their own predicate after Wait returns.
func (s *SlotSignal) Wait(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	timer := time.AfterFunc(timeout, s.Notify)
	defer timer.Stop()
	s.cond.Wait()
}
