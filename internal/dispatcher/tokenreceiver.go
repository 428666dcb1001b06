package dispatcher

import (
	"fmt"
	"sync/atomic"

	"github.com/eljelink/dfo/internal/registry"
	"github.com/eljelink/dfo/internal/telemetry"
	"github.com/eljelink/dfo/internal/trbstate"
)

// TokenReceiver is the completion-token callback from spec.md 4.4: it
// releases the matching assignment, clears quarantine on a successful
// delivery, and wakes the dispatcher's slot wait unconditionally.
type TokenReceiver struct {
	registry   *registry.Registry
	counters   *telemetry.Counters
	slots      *SlotSignal
	sink       EventSink
	currentRun atomic.Int64
}

// NewTokenReceiver builds a TokenReceiver bound to reg/counters/slots. sink
// may be nil, in which case LogSink is used.
func NewTokenReceiver(reg *registry.Registry, counters *telemetry.Counters, slots *SlotSignal, sink EventSink) *TokenReceiver {
	if sink == nil {
		sink = LogSink{}
	}
	return &TokenReceiver{registry: reg, counters: counters, slots: slots, sink: sink}
}

// SetCurrentRun records the run number tokens are expected to carry. Tokens
// for any other run are dropped silently (spec.md 4.4 step 2).
func (t *TokenReceiver) SetCurrentRun(runNumber uint64) {
	t.currentRun.Store(int64(runNumber))
}

// Receive is the callback registered with the Transport for the token
// connection. It must be safe to call concurrently with itself and with the
// dispatcher loop.
func (t *TokenReceiver) Receive(token trbstate.CompletionToken) {
	t.counters.TokensReceived.Add(1)

	if int64(token.RunNumber) != t.currentRun.Load() {
		return
	}

	worker := t.registry.Get(token.DecisionDestination)
	if worker == nil {
		t.sink.Warn(&TriggerRecordBuilderAppUpdate{
			Worker: token.DecisionDestination,
			Reason: fmt.Sprintf("completion token for unknown worker (trigger %d)", token.TriggerNumber),
		})
		return
	}

	if _, err := worker.CompleteAssignment(token.TriggerNumber, nil); err != nil {
		t.sink.Warn(err)
	}

	if worker.IsInError() {
		worker.SetInError(false)
		t.sink.Info(fmt.Sprintf("worker %q reconnected, quarantine cleared", worker.ConnectionName()))
	}

	t.slots.Notify()
}
