// Package dispatcher implements the dispatcher loop and token-receiver
// callback described in spec.md 4.3 and 4.4: the single cooperative flow
// that fuses slot availability, decision intake, worker selection, send
// retry, and error quarantine, plus the callback that releases assignments
// and clears quarantine on completion.
package dispatcher

import (
	"context"
	"encoding/json"
	"time"

	"github.com/eljelink/dfo/internal/decisionsource"
	"github.com/eljelink/dfo/internal/registry"
	"github.com/eljelink/dfo/internal/telemetry"
	"github.com/eljelink/dfo/internal/trbstate"
	"github.com/eljelink/dfo/internal/transport"
)

// Config bundles the dispatcher's tunables, taken verbatim from the
// recognized option set in spec.md 6.
type Config struct {
	QueueTimeout time.Duration
	SendRetries  int
}

// Dispatcher is the single dedicated worker described in spec.md 4.3. It
// must not be run from more than one goroutine at a time — the round-robin
// cursor it drives through Registry.SelectNext is unsynchronized by design
// (spec.md 5: "selection cursor: owned exclusively by the Dispatcher").
type Dispatcher struct {
	registry  *registry.Registry
	source    decisionsource.Source
	transport transport.Transport
	counters  *telemetry.Counters
	slots     *SlotSignal
	sink      EventSink
	cfg       Config

	serialize func(trbstate.TriggerDecision) ([]byte, error)
}

// New builds a Dispatcher. sink may be nil, in which case LogSink is used.
func New(reg *registry.Registry, source decisionsource.Source, tp transport.Transport, counters *telemetry.Counters, slots *SlotSignal, sink EventSink, cfg Config) *Dispatcher {
	if sink == nil {
		sink = LogSink{}
	}
	return &Dispatcher{
		registry:  reg,
		source:    source,
		transport: tp,
		counters:  counters,
		slots:     slots,
		sink:      sink,
		cfg:       cfg,
		serialize: func(v trbstate.TriggerDecision) ([]byte, error) { return json.Marshal(v) },
	}
}

// Run executes the dispatcher loop until ctx is cancelled, then performs the
// best-effort shutdown drain (spec.md 4.3 step 5) before returning.
func (d *Dispatcher) Run(ctx context.Context) {
	lastSlotCheck := time.Now()

	for ctx.Err() == nil {
		if !d.registry.HasAnySlot() {
			now := time.Now()
			telemetry.AddDuration(&d.counters.WaitingForSlotsUS, now.Sub(lastSlotCheck))
			lastSlotCheck = now

			d.slots.Wait(time.Millisecond)
			continue
		}

		slotAvailable := time.Now()
		telemetry.AddDuration(&d.counters.WaitingForSlotsUS, slotAvailable.Sub(lastSlotCheck))

		decision, ok, err := d.source.Next(ctx, d.cfg.QueueTimeout)
		if err != nil {
			lastSlotCheck = time.Now()
			continue // context cancelled; loop condition will exit next iteration
		}
		if !ok {
			// Timeout: no decision this tick, not an error.
			now := time.Now()
			telemetry.AddDuration(&d.counters.WaitingForDecisionUS, now.Sub(slotAvailable))
			lastSlotCheck = now
			continue
		}

		d.counters.DecisionsReceived.Add(1)
		assignmentPossible := time.Now()
		telemetry.AddDuration(&d.counters.WaitingForDecisionUS, assignmentPossible.Sub(slotAvailable))

		d.assignAndSend(ctx, decision)

		assignmentComplete := time.Now()
		telemetry.AddDuration(&d.counters.DecidingDestinationUS, assignmentComplete.Sub(assignmentPossible))
		lastSlotCheck = assignmentComplete
	}

	drainCtx := context.Background()
	for _, decision := range d.source.Drain() {
		d.trySendOnce(drainCtx, decision)
	}
}

// assignAndSend repeats worker selection + send until one succeeds or the
// run is cancelled. A worker that exhausts its retries is quarantined and
// the loop tries the next free worker with the same decision — the
// decision is never dropped on a send failure, only on shutdown.
func (d *Dispatcher) assignAndSend(ctx context.Context, decision trbstate.TriggerDecision) {
	for ctx.Err() == nil {
		worker := d.registry.SelectNext()
		if worker == nil {
			continue
		}

		assignment := worker.MakeAssignment(decision)
		if d.send(ctx, worker, assignment) {
			if err := worker.AddAssignment(assignment); err != nil {
				// Worker flipped to in_error between send and add; retry
				// selection rather than silently dropping the decision.
				d.sink.Warn(err)
				continue
			}
			d.counters.DecisionsSent.Add(1)
			return
		}

		d.sink.Warn(&TriggerRecordBuilderAppUpdate{
			Worker: worker.ConnectionName(),
			Reason: "could not send trigger decision",
		})
		worker.SetInError(true)
	}
}

// send attempts delivery up to cfg.SendRetries times (inclusive of the
// first attempt), per spec.md 4.3 step 4.
func (d *Dispatcher) send(ctx context.Context, worker *trbstate.WorkerLoad, assignment *trbstate.Assignment) bool {
	payload, err := d.serialize(assignment.Decision)
	if err != nil {
		d.sink.Warn(&OperationFailed{Worker: worker.ConnectionName(), Err: err})
		return false
	}

	retries := d.cfg.SendRetries
	for retries > 0 && ctx.Err() == nil {
		if err := d.transport.SendTo(ctx, worker.ConnectionName(), payload, d.cfg.QueueTimeout); err == nil {
			return true
		} else {
			d.sink.Warn(&OperationFailed{Worker: worker.ConnectionName(), Err: err})
		}
		retries--
	}
	return false
}

// trySendOnce is the shutdown-drain best-effort path: one selection and one
// send attempt, discarding the decision on any failure.
func (d *Dispatcher) trySendOnce(ctx context.Context, decision trbstate.TriggerDecision) {
	worker := d.registry.SelectNext()
	if worker == nil {
		return
	}
	assignment := worker.MakeAssignment(decision)
	if d.send(ctx, worker, assignment) {
		if err := worker.AddAssignment(assignment); err == nil {
			d.counters.DecisionsSent.Add(1)
		}
	}
}
