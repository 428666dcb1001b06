// Package trbstate implements the per-worker load-tracking state machine
// (WorkerLoad in spec terms) that sits at the core of the dispatcher: it
// admits, tracks, and releases Assignments under concurrent mutation by the
// dispatch goroutine and the token-receiver callback.
package trbstate

import (
	"time"

	"github.com/google/uuid"
)

// TriggerDecision is the opaque payload handed down from the upstream
// trigger source. TriggerNumber must be unique within a run; everything
// else is ferried untouched to the worker.
type TriggerDecision struct {
	DecisionID    uuid.UUID
	TriggerNumber uint64
	RunNumber     uint64
	Payload       []byte
}

// CompletionToken is the downstream acknowledgement that a worker finished
// building the record for one assignment.
type CompletionToken struct {
	RunNumber          uint64
	TriggerNumber      uint64
	DecisionDestination string
}

// Assignment binds a TriggerDecision to the worker it was dispatched to, at
// the time it was dispatched. Assignments are immutable once created.
type Assignment struct {
	Decision     TriggerDecision
	WorkerID     string
	AssignedTime time.Time
}

// LatencySample is one (completion_time, service_time) pair retained in a
// WorkerLoad's latency window.
type LatencySample struct {
	CompletionTime time.Time
	ServiceTime    time.Duration
}
