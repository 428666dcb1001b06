// Package decisionsource provides the DecisionSource external collaborator:
// the queue of upstream TriggerDecisions the dispatcher pulls from, with a
// poll timeout that is not itself an error (spec.md 4.3 step 2).
package decisionsource

import (
	"context"
	"time"

	"github.com/eljelink/dfo/internal/trbstate"
)

// Source yields TriggerDecisions to the dispatcher.
type Source interface {
	// Next blocks for up to timeout waiting for a decision. It returns
	// ok=false (no error) on timeout.
	Next(ctx context.Context, timeout time.Duration) (decision trbstate.TriggerDecision, ok bool, err error)
	// Drain returns every decision currently buffered, without blocking,
	// for the shutdown-drain step.
	Drain() []trbstate.TriggerDecision
}

// Channel is a buffered-channel-backed Source fed by an external producer
// (e.g. cmd/trigger over HTTP, or tests pushing directly).
type Channel struct {
	ch chan trbstate.TriggerDecision
}

// NewChannel builds a Channel-backed Source with the given buffer size.
func NewChannel(bufferSize int) *Channel {
	return &Channel{ch: make(chan trbstate.TriggerDecision, bufferSize)}
}

// Push enqueues a decision. It blocks if the buffer is full.
func (c *Channel) Push(d trbstate.TriggerDecision) {
	c.ch <- d
}

// TryPush enqueues a decision without blocking, reporting whether it fit.
func (c *Channel) TryPush(d trbstate.TriggerDecision) bool {
	select {
	case c.ch <- d:
		return true
	default:
		return false
	}
}

// Next implements Source.
func (c *Channel) Next(ctx context.Context, timeout time.Duration) (trbstate.TriggerDecision, bool, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-c.ch:
		return d, true, nil
	case <-timer.C:
		return trbstate.TriggerDecision{}, false, nil
	case <-ctx.Done():
		return trbstate.TriggerDecision{}, false, ctx.Err()
	}
}

// Drain implements Source.
func (c *Channel) Drain() []trbstate.TriggerDecision {
	var out []trbstate.TriggerDecision
	for {
		select {
		case d := <-c.ch:
			out = append(out, d)
		default:
			return out
		}
	}
}
