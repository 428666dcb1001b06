// Package transport provides the Transport external collaborator described
// in spec.md 9: start/stop listening on a named connection, register/clear a
// completion-token callback, and send a serialized decision with a timeout.
// The DFO core depends only on the Transport interface; which concrete
// implementation backs it is a host decision.
package transport

import (
	"context"
	"time"

	"github.com/eljelink/dfo/internal/trbstate"
)

// Transport is the network collaborator the orchestrator is built against.
type Transport interface {
	StartListening(conn string) error
	StopListening(conn string) error
	RegisterCallback(conn string, fn func(trbstate.CompletionToken)) error
	ClearCallback(conn string) error
	SendTo(ctx context.Context, conn string, payload []byte, timeout time.Duration) error
}
