package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eljelink/dfo/internal/trbstate"
)

// Loopback is an in-process Transport for tests and single-binary demos. A
// connection name is just a map key; "sending" to one invokes whatever
// handler was registered for it with Handle, simulating a TRB worker
// process without a real socket.
type Loopback struct {
	mu        sync.Mutex
	listening map[string]bool
	callbacks map[string]func(trbstate.CompletionToken)
	handlers  map[string]func([]byte) error
}

// NewLoopback builds an empty Loopback transport.
func NewLoopback() *Loopback {
	return &Loopback{
		listening: make(map[string]bool),
		callbacks: make(map[string]func(trbstate.CompletionToken)),
		handlers:  make(map[string]func([]byte) error),
	}
}

// Handle registers the simulated receiving end of conn, standing in for a
// TRB worker process that would otherwise be listening on the network.
func (l *Loopback) Handle(conn string, fn func(payload []byte) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handlers[conn] = fn
}

func (l *Loopback) StartListening(conn string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listening[conn] = true
	return nil
}

func (l *Loopback) StopListening(conn string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.listening, conn)
	return nil
}

func (l *Loopback) RegisterCallback(conn string, fn func(trbstate.CompletionToken)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.callbacks[conn] = fn
	return nil
}

func (l *Loopback) ClearCallback(conn string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.callbacks, conn)
	return nil
}

func (l *Loopback) SendTo(ctx context.Context, conn string, payload []byte, timeout time.Duration) error {
	l.mu.Lock()
	handler := l.handlers[conn]
	l.mu.Unlock()

	if handler == nil {
		return fmt.Errorf("dfo: loopback transport has no handler registered for %q", conn)
	}
	return handler(payload)
}

// DeliverToken simulates a TRB worker posting a completion token back to
// whichever connection is currently listening for it.
func (l *Loopback) DeliverToken(conn string, token trbstate.CompletionToken) error {
	l.mu.Lock()
	listening := l.listening[conn]
	cb := l.callbacks[conn]
	l.mu.Unlock()

	if !listening {
		return fmt.Errorf("dfo: loopback transport is not listening on %q", conn)
	}
	if cb == nil {
		return fmt.Errorf("dfo: loopback transport has no callback registered for %q", conn)
	}
	cb(token)
	return nil
}
