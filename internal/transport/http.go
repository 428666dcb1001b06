package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/eljelink/dfo/internal/trbstate"
)

// tokenWire is the JSON wire shape of a CompletionToken, grounded on the
// teacher's handling of plain JSON request/response bodies in cmd/lb and
// cmd/worker.
type tokenWire struct {
	RunNumber           uint64 `json:"run_number"`
	TriggerNumber       uint64 `json:"trigger_number"`
	DecisionDestination string `json:"decision_destination"`
}

// HTTP is a real network Transport: SendTo posts the decision payload to
// http://<conn>/decision, and StartListening spins up a small HTTP server
// that decodes POST /token bodies into CompletionTokens and dispatches them
// to the registered callback.
type HTTP struct {
	client *http.Client

	mu        sync.Mutex
	servers   map[string]*http.Server
	callbacks map[string]func(trbstate.CompletionToken)
}

// NewHTTP builds an HTTP transport using the given client, or
// http.DefaultClient if nil.
func NewHTTP(client *http.Client) *HTTP {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTP{
		client:    client,
		servers:   make(map[string]*http.Server),
		callbacks: make(map[string]func(trbstate.CompletionToken)),
	}
}

func (h *HTTP) StartListening(conn string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.servers[conn]; exists {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var wire tokenWire
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		h.mu.Lock()
		cb := h.callbacks[conn]
		h.mu.Unlock()

		if cb != nil {
			cb(trbstate.CompletionToken{
				RunNumber:           wire.RunNumber,
				TriggerNumber:       wire.TriggerNumber,
				DecisionDestination: wire.DecisionDestination,
			})
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{Addr: conn, Handler: mux}
	h.servers[conn] = srv

	ln, err := newListener(conn)
	if err != nil {
		delete(h.servers, conn)
		return err
	}
	go func() {
		_ = srv.Serve(ln)
	}()
	return nil
}

func (h *HTTP) StopListening(conn string) error {
	h.mu.Lock()
	srv := h.servers[conn]
	delete(h.servers, conn)
	h.mu.Unlock()

	if srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}

func (h *HTTP) RegisterCallback(conn string, fn func(trbstate.CompletionToken)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.callbacks[conn] = fn
	return nil
}

func (h *HTTP) ClearCallback(conn string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.callbacks, conn)
	return nil
}

func (h *HTTP) SendTo(ctx context.Context, conn string, payload []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, "http://"+conn+"/decision", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("dfo: send to %q failed with status %d", conn, resp.StatusCode)
	}
	return nil
}
