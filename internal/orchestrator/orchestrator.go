// Package orchestrator wires the WorkerRegistry, Dispatcher, TokenReceiver,
// Transport, DecisionSource, and Telemetry into the command-plane lifecycle
// from spec.md 6: conf, start, stop, scrap.
package orchestrator

import (
	"context"
	"fmt"
	"sync"

	"github.com/eljelink/dfo/internal/config"
	"github.com/eljelink/dfo/internal/decisionsource"
	"github.com/eljelink/dfo/internal/dispatcher"
	"github.com/eljelink/dfo/internal/registry"
	"github.com/eljelink/dfo/internal/telemetry"
	"github.com/eljelink/dfo/internal/transport"
)

type state int

const (
	stateUnconfigured state = iota
	stateConfigured
	stateRunning
)

// DFO is the orchestrator facade: the thing a command-plane caller (cmd/dfo)
// drives through conf/start/stop/scrap. It is safe for concurrent command
// calls but expects exactly one Dispatcher goroutine at a time, as the core
// spec requires.
type DFO struct {
	mu    sync.Mutex
	state state

	transport transport.Transport
	source    decisionsource.Source
	sink      dispatcher.EventSink

	cfg      config.Config
	registry *registry.Registry
	counters *telemetry.Counters
	metrics  *telemetry.Registry
	slots    *dispatcher.SlotSignal

	tokenReceiver *dispatcher.TokenReceiver
	dispatcher    *dispatcher.Dispatcher

	cancel  context.CancelFunc
	runDone chan struct{}
}

// New builds an unconfigured DFO bound to the given Transport and
// DecisionSource. sink may be nil, in which case dispatcher.LogSink is used
// for both the dispatcher and the token receiver.
func New(tp transport.Transport, source decisionsource.Source, sink dispatcher.EventSink) *DFO {
	return &DFO{
		transport: tp,
		source:    source,
		sink:      sink,
		registry:  registry.New(),
		counters:  &telemetry.Counters{},
		slots:     dispatcher.NewSlotSignal(),
	}
}

// Conf populates the registry from cfg and begins listening on
// token_connection. It fails if called while running (spec.md 6); calling it
// again while already configured simply reconfigures.
func (d *DFO) Conf(cfg config.Config) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == stateRunning {
		return fmt.Errorf("dfo: conf called while running")
	}

	if err := d.registry.Configure(cfg.AppSpecs()); err != nil {
		return err
	}

	if err := d.transport.StartListening(cfg.TokenConnection); err != nil {
		d.registry.Scrap()
		return fmt.Errorf("dfo: listening on token connection %q: %w", cfg.TokenConnection, err)
	}

	d.cfg = cfg
	d.metrics = telemetry.NewRegistry(d.counters, d.registry)
	d.state = stateConfigured
	return nil
}

// Start resets the telemetry counters, captures the run number, registers
// the token callback, and spawns the Dispatcher. Calling Start while already
// running is a no-op.
func (d *DFO) Start(runNumber uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == stateRunning {
		return nil
	}
	if d.state != stateConfigured {
		return fmt.Errorf("dfo: start called before conf")
	}

	d.counters.ReadAndReset()

	d.tokenReceiver = dispatcher.NewTokenReceiver(d.registry, d.counters, d.slots, d.sink)
	d.tokenReceiver.SetCurrentRun(runNumber)
	if err := d.transport.RegisterCallback(d.cfg.TokenConnection, d.tokenReceiver.Receive); err != nil {
		return fmt.Errorf("dfo: registering token callback: %w", err)
	}

	d.dispatcher = dispatcher.New(d.registry, d.source, d.transport, d.counters, d.slots, d.sink, dispatcher.Config{
		QueueTimeout: d.cfg.GeneralQueueTimeout(),
		SendRetries:  d.cfg.TDSendRetries,
	})

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.runDone = make(chan struct{})

	go func(disp *dispatcher.Dispatcher, done chan struct{}) {
		disp.Run(ctx)
		close(done)
	}(d.dispatcher, d.runDone)

	d.state = stateRunning
	return nil
}

// Stop cancels the Dispatcher, waits for its shutdown drain to finish, and
// unregisters the token callback. Calling Stop while not running is a no-op.
func (d *DFO) Stop() error {
	d.mu.Lock()
	if d.state != stateRunning {
		d.mu.Unlock()
		return nil
	}
	cancel := d.cancel
	done := d.runDone
	d.mu.Unlock()

	cancel()
	<-done

	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.transport.ClearCallback(d.cfg.TokenConnection); err != nil {
		return fmt.Errorf("dfo: clearing token callback: %w", err)
	}
	d.dispatcher = nil
	d.tokenReceiver = nil
	d.state = stateConfigured
	return nil
}

// Scrap stops listening on token_connection and clears the registry. It
// fails if the Dispatcher is still running; call Stop first.
func (d *DFO) Scrap() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == stateRunning {
		return fmt.Errorf("dfo: scrap called while running")
	}
	if d.state == stateUnconfigured {
		return nil
	}

	if err := d.transport.StopListening(d.cfg.TokenConnection); err != nil {
		return fmt.Errorf("dfo: stopping listener on token connection %q: %w", d.cfg.TokenConnection, err)
	}

	d.registry.Scrap()
	d.metrics = nil
	d.cfg = config.Config{}
	d.state = stateUnconfigured
	return nil
}

// Snapshot returns the current read-and-reset telemetry snapshot (spec.md
// 6).
func (d *DFO) Snapshot() telemetry.Snapshot {
	return d.counters.ReadAndReset()
}

// Metrics returns the Prometheus collectors for the current configuration,
// or nil if unconfigured. RefreshWorkerGauges should be called before a
// scrape to pick up the latest per-worker state.
func (d *DFO) Metrics() *telemetry.Registry {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.metrics
}

// IsRunning reports whether the Dispatcher is currently active.
func (d *DFO) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state == stateRunning
}
