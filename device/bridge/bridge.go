package bridge

import (
	"context"
	"sync/atomic"

	"github.com/kabili207/ocbridge/core/logs"
	"github.com/kabili207/ocbridge/core/stats"
)

// State is the externally visible state of a bridge.
type State int32

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateStopped
	StateError
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Handle is a running bridge. It is created by Start and finishes when the
// runner returns.
type Handle struct {
	state  atomic.Int32
	cancel context.CancelFunc
	done   chan struct{}
	err    error
	stats  *stats.Stats
	logs   chan logs.Entry
}

// Start validates cfg and runs the bridge in the background until ctx is done
// or Stop is called. Configuration errors are returned directly; runtime
// failures are reported by Err once Done is closed.
func Start(ctx context.Context, cfg Config) (*Handle, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
		stats:  stats.New(stats.Config{}),
		logs:   make(chan logs.Entry, cfg.LogChannelSize),
	}
	r := &runner{
		cfg:   cfg,
		log:   cfg.Logger.WithGroup("bridge"),
		stats: h.stats,
		logs:  h.logs,
	}

	logs.TrySend(h.logs, logs.System("Starting bridge..."))
	go h.run(ctx, r)
	return h, nil
}

func (h *Handle) run(ctx context.Context, r *runner) {
	defer close(h.done)
	defer h.cancel()

	h.state.CompareAndSwap(int32(StateStarting), int32(StateRunning))
	r.log.Info("bridge started", "controller", r.cfg.Controller, "host", r.cfg.Host)
	logs.TrySend(h.logs, logs.System("Bridge started"))

	if err := r.run(ctx); err != nil {
		h.err = err
		h.state.Store(int32(StateError))
		r.log.Error("bridge error", "error", err)
		logs.TrySend(h.logs, logs.Systemf("Bridge error: %v", err))
		return
	}
	h.state.Store(int32(StateStopped))
	r.log.Info("bridge stopped")
	logs.TrySend(h.logs, logs.System("Bridge stopped"))
}

// Stop asks the bridge to shut down. It does not wait; use Done.
func (h *Handle) Stop() {
	h.state.CompareAndSwap(int32(StateStarting), int32(StateStopping))
	h.state.CompareAndSwap(int32(StateRunning), int32(StateStopping))
	h.cancel()
}

// Done is closed once the bridge has stopped.
func (h *Handle) Done() <-chan struct{} { return h.done }

// IsFinished reports whether the bridge has stopped.
func (h *Handle) IsFinished() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Err returns the error that ended the bridge, or nil while it runs or
// after a clean stop.
func (h *Handle) Err() error {
	if !h.IsFinished() {
		return nil
	}
	return h.err
}

// State returns the current state.
func (h *Handle) State() State { return State(h.state.Load()) }

// Stats returns the bridge traffic counters.
func (h *Handle) Stats() *stats.Stats { return h.stats }

// Logs returns the bridge log stream. The channel is never closed; entries
// are dropped while it is full.
func (h *Handle) Logs() <-chan logs.Entry { return h.logs }
