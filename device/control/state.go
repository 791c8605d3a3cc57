// Package control implements the loopback control plane of the bridge
// daemon: a JSON-line request/response protocol for pausing and resuming
// the serial device, status queries and shutdown.
package control

import (
	"os"

	"github.com/kabili207/ocbridge/core"
	"github.com/kabili207/ocbridge/core/watch"
)

// Info is the static daemon information reported by status and info.
type Info struct {
	PID              int
	Version          string
	ConfigPath       string
	HostUDPPort      int
	LogBroadcastPort int
	ControlPort      int
}

// State is shared between the control server and the bridge. Desired is
// written only by the control server; SerialOpen only by the serial
// transport.
type State struct {
	Desired    *watch.Cell[core.RunState]
	SerialOpen *watch.Cell[bool]
	Info       Info
}

// NewState returns a running, closed state. Zero PID and Version are filled
// from the current process.
func NewState(info Info) *State {
	if info.PID == 0 {
		info.PID = os.Getpid()
	}
	if info.Version == "" {
		info.Version = core.Version
	}
	return &State{
		Desired:    watch.New(core.RunRunning),
		SerialOpen: watch.New(false),
		Info:       info,
	}
}

// Paused reports whether a pause has been requested.
func (s *State) Paused() bool {
	return s.Desired.Load() == core.RunPaused
}
