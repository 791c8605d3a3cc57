package core

// RunState is the serial run state requested through the control plane.
type RunState uint8

const (
	// RunRunning lets the bridge hold the serial device open.
	RunRunning RunState = iota
	// RunPaused asks the bridge to release the serial device.
	RunPaused
)

func (s RunState) String() string {
	if s == RunPaused {
		return "paused"
	}
	return "running"
}
