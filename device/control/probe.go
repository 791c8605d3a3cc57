package control

import (
	"context"
	"errors"
	"net"
	"time"
)

// DefaultProbeTimeout bounds one probe ping.
const DefaultProbeTimeout = 250 * time.Millisecond

// Probe finds a bridge daemon by pinging its control port.
type Probe struct {
	Port    int
	Timeout time.Duration
}

// IsInstalled reports whether a daemon can be reached. Without an OS
// service manager a reachable daemon is the only evidence of installation.
func (p Probe) IsInstalled() (bool, error) {
	return p.IsRunning()
}

// IsRunning reports whether a daemon answers ping. A refused or timed out
// connection means no daemon and is not an error.
func (p Probe) IsRunning() (bool, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	port := p.Port
	if port == 0 {
		port = DefaultPort
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	resp, err := Send(ctx, port, CmdPing)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) || errors.Is(err, context.DeadlineExceeded) {
			return false, nil
		}
		return false, err
	}
	return resp.OK, nil
}
