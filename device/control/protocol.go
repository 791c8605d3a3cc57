package control

import (
	"fmt"
	"strings"

	"github.com/kabili207/ocbridge/core"
)

// SchemaVersion is the only protocol version spoken.
const SchemaVersion = 1

// Commands understood by the server.
const (
	CmdPause    = "pause"
	CmdResume   = "resume"
	CmdStatus   = "status"
	CmdInfo     = "info"
	CmdPing     = "ping"
	CmdShutdown = "shutdown"
)

// Request is one control request line.
type Request struct {
	Schema int    `json:"schema"`
	Cmd    string `json:"cmd"`
}

// Response is one control response line. The daemon fields are only set
// for status and info.
type Response struct {
	Schema     int     `json:"schema"`
	OK         bool    `json:"ok"`
	Paused     bool    `json:"paused"`
	SerialOpen bool    `json:"serial_open"`
	Message    *string `json:"message"`

	PID              int    `json:"pid,omitempty"`
	Version          string `json:"version,omitempty"`
	ConfigPath       string `json:"config_path,omitempty"`
	HostUDPPort      int    `json:"host_udp_port,omitempty"`
	LogBroadcastPort int    `json:"log_broadcast_port,omitempty"`
	ControlPort      int    `json:"control_port,omitempty"`
}

// Text returns the message, or "" when there is none.
func (r Response) Text() string {
	if r.Message == nil {
		return ""
	}
	return *r.Message
}

// normalize checks the schema and lowercases the command. A missing schema
// is read as version 1.
func (r *Request) normalize() error {
	if r.Schema == 0 {
		r.Schema = SchemaVersion
	}
	if r.Schema != SchemaVersion {
		return fmt.Errorf("%w: unsupported schema %d", core.ErrMalformedRequest, r.Schema)
	}
	r.Cmd = strings.ToLower(strings.TrimSpace(r.Cmd))
	return nil
}

func message(s string) *string { return &s }
