package config

import (
	"fmt"
	"strings"

	"github.com/kabili207/ocbridge/transport"
)

// ValidationError accumulates config validation errors. It wraps
// ErrInvalid.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

func (v *ValidationError) Unwrap() error { return ErrInvalid }

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks the configuration. It returns a *ValidationError listing
// every problem found.
func (c *Config) Validate() error {
	ve := &ValidationError{}
	c.validateController(ve)
	c.validateHost(ve)
	validatePort(ve, "log_broadcast_port", c.LogBroadcastPort)
	validatePort(ve, "control_port", c.ControlPort)
	if c.Logs.MaxEntries <= 0 {
		ve.Add("logs.max_entries must be > 0")
	}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func (c *Config) validateController(ve *ValidationError) {
	switch c.Controller.Transport {
	case transport.KindSerial:
		if c.Controller.BaudRate <= 0 {
			ve.Add("controller.baud_rate must be > 0")
		}
		d := c.Controller.Device
		if c.Controller.SerialPort == "" && d.NameHint == "" && (d.VID == 0 || len(d.PIDs) == 0) {
			ve.Add("controller.device needs vid and pids or a name_hint when serial_port is empty")
		}
	case transport.KindUDP:
		validatePort(ve, "controller.udp_port", c.Controller.UDPPort)
		if c.usesHostUDP() && c.Controller.UDPPort == c.Host.UDPPort {
			ve.Add("controller.udp_port and host.udp_port must differ")
		}
	case transport.KindWebSocket:
		validatePort(ve, "controller.websocket_port", c.Controller.WebSocketPort)
		if c.usesHostWebSocket() && c.Controller.WebSocketPort == c.Host.WebSocketPort {
			ve.Add("controller.websocket_port and host.websocket_port must differ")
		}
	default:
		ve.Add("controller.transport %q must be serial, udp or websocket", c.Controller.Transport)
	}
}

func (c *Config) validateHost(ve *ValidationError) {
	switch c.Host.Transport {
	case transport.KindUDP, transport.KindWebSocket, transport.KindBoth:
		if c.usesHostUDP() {
			validatePort(ve, "host.udp_port", c.Host.UDPPort)
		}
		if c.usesHostWebSocket() {
			validatePort(ve, "host.websocket_port", c.Host.WebSocketPort)
		}
	case transport.KindMQTT:
		if c.Host.MQTT.Broker == "" {
			ve.Add("host.mqtt.broker is required when host.transport is mqtt")
		}
	default:
		ve.Add("host.transport %q must be udp, websocket, both or mqtt", c.Host.Transport)
	}
}

func (c *Config) usesHostUDP() bool {
	return c.Host.Transport == transport.KindUDP || c.Host.Transport == transport.KindBoth
}

func (c *Config) usesHostWebSocket() bool {
	return c.Host.Transport == transport.KindWebSocket || c.Host.Transport == transport.KindBoth
}

func validatePort(ve *ValidationError, field string, port int) {
	if port <= 0 || port > 65535 {
		ve.Add("%s %d out of range 1-65535", field, port)
	}
}
