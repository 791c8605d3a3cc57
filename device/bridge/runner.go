package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kabili207/ocbridge/core"
	"github.com/kabili207/ocbridge/core/codec"
	"github.com/kabili207/ocbridge/core/logs"
	"github.com/kabili207/ocbridge/core/stats"
	"github.com/kabili207/ocbridge/core/watch"
	"github.com/kabili207/ocbridge/transport"
	"github.com/kabili207/ocbridge/transport/mqtt"
	"github.com/kabili207/ocbridge/transport/serial"
	"github.com/kabili207/ocbridge/transport/udp"
	"github.com/kabili207/ocbridge/transport/websocket"
)

const (
	// DefaultReconnectDelay is the wait after a failed detection or open.
	DefaultReconnectDelay = 2 * time.Second
	// DefaultPostDisconnectDelay is the wait after a session ends before
	// the device is detected again.
	DefaultPostDisconnectDelay = 3 * time.Second
	// DefaultLogChannelSize is the capacity of the bridge log channel.
	DefaultLogChannelSize = 1024

	// DefaultControllerUDPPort is the virtual controller UDP port.
	DefaultControllerUDPPort = 9001
	// DefaultControllerWebSocketPort is the virtual controller WebSocket port.
	DefaultControllerWebSocketPort = 8001
	// DefaultHostUDPPort is the host UDP port.
	DefaultHostUDPPort = 9000
	// DefaultHostWebSocketPort is the host WebSocket port.
	DefaultHostWebSocketPort = 8000
)

// Config configures a bridge.
type Config struct {
	// Controller selects the controller link: serial, udp or websocket.
	Controller transport.Kind
	// SerialPort pins the serial device. Empty means auto-detect.
	SerialPort string
	// BaudRate is the serial baud rate. Default: 115200.
	BaudRate int
	// Device selects the controller during auto-detection.
	Device serial.DeviceMatch
	// ControllerUDPPort is the virtual controller UDP port. Default: 9001.
	ControllerUDPPort int
	// ControllerWebSocketPort is the virtual controller WebSocket port.
	// Default: 8001.
	ControllerWebSocketPort int

	// Host selects the host link: udp, websocket, both or mqtt.
	Host transport.Kind
	// HostUDPPort is the host UDP port. Default: 9000.
	HostUDPPort int
	// HostWebSocketPort is the host WebSocket port. Default: 8000.
	HostWebSocketPort int
	// MQTT configures the MQTT host link.
	MQTT mqtt.Config

	// Desired is the requested run state. While it reads core.RunPaused the
	// serial device is kept closed.
	Desired *watch.Cell[core.RunState]
	// SerialOpen is published by the serial transport.
	SerialOpen *watch.Cell[bool]

	// ReconnectDelay is the wait after a failed detection or open.
	// Default: 2s.
	ReconnectDelay time.Duration
	// PostDisconnectDelay is the wait after a lost connection. Default: 3s.
	PostDisconnectDelay time.Duration
	// LogChannelSize is the capacity of the log channel. Default: 1024.
	LogChannelSize int

	// Detect finds the controller port. Defaults to serial.Detect.
	Detect func(serial.DeviceMatch) (string, error)
	// NewController builds the controller transport. port is empty for
	// virtual controllers. Defaults to the transport selected by Controller.
	NewController func(port string) transport.Transport
	// NewHost builds the host transport. Defaults to the transport selected
	// by Host.
	NewHost func() transport.Transport

	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

func (cfg *Config) applyDefaults() error {
	if cfg.Device.VID == 0 && len(cfg.Device.PIDs) == 0 && cfg.Device.NameHint == "" {
		cfg.Device = serial.DefaultDeviceMatch()
	}
	if cfg.ControllerUDPPort == 0 {
		cfg.ControllerUDPPort = DefaultControllerUDPPort
	}
	if cfg.ControllerWebSocketPort == 0 {
		cfg.ControllerWebSocketPort = DefaultControllerWebSocketPort
	}
	if cfg.HostUDPPort == 0 {
		cfg.HostUDPPort = DefaultHostUDPPort
	}
	if cfg.HostWebSocketPort == 0 {
		cfg.HostWebSocketPort = DefaultHostWebSocketPort
	}
	if cfg.Desired == nil {
		cfg.Desired = watch.New(core.RunRunning)
	}
	if cfg.SerialOpen == nil {
		cfg.SerialOpen = watch.New(false)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.PostDisconnectDelay <= 0 {
		cfg.PostDisconnectDelay = DefaultPostDisconnectDelay
	}
	if cfg.LogChannelSize <= 0 {
		cfg.LogChannelSize = DefaultLogChannelSize
	}
	if cfg.Detect == nil {
		cfg.Detect = serial.Detect
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	if cfg.NewController == nil {
		switch cfg.Controller {
		case transport.KindSerial, transport.KindUDP, transport.KindWebSocket:
			cfg.NewController = cfg.defaultController
		default:
			return fmt.Errorf("%w: controller transport %s", core.ErrInvalidConfig, cfg.Controller)
		}
	}
	if cfg.NewHost == nil {
		switch cfg.Host {
		case transport.KindUDP, transport.KindWebSocket, transport.KindBoth, transport.KindMQTT:
			cfg.NewHost = cfg.defaultHost
		default:
			return fmt.Errorf("%w: host transport %s", core.ErrInvalidConfig, cfg.Host)
		}
	}
	return nil
}

func (cfg *Config) defaultController(port string) transport.Transport {
	switch cfg.Controller {
	case transport.KindUDP:
		return udp.New(udp.Config{Port: cfg.ControllerUDPPort, Logger: cfg.Logger})
	case transport.KindWebSocket:
		return websocket.New(websocket.Config{Port: cfg.ControllerWebSocketPort, Logger: cfg.Logger})
	default:
		return serial.New(serial.Config{
			Port:       port,
			BaudRate:   cfg.BaudRate,
			Desired:    cfg.Desired,
			SerialOpen: cfg.SerialOpen,
			Logger:     cfg.Logger,
		})
	}
}

func (cfg *Config) defaultHost() transport.Transport {
	switch cfg.Host {
	case transport.KindWebSocket:
		return websocket.New(websocket.Config{Port: cfg.HostWebSocketPort, Logger: cfg.Logger})
	case transport.KindBoth:
		return transport.NewFanOut(
			udp.New(udp.Config{Port: cfg.HostUDPPort, Logger: cfg.Logger}),
			websocket.New(websocket.Config{Port: cfg.HostWebSocketPort, Logger: cfg.Logger}),
		)
	case transport.KindMQTT:
		mc := cfg.MQTT
		if mc.Logger == nil {
			mc.Logger = cfg.Logger
		}
		return mqtt.New(mc)
	default:
		return udp.New(udp.Config{Port: cfg.HostUDPPort, Logger: cfg.Logger})
	}
}

// runner applies the reconnect policy around sessions.
type runner struct {
	cfg   Config
	log   *slog.Logger
	stats *stats.Stats
	logs  chan<- logs.Entry
}

func (r *runner) run(ctx context.Context) error {
	if r.cfg.Controller == transport.KindSerial {
		return r.runSerial(ctx)
	}
	return r.runVirtual(ctx)
}

// runSerial keeps a session alive across unplug and replug until ctx is
// done. Only a host transport failure ends it early.
func (r *runner) runSerial(ctx context.Context) error {
	port := r.cfg.SerialPort
	for ctx.Err() == nil {
		if r.cfg.Desired.Load() == core.RunPaused {
			r.emit(logs.System("Serial paused"))
			r.log.Info("serial paused, waiting for resume")
			if _, err := r.cfg.Desired.WaitFor(ctx, isRunning); err != nil {
				return nil
			}
			r.emit(logs.System("Serial resumed"))
			r.log.Info("serial resumed")
			port = r.cfg.SerialPort
			continue
		}

		if port == "" {
			found, err := r.cfg.Detect(r.cfg.Device)
			if err != nil {
				r.log.Warn("controller not found", "error", err)
				r.emit(logs.Systemf("Waiting for device: %v", err))
				if !sleep(ctx, r.cfg.ReconnectDelay) {
					return nil
				}
				continue
			}
			port = found
		}

		sessCtx, cancel := context.WithCancel(ctx)
		ctrl, err := r.cfg.NewController(port).Spawn(sessCtx)
		if err != nil {
			cancel()
			r.log.Error("opening controller", "port", port, "error", err)
			r.emit(logs.Systemf("Failed to open %s: %v", port, err))
			port = r.cfg.SerialPort
			if !sleep(ctx, r.cfg.ReconnectDelay) {
				return nil
			}
			continue
		}

		host, err := r.cfg.NewHost().Spawn(sessCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("host transport: %w", err)
		}

		r.emit(logs.Systemf("Connected to %s", port))
		err = r.newSession(ctrl, host, codec.NewCobsDebug(codec.CobsDebugConfig{Logger: r.cfg.Logger})).Run(sessCtx)
		cancel()

		if ctx.Err() != nil {
			return nil
		}
		if r.cfg.Desired.Load() == core.RunPaused {
			continue
		}
		r.log.Warn("connection lost, reconnecting", "port", port, "reason", err)
		r.emit(logs.System("Connection lost, reconnecting..."))
		port = r.cfg.SerialPort
		if !sleep(ctx, r.cfg.PostDisconnectDelay) {
			return nil
		}
	}
	return nil
}

// runVirtual runs a single session against a UDP or WebSocket controller.
func (r *runner) runVirtual(ctx context.Context) error {
	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ctrl, err := r.cfg.NewController("").Spawn(sessCtx)
	if err != nil {
		return fmt.Errorf("controller transport: %w", err)
	}
	host, err := r.cfg.NewHost().Spawn(sessCtx)
	if err != nil {
		return fmt.Errorf("host transport: %w", err)
	}

	r.emit(logs.Systemf("Virtual controller on %s", r.cfg.Controller))
	err = r.newSession(ctrl, host, codec.Raw{}).Run(sessCtx)
	if err != nil && ctx.Err() == nil {
		r.log.Info("session ended", "reason", err)
		r.emit(logs.Systemf("Session ended: %v", err))
	}
	return nil
}

func (r *runner) newSession(ctrl, host transport.Channels, c codec.Codec) *Session {
	return NewSession(SessionConfig{
		Controller: ctrl,
		Host:       host,
		Codec:      c,
		Stats:      r.stats,
		Logs:       r.logs,
		Logger:     r.cfg.Logger,
	})
}

func (r *runner) emit(e logs.Entry) {
	logs.TrySend(r.logs, e)
}

func isRunning(s core.RunState) bool { return s == core.RunRunning }

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
