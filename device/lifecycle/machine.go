// Package lifecycle drives the bridge from an interactive front end.
//
// The Machine is in exactly one of three states. Stopped holds the last
// detected serial port. Running owns a bridge started in this process.
// Monitoring follows a bridge daemon running elsewhere through its log
// broadcast. The front end calls Poll on every refresh; Poll never waits on
// the bridge.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kabili207/ocbridge/core/logs"
	"github.com/kabili207/ocbridge/core/stats"
	"github.com/kabili207/ocbridge/device/bridge"
	"github.com/kabili207/ocbridge/transport"
	"github.com/kabili207/ocbridge/transport/serial"
)

const (
	// DefaultDetectInterval is how often Stopped refreshes device detection
	// while no port is cached.
	DefaultDetectInterval = 2 * time.Second
	// DefaultProbeInterval is how often the service probe is consulted.
	DefaultProbeInterval = time.Second
	// DefaultReleaseTimeout bounds the wait for the log receiver to release
	// its socket when monitoring stops.
	DefaultReleaseTimeout = 150 * time.Millisecond
)

// ErrNotStopped is returned by Start outside the Stopped state.
var ErrNotStopped = errors.New("bridge is not stopped")

// ServiceProbe reports on an externally managed bridge daemon.
type ServiceProbe interface {
	IsInstalled() (bool, error)
	IsRunning() (bool, error)
}

// State is one of Stopped, Running or Monitoring.
type State interface {
	fmt.Stringer
	isState()
}

// Stopped is the idle state.
type Stopped struct {
	// DetectedPort is the cached serial port, if any.
	DetectedPort string
}

// Running owns a bridge started by this machine.
type Running struct {
	Handle     *bridge.Handle
	SerialPort string
}

// Monitoring follows an external daemon.
type Monitoring struct {
	Stats *stats.Stats

	receiver *logs.Receiver
	cancel   context.CancelFunc
}

func (Stopped) isState()    {}
func (Running) isState()    {}
func (Monitoring) isState() {}

func (Stopped) String() string    { return "stopped" }
func (Running) String() string    { return "running" }
func (Monitoring) String() string { return "monitoring" }

// Config configures a Machine.
type Config struct {
	// Bridge is the configuration used by Start.
	Bridge bridge.Config
	// Probe detects an external daemon. If nil, the machine never monitors.
	Probe ServiceProbe
	// LogPort is the daemon's log broadcast port. Default: 9002.
	LogPort int
	// Store receives every drained log entry. Default: a store of
	// logs.DefaultMaxEntries.
	Store *logs.Store
	// OnEntry, when set, is called with every entry added to Store.
	OnEntry func(logs.Entry)
	// DetectInterval is the detection refresh period. Default: 2s.
	DetectInterval time.Duration
	// ProbeInterval is the probe period. Default: 1s.
	ProbeInterval time.Duration
	// ReleaseTimeout bounds the receiver release wait. Default: 150ms.
	ReleaseTimeout time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Machine is the bridge lifecycle state machine. It is not safe for
// concurrent use; one front-end goroutine drives it.
type Machine struct {
	cfg   Config
	log   *slog.Logger
	state State

	detect     func(serial.DeviceMatch) (string, error)
	lastDetect time.Time
	lastProbe  time.Time

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

// New creates a machine in the Stopped state, detecting the device once.
func New(cfg Config) *Machine {
	if cfg.LogPort == 0 {
		cfg.LogPort = logs.DefaultBroadcastPort
	}
	if cfg.Store == nil {
		cfg.Store = logs.NewStore(logs.DefaultMaxEntries)
	}
	if cfg.DetectInterval <= 0 {
		cfg.DetectInterval = DefaultDetectInterval
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = DefaultProbeInterval
	}
	if cfg.ReleaseTimeout <= 0 {
		cfg.ReleaseTimeout = DefaultReleaseTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Bridge.Logger == nil {
		cfg.Bridge.Logger = cfg.Logger
	}

	m := &Machine{
		cfg:    cfg,
		log:    cfg.Logger.WithGroup("lifecycle"),
		detect: cfg.Bridge.Detect,
		nowFn:  time.Now,
	}
	if m.detect == nil {
		m.detect = serial.Detect
	}
	m.state = Stopped{DetectedPort: m.detectPort()}
	return m
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// Store returns the log store fed by Poll.
func (m *Machine) Store() *logs.Store { return m.cfg.Store }

// Stats returns the traffic counters of the running or monitored bridge, or
// nil when stopped.
func (m *Machine) Stats() *stats.Stats {
	switch st := m.state.(type) {
	case Running:
		return st.Handle.Stats()
	case Monitoring:
		return st.Stats
	default:
		return nil
	}
}

func (m *Machine) usesSerial() bool {
	return m.cfg.Bridge.Controller == transport.KindSerial
}

// detectPort returns the pinned or detected serial port, or "" if none.
func (m *Machine) detectPort() string {
	if !m.usesSerial() {
		return ""
	}
	if m.cfg.Bridge.SerialPort != "" {
		return m.cfg.Bridge.SerialPort
	}
	m.lastDetect = m.nowFn()
	port, err := m.detect(m.cfg.Bridge.Device)
	if err != nil {
		m.log.Debug("device detection", "error", err)
		return ""
	}
	return port
}

// Start starts a bridge. It is only valid from Stopped. On failure the
// machine stays Stopped and the error is returned.
func (m *Machine) Start(ctx context.Context) error {
	st, ok := m.state.(Stopped)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotStopped, m.state)
	}

	cfg := m.cfg.Bridge
	if m.usesSerial() {
		port := st.DetectedPort
		if port == "" {
			m.lastDetect = m.nowFn()
			found, err := m.detect(cfg.Device)
			if err != nil {
				m.log.Warn("cannot start bridge", "error", err)
				m.record(logs.Systemf("Cannot start: %v", err))
				return err
			}
			port = found
		}
		cfg.SerialPort = port
	}

	h, err := bridge.Start(ctx, cfg)
	if err != nil {
		m.log.Error("starting bridge", "error", err)
		m.record(logs.Systemf("Failed to start bridge: %v", err))
		return err
	}
	m.state = Running{Handle: h, SerialPort: cfg.SerialPort}
	return nil
}

// Stop stops the running bridge or ends monitoring.
func (m *Machine) Stop() {
	switch st := m.state.(type) {
	case Running:
		st.Handle.Stop()
		m.state = Stopped{DetectedPort: st.SerialPort}
	case Monitoring:
		m.stopMonitoring(st)
	}
}

func (m *Machine) stopMonitoring(st Monitoring) {
	st.cancel()
	select {
	case <-st.receiver.Done():
	case <-time.After(m.cfg.ReleaseTimeout):
		m.log.Warn("log receiver did not release its socket in time")
	}
	m.state = Stopped{DetectedPort: m.detectPort()}
}

func (m *Machine) record(e logs.Entry) {
	m.cfg.Store.Add(e)
	if m.cfg.OnEntry != nil {
		m.cfg.OnEntry(e)
	}
}

// Poll advances the machine without blocking on the bridge.
func (m *Machine) Poll(ctx context.Context) {
	switch st := m.state.(type) {
	case Running:
		m.pollRunning(st)
	case Monitoring:
		m.pollMonitoring(st)
	case Stopped:
		m.pollStopped(ctx, st)
	}
}

func (m *Machine) pollRunning(st Running) {
	finished := st.Handle.IsFinished()
	m.drainBridge(st.Handle)
	if !finished {
		return
	}
	if err := st.Handle.Err(); err != nil {
		m.log.Error("bridge ended", "error", err)
	}
	m.state = Stopped{}
	m.lastDetect = time.Time{}
}

func (m *Machine) drainBridge(h *bridge.Handle) {
	for {
		select {
		case e := <-h.Logs():
			m.record(e)
		default:
			return
		}
	}
}

func (m *Machine) pollMonitoring(st Monitoring) {
	for drained := false; !drained; {
		select {
		case e, ok := <-st.receiver.Entries():
			if !ok {
				m.log.Warn("log receiver stopped")
				m.stopMonitoring(st)
				return
			}
			m.account(st.Stats, e)
			m.record(e)
		default:
			drained = true
		}
	}
	st.Stats.UpdateRates()

	if !m.probeDue() {
		return
	}
	running, err := m.cfg.Probe.IsRunning()
	if err != nil {
		m.log.Debug("service probe", "error", err)
	}
	if !running {
		m.record(logs.System("External bridge stopped"))
		m.stopMonitoring(st)
	}
}

// account mirrors the daemon's traffic counters from its protocol entries.
func (m *Machine) account(s *stats.Stats, e logs.Entry) {
	if e.Kind != logs.KindProtocol {
		return
	}
	switch e.Direction {
	case logs.In:
		s.AddRx(e.Size)
	case logs.Out:
		s.AddTx(e.Size)
	}
}

func (m *Machine) pollStopped(ctx context.Context, st Stopped) {
	if m.probeDue() {
		running, err := m.cfg.Probe.IsRunning()
		if err != nil {
			m.log.Debug("service probe", "error", err)
		}
		if running {
			m.startMonitoring(ctx)
			return
		}
	}

	if st.DetectedPort == "" && m.usesSerial() && m.nowFn().Sub(m.lastDetect) >= m.cfg.DetectInterval {
		if port := m.detectPort(); port != "" {
			m.state = Stopped{DetectedPort: port}
		}
	}
}

func (m *Machine) probeDue() bool {
	if m.cfg.Probe == nil {
		return false
	}
	now := m.nowFn()
	if !m.lastProbe.IsZero() && now.Sub(m.lastProbe) < m.cfg.ProbeInterval {
		return false
	}
	m.lastProbe = now
	return true
}

func (m *Machine) startMonitoring(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r, err := logs.Listen(ctx, logs.ReceiverConfig{Port: m.cfg.LogPort, Logger: m.cfg.Logger})
	if err != nil {
		cancel()
		m.log.Warn("cannot monitor external bridge", "error", err)
		return
	}
	m.log.Info("monitoring external bridge", "log_port", m.cfg.LogPort)
	m.record(logs.System("Monitoring external bridge"))
	m.state = Monitoring{
		Stats:    stats.New(stats.Config{}),
		receiver: r,
		cancel:   cancel,
	}
}
