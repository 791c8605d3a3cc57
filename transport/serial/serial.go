// Package serial provides the USB serial transport for the controller link.
//
// The controller multiplexes COBS-framed protocol messages and debug text on
// one serial stream. This transport only moves bytes: a dedicated reader and
// a dedicated writer goroutine, each locked to an OS thread, bridge the
// blocking port to the transport channels. Framing is left to the codec.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/kabili207/ocbridge/core"
	"github.com/kabili207/ocbridge/core/watch"
	"github.com/kabili207/ocbridge/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultBaudRate is the default baud rate. USB CDC devices ignore it.
	DefaultBaudRate = 115200
	// DefaultReadTimeout bounds each blocking read.
	DefaultReadTimeout = 10 * time.Millisecond
	// DefaultDisconnectThreshold is the number of consecutive empty reads
	// that count as a disconnect.
	DefaultDisconnectThreshold = 10

	// readBufSize is the size of the serial read buffer.
	readBufSize = 4096
)

// Port is the subset of a serial port the transport uses.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// Opener opens the named port at the given baud rate.
type Opener func(name string, baud int) (Port, error)

// OpenPort opens a real serial port.
func OpenPort(name string, baud int) (Port, error) {
	return serial.Open(name, &serial.Mode{BaudRate: baud})
}

// Config holds the configuration for a serial transport.
type Config struct {
	// Port is the serial port path (e.g., "/dev/ttyACM0" or "COM3").
	Port string
	// BaudRate is the serial baud rate. Defaults to 115200.
	BaudRate int
	// ReadTimeout bounds each read so the reader notices cancellation and
	// pause requests. Default: 10ms.
	ReadTimeout time.Duration
	// DisconnectThreshold is how many consecutive empty reads that return
	// before the timeout elapses are treated as a disconnect. Default: 10.
	DisconnectThreshold int
	// Desired, when set, is watched by the reader. The port is released
	// as soon as it reads core.RunPaused.
	Desired *watch.Cell[core.RunState]
	// SerialOpen, when set, is published with the port's open state. The
	// transport is its only writer.
	SerialOpen *watch.Cell[bool]
	// Open opens the port. Defaults to OpenPort.
	Open Opener
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over a serial connection. Each
// Spawn opens the port once; the port is closed when the reader stops.
type Transport struct {
	cfg Config
	log *slog.Logger

	// nowFn allows overriding time.Now() for testing.
	nowFn func() time.Time
}

// New creates a new serial transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.DisconnectThreshold <= 0 {
		cfg.DisconnectThreshold = DefaultDisconnectThreshold
	}
	if cfg.Open == nil {
		cfg.Open = OpenPort
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg:   cfg,
		log:   cfg.Logger.WithGroup("serial").With("port", cfg.Port),
		nowFn: time.Now,
	}
}

// Spawn opens the serial port and starts the reader and writer.
func (t *Transport) Spawn(ctx context.Context) (transport.Channels, error) {
	if t.cfg.Port == "" {
		return transport.Channels{}, fmt.Errorf("%w: serial port is required", core.ErrDeviceOpen)
	}

	port, err := t.cfg.Open(t.cfg.Port, t.cfg.BaudRate)
	if err != nil {
		return transport.Channels{}, fmt.Errorf("%w: %s: %v", core.ErrDeviceOpen, t.cfg.Port, err)
	}
	if err := port.SetReadTimeout(t.cfg.ReadTimeout); err != nil {
		port.Close()
		return transport.Channels{}, fmt.Errorf("%w: %s: setting read timeout: %v", core.ErrDeviceOpen, t.cfg.Port, err)
	}

	t.setOpen(true)
	t.log.Info("opened serial port", "baud", t.cfg.BaudRate)

	in := make(chan []byte, transport.DefaultChannelSize)
	out := make(chan []byte, transport.DefaultChannelSize)
	linkCtx, cancel := context.WithCancelCause(ctx)

	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		t.writeLoop(linkCtx, cancel, port, out)
	}()

	go func() {
		reason := t.readLoop(linkCtx, port, in)
		cancel(nil)
		writer.Wait()
		if err := port.Close(); err != nil {
			t.log.Debug("closing serial port", "error", err)
		}
		t.setOpen(false)
		close(in)
		t.log.Info("serial port closed", "reason", reason)
	}()

	return transport.Channels{In: in, Out: out}, nil
}

func (t *Transport) setOpen(open bool) {
	if t.cfg.SerialOpen != nil {
		t.cfg.SerialOpen.Set(open)
	}
}

func (t *Transport) paused() bool {
	return t.cfg.Desired != nil && t.cfg.Desired.Load() == core.RunPaused
}

// readLoop reads until the link is cancelled, a pause is requested or the
// device goes away. It returns the reason it stopped.
func (t *Transport) readLoop(ctx context.Context, port Port, in chan<- []byte) string {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	buf := make([]byte, readBufSize)
	empty := 0

	for {
		if ctx.Err() != nil {
			return stopReason(ctx)
		}
		if t.paused() {
			return "paused"
		}

		start := t.nowFn()
		n, err := port.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return stopReason(ctx)
			}
			if errors.Is(err, io.EOF) {
				t.log.Warn("serial device disconnected")
			} else {
				t.log.Error("serial read error", "error", err)
			}
			return "disconnected"
		}

		if n == 0 {
			// A read that returns well before its timeout with no data
			// means the device is gone; a timed-out read is just idle.
			if t.nowFn().Sub(start) < t.cfg.ReadTimeout/2 {
				empty++
				if empty > t.cfg.DisconnectThreshold {
					t.log.Warn("serial device stopped responding", "empty_reads", empty)
					return "disconnected"
				}
			} else {
				empty = 0
			}
			continue
		}
		empty = 0

		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		select {
		case in <- chunk:
		case <-ctx.Done():
			return stopReason(ctx)
		}
	}
}

// stopReason describes why the link context ended.
func stopReason(ctx context.Context) string {
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		return "shutdown"
	}
	return cause.Error()
}

// writeLoop drains out into the port. A write failure cancels the link.
func (t *Transport) writeLoop(ctx context.Context, cancel context.CancelCauseFunc, port Port, out <-chan []byte) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-out:
			if _, err := port.Write(data); err != nil {
				if ctx.Err() == nil {
					t.log.Error("serial write error", "error", err)
				}
				cancel(fmt.Errorf("write failed: %w", err))
				return
			}
		}
	}
}
