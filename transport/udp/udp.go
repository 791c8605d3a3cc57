// Package udp provides a loopback UDP transport.
//
// The transport binds one port with SO_REUSEADDR so a restarted bridge can
// take the port back immediately. It replies only to the most recent sender;
// outbound chunks sent before any peer has been heard from are dropped.
package udp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/kabili207/ocbridge/core"
	"github.com/kabili207/ocbridge/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

// ErrBind is returned when the socket cannot be bound.
var ErrBind = core.ErrBind

const (
	// DefaultHost is the address the transport binds.
	DefaultHost = "127.0.0.1"
	// DefaultBindAttempts is how many times a busy port is retried.
	DefaultBindAttempts = 5
	// DefaultRetryBaseDelay is the first retry delay; each retry doubles it.
	DefaultRetryBaseDelay = 200 * time.Millisecond
	// DefaultBufferSize is the largest datagram received.
	DefaultBufferSize = 4096
)

// Config holds the configuration for a UDP transport.
type Config struct {
	// Host is the bind address. Default: 127.0.0.1.
	Host string
	// Port is the bind port. Zero picks an ephemeral port.
	Port int
	// BindAttempts is the number of bind attempts. Default: 5.
	BindAttempts int
	// RetryBaseDelay is the delay before the second attempt. Default: 200ms.
	RetryBaseDelay time.Duration
	// BufferSize is the receive buffer size. Default: 4096.
	BufferSize int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over a UDP socket.
type Transport struct {
	cfg      Config
	log      *slog.Logger
	dropWarn rate.Sometimes

	mu   sync.RWMutex
	addr *net.UDPAddr
	peer *net.UDPAddr
}

// New creates a new UDP transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.BindAttempts <= 0 {
		cfg.BindAttempts = DefaultBindAttempts
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		cfg:      cfg,
		log:      cfg.Logger.WithGroup("udp").With("port", cfg.Port),
		dropWarn: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Addr returns the bound address of the most recent Spawn, or nil.
func (t *Transport) Addr() *net.UDPAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.addr
}

// Peer returns the most recent sender, or nil if none has been seen.
func (t *Transport) Peer() *net.UDPAddr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.peer
}

func (t *Transport) setPeer(addr *net.UDPAddr) {
	t.mu.Lock()
	t.peer = addr
	t.mu.Unlock()
}

// Spawn binds the socket, retrying with exponential backoff while the port
// is busy, and starts the reader and writer.
func (t *Transport) Spawn(ctx context.Context) (transport.Channels, error) {
	conn, err := t.bind(ctx)
	if err != nil {
		return transport.Channels{}, err
	}

	t.mu.Lock()
	t.addr = conn.LocalAddr().(*net.UDPAddr)
	t.peer = nil
	t.mu.Unlock()
	t.log.Info("listening", "addr", t.addr.String())

	in := make(chan []byte, transport.DefaultChannelSize)
	out := make(chan []byte, transport.DefaultChannelSize)

	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go t.readLoop(ctx, conn, in)
	go t.writeLoop(ctx, conn, out)

	return transport.Channels{In: in, Out: out}, nil
}

func (t *Transport) bind(ctx context.Context) (*net.UDPConn, error) {
	lc := net.ListenConfig{Control: reuseAddrControl}
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))

	delay := t.cfg.RetryBaseDelay
	var lastErr error
	for attempt := 1; attempt <= t.cfg.BindAttempts; attempt++ {
		pc, err := lc.ListenPacket(ctx, "udp4", addr)
		if err == nil {
			return pc.(*net.UDPConn), nil
		}
		lastErr = err
		if permanentBindError(err) {
			return nil, fmt.Errorf("%w: udp %s: %w", ErrBind, addr, err)
		}
		if attempt == t.cfg.BindAttempts {
			break
		}
		t.log.Debug("bind failed, retrying", "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: udp %s: %v", ErrBind, addr, ctx.Err())
		}
		delay *= 2
	}
	return nil, fmt.Errorf("%w: udp %s after %d attempts: %v", ErrBind, addr, t.cfg.BindAttempts, lastErr)
}

// permanentBindError reports whether retrying the bind cannot help.
func permanentBindError(err error) bool {
	return errors.Is(err, core.ErrUnsupportedPlatform)
}

func reuseAddrControl(_, _ string, c syscall.RawConn) error {
	var sockErr error
	if err := c.Control(func(fd uintptr) {
		sockErr = setReuseAddr(fd)
	}); err != nil {
		return err
	}
	return sockErr
}

func (t *Transport) readLoop(ctx context.Context, conn *net.UDPConn, in chan<- []byte) {
	defer close(in)

	buf := make([]byte, t.cfg.BufferSize)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			// ICMP errors from a vanished peer surface here on some
			// platforms; the socket itself is still usable.
			t.log.Debug("udp read error", "error", err)
			continue
		}
		t.setPeer(addr)

		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		select {
		case in <- chunk:
		case <-ctx.Done():
			return
		}
	}
}

func (t *Transport) writeLoop(ctx context.Context, conn *net.UDPConn, out <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-out:
			peer := t.Peer()
			if peer == nil {
				t.dropWarn.Do(func() {
					t.log.Debug("dropping outbound datagram, no peer yet")
				})
				continue
			}
			if _, err := conn.WriteToUDP(data, peer); err != nil && ctx.Err() == nil {
				t.log.Debug("udp write error", "peer", peer.String(), "error", err)
			}
		}
	}
}
