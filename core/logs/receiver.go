package logs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/kabili207/ocbridge/core"
)

const (
	// DefaultReadTimeout bounds each receive so cancellation is noticed.
	DefaultReadTimeout = 100 * time.Millisecond
	// DefaultChannelSize is the capacity of the receiver's entry channel.
	DefaultChannelSize = 256

	maxDatagram = 64 * 1024
)

// ReceiverConfig configures a Receiver.
type ReceiverConfig struct {
	// Port is the loopback port to bind. Default: 9002.
	Port int
	// ReadTimeout is the receive deadline per read. Default: 100ms.
	ReadTimeout time.Duration
	// ChannelSize is the entry channel capacity. Default: 256.
	ChannelSize int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Receiver listens for entries broadcast by another bridge process.
type Receiver struct {
	cfg     ReceiverConfig
	log     *slog.Logger
	conn    *net.UDPConn
	entries chan Entry
	done    chan struct{}
}

// Listen binds the broadcast port and starts receiving. The receiver stops
// when ctx is done; Done is closed once its socket has been released.
func Listen(ctx context.Context, cfg ReceiverConfig) (*Receiver, error) {
	if cfg.Port == 0 {
		cfg.Port = DefaultBroadcastPort
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.ChannelSize <= 0 {
		cfg.ChannelSize = DefaultChannelSize
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: cfg.Port})
	if err != nil {
		return nil, fmt.Errorf("%w: log receiver port %d: %v", core.ErrBind, cfg.Port, err)
	}

	r := &Receiver{
		cfg:     cfg,
		log:     cfg.Logger.WithGroup("receiver"),
		conn:    conn,
		entries: make(chan Entry, cfg.ChannelSize),
		done:    make(chan struct{}),
	}
	go r.loop(ctx)
	return r, nil
}

// Entries returns the channel of received entries. It is closed when the
// receiver stops.
func (r *Receiver) Entries() <-chan Entry { return r.entries }

// Done is closed after the receiver has stopped and closed its socket.
func (r *Receiver) Done() <-chan struct{} { return r.done }

// Port returns the bound port.
func (r *Receiver) Port() int {
	return r.conn.LocalAddr().(*net.UDPAddr).Port
}

func (r *Receiver) loop(ctx context.Context) {
	defer close(r.done)
	defer close(r.entries)
	defer r.conn.Close()

	buf := make([]byte, maxDatagram)
	for ctx.Err() == nil {
		_ = r.conn.SetReadDeadline(time.Now().Add(r.cfg.ReadTimeout))
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}
			if ctx.Err() == nil {
				r.log.Warn("log receiver stopped", "error", err)
			}
			return
		}
		r.dispatch(buf[:n])
	}
}

func (r *Receiver) dispatch(data []byte) {
	for line := range bytes.Lines(data) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			r.log.Debug("ignoring malformed entry", "error", err)
			continue
		}
		TrySend(r.entries, e)
	}
}
