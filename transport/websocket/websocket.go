// Package websocket provides a WebSocket server transport.
//
// The server keeps a single active client. A new connection replaces the
// previous one, which is closed with StatusGoingAway. Only binary messages
// are relayed inbound; text messages are ignored.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/kabili207/ocbridge/core"
	"github.com/kabili207/ocbridge/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultHost is the address the server binds.
	DefaultHost = "0.0.0.0"
	// DefaultReadLimit is the largest inbound message accepted.
	DefaultReadLimit = 64 * 1024
	// DefaultWriteTimeout bounds a single outbound write.
	DefaultWriteTimeout = 5 * time.Second
)

// Config holds the configuration for a WebSocket transport.
type Config struct {
	// Host is the bind address. Default: 0.0.0.0.
	Host string
	// Port is the listen port. Zero picks an ephemeral port.
	Port int
	// ReadLimit caps inbound message size. Default: 64 KiB.
	ReadLimit int64
	// WriteTimeout bounds each outbound write. Default: 5s.
	WriteTimeout time.Duration
	// OriginPatterns lists extra browser origins allowed to connect.
	// Non-browser clients send no Origin and are always accepted.
	OriginPatterns []string
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport as a WebSocket server.
type Transport struct {
	cfg Config
	log *slog.Logger

	mu   sync.RWMutex
	addr net.Addr
}

// New creates a new WebSocket transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("websocket").With("port", cfg.Port),
	}
}

// Addr returns the bound address of the most recent Spawn, or nil.
func (t *Transport) Addr() net.Addr {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.addr
}

// client is one accepted WebSocket connection.
type client struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// goAway stops c and runs the close handshake with its peer.
func (c *client) goAway(reason string) {
	c.stop()
	c.conn.Close(websocket.StatusGoingAway, reason)
}

// link is the state of one Spawn.
type link struct {
	t   *Transport
	ctx context.Context

	in       chan []byte
	inMu     sync.RWMutex
	inClosed bool

	mu     sync.Mutex
	active *client
}

// Spawn starts listening and serving clients until ctx is done.
func (t *Transport) Spawn(ctx context.Context) (transport.Channels, error) {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return transport.Channels{}, fmt.Errorf("%w: websocket %s: %v", core.ErrBind, addr, err)
	}

	t.mu.Lock()
	t.addr = ln.Addr()
	t.mu.Unlock()

	l := &link{
		t:   t,
		ctx: ctx,
		in:  make(chan []byte, transport.DefaultChannelSize),
	}
	out := make(chan []byte, transport.DefaultChannelSize)

	srv := &http.Server{
		Handler:           http.HandlerFunc(l.handleUpgrade),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.log.Error("websocket server stopped", "error", err)
		}
	}()
	go l.dispatch(out)
	go func() {
		<-ctx.Done()
		srv.Close()
		l.closeIn()
		if prev := l.replace(nil); prev != nil {
			prev.goAway("server shutting down")
		}
	}()

	t.log.Info("websocket server listening", "addr", ln.Addr().String())
	return transport.Channels{In: l.in, Out: out}, nil
}

// dispatch forwards outbound chunks to the active client, dropping them
// when there is none or it is not keeping up.
func (l *link) dispatch(out <-chan []byte) {
	for {
		select {
		case <-l.ctx.Done():
			return
		case data := <-out:
			l.mu.Lock()
			c := l.active
			l.mu.Unlock()
			if c != nil {
				transport.TrySend(c.send, data)
			}
		}
	}
}

// replace installs c as the active client and returns the previous one.
func (l *link) replace(c *client) *client {
	l.mu.Lock()
	defer l.mu.Unlock()
	prev := l.active
	l.active = c
	return prev
}

// release clears c if it is still the active client.
func (l *link) release(c *client) {
	l.mu.Lock()
	if l.active == c {
		l.active = nil
	}
	l.mu.Unlock()
}

func (l *link) deliver(data []byte) bool {
	l.inMu.RLock()
	defer l.inMu.RUnlock()
	if l.inClosed {
		return false
	}
	select {
	case l.in <- data:
		return true
	case <-l.ctx.Done():
		return false
	}
}

func (l *link) closeIn() {
	l.inMu.Lock()
	defer l.inMu.Unlock()
	if !l.inClosed {
		l.inClosed = true
		close(l.in)
	}
}

func (l *link) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: append([]string{
			"localhost",
			"localhost:*",
			"127.0.0.1",
			"127.0.0.1:*",
		}, l.t.cfg.OriginPatterns...),
	})
	if err != nil {
		l.t.log.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(l.t.cfg.ReadLimit)

	c := &client{
		conn: conn,
		send: make(chan []byte, transport.DefaultChannelSize),
		done: make(chan struct{}),
	}
	if prev := l.replace(c); prev != nil {
		// The handshake waits on the old peer, which may have stalled.
		go prev.goAway("replaced by a new client")
	}
	l.t.log.Info("websocket client connected", "remote", r.RemoteAddr)

	go l.writeLoop(c)
	l.readLoop(c)

	c.stop()
	l.release(c)
	conn.Close(websocket.StatusNormalClosure, "")
	l.t.log.Info("websocket client disconnected", "remote", r.RemoteAddr)
}

func (l *link) readLoop(c *client) {
	for {
		typ, data, err := c.conn.Read(l.ctx)
		if err != nil {
			return
		}
		if typ != websocket.MessageBinary {
			continue
		}
		if !l.deliver(data) {
			return
		}
	}
}

func (l *link) writeLoop(c *client) {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			ctx, cancel := context.WithTimeout(l.ctx, l.t.cfg.WriteTimeout)
			err := c.conn.Write(ctx, websocket.MessageBinary, data)
			cancel()
			if err != nil {
				c.stop()
				c.conn.Close(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}
