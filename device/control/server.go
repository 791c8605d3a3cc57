package control

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/kabili207/ocbridge/core"
)

const (
	// DefaultPort is the control port.
	DefaultPort = 9003
	// DefaultPauseAckTimeout bounds the wait for the serial device to close
	// after a pause.
	DefaultPauseAckTimeout = 2 * time.Second
	// DefaultConnTimeout bounds one request/response cycle.
	DefaultConnTimeout = 5 * time.Second

	maxRequestSize = 4096
)

// ServerConfig configures a Server.
type ServerConfig struct {
	// Port is the loopback port. Zero picks an ephemeral port.
	Port int
	// State is the shared control state. Required.
	State *State
	// PauseAckTimeout bounds the pause acknowledgement. Default: 2s.
	PauseAckTimeout time.Duration
	// ConnTimeout bounds each connection. Default: 5s.
	ConnTimeout time.Duration
	// OnShutdown is called for the shutdown command.
	OnShutdown func()
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Server answers control requests on a loopback TCP port, one request per
// connection.
type Server struct {
	cfg ServerConfig
	log *slog.Logger

	// writeMu serializes writes to the desired cell.
	writeMu sync.Mutex

	mu   sync.RWMutex
	addr net.Addr
}

// NewServer creates a control server.
func NewServer(cfg ServerConfig) *Server {
	if cfg.State == nil {
		cfg.State = NewState(Info{})
	}
	if cfg.PauseAckTimeout <= 0 {
		cfg.PauseAckTimeout = DefaultPauseAckTimeout
	}
	if cfg.ConnTimeout <= 0 {
		cfg.ConnTimeout = DefaultConnTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		cfg: cfg,
		log: cfg.Logger.WithGroup("control"),
	}
}

// Addr returns the bound address once Listen has succeeded, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Listen binds the control port.
func (s *Server) Listen() (net.Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return nil, fmt.Errorf("%w: control port %d: %v", core.ErrBind, s.cfg.Port, err)
	}
	s.mu.Lock()
	s.addr = ln.Addr()
	s.mu.Unlock()
	return ln, nil
}

// Run binds the control port and serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is done, then closes ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	s.log.Info("control server listening", "addr", ln.Addr())

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.log.Error("accept error", "error", err)
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

// handleConnection processes a single request/response cycle.
func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(s.cfg.ConnTimeout))

	var resp Response
	line, err := bufio.NewReader(io.LimitReader(conn, maxRequestSize)).ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		s.log.Debug("reading control request", "error", err)
		resp = s.failure(fmt.Errorf("%w: %v", core.ErrMalformedRequest, err))
	} else {
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			resp = s.failure(fmt.Errorf("%w: %v", core.ErrMalformedRequest, err))
		} else {
			resp = s.Handle(ctx, req)
		}
	}

	data, err := json.Marshal(resp)
	if err != nil {
		s.log.Error("encoding control response", "error", err)
		return
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		s.log.Debug("writing control response", "error", err)
	}
}

// Handle executes one request.
func (s *Server) Handle(ctx context.Context, req Request) Response {
	if err := req.normalize(); err != nil {
		return s.failure(err)
	}
	s.log.Debug("control request", "cmd", req.Cmd)

	switch req.Cmd {
	case CmdPause:
		return s.pause(ctx)
	case CmdResume:
		s.setDesired(core.RunRunning)
		s.log.Info("resume requested")
		return s.success("")
	case CmdStatus, CmdInfo:
		return s.status()
	case CmdPing:
		return s.success("pong")
	case CmdShutdown:
		s.log.Info("shutdown requested")
		if s.cfg.OnShutdown != nil {
			s.cfg.OnShutdown()
		}
		return s.success("shutting down")
	default:
		return s.failure(fmt.Errorf("unknown cmd: %s", req.Cmd))
	}
}

// pause requests a pause and waits for the serial transport to release the
// device.
func (s *Server) pause(ctx context.Context) Response {
	s.setDesired(core.RunPaused)
	s.log.Info("pause requested")

	ctx, cancel := context.WithTimeout(ctx, s.cfg.PauseAckTimeout)
	defer cancel()
	if _, err := s.cfg.State.SerialOpen.WaitFor(ctx, func(open bool) bool { return !open }); err != nil {
		s.log.Warn("serial did not close after pause", "timeout", s.cfg.PauseAckTimeout)
		resp := s.success("timeout waiting for serial to close")
		resp.OK = false
		return resp
	}
	return s.success("")
}

func (s *Server) setDesired(v core.RunState) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.cfg.State.Desired.Set(v)
}

func (s *Server) success(msg string) Response {
	resp := Response{
		Schema:     SchemaVersion,
		OK:         true,
		Paused:     s.cfg.State.Paused(),
		SerialOpen: s.cfg.State.SerialOpen.Load(),
	}
	if msg != "" {
		resp.Message = message(msg)
	}
	return resp
}

func (s *Server) failure(err error) Response {
	s.log.Warn("control request failed", "error", err)
	return Response{
		Schema:  SchemaVersion,
		Message: message(err.Error()),
	}
}

func (s *Server) status() Response {
	info := s.cfg.State.Info
	resp := s.success("")
	resp.PID = info.PID
	resp.Version = info.Version
	resp.ConfigPath = info.ConfigPath
	resp.HostUDPPort = info.HostUDPPort
	resp.LogBroadcastPort = info.LogBroadcastPort
	resp.ControlPort = info.ControlPort
	if resp.ControlPort == 0 {
		if addr, ok := s.Addr().(*net.TCPAddr); ok {
			resp.ControlPort = addr.Port
		}
	}
	return resp
}
