// Package bridge relays protocol traffic between the controller and the
// network hosts.
//
// A Session pumps one controller link and one host link through a codec. The
// Runner owns the reconnect policy around sessions, and Handle is the running
// bridge as seen by its owner.
package bridge

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/kabili207/ocbridge/core/codec"
	"github.com/kabili207/ocbridge/core/logs"
	"github.com/kabili207/ocbridge/core/stats"
	"github.com/kabili207/ocbridge/transport"
)

// DefaultTickInterval is how often an idle session refreshes its rates.
const DefaultTickInterval = 100 * time.Millisecond

// SessionConfig configures a Session.
type SessionConfig struct {
	// Controller is the spawned controller link.
	Controller transport.Channels
	// Host is the spawned host link.
	Host transport.Channels
	// Codec frames controller traffic. It must be fresh for each physical
	// connection.
	Codec codec.Codec
	// Stats receives byte counts. Optional.
	Stats *stats.Stats
	// Logs receives log entries. Optional; sends never block.
	Logs chan<- logs.Entry
	// TickInterval is the idle tick period. Default: 100ms.
	TickInterval time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Session relays between one controller link and one host link.
type Session struct {
	cfg SessionConfig
	log *slog.Logger

	logFull  rate.Sometimes
	dropWarn rate.Sometimes
}

// NewSession creates a session with the given configuration.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Codec == nil {
		cfg.Codec = codec.Raw{}
	}
	if cfg.Stats == nil {
		cfg.Stats = stats.New(stats.Config{})
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Session{
		cfg:      cfg,
		log:      cfg.Logger.WithGroup("session"),
		logFull:  rate.Sometimes{First: 1, Interval: 10 * time.Second},
		dropWarn: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Run relays until ctx is done or either link closes. It returns nil on
// cancellation, ErrControllerDisconnected or ErrHostDisconnected otherwise.
func (s *Session) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	ctrlIn := s.cfg.Controller.In
	hostIn := s.cfg.Host.In

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.cfg.Stats.UpdateRates()
		case data, ok := <-ctrlIn:
			if !ok {
				return ErrControllerDisconnected
			}
			s.cfg.Codec.Decode(data, s.handleFrame)
		case data, ok := <-hostIn:
			if !ok {
				return ErrHostDisconnected
			}
			s.toController(data)
		}
	}
}

// handleFrame routes one frame decoded from the controller.
func (s *Session) handleFrame(f codec.Frame) {
	switch f.Kind {
	case codec.FrameMessage:
		s.cfg.Stats.AddRx(len(f.Payload))
		s.emit(logs.ProtocolIn(f.Name, len(f.Payload)))
		if !transport.TrySend(s.cfg.Host.Out, f.Payload) {
			s.dropWarn.Do(func() {
				s.log.Warn("host channel full, dropping message", "message", f.Name)
			})
		}
	case codec.FrameDebugLog:
		s.emit(logs.Debug(f.Level, f.Text))
	}
}

// toController encodes one host payload for the controller.
func (s *Session) toController(data []byte) {
	name := codec.NameOrUnknown(data)
	s.cfg.Stats.AddTx(len(data))
	s.emit(logs.ProtocolOut(name, len(data)))

	encoded, err := s.cfg.Codec.Encode(nil, data)
	if err != nil {
		s.log.Warn("dropping unencodable message", "message", name, "bytes", len(data), "error", err)
		s.emit(logs.Systemf("Dropped %s (%d bytes): %v", name, len(data), err))
		return
	}
	if !transport.TrySend(s.cfg.Controller.Out, encoded) {
		s.dropWarn.Do(func() {
			s.log.Warn("controller channel full, dropping message", "message", name)
		})
	}
}

func (s *Session) emit(e logs.Entry) {
	if s.cfg.Logs == nil {
		return
	}
	if !logs.TrySend(s.cfg.Logs, e) {
		s.logFull.Do(func() {
			s.log.Warn("log channel full, dropping entries")
		})
	}
}
