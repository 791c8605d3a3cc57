package logs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/kabili207/ocbridge/core"
)

const (
	// DefaultBroadcastPort is the loopback port log entries are sent to.
	DefaultBroadcastPort = 9002
	// DefaultMaxDatagram bounds the size of one broadcast datagram.
	DefaultMaxDatagram = 4096
)

// BroadcasterConfig configures a Broadcaster.
type BroadcasterConfig struct {
	// Port is the destination port on 127.0.0.1. Default: 9002.
	Port int
	// MaxDatagram is the largest datagram sent. Entries are batched,
	// newline-joined, up to this size. Default: 4096.
	MaxDatagram int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Broadcaster sends log entries as newline-delimited JSON datagrams to a
// loopback port. Delivery is best effort.
type Broadcaster struct {
	cfg      BroadcasterConfig
	log      *slog.Logger
	warnOnce rate.Sometimes
}

// NewBroadcaster creates a broadcaster with the given configuration.
func NewBroadcaster(cfg BroadcasterConfig) *Broadcaster {
	if cfg.Port == 0 {
		cfg.Port = DefaultBroadcastPort
	}
	if cfg.MaxDatagram <= 0 {
		cfg.MaxDatagram = DefaultMaxDatagram
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Broadcaster{
		cfg:      cfg,
		log:      cfg.Logger.WithGroup("broadcast"),
		warnOnce: rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
}

// Run drains entries and broadcasts them until ctx is done or entries is
// closed.
func (b *Broadcaster) Run(ctx context.Context, entries <-chan Entry) error {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return fmt.Errorf("%w: log broadcast socket: %v", core.ErrBind, err)
	}
	defer conn.Close()

	dst := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: b.cfg.Port}
	buf := make([]byte, 0, b.cfg.MaxDatagram)

	for {
		var e Entry
		var ok bool
		select {
		case <-ctx.Done():
			return nil
		case e, ok = <-entries:
			if !ok {
				return nil
			}
		}

		buf = b.appendEntry(buf[:0], e)
	batch:
		for len(buf) < b.cfg.MaxDatagram {
			select {
			case next, ok := <-entries:
				if !ok {
					b.send(conn, dst, buf)
					return nil
				}
				line, err := json.Marshal(next)
				if err != nil {
					continue
				}
				if len(buf)+len(line)+1 > b.cfg.MaxDatagram {
					b.send(conn, dst, buf)
					buf = append(buf[:0], line...)
					buf = append(buf, '\n')
					continue
				}
				buf = append(buf, line...)
				buf = append(buf, '\n')
			default:
				break batch
			}
		}
		b.send(conn, dst, buf)
	}
}

func (b *Broadcaster) appendEntry(buf []byte, e Entry) []byte {
	line, err := json.Marshal(e)
	if err != nil {
		b.log.Debug("dropping unencodable entry", "error", err)
		return buf
	}
	buf = append(buf, line...)
	return append(buf, '\n')
}

func (b *Broadcaster) send(conn *net.UDPConn, dst *net.UDPAddr, buf []byte) {
	if len(buf) == 0 {
		return
	}
	if _, err := conn.WriteToUDP(buf, dst); err != nil {
		b.warnOnce.Do(func() {
			b.log.Warn("log broadcast failed", "port", b.cfg.Port, "error", err)
		})
	}
}
