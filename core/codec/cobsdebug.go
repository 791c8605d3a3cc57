package codec

import (
	"log/slog"
	"unicode/utf8"

	"github.com/kabili207/ocbridge/core/cobs"
)

// DefaultMaxBuffer caps the bytes accumulated while waiting for a terminator.
const DefaultMaxBuffer = 16 * 1024

// CobsDebugConfig configures a CobsDebug codec.
type CobsDebugConfig struct {
	// MaxBuffer is the accumulation cap. The buffer is discarded once it
	// grows past this size. Default: 16 KiB.
	MaxBuffer int
	// Logger for dropped input. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// CobsDebug classifies a serial byte stream that carries both COBS frames
// (terminated by 0x00) and debug text lines (terminated by '\n').
//
// A 0x00 inside a text line ends that line early as a protocol frame. The
// firmware never emits NUL in its text output.
type CobsDebug struct {
	cfg CobsDebugConfig
	log *slog.Logger
	buf []byte
}

var _ Codec = (*CobsDebug)(nil)

// NewCobsDebug creates a stream classifier for one physical connection.
func NewCobsDebug(cfg CobsDebugConfig) *CobsDebug {
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = DefaultMaxBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CobsDebug{
		cfg: cfg,
		log: cfg.Logger.WithGroup("codec"),
		buf: make([]byte, 0, 512),
	}
}

// Buffered returns the number of bytes waiting for a terminator.
func (c *CobsDebug) Buffered() int {
	return len(c.buf)
}

// Decode classifies data byte by byte and emits every completed frame.
func (c *CobsDebug) Decode(data []byte, emit func(Frame)) {
	for _, b := range data {
		switch b {
		case cobs.Delimiter:
			if len(c.buf) > 0 {
				c.emitMessage(emit)
			}
			c.buf = c.buf[:0]
		case '\n':
			c.emitLine(emit)
			c.buf = c.buf[:0]
		default:
			c.buf = append(c.buf, b)
			if len(c.buf) > c.cfg.MaxBuffer {
				c.log.Debug("discarding oversized input", "bytes", len(c.buf))
				c.buf = c.buf[:0]
			}
		}
	}
}

func (c *CobsDebug) emitMessage(emit func(Frame)) {
	payload, err := cobs.AppendDecode(make([]byte, 0, len(c.buf)), c.buf)
	if err != nil {
		c.log.Debug("dropping malformed frame", "bytes", len(c.buf), "error", err)
		return
	}
	emit(Frame{
		Kind:    FrameMessage,
		Name:    NameOrUnknown(payload),
		Payload: payload,
	})
}

func (c *CobsDebug) emitLine(emit func(Frame)) {
	line := c.buf
	if n := len(line); n > 0 && line[n-1] == '\r' {
		line = line[:n-1]
	}
	if len(line) == 0 || !utf8.Valid(line) {
		return
	}
	level, msg := ParseLogLine(string(line))
	emit(Frame{
		Kind:  FrameDebugLog,
		Level: level,
		Text:  msg,
	})
}

// Encode appends the COBS encoding of payload, including its delimiter.
func (c *CobsDebug) Encode(dst, payload []byte) ([]byte, error) {
	return cobs.AppendEncode(dst, payload)
}
