// Package codec turns raw transport bytes into frames and frames back into
// wire bytes.
//
// Two codecs are provided. CobsDebug handles the controller's USB serial
// stream, where COBS-framed protocol messages and newline-terminated debug
// text share one byte stream. Raw treats every chunk as one message and is
// used for datagram controllers that need no framing.
package codec

import (
	"encoding/json"
	"fmt"
)

// Level is the severity parsed from a firmware debug line. LevelNone means
// the line did not carry a recognised level.
type Level uint8

const (
	LevelNone Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "Debug"
	case LevelInfo:
		return "Info"
	case LevelWarn:
		return "Warn"
	case LevelError:
		return "Error"
	default:
		return ""
	}
}

// MarshalJSON encodes LevelNone as null and other levels by name.
func (l Level) MarshalJSON() ([]byte, error) {
	if l == LevelNone {
		return []byte("null"), nil
	}
	return json.Marshal(l.String())
}

// UnmarshalJSON accepts the names produced by MarshalJSON, or null.
func (l *Level) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*l = LevelNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "Debug":
		*l = LevelDebug
	case "Info":
		*l = LevelInfo
	case "Warn":
		*l = LevelWarn
	case "Error":
		*l = LevelError
	default:
		return fmt.Errorf("unknown log level %q", s)
	}
	return nil
}

// FrameKind distinguishes protocol messages from debug text.
type FrameKind uint8

const (
	// FrameMessage is a decoded protocol message.
	FrameMessage FrameKind = iota
	// FrameDebugLog is a line of firmware debug output.
	FrameDebugLog
)

func (k FrameKind) String() string {
	switch k {
	case FrameMessage:
		return "message"
	case FrameDebugLog:
		return "debug"
	default:
		return "unknown"
	}
}

// Frame is one decoded unit from the wire. Message frames set Name and
// Payload; debug frames set Level and Text. The receiver owns Payload.
type Frame struct {
	Kind    FrameKind
	Name    string
	Payload []byte
	Level   Level
	Text    string
}

// Codec converts between wire bytes and frames. A Codec instance holds
// per-connection parser state and must not be shared between connections.
type Codec interface {
	// Decode consumes data and calls emit once per complete frame. Partial
	// input is buffered until its terminator arrives.
	Decode(data []byte, emit func(Frame))
	// Encode appends the wire form of payload to dst.
	Encode(dst, payload []byte) ([]byte, error)
}
