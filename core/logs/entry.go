// Package logs defines the user-visible bridge log stream: entries produced
// by the relay session and the lifecycle machine, an in-memory store for
// them, and the loopback UDP broadcast that lets a monitor follow a daemon.
package logs

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kabili207/ocbridge/core/codec"
)

// TimestampLayout formats entry timestamps as HH:MM:SS.mmm.
const TimestampLayout = "15:04:05.000"

// nowFn allows overriding time.Now() for testing.
var nowFn = time.Now

var ErrUnknownKind = errors.New("unknown log entry kind")

// Direction is the travel direction of a protocol message.
type Direction uint8

const (
	// In is controller to host.
	In Direction = iota
	// Out is host to controller.
	Out
)

func (d Direction) String() string {
	if d == Out {
		return "Out"
	}
	return "In"
}

func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Direction) UnmarshalText(text []byte) error {
	switch string(text) {
	case "In":
		*d = In
	case "Out":
		*d = Out
	default:
		return fmt.Errorf("unknown direction %q", text)
	}
	return nil
}

// Kind identifies which fields of an Entry are meaningful.
type Kind uint8

const (
	KindProtocol Kind = iota
	KindDebug
	KindSystem
)

func (k Kind) String() string {
	switch k {
	case KindProtocol:
		return "Protocol"
	case KindDebug:
		return "Debug"
	case KindSystem:
		return "System"
	default:
		return "Unknown"
	}
}

// Entry is one line of the bridge log.
//
// Protocol entries use Direction, MessageName and Size. Debug entries use
// Level and Message. System entries use Message.
type Entry struct {
	Timestamp   string
	Kind        Kind
	Direction   Direction
	MessageName string
	Size        int
	Level       codec.Level
	Message     string
}

// System returns a bridge status entry stamped with the current time.
func System(msg string) Entry {
	return Entry{Timestamp: stamp(), Kind: KindSystem, Message: msg}
}

// Systemf is System with fmt.Sprintf formatting.
func Systemf(format string, args ...any) Entry {
	return System(fmt.Sprintf(format, args...))
}

// ProtocolIn returns an entry for a message received from the controller.
func ProtocolIn(name string, size int) Entry {
	return Entry{Timestamp: stamp(), Kind: KindProtocol, Direction: In, MessageName: name, Size: size}
}

// ProtocolOut returns an entry for a message sent to the controller.
func ProtocolOut(name string, size int) Entry {
	return Entry{Timestamp: stamp(), Kind: KindProtocol, Direction: Out, MessageName: name, Size: size}
}

// Debug returns an entry for a firmware debug line.
func Debug(level codec.Level, msg string) Entry {
	return Entry{Timestamp: stamp(), Kind: KindDebug, Level: level, Message: msg}
}

func stamp() string {
	return nowFn().Format(TimestampLayout)
}

func (e Entry) String() string {
	switch e.Kind {
	case KindProtocol:
		arrow := "<-"
		if e.Direction == Out {
			arrow = "->"
		}
		return fmt.Sprintf("%s %s %s (%d bytes)", e.Timestamp, arrow, e.MessageName, e.Size)
	case KindDebug:
		if e.Level == codec.LevelNone {
			return fmt.Sprintf("%s [debug] %s", e.Timestamp, e.Message)
		}
		return fmt.Sprintf("%s [%s] %s", e.Timestamp, e.Level, e.Message)
	default:
		return fmt.Sprintf("%s %s", e.Timestamp, e.Message)
	}
}

// Wire form. The kind is an externally tagged object:
// {"timestamp":"...","kind":{"Protocol":{...}}}.
type (
	wireEntry struct {
		Timestamp string   `json:"timestamp"`
		Kind      wireKind `json:"kind"`
	}
	wireKind struct {
		Protocol *wireProtocol `json:"Protocol,omitempty"`
		Debug    *wireDebug    `json:"Debug,omitempty"`
		System   *wireSystem   `json:"System,omitempty"`
	}
	wireProtocol struct {
		Direction   Direction `json:"direction"`
		MessageName string    `json:"message_name"`
		Size        int       `json:"size"`
	}
	wireDebug struct {
		Level   codec.Level `json:"level"`
		Message string      `json:"message"`
	}
	wireSystem struct {
		Message string `json:"message"`
	}
)

func (e Entry) MarshalJSON() ([]byte, error) {
	w := wireEntry{Timestamp: e.Timestamp}
	switch e.Kind {
	case KindProtocol:
		w.Kind.Protocol = &wireProtocol{Direction: e.Direction, MessageName: e.MessageName, Size: e.Size}
	case KindDebug:
		w.Kind.Debug = &wireDebug{Level: e.Level, Message: e.Message}
	case KindSystem:
		w.Kind.System = &wireSystem{Message: e.Message}
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, e.Kind)
	}
	return json.Marshal(w)
}

func (e *Entry) UnmarshalJSON(data []byte) error {
	var w wireEntry
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Entry{Timestamp: w.Timestamp}
	switch {
	case w.Kind.Protocol != nil:
		e.Kind = KindProtocol
		e.Direction = w.Kind.Protocol.Direction
		e.MessageName = w.Kind.Protocol.MessageName
		e.Size = w.Kind.Protocol.Size
	case w.Kind.Debug != nil:
		e.Kind = KindDebug
		e.Level = w.Kind.Debug.Level
		e.Message = w.Kind.Debug.Message
	case w.Kind.System != nil:
		e.Kind = KindSystem
		e.Message = w.Kind.System.Message
	default:
		return ErrUnknownKind
	}
	return nil
}

// TrySend delivers e to ch without blocking. It reports false when the
// channel is full and the entry was dropped.
func TrySend(ch chan<- Entry, e Entry) bool {
	select {
	case ch <- e:
		return true
	default:
		return false
	}
}
