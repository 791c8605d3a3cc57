// Package transport defines the byte-channel abstraction shared by every
// bridge endpoint: the controller link (serial, UDP or WebSocket) and the
// host link (UDP, WebSocket, MQTT, or UDP and WebSocket together).
package transport

import (
	"context"
	"fmt"
	"strings"
)

// DefaultChannelSize is the capacity of the In and Out channels.
const DefaultChannelSize = 256

// Channels is the pair of byte channels a spawned transport exposes.
//
// The transport closes In when its endpoint is gone. Chunks sent on Out
// belong to the transport; chunks received from In belong to the receiver.
// Neither side mutates a chunk after handing it over.
type Channels struct {
	In  <-chan []byte
	Out chan<- []byte
}

// Transport owns one I/O endpoint.
type Transport interface {
	// Spawn opens the endpoint and starts the goroutines that move bytes
	// between it and the returned channels. It blocks only for bounded
	// setup such as bind retries. The goroutines stop when ctx is done.
	Spawn(ctx context.Context) (Channels, error)
}

// Kind identifies a transport implementation.
type Kind int

const (
	// KindSerial is a USB serial device.
	KindSerial Kind = iota
	// KindUDP is a loopback UDP socket.
	KindUDP
	// KindWebSocket is a WebSocket server with a single active client.
	KindWebSocket
	// KindBoth is UDP and WebSocket together.
	KindBoth
	// KindMQTT is an MQTT broker connection.
	KindMQTT
)

func (k Kind) String() string {
	switch k {
	case KindSerial:
		return "serial"
	case KindUDP:
		return "udp"
	case KindWebSocket:
		return "websocket"
	case KindBoth:
		return "both"
	case KindMQTT:
		return "mqtt"
	default:
		return "unknown"
	}
}

// ParseKind parses a transport name as written in configuration.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "serial":
		return KindSerial, nil
	case "udp":
		return KindUDP, nil
	case "websocket", "ws":
		return KindWebSocket, nil
	case "both":
		return KindBoth, nil
	case "mqtt":
		return KindMQTT, nil
	default:
		return 0, fmt.Errorf("unknown transport %q", s)
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// TrySend delivers b to ch without blocking. It reports false when the
// channel is full and b was dropped.
func TrySend(ch chan<- []byte, b []byte) bool {
	select {
	case ch <- b:
		return true
	default:
		return false
	}
}
