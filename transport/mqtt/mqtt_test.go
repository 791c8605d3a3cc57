package mqtt

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"
)

// fakeMessage implements paho.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 0 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

func TestNew_Defaults(t *testing.T) {
	tr := New(Config{Broker: "tcp://localhost:1883"})

	if tr.cfg.TopicPrefix != DefaultTopicPrefix {
		t.Errorf("expected default topic prefix %q, got %q", DefaultTopicPrefix, tr.cfg.TopicPrefix)
	}
	if tr.cfg.ConnectTimeout != DefaultConnectTimeout {
		t.Errorf("expected default connect timeout, got %v", tr.cfg.ConnectTimeout)
	}
	if tr.log == nil {
		t.Error("expected logger to be set")
	}
}

func TestTopics(t *testing.T) {
	tr := New(Config{Broker: "tcp://localhost:1883", TopicPrefix: "studio/rig1"})

	if got := tr.InTopic(); got != "studio/rig1/in" {
		t.Errorf("InTopic() = %q", got)
	}
	if got := tr.OutTopic(); got != "studio/rig1/out" {
		t.Errorf("OutTopic() = %q", got)
	}
}

func TestSpawn_MissingBroker(t *testing.T) {
	tr := New(Config{})
	if _, err := tr.Spawn(context.Background()); err == nil {
		t.Fatal("expected error with empty broker")
	}
}

func TestSpawn_ConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	tr := New(Config{
		Broker:         fmt.Sprintf("tcp://127.0.0.1:%d", port),
		ConnectTimeout: 5 * time.Second,
	})

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				tr.IsConnected()
			}
		}
	}()

	_, err = tr.Spawn(context.Background())
	close(stop)
	wg.Wait()

	if err == nil {
		t.Fatal("expected error connecting to a closed port")
	}
	if tr.IsConnected() {
		t.Error("expected not connected after a refused connection")
	}
}

func TestPublish_NotConnected(t *testing.T) {
	tr := New(Config{Broker: "tcp://localhost:1883"})
	if err := tr.publish([]byte{0x01, 0x02}); err == nil {
		t.Fatal("expected error when not connected")
	}
}

func TestIsConnected_Default(t *testing.T) {
	tr := New(Config{Broker: "tcp://localhost:1883"})
	if tr.IsConnected() {
		t.Error("expected not connected initially")
	}
}

func TestHandleMessage(t *testing.T) {
	tr := New(Config{Broker: "tcp://localhost:1883"})
	tr.in = make(chan []byte, 1)

	payload := []byte{0x01, 0x02, 0x03}
	tr.handleMessage(nil, &fakeMessage{topic: tr.InTopic(), payload: payload})
	tr.handleMessage(nil, &fakeMessage{topic: tr.InTopic()})

	select {
	case got := <-tr.in:
		if !bytes.Equal(got, payload) {
			t.Errorf("In = %v, want %v", got, payload)
		}
		payload[0] = 0xFF
		if got[0] != 0x01 {
			t.Error("inbound chunk aliases the broker's payload")
		}
	default:
		t.Fatal("no message delivered")
	}

	select {
	case got := <-tr.in:
		t.Errorf("empty payload delivered: %v", got)
	default:
	}
}

func TestHandleMessage_AfterStop(t *testing.T) {
	tr := New(Config{Broker: "tcp://localhost:1883"})
	tr.in = make(chan []byte, 1)
	tr.stop()

	// Must not panic on the closed channel.
	tr.handleMessage(nil, &fakeMessage{topic: tr.InTopic(), payload: []byte{0x01}})
}

func TestRandomString(t *testing.T) {
	s := randomString(16)
	if len(s) != 16 {
		t.Errorf("len = %d, want 16", len(s))
	}
}
