// Package mqtt provides an MQTT host transport.
//
// Controller payloads are published unchanged as binary messages to
// "{prefix}/out"; messages arriving on "{prefix}/in" are relayed to the
// controller. The broker connection reconnects on its own, so In stays open
// until the transport's context is done.
package mqtt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kabili207/ocbridge/transport"
)

// Compile-time interface check.
var _ transport.Transport = (*Transport)(nil)

const (
	// DefaultTopicPrefix is the default MQTT topic prefix.
	DefaultTopicPrefix = "ocbridge"
	// DefaultConnectTimeout bounds the initial broker connection.
	DefaultConnectTimeout = 30 * time.Second
	// DefaultPublishTimeout bounds a single publish.
	DefaultPublishTimeout = 10 * time.Second
)

// Config holds the configuration for an MQTT transport.
type Config struct {
	// Broker is the MQTT broker URL (e.g., "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: "ocbridge").
	TopicPrefix string
	// QoS is the quality of service for publish and subscribe. Default: 0.
	QoS byte
	// ConnectTimeout bounds the initial connection. Default: 30s.
	ConnectTimeout time.Duration
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Transport implements transport.Transport over MQTT.
type Transport struct {
	cfg       Config
	client    paho.Client
	log       *slog.Logger
	mu        sync.RWMutex
	connected bool

	in       chan []byte
	inMu     sync.RWMutex
	inClosed bool
}

// New creates a new MQTT transport with the given configuration.
func New(cfg Config) *Transport {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Transport{
		cfg: cfg,
		log: cfg.Logger.WithGroup("mqtt"),
	}
}

// InTopic is the topic relayed to the controller.
func (t *Transport) InTopic() string {
	return t.cfg.TopicPrefix + "/in"
}

// OutTopic is the topic controller payloads are published to.
func (t *Transport) OutTopic() string {
	return t.cfg.TopicPrefix + "/out"
}

// Spawn connects to the broker and starts relaying. It blocks until the
// first connection succeeds or ConnectTimeout elapses.
func (t *Transport) Spawn(ctx context.Context) (transport.Channels, error) {
	if t.cfg.Broker == "" {
		return transport.Channels{}, errors.New("broker URL is required")
	}

	clientID := t.cfg.ClientID
	if clientID == "" {
		clientID = "ocbridge-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(true).
		SetOnConnectHandler(t.onConnected).
		SetConnectionLostHandler(t.onConnectionLost).
		SetReconnectingHandler(t.onReconnecting)

	if t.cfg.Username != "" {
		opts.SetUsername(t.cfg.Username)
	}
	if t.cfg.Password != "" {
		opts.SetPassword(t.cfg.Password)
	}
	if t.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	t.inMu.Lock()
	t.in = make(chan []byte, transport.DefaultChannelSize)
	t.inClosed = false
	t.inMu.Unlock()
	out := make(chan []byte, transport.DefaultChannelSize)

	client := paho.NewClient(opts)
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(t.cfg.ConnectTimeout) {
		client.Disconnect(0)
		return transport.Channels{}, errors.New("connection timeout")
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return transport.Channels{}, fmt.Errorf("connecting to broker: %w", err)
	}

	go t.publishLoop(ctx, out)
	go func() {
		<-ctx.Done()
		t.stop()
	}()

	return transport.Channels{In: t.in, Out: out}, nil
}

// stop disconnects from the broker and closes In.
func (t *Transport) stop() {
	t.mu.Lock()
	if t.client != nil {
		t.client.Disconnect(250)
	}
	t.connected = false
	t.mu.Unlock()

	t.inMu.Lock()
	if !t.inClosed {
		t.inClosed = true
		close(t.in)
	}
	t.inMu.Unlock()
}

// IsConnected returns true if the transport is connected to the broker.
func (t *Transport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected && t.client != nil && t.client.IsConnected()
}

func (t *Transport) publishLoop(ctx context.Context, out <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-out:
			if err := t.publish(data); err != nil {
				t.log.Debug("dropping outbound payload", "error", err)
			}
		}
	}
}

func (t *Transport) publish(data []byte) error {
	if !t.IsConnected() {
		return errors.New("not connected")
	}

	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()
	token := client.Publish(t.OutTopic(), t.cfg.QoS, false, data)
	if !token.WaitTimeout(DefaultPublishTimeout) {
		return errors.New("timeout publishing to MQTT")
	}
	return token.Error()
}

func (t *Transport) subscribe(client paho.Client) {
	topic := t.InTopic()
	client.Subscribe(topic, t.cfg.QoS, t.handleMessage)
	t.log.Debug("subscribed to inbound topic", "topic", topic)
}

func (t *Transport) handleMessage(_ paho.Client, message paho.Message) {
	payload := message.Payload()
	if len(payload) == 0 {
		return
	}

	t.inMu.RLock()
	defer t.inMu.RUnlock()
	if t.inClosed || t.in == nil {
		return
	}
	if !transport.TrySend(t.in, append([]byte(nil), payload...)) {
		t.log.Debug("inbound channel full, dropping message", "topic", message.Topic())
	}
}

func (t *Transport) onConnected(client paho.Client) {
	t.mu.Lock()
	t.connected = true
	t.mu.Unlock()

	t.subscribe(client)
	t.log.Info("connected to MQTT broker", "broker", t.cfg.Broker)
}

func (t *Transport) onConnectionLost(_ paho.Client, err error) {
	t.mu.Lock()
	t.connected = false
	t.mu.Unlock()

	t.log.Error("MQTT connection lost", "error", err)
}

func (t *Transport) onReconnecting(_ paho.Client, _ *paho.ClientOptions) {
	t.log.Info("reconnecting to MQTT broker")
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
