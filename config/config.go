// Package config loads the bridge daemon configuration from YAML with
// OCBRIDGE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kabili207/ocbridge/core"
	"github.com/kabili207/ocbridge/transport"
)

// ErrInvalid is wrapped by every validation and parse error.
var ErrInvalid = core.ErrInvalidConfig

// Config is the daemon configuration.
type Config struct {
	Controller       ControllerConfig `yaml:"controller"`
	Host             HostConfig       `yaml:"host"`
	LogBroadcastPort int              `yaml:"log_broadcast_port"`
	ControlPort      int              `yaml:"control_port"`
	Logs             LogsConfig       `yaml:"logs"`
}

// ControllerConfig selects and tunes the controller link.
type ControllerConfig struct {
	// Transport is serial, udp or websocket.
	Transport transport.Kind `yaml:"transport"`
	// SerialPort pins the device. Empty means auto-detect.
	SerialPort    string       `yaml:"serial_port"`
	BaudRate      int          `yaml:"baud_rate"`
	Device        DeviceConfig `yaml:"device"`
	UDPPort       int          `yaml:"udp_port"`
	WebSocketPort int          `yaml:"websocket_port"`
}

// DeviceConfig is the auto-detection preset.
type DeviceConfig struct {
	VID      HexID   `yaml:"vid"`
	PIDs     []HexID `yaml:"pids"`
	NameHint string  `yaml:"name_hint"`
}

// HostConfig selects and tunes the host link.
type HostConfig struct {
	// Transport is udp, websocket, both or mqtt.
	Transport     transport.Kind `yaml:"transport"`
	UDPPort       int            `yaml:"udp_port"`
	WebSocketPort int            `yaml:"websocket_port"`
	MQTT          MQTTConfig     `yaml:"mqtt"`
}

// MQTTConfig configures the MQTT host link.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	TopicPrefix string `yaml:"topic_prefix"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	UseTLS      bool   `yaml:"use_tls"`
}

// LogsConfig sizes the in-memory log store.
type LogsConfig struct {
	MaxEntries int `yaml:"max_entries"`
}

// HexID is a USB vendor or product id. It is written as a hex string and
// read from either a hex string or an integer.
type HexID uint16

func (h HexID) String() string {
	return fmt.Sprintf("0x%04X", uint16(h))
}

func (h HexID) MarshalYAML() (any, error) {
	return h.String(), nil
}

func (h *HexID) UnmarshalYAML(node *yaml.Node) error {
	s := strings.TrimSpace(node.Value)
	base := 10
	if rest, ok := strings.CutPrefix(strings.ToLower(s), "0x"); ok {
		s, base = rest, 16
	}
	v, err := strconv.ParseUint(s, base, 16)
	if err != nil {
		return fmt.Errorf("line %d: invalid USB id %q", node.Line, node.Value)
	}
	*h = HexID(v)
	return nil
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Controller: ControllerConfig{
			Transport: transport.KindSerial,
			BaudRate:  115200,
			Device: DeviceConfig{
				VID:  0x16C0,
				PIDs: []HexID{0x0483, 0x0486, 0x0487, 0x0489},
			},
			UDPPort:       9001,
			WebSocketPort: 8001,
		},
		Host: HostConfig{
			Transport:     transport.KindUDP,
			UDPPort:       9000,
			WebSocketPort: 8000,
			MQTT: MQTTConfig{
				TopicPrefix: "ocbridge",
			},
		},
		LogBroadcastPort: 9002,
		ControlPort:      9003,
		Logs:             LogsConfig{MaxEntries: 200},
	}
}

// Dir returns the per-user configuration directory,
// $XDG_CONFIG_HOME/ocbridge on Linux.
func Dir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("%w: locating config directory: %v", core.ErrIO, err)
	}
	return filepath.Join(base, "ocbridge"), nil
}

// DefaultPath returns the default config file path.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads a YAML config file over the defaults and applies environment
// overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("%w: read config: %v", core.ErrIO, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalid, path, err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps OCBRIDGE_* env vars to config fields. Unparseable
// values are ignored.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OCBRIDGE_CONTROLLER_TRANSPORT"); v != "" {
		if k, err := transport.ParseKind(v); err == nil {
			cfg.Controller.Transport = k
		}
	}
	if v := os.Getenv("OCBRIDGE_SERIAL_PORT"); v != "" {
		cfg.Controller.SerialPort = v
	}
	envInt("OCBRIDGE_BAUD_RATE", &cfg.Controller.BaudRate)
	envInt("OCBRIDGE_CONTROLLER_UDP_PORT", &cfg.Controller.UDPPort)
	envInt("OCBRIDGE_CONTROLLER_WEBSOCKET_PORT", &cfg.Controller.WebSocketPort)

	if v := os.Getenv("OCBRIDGE_HOST_TRANSPORT"); v != "" {
		if k, err := transport.ParseKind(v); err == nil {
			cfg.Host.Transport = k
		}
	}
	envInt("OCBRIDGE_HOST_UDP_PORT", &cfg.Host.UDPPort)
	envInt("OCBRIDGE_HOST_WEBSOCKET_PORT", &cfg.Host.WebSocketPort)
	if v := os.Getenv("OCBRIDGE_MQTT_BROKER"); v != "" {
		cfg.Host.MQTT.Broker = v
	}
	if v := os.Getenv("OCBRIDGE_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.Host.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("OCBRIDGE_MQTT_USERNAME"); v != "" {
		cfg.Host.MQTT.Username = v
	}
	if v := os.Getenv("OCBRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.Host.MQTT.Password = v
	}

	envInt("OCBRIDGE_LOG_BROADCAST_PORT", &cfg.LogBroadcastPort)
	envInt("OCBRIDGE_CONTROL_PORT", &cfg.ControlPort)
	envInt("OCBRIDGE_LOGS_MAX_ENTRIES", &cfg.Logs.MaxEntries)
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}
