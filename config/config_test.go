package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/kabili207/ocbridge/core"
	"github.com/kabili207/ocbridge/transport"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Controller.Transport != transport.KindSerial {
		t.Errorf("Controller.Transport = %s, want serial", cfg.Controller.Transport)
	}
	if cfg.Host.Transport != transport.KindUDP || cfg.Host.UDPPort != 9000 {
		t.Errorf("Host = %+v", cfg.Host)
	}
	if cfg.LogBroadcastPort != 9002 || cfg.ControlPort != 9003 {
		t.Errorf("ports = %d/%d", cfg.LogBroadcastPort, cfg.ControlPort)
	}
	if cfg.Controller.Device.VID != 0x16C0 || len(cfg.Controller.Device.PIDs) != 4 {
		t.Errorf("Device = %+v", cfg.Controller.Device)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults invalid: %v", err)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Logs.MaxEntries != 200 {
		t.Errorf("expected defaults, got MaxEntries=%d", cfg.Logs.MaxEntries)
	}
}

func TestLoad_YAML(t *testing.T) {
	path := writeConfig(t, `
controller:
  transport: serial
  serial_port: /dev/ttyACM1
  device:
    vid: "0x1234"
    pids: [0x0001, "0x00FF", 7]
host:
  transport: ws
  websocket_port: 8100
logs:
  max_entries: 50
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Controller.SerialPort != "/dev/ttyACM1" {
		t.Errorf("SerialPort = %q", cfg.Controller.SerialPort)
	}
	if cfg.Controller.Device.VID != 0x1234 {
		t.Errorf("VID = %s", cfg.Controller.Device.VID)
	}
	if want := []HexID{0x0001, 0x00FF, 7}; !slices.Equal(cfg.Controller.Device.PIDs, want) {
		t.Errorf("PIDs = %v, want %v", cfg.Controller.Device.PIDs, want)
	}
	if cfg.Host.Transport != transport.KindWebSocket || cfg.Host.WebSocketPort != 8100 {
		t.Errorf("Host = %+v", cfg.Host)
	}
	if cfg.Controller.BaudRate != 115200 || cfg.ControlPort != 9003 {
		t.Error("unset fields lost their defaults")
	}
	if cfg.Logs.MaxEntries != 50 {
		t.Errorf("MaxEntries = %d", cfg.Logs.MaxEntries)
	}
}

func TestLoad_ParseErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown transport", "host:\n  transport: carrier-pigeon\n"},
		{"bad usb id", "controller:\n  device:\n    vid: 0x1FFFF\n"},
		{"not yaml", "controller: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("Load() error = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("OCBRIDGE_CONTROLLER_TRANSPORT", "udp")
	t.Setenv("OCBRIDGE_HOST_TRANSPORT", "mqtt")
	t.Setenv("OCBRIDGE_MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("OCBRIDGE_CONTROL_PORT", "9100")
	t.Setenv("OCBRIDGE_LOG_BROADCAST_PORT", "not-a-number")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Controller.Transport != transport.KindUDP {
		t.Errorf("Controller.Transport = %s", cfg.Controller.Transport)
	}
	if cfg.Host.Transport != transport.KindMQTT || cfg.Host.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("Host = %+v", cfg.Host)
	}
	if cfg.ControlPort != 9100 {
		t.Errorf("ControlPort = %d", cfg.ControlPort)
	}
	if cfg.LogBroadcastPort != 9002 {
		t.Errorf("invalid override applied: LogBroadcastPort = %d", cfg.LogBroadcastPort)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"controller mqtt", func(c *Config) { c.Controller.Transport = transport.KindMQTT }, "controller.transport"},
		{"host serial", func(c *Config) { c.Host.Transport = transport.KindSerial }, "host.transport"},
		{"port range", func(c *Config) { c.ControlPort = 70000 }, "control_port"},
		{"baud", func(c *Config) { c.Controller.BaudRate = 0 }, "controller.baud_rate"},
		{"max entries", func(c *Config) { c.Logs.MaxEntries = 0 }, "logs.max_entries"},
		{"mqtt broker", func(c *Config) { c.Host.Transport = transport.KindMQTT }, "host.mqtt.broker"},
		{"no device preset", func(c *Config) { c.Controller.Device = DeviceConfig{} }, "controller.device"},
		{"udp clash", func(c *Config) {
			c.Controller.Transport = transport.KindUDP
			c.Controller.UDPPort = c.Host.UDPPort
		}, "controller.udp_port"},
		{"websocket clash", func(c *Config) {
			c.Controller.Transport = transport.KindWebSocket
			c.Host.Transport = transport.KindBoth
			c.Controller.WebSocketPort = c.Host.WebSocketPort
		}, "controller.websocket_port"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !errors.Is(err, ErrInvalid) || !errors.Is(err, core.ErrInvalidConfig) {
				t.Fatalf("Validate() error = %v, want ErrInvalid", err)
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestValidate_PinnedPortNeedsNoPreset(t *testing.T) {
	cfg := Defaults()
	cfg.Controller.Device = DeviceConfig{}
	cfg.Controller.SerialPort = "COM3"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestHexID_MarshalYAML(t *testing.T) {
	data, err := yaml.Marshal(DeviceConfig{VID: 0x16C0, PIDs: []HexID{0x0483}})
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); !strings.Contains(got, "0x16C0") || !strings.Contains(got, "0x0483") {
		t.Errorf("yaml = %s", got)
	}
}
