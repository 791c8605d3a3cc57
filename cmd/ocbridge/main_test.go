package main

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"slices"
	"strconv"
	"testing"

	"github.com/kabili207/ocbridge/config"
	"github.com/kabili207/ocbridge/core"
	"github.com/kabili207/ocbridge/core/logs"
	"github.com/kabili207/ocbridge/device/control"
	"github.com/kabili207/ocbridge/transport"
)

func TestBridgeConfig(t *testing.T) {
	cfg := config.Defaults()
	cfg.Controller.SerialPort = "/dev/ttyACM0"
	cfg.Host.Transport = transport.KindMQTT
	cfg.Host.MQTT.Broker = "tcp://broker:1883"
	state := control.NewState(control.Info{})

	bc := bridgeConfig(cfg, state, nil)
	if bc.Controller != transport.KindSerial || bc.SerialPort != "/dev/ttyACM0" || bc.BaudRate != 115200 {
		t.Errorf("controller fields = %+v", bc)
	}
	if bc.Host != transport.KindMQTT || bc.MQTT.Broker != "tcp://broker:1883" || bc.MQTT.TopicPrefix != "ocbridge" {
		t.Errorf("host fields = %+v", bc)
	}
	if bc.Desired != state.Desired || bc.SerialOpen != state.SerialOpen {
		t.Error("control state cells not shared with the bridge")
	}
	if bc.Device.VID != 0x16C0 || !slices.Equal(bc.Device.PIDs, []uint16{0x0483, 0x0486, 0x0487, 0x0489}) {
		t.Errorf("Device = %+v", bc.Device)
	}

	if bc := bridgeConfig(cfg, nil, nil); bc.Desired != nil || bc.SerialOpen != nil {
		t.Error("cells set without control state")
	}
}

func TestParseFilterMode(t *testing.T) {
	tests := []struct {
		in      string
		want    logs.FilterMode
		wantErr bool
	}{
		{"all", logs.FilterAll, false},
		{"protocol", logs.FilterProtocol, false},
		{"debug", logs.FilterDebug, false},
		{"system", 0, true},
	}
	for _, tt := range tests {
		got, err := parseFilterMode(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseFilterMode(%q) = %v, %v", tt.in, got, err)
		}
	}
}

func TestCommonOptions_Logger(t *testing.T) {
	tests := []struct {
		level, format string
		wantErr       bool
	}{
		{"info", "text", false},
		{"DEBUG", "json", false},
		{"loud", "text", true},
		{"info", "xml", true},
	}
	for _, tt := range tests {
		o := commonOptions{logLevel: tt.level, logFormat: tt.format}
		_, err := o.logger()
		if (err != nil) != tt.wantErr {
			t.Errorf("logger(%q, %q) error = %v, wantErr %v", tt.level, tt.format, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, core.ErrInvalidConfig) {
			t.Errorf("error %v does not wrap ErrInvalidConfig", err)
		}
		if err != nil && !errors.Is(err, core.ErrRuntimeInit) {
			t.Errorf("error %v does not wrap ErrRuntimeInit", err)
		}
	}
}

func TestCommonOptions_LoadMissingFile(t *testing.T) {
	o := commonOptions{configPath: filepath.Join(t.TempDir(), "none.yaml")}
	cfg, path, err := o.load()
	if err != nil {
		t.Fatalf("load() error = %v", err)
	}
	if path != o.configPath || cfg.ControlPort != 9003 {
		t.Errorf("load() = %q, control port %d", path, cfg.ControlPort)
	}
}

func TestRun_UnknownCommand(t *testing.T) {
	if err := run([]string{"frobnicate"}); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestRunCtl(t *testing.T) {
	srv := control.NewServer(control.ServerConfig{State: control.NewState(control.Info{})})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	port := strconv.Itoa(ln.Addr().(*net.TCPAddr).Port)

	if err := runCtl(context.Background(), []string{"--port", port, "ping"}); err != nil {
		t.Errorf("ctl ping error = %v", err)
	}
	err = runCtl(context.Background(), []string{"--port", port, "bogus"})
	if !errors.Is(err, core.ErrExternalCommand) {
		t.Errorf("ctl bogus error = %v, want ErrExternalCommand", err)
	}
}
