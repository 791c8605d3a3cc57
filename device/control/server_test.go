package control

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kabili207/ocbridge/core"
)

// startServer serves on an ephemeral port until the test ends.
func startServer(t *testing.T, cfg ServerConfig) (*Server, int) {
	t.Helper()
	s := NewServer(cfg)
	ln, err := s.Listen()
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return s, ln.Addr().(*net.TCPAddr).Port
}

func TestHandle_Commands(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		wantOK  bool
		wantMsg string
	}{
		{"ping", Request{Schema: 1, Cmd: "ping"}, true, "pong"},
		{"missing schema", Request{Cmd: "ping"}, true, "pong"},
		{"uppercase", Request{Schema: 1, Cmd: "PING"}, true, "pong"},
		{"resume", Request{Schema: 1, Cmd: "resume"}, true, ""},
		{"unknown", Request{Schema: 1, Cmd: "reboot"}, false, "unknown cmd: reboot"},
		{"bad schema", Request{Schema: 2, Cmd: "ping"}, false, "malformed request: unsupported schema 2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewServer(ServerConfig{})
			resp := s.Handle(context.Background(), tt.req)
			if resp.OK != tt.wantOK {
				t.Errorf("OK = %v, want %v", resp.OK, tt.wantOK)
			}
			if resp.Text() != tt.wantMsg {
				t.Errorf("message = %q, want %q", resp.Text(), tt.wantMsg)
			}
			if resp.Schema != SchemaVersion {
				t.Errorf("schema = %d", resp.Schema)
			}
		})
	}
}

func TestHandle_Status(t *testing.T) {
	state := NewState(Info{ConfigPath: "/etc/ocbridge.yaml", HostUDPPort: 9000, LogBroadcastPort: 9002, ControlPort: 9003})
	state.SerialOpen.Set(true)
	s := NewServer(ServerConfig{State: state})

	for _, cmd := range []string{CmdStatus, CmdInfo} {
		resp := s.Handle(context.Background(), Request{Cmd: cmd})
		if !resp.OK || resp.Paused || !resp.SerialOpen {
			t.Errorf("%s: ok=%v paused=%v serial_open=%v", cmd, resp.OK, resp.Paused, resp.SerialOpen)
		}
		if resp.PID == 0 || resp.Version != core.Version {
			t.Errorf("%s: pid=%d version=%q", cmd, resp.PID, resp.Version)
		}
		if resp.ConfigPath != "/etc/ocbridge.yaml" || resp.HostUDPPort != 9000 || resp.LogBroadcastPort != 9002 || resp.ControlPort != 9003 {
			t.Errorf("%s: info fields = %+v", cmd, resp)
		}
	}

	ping := s.Handle(context.Background(), Request{Cmd: CmdPing})
	if ping.PID != 0 || ping.Version != "" {
		t.Errorf("ping carries status fields: %+v", ping)
	}
}

func TestHandle_PauseAck(t *testing.T) {
	state := NewState(Info{})
	state.SerialOpen.Set(true)
	s := NewServer(ServerConfig{State: state})

	// Stand-in for the serial transport: release the device once paused.
	go func() {
		state.Desired.WaitFor(context.Background(), func(v core.RunState) bool { return v == core.RunPaused })
		time.Sleep(20 * time.Millisecond)
		state.SerialOpen.Set(false)
	}()

	resp := s.Handle(context.Background(), Request{Cmd: CmdPause})
	if !resp.OK {
		t.Fatalf("pause failed: %q", resp.Text())
	}
	if !resp.Paused || resp.SerialOpen {
		t.Errorf("paused=%v serial_open=%v, want true/false", resp.Paused, resp.SerialOpen)
	}

	resp = s.Handle(context.Background(), Request{Cmd: CmdResume})
	if !resp.OK || resp.Paused {
		t.Errorf("resume: ok=%v paused=%v", resp.OK, resp.Paused)
	}
	if state.Desired.Load() != core.RunRunning {
		t.Error("desired state not running after resume")
	}
}

func TestHandle_PauseTimeout(t *testing.T) {
	state := NewState(Info{})
	state.SerialOpen.Set(true)
	s := NewServer(ServerConfig{State: state, PauseAckTimeout: 50 * time.Millisecond})

	start := time.Now()
	resp := s.Handle(context.Background(), Request{Cmd: CmdPause})
	if resp.OK {
		t.Fatal("pause succeeded with the serial device still open")
	}
	if resp.Text() != "timeout waiting for serial to close" {
		t.Errorf("message = %q", resp.Text())
	}
	if !resp.Paused || !resp.SerialOpen {
		t.Errorf("paused=%v serial_open=%v, want true/true", resp.Paused, resp.SerialOpen)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("returned after %v, before the timeout", elapsed)
	}
}

func TestHandle_PauseAlreadyClosed(t *testing.T) {
	s := NewServer(ServerConfig{PauseAckTimeout: time.Hour})
	resp := s.Handle(context.Background(), Request{Cmd: CmdPause})
	if !resp.OK || !resp.Paused {
		t.Errorf("ok=%v paused=%v", resp.OK, resp.Paused)
	}
}

func TestResponse_JSON(t *testing.T) {
	data, err := json.Marshal(Response{Schema: 1, OK: true})
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	if !strings.Contains(got, `"message":null`) {
		t.Errorf("message not null: %s", got)
	}
	for _, field := range []string{"pid", "version", "config_path", "host_udp_port", "log_broadcast_port", "control_port"} {
		if strings.Contains(got, `"`+field+`"`) {
			t.Errorf("optional field %s present: %s", field, got)
		}
	}
}

func TestServer_SendRoundTrip(t *testing.T) {
	var shutdowns atomic.Int32
	_, port := startServer(t, ServerConfig{OnShutdown: func() { shutdowns.Add(1) }})

	resp, err := Send(context.Background(), port, "status")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !resp.OK || resp.ControlPort != port {
		t.Errorf("status = %+v, want ok with control_port %d", resp, port)
	}

	resp, err = Send(context.Background(), port, "shutdown")
	if err != nil {
		t.Fatal(err)
	}
	if !resp.OK || shutdowns.Load() != 1 {
		t.Errorf("shutdown: ok=%v calls=%d", resp.OK, shutdowns.Load())
	}
}

func TestServer_MalformedRequest(t *testing.T) {
	_, port := startServer(t, ServerConfig{})

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(2 * time.Second))
	if _, err := conn.Write([]byte("not json\n")); err != nil {
		t.Fatal(err)
	}

	r := bufio.NewReader(conn)
	line, err := r.ReadBytes('\n')
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.OK || !strings.HasPrefix(resp.Text(), "malformed request") {
		t.Errorf("response = %+v", resp)
	}
	// The server closes the connection after one response.
	if _, err := r.ReadByte(); err == nil {
		t.Error("connection still open after response")
	}
}

func TestProbe(t *testing.T) {
	_, port := startServer(t, ServerConfig{})

	running, err := Probe{Port: port}.IsRunning()
	if err != nil || !running {
		t.Errorf("IsRunning() = %v, %v; want true", running, err)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	closed := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	running, err = Probe{Port: closed}.IsRunning()
	if err != nil || running {
		t.Errorf("IsRunning() on a closed port = %v, %v; want false, nil", running, err)
	}
}
