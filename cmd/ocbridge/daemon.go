package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/kabili207/ocbridge/config"
	"github.com/kabili207/ocbridge/core/logs"
	"github.com/kabili207/ocbridge/device/bridge"
	"github.com/kabili207/ocbridge/device/control"
	"github.com/kabili207/ocbridge/internal/instance"
	"github.com/kabili207/ocbridge/transport/mqtt"
	"github.com/kabili207/ocbridge/transport/serial"
)

func runDaemon(ctx context.Context, args []string) error {
	var opts commonOptions
	fs := pflag.NewFlagSet("run", pflag.ContinueOnError)
	opts.addFlags(fs)
	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}

	logger, err := opts.logger()
	if err != nil {
		return err
	}
	cfg, path, err := opts.load()
	if err != nil {
		return err
	}

	lock, err := instance.Acquire(filepath.Dir(path))
	if err != nil {
		return err
	}
	defer lock.Release()

	state := control.NewState(control.Info{
		ConfigPath:       path,
		HostUDPPort:      cfg.Host.UDPPort,
		LogBroadcastPort: cfg.LogBroadcastPort,
		ControlPort:      cfg.ControlPort,
	})

	ctx, shutdown := context.WithCancel(ctx)
	defer shutdown()

	h, err := bridge.Start(ctx, bridgeConfig(cfg, state, logger))
	if err != nil {
		return err
	}

	server := control.NewServer(control.ServerConfig{
		Port:       cfg.ControlPort,
		State:      state,
		OnShutdown: shutdown,
		Logger:     logger,
	})
	broadcaster := logs.NewBroadcaster(logs.BroadcasterConfig{
		Port:   cfg.LogBroadcastPort,
		Logger: logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx)
	})
	g.Go(func() error {
		return broadcaster.Run(gctx, h.Logs())
	})
	g.Go(func() error {
		select {
		case <-h.Done():
		case <-gctx.Done():
			h.Stop()
			<-h.Done()
		}
		shutdown()
		return h.Err()
	})

	logger.Info("ocbridge daemon running",
		"config", path,
		"controller", cfg.Controller.Transport,
		"host", cfg.Host.Transport,
		"control_port", cfg.ControlPort,
		"log_broadcast_port", cfg.LogBroadcastPort)

	if err := g.Wait(); err != nil {
		return fmt.Errorf("bridge daemon: %w", err)
	}
	logger.Info("ocbridge daemon stopped")
	return nil
}

// bridgeConfig maps the file configuration onto the bridge. state may be nil
// when no control plane runs.
func bridgeConfig(cfg *config.Config, state *control.State, logger *slog.Logger) bridge.Config {
	bc := bridge.Config{
		Controller:              cfg.Controller.Transport,
		SerialPort:              cfg.Controller.SerialPort,
		BaudRate:                cfg.Controller.BaudRate,
		Device:                  deviceMatch(cfg.Controller.Device),
		ControllerUDPPort:       cfg.Controller.UDPPort,
		ControllerWebSocketPort: cfg.Controller.WebSocketPort,
		Host:                    cfg.Host.Transport,
		HostUDPPort:             cfg.Host.UDPPort,
		HostWebSocketPort:       cfg.Host.WebSocketPort,
		MQTT: mqtt.Config{
			Broker:      cfg.Host.MQTT.Broker,
			Username:    cfg.Host.MQTT.Username,
			Password:    cfg.Host.MQTT.Password,
			UseTLS:      cfg.Host.MQTT.UseTLS,
			ClientID:    cfg.Host.MQTT.ClientID,
			TopicPrefix: cfg.Host.MQTT.TopicPrefix,
		},
		Logger: logger,
	}
	if state != nil {
		bc.Desired = state.Desired
		bc.SerialOpen = state.SerialOpen
	}
	return bc
}

func deviceMatch(d config.DeviceConfig) serial.DeviceMatch {
	m := serial.DeviceMatch{VID: uint16(d.VID), NameHint: d.NameHint}
	for _, pid := range d.PIDs {
		m.PIDs = append(m.PIDs, uint16(pid))
	}
	return m
}
