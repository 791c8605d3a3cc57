package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/kabili207/ocbridge/core/logs"
	"github.com/kabili207/ocbridge/device/control"
	"github.com/kabili207/ocbridge/device/lifecycle"
)

const pollInterval = 100 * time.Millisecond

func runMonitor(ctx context.Context, args []string) error {
	var opts commonOptions
	var filter string
	var follow bool
	fs := pflag.NewFlagSet("monitor", pflag.ContinueOnError)
	opts.addFlags(fs)
	fs.StringVar(&filter, "filter", "all", "entries to print: all, protocol or debug")
	fs.BoolVar(&follow, "follow-only", false, "only follow a running daemon, never start a bridge")
	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}

	mode, err := parseFilterMode(filter)
	if err != nil {
		return err
	}
	logger, err := opts.logger()
	if err != nil {
		return err
	}
	cfg, _, err := opts.load()
	if err != nil {
		return err
	}

	store := logs.NewStore(cfg.Logs.MaxEntries)
	store.SetMode(mode)
	show := logs.ModeFilter(mode)

	m := lifecycle.New(lifecycle.Config{
		Bridge:  bridgeConfig(cfg, nil, logger),
		Probe:   control.Probe{Port: cfg.ControlPort},
		LogPort: cfg.LogBroadcastPort,
		Store:   store,
		OnEntry: func(e logs.Entry) {
			if show.Matches(e) {
				fmt.Fprintln(os.Stdout, e.String())
			}
		},
		Logger: logger,
	})
	defer m.Stop()

	// A running daemon is found by the first poll.
	m.Poll(ctx)
	if _, stopped := m.State().(lifecycle.Stopped); stopped && !follow {
		if err := m.Start(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	var last lifecycle.State = m.State()
	for {
		select {
		case <-ctx.Done():
			printStats(m)
			return nil
		case <-ticker.C:
			m.Poll(ctx)
			if st := m.State(); st.String() != last.String() {
				logger.Info("bridge state changed", "from", last, "to", st)
				last = st
			}
		}
	}
}

func parseFilterMode(s string) (logs.FilterMode, error) {
	for _, mode := range []logs.FilterMode{logs.FilterAll, logs.FilterProtocol, logs.FilterDebug} {
		if mode.String() == s {
			return mode, nil
		}
	}
	return 0, fmt.Errorf("unknown filter %q", s)
}

func printStats(m *lifecycle.Machine) {
	s := m.Stats()
	if s == nil {
		return
	}
	snap := s.Snapshot()
	fmt.Fprintf(os.Stderr, "tx %d bytes, rx %d bytes\n", snap.TxBytes, snap.RxBytes)
}
