package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/kabili207/ocbridge/core"
	"github.com/kabili207/ocbridge/device/control"
)

func runCtl(ctx context.Context, args []string) error {
	var opts commonOptions
	var port int
	fs := pflag.NewFlagSet("ctl", pflag.ContinueOnError)
	opts.addFlags(fs)
	fs.IntVarP(&port, "port", "p", 0, "control port (default: from config)")
	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("ctl takes exactly one command: pause, resume, status, info, ping or shutdown")
	}

	if port == 0 {
		cfg, _, err := opts.load()
		if err != nil {
			return err
		}
		port = cfg.ControlPort
	}

	resp, err := control.Send(ctx, port, fs.Arg(0))
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, string(out))
	if !resp.OK {
		return fmt.Errorf("%w: %s: %s", core.ErrExternalCommand, fs.Arg(0), resp.Text())
	}
	return nil
}
