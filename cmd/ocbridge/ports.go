package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/kabili207/ocbridge/transport/serial"
)

func runPorts(args []string) error {
	var opts commonOptions
	fs := pflag.NewFlagSet("ports", pflag.ContinueOnError)
	opts.addFlags(fs)
	if done, err := parseFlags(fs, args); done || err != nil {
		return err
	}
	cfg, _, err := opts.load()
	if err != nil {
		return err
	}
	match := deviceMatch(cfg.Controller.Device)

	ports, err := serial.ListPorts()
	if err != nil {
		return fmt.Errorf("listing serial ports: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PORT\tVID:PID\tPRODUCT\tMATCH")
	for _, p := range ports {
		ids := "-"
		if p.IsUSB {
			ids = p.VID + ":" + p.PID
		}
		mark := ""
		if match.Matches(p) {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, ids, p.Product, mark)
	}
	return w.Flush()
}
