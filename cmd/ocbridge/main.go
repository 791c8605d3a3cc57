// ocbridge relays protocol traffic between a USB serial controller and
// network hosts.
//
// Commands:
//
//	run      run the bridge daemon in the foreground (default)
//	monitor  run or follow a bridge and print its log stream
//	ctl      send a control command to a running daemon
//	ports    list serial ports and show which match the device preset
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/kabili207/ocbridge/config"
	"github.com/kabili207/ocbridge/core"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errors.Is(err, core.ErrAlreadyRunning) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// commonOptions are accepted by every command.
type commonOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func (o *commonOptions) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configPath, "config", "c", "", "config file (default: $XDG_CONFIG_HOME/ocbridge/config.yaml)")
	fs.StringVar(&o.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	fs.StringVar(&o.logFormat, "log-format", "text", "log format: text or json")
}

// load resolves the config path and loads it.
func (o *commonOptions) load() (*config.Config, string, error) {
	path := o.configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return nil, "", err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func (o *commonOptions) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return nil, fmt.Errorf("%w: %w: --log-level %q", core.ErrRuntimeInit, core.ErrInvalidConfig, o.logLevel)
	}
	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(o.logFormat) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return nil, fmt.Errorf("%w: %w: --log-format %q", core.ErrRuntimeInit, core.ErrInvalidConfig, o.logFormat)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger, nil
}

func run(args []string) error {
	cmd := "run"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "run":
		return runDaemon(ctx, args)
	case "monitor":
		return runMonitor(ctx, args)
	case "ctl":
		return runCtl(ctx, args)
	case "ports":
		return runPorts(args)
	case "version":
		fmt.Printf("ocbridge %s\n", core.Version)
		return nil
	case "help":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// parseFlags parses a command's flags. It reports done when help was shown.
func parseFlags(fs *pflag.FlagSet, args []string) (done bool, err error) {
	fs.BoolP("help", "h", false, "show help")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return true, nil
		}
		return false, err
	}
	if help, _ := fs.GetBool("help"); help {
		fmt.Fprintf(os.Stderr, "Usage of ocbridge %s:\n%s", fs.Name(), fs.FlagUsages())
		return true, nil
	}
	return false, nil
}

func printUsage() {
	fmt.Fprint(os.Stderr, `ocbridge relays protocol traffic between a USB serial controller and
network hosts.

Usage:
  ocbridge [run] [flags]       run the bridge daemon in the foreground
  ocbridge monitor [flags]     run or follow a bridge and print its log stream
  ocbridge ctl <cmd> [flags]   send pause, resume, status, info, ping or shutdown
  ocbridge ports [flags]       list serial ports
  ocbridge version             print the version

Run "ocbridge <command> --help" for the flags of a command.
`)
}
