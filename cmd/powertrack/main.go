// Package main implements the powertrack command: it prints a PowerTrack
// stream to stdout and manages stream rules and historical jobs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
)

// Build information constants
const (
	Version = "0.1.0"
	appName = "powertrack"
)

// errUsage reports a bad command line; the message has already been printed.
var errUsage = errors.New("usage error")

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		switch {
		case err == errUsage:
		case errors.Is(err, errUsage):
			_, _ = fmt.Fprintln(os.Stderr, err)
		default:
			slog.Error("command failed", "error", err)
		}
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printHelp(stderr)
		return errUsage
	}

	var err error
	switch args[0] {
	case "stream":
		err = runStream(ctx, args[1:], stdout, stderr)
	case "rules":
		err = runRules(ctx, args[1:], stdout, stderr)
	case "job":
		err = runJob(ctx, args[1:], stdout, stderr)
	case "version", "-v", "-version", "--version":
		_, _ = fmt.Fprintf(stdout, "%s version %s\n", appName, Version)
	case "help", "-h", "-help", "--help":
		printHelp(stdout)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		printHelp(stderr)
		return errUsage
	}

	if errors.Is(err, flag.ErrHelp) {
		return nil
	}
	return err
}

// parse parses a subcommand's flags and installs its logger as the default.
func parse(fs *flag.FlagSet, cfg *CLIConfig, args []string, stderr io.Writer) (*slog.Logger, error) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, err
		}
		return nil, errUsage
	}
	if err := validateCommon(cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid flags: %v\n", err)
		return nil, errUsage
	}

	logger := newLogger(stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	return logger, nil
}

// action splits "rules add -value x" into the action and its flags.
func action(args []string, valid ...string) (string, []string, error) {
	if len(args) == 0 {
		return "", nil, fmt.Errorf("%w: missing action, want one of %v", errUsage, valid)
	}
	for _, v := range valid {
		if args[0] == v {
			return v, args[1:], nil
		}
	}
	return "", nil, fmt.Errorf("%w: unknown action %q, want one of %v", errUsage, args[0], valid)
}
