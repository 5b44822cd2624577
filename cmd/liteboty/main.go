// Package main is the liteboty command: it runs the supervisor over a
// configuration file, validates configuration files, and hosts
// process-isolated services as the hidden worker subcommand.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
)

// Build information
const (
	Version   = "0.2.0"
	BuildTime = "dev"
	appName   = "liteboty"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := execute(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		slog.Error("liteboty failed", "error", err, "exit_code", exitCode(err))
		os.Exit(exitCode(err))
	}
}

// execute dispatches one subcommand.
func execute(args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return errUsage
	}

	switch args[0] {
	case "run":
		return runCommand(args[1:], stderr)
	case "validate":
		return validateCommand(args[1:], stdout, stderr)
	case "worker":
		return workerCommand(stderr)
	case "version", "--version", "-v":
		_, _ = fmt.Fprintf(stdout, "%s version %s (%s)\n", appName, Version, BuildTime)
		return nil
	case "help", "--help", "-h":
		printUsage(stdout)
		return nil
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		printUsage(stderr)
		return errUsage
	}
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintf(w, `%s - service orchestration runtime

Usage:
  %s run [--config path] [--log-level level] [--log-format json|text]
  %s validate [--config path]
  %s version

Environment:
  LITEBOTY_CONFIG      default for --config
  LITEBOTY_LOG_LEVEL   default for --log-level
  LITEBOTY_LOG_FORMAT  default for --log-format

Version: %s
`, appName, appName, appName, appName, Version)
}
