package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/yejue/liteboty/errors"
)

// DefaultConfigPath is where run and validate look without --config.
const DefaultConfigPath = "config/config.json"

var errUsage = errors.New("usage error")

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath  string
	LogLevel    string
	LogFormat   string
	MetricsAddr string
}

// parseFlags parses the flags shared by run and validate. Environment
// variables supply the defaults.
func parseFlags(name string, args []string, stderr io.Writer) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)

	configDefault := getEnv("LITEBOTY_CONFIG", DefaultConfigPath)
	fs.StringVar(&cfg.ConfigPath, "config", configDefault,
		"Path to configuration file (env: LITEBOTY_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c", configDefault,
		"Path to configuration file (env: LITEBOTY_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level", getEnv("LITEBOTY_LOG_LEVEL", ""),
		"Log level: debug, info, warn, error; overrides LOGGING.level (env: LITEBOTY_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", getEnv("LITEBOTY_LOG_FORMAT", ""),
		"Log format: json, text; overrides LOGGING.format (env: LITEBOTY_LOG_FORMAT)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", getEnv("LITEBOTY_METRICS_ADDR", ""),
		"Metrics listen address; overrides METRICS.addr (env: LITEBOTY_METRICS_ADDR)")

	if err := fs.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, err
		}
		return nil, errUsage
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("%w: unexpected arguments %v", errUsage, fs.Args())
	}
	if err := validateFlags(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ConfigPath == "" {
		return fmt.Errorf("%w: config path is empty", errUsage)
	}
	if cfg.LogLevel != "" {
		validLevels := []string{"debug", "info", "warn", "warning", "error"}
		if !slices.Contains(validLevels, strings.ToLower(cfg.LogLevel)) {
			return fmt.Errorf("%w: invalid log level: %s", errUsage, cfg.LogLevel)
		}
	}
	if cfg.LogFormat != "" {
		if !slices.Contains([]string{"json", "text"}, strings.ToLower(cfg.LogFormat)) {
			return fmt.Errorf("%w: invalid log format: %s", errUsage, cfg.LogFormat)
		}
	}
	return nil
}

// exitCode maps an error to the process exit status: 2 for usage errors,
// 1 otherwise.
func exitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	default:
		return 1
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
