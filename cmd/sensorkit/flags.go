package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds parsed command-line flags
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Validate        bool
	ShowVersion     bool
	ShutdownTimeout time.Duration
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config", "config.json", "path to configuration file")
	flag.StringVar(&cfg.LogLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", "json", "log format (json, text)")
	flag.BoolVar(&cfg.Validate, "validate", false, "validate configuration and exit")
	flag.BoolVar(&cfg.ShowVersion, "version", false, "print version and exit")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\nDerived boolean sensor engine.\n\nFlags:\n", appName)
		flag.PrintDefaults()
	}
	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}
