// Package logger configures the global zerolog logger.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config selects the level, output format and identifying fields
type Config struct {
	Level       string // debug, info, warn, error
	Format      string // json or console
	Service     string
	Environment string
	Output      io.Writer
}

// Setup replaces the global logger and returns it
func Setup(cfg Config) (zerolog.Logger, error) {
	levelName := strings.ToLower(strings.TrimSpace(cfg.Level))
	if levelName == "" {
		levelName = "info"
	}
	level, err := zerolog.ParseLevel(levelName)
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level: %w", err)
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	switch strings.ToLower(cfg.Format) {
	case "", "console":
		output = zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}
	case "json":
		zerolog.TimeFieldFormat = time.RFC3339Nano
	default:
		return zerolog.Logger{}, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	service := cfg.Service
	if service == "" {
		service = "crypto-trader"
	}
	environment := cfg.Environment
	if environment == "" {
		environment = "development"
	}

	logger := zerolog.New(output).
		Level(level).
		With().
		Timestamp().
		Str("service", service).
		Str("environment", environment).
		Logger()

	log.Logger = logger
	return logger, nil
}
