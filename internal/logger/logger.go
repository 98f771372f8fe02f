// Package logger builds the process logger. Output goes to stderr so the
// stdio MCP transport keeps stdout for protocol frames.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Level  string `json:"level" mapstructure:"level" yaml:"level" validate:"omitempty,oneof=trace debug info warn error fatal panic disabled"`
	Pretty bool   `json:"pretty" mapstructure:"pretty" yaml:"pretty"`
	File   string `json:"file" mapstructure:"file" yaml:"file"`

	// Out overrides stderr, mainly for tests
	Out io.Writer `json:"-" mapstructure:"-" yaml:"-"`
}

// Logger is a zerolog.Logger that owns its log file
type Logger struct {
	zerolog.Logger
	file *os.File
}

// New creates a logger and installs it as the global zerolog logger
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var console io.Writer = os.Stderr
	if cfg.Out != nil {
		console = cfg.Out
	}
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{Out: console, TimeFormat: time.RFC3339}
	}

	writer := console
	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writer = io.MultiWriter(console, file)
	}

	l := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	log.Logger = l

	return &Logger{Logger: l, file: file}, nil
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return &Logger{Logger: zerolog.Nop()}
}

func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
