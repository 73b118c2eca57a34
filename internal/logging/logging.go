// Package logging provides the structured logger shared by all soloplane
// components, backed by logrus.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Config controls logger construction.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"SOLOPLANE_LOG_LEVEL"`
	// Format is "json" or "text".
	Format string `yaml:"format" env:"SOLOPLANE_LOG_FORMAT"`
	// Output is "stderr", "stdout" or a file path.
	Output string `yaml:"output" env:"SOLOPLANE_LOG_OUTPUT"`
}

// DefaultConfig returns the logging defaults.
func DefaultConfig() Config {
	return Config{Level: "info", Format: "text", Output: "stderr"}
}

// Logger wraps a logrus entry with key/value leveled methods.
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger from cfg. Invalid settings fall back to defaults
// rather than failing: logging must always come up.
func New(cfg Config) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		base.SetFormatter(&logrus.JSONFormatter{})
	} else {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	base.SetOutput(resolveOutput(cfg.Output))
	return &Logger{entry: logrus.NewEntry(base)}
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &Logger{entry: logrus.NewEntry(base)}
}

func resolveOutput(out string) io.Writer {
	switch out {
	case "", "stderr":
		return os.Stderr
	case "stdout":
		return os.Stdout
	default:
		f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: open %s: %v, falling back to stderr\n", out, err)
			return os.Stderr
		}
		return f
	}
}

// WithField returns a logger with an extra permanent field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithError returns a logger carrying the error as a field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

// Debug logs at debug level with alternating key/value arguments.
func (l *Logger) Debug(msg string, args ...any) { l.entry.WithFields(fields(args)).Debug(msg) }

// Info logs at info level with alternating key/value arguments.
func (l *Logger) Info(msg string, args ...any) { l.entry.WithFields(fields(args)).Info(msg) }

// Warn logs at warn level with alternating key/value arguments.
func (l *Logger) Warn(msg string, args ...any) { l.entry.WithFields(fields(args)).Warn(msg) }

// Error logs at error level with alternating key/value arguments.
func (l *Logger) Error(msg string, args ...any) { l.entry.WithFields(fields(args)).Error(msg) }

func fields(args []any) logrus.Fields {
	f := make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		f[key] = args[i+1]
	}
	if len(args)%2 == 1 {
		f["arg"] = args[len(args)-1]
	}
	return f
}
