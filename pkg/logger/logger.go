// Package logger provides the structured logger shared by every service.
package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"ORACLE_LOG_LEVEL"`
	Format     string `yaml:"format" env:"ORACLE_LOG_FORMAT"`
	Output     string `yaml:"output" env:"ORACLE_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"ORACLE_LOG_FILE_PREFIX"`
}

// Logger embeds a logrus logger so callers get the full entry API
// (WithField, WithError, Infof, ...).
type Logger struct {
	*logrus.Logger
}

// New builds a logger from configuration. Unknown levels fall back to info,
// unknown formats to text, and an unwritable file output to stdout.
func New(cfg LoggingConfig) *Logger {
	l := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		l.SetFormatter(&logrus.JSONFormatter{})
	default:
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	l.SetOutput(openOutput(cfg))
	return &Logger{Logger: l}
}

// NewDefault returns an info-level text logger tagged with the component name.
func NewDefault(component string) *Logger {
	l := New(LoggingConfig{Level: "info", Format: "text", Output: "stdout"})
	if component != "" {
		l.AddHook(componentHook{component: component})
	}
	return l
}

// NewDiscard returns a logger that drops everything. Useful in tests.
func NewDiscard() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{Logger: l}
}

func openOutput(cfg LoggingConfig) io.Writer {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "oracle"
		}
		path := filepath.Clean(prefix + ".log")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return os.Stdout
		}
		return f
	default:
		return os.Stdout
	}
}

type componentHook struct {
	component string
}

func (h componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["component"]; !ok {
		entry.Data["component"] = h.component
	}
	return nil
}
