// Package logger configures the process-wide logrus logger.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config is the logging configuration.
type Config struct {
	// Level is one of trace, debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`

	// File, when set, receives a copy of the output with size-based rotation.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

// DefaultConfig logs info and above as text to stdout.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "text",
		MaxSizeMB:  100,
		MaxBackups: 5,
		MaxAgeDays: 30,
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Init applies config to the standard logrus logger. The returned closer
// releases the log file, if any.
func Init(config Config) (io.Closer, error) {
	return configure(logrus.StandardLogger(), os.Stdout, config)
}

func configure(log *logrus.Logger, console io.Writer, config Config) (io.Closer, error) {
	level := logrus.InfoLevel
	if config.Level != "" {
		var err error
		level, err = logrus.ParseLevel(config.Level)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid log level %q", config.Level)
		}
	}

	switch config.Format {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, errors.Errorf("invalid log format %q", config.Format)
	}

	var closer io.Closer = nopCloser{}
	out := console
	if config.File != "" {
		if err := os.MkdirAll(filepath.Dir(config.File), 0755); err != nil {
			return nil, errors.Wrap(err, "create log directory")
		}
		file := &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    config.MaxSizeMB,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAgeDays,
			Compress:   config.Compress,
		}
		out = io.MultiWriter(console, file)
		closer = file
	}

	log.SetLevel(level)
	log.SetOutput(out)
	return closer, nil
}
