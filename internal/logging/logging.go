package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes logger runtime configuration.
type Config struct {
	Level       string     `mapstructure:"level"`
	Format      string     `mapstructure:"format"`
	TimeFormat  string     `mapstructure:"time_format"`
	Caller      bool       `mapstructure:"caller"`
	PrettyPrint bool       `mapstructure:"pretty"`
	File        FileConfig `mapstructure:"file"`
}

// FileConfig enables a rotating JSON log file next to the stdout stream.
type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// NewLogger constructs a zerolog logger from config.
func NewLogger(cfg Config) zerolog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg Config, stdout io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	level := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level)); err == nil {
		level = parsed
	}

	writer := logWriter(cfg, stdout)
	logger := zerolog.New(writer).Level(level)
	builder := logger.With().Timestamp()
	if cfg.Caller {
		builder = builder.Caller()
	}

	return builder.Logger()
}

func logWriter(cfg Config, stdout io.Writer) io.Writer {
	var console io.Writer = stdout
	if cfg.PrettyPrint || strings.EqualFold(cfg.Format, "console") {
		console = zerolog.ConsoleWriter{
			Out:        stdout,
			TimeFormat: zerolog.TimeFieldFormat,
		}
	}

	file := fileWriter(cfg.File)
	if file == nil {
		return console
	}
	return zerolog.MultiLevelWriter(console, file)
}

// fileWriter returns nil when file logging is off or the directory cannot be created.
func fileWriter(cfg FileConfig) io.Writer {
	if cfg.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
}
