// Package logging provides the supervisor's long-lived, rotating process log.
//
// Per-run worker logs are not rotated here: each worker writes its own plain
// file for the lifetime of a single trigger (see internal/worker), and is
// never reopened by this package.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level gates which messages reach the log.
type Level int

const (
	LevelError Level = iota
	LevelInfo
	LevelDebug
)

// ParseLevel converts a config/env string into a Level, defaulting to LevelInfo.
func ParseLevel(s string) Level {
	switch s {
	case "error":
		return LevelError
	case "debug":
		return LevelDebug
	case "info", "":
		return LevelInfo
	default:
		return LevelInfo
	}
}

func (l Level) String() string {
	switch l {
	case LevelError:
		return "error"
	case LevelDebug:
		return "debug"
	default:
		return "info"
	}
}

// Logger is a leveled logger backed by a rotating file, mirroring the
// supervisor's own long-running log (log/supervisor.log under the run
// directory).
type Logger struct {
	Info  *log.Logger
	Error *log.Logger
	Debug *log.Logger

	file  *lumberjack.Logger
	level Level
}

// Options configures rotation, read from the environment with the same
// variable names and defaults as the teacher's scheduler logger.
type Options struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
	Level      Level
}

func DefaultOptions() Options {
	return Options{
		MaxSizeMB:  10,
		MaxBackups: 5,
		MaxAgeDays: 30,
		Compress:   true,
		Level:      LevelInfo,
	}
}

// OptionsFromEnv overlays DefaultOptions with FETCHD_LOG_* environment
// variables, if set.
func OptionsFromEnv() Options {
	o := DefaultOptions()
	if v := os.Getenv("FETCHD_LOG_MAX_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.MaxSizeMB = n
		}
	}
	if v := os.Getenv("FETCHD_LOG_MAX_BACKUPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.MaxBackups = n
		}
	}
	if v := os.Getenv("FETCHD_LOG_MAX_AGE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			o.MaxAgeDays = n
		}
	}
	if v := os.Getenv("FETCHD_LOG_COMPRESS"); v != "" {
		o.Compress = v == "true" || v == "1"
	}
	if v := os.Getenv("FETCHD_LOG_LEVEL"); v != "" {
		o.Level = ParseLevel(v)
	}
	return o
}

// New opens (creating parent directories as needed) a rotating logger at
// path, writing to both stdout and the rotated file.
func New(path string, opts Options) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}
	out := io.MultiWriter(os.Stdout, file)
	flags := log.Ldate | log.Ltime
	return &Logger{
		Info:  log.New(out, "INFO: ", flags),
		Error: log.New(out, "ERROR: ", flags),
		Debug: log.New(out, "DEBUG: ", flags),
		file:  file,
		level: opts.Level,
	}, nil
}

func (l *Logger) SetLevel(level Level) { l.level = level }
func (l *Logger) Level() Level         { return l.level }

func (l *Logger) LogInfo(format string, v ...interface{}) {
	if l.level >= LevelInfo {
		l.Info.Printf(format, v...)
	}
}

func (l *Logger) LogError(format string, v ...interface{}) {
	l.Error.Printf(format, v...)
}

func (l *Logger) LogDebug(format string, v ...interface{}) {
	if l.level >= LevelDebug {
		l.Debug.Printf(format, v...)
	}
}

// Close flushes and closes the underlying rotated file.
func (l *Logger) Close() error {
	return l.file.Close()
}

// Rotate forces an immediate rotation of the underlying file. The
// supervisor's SIGHUP handling does not call it.
func (l *Logger) Rotate() error {
	return l.file.Rotate()
}
