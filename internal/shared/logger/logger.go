package logger

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New initializes a new zerolog.Logger.
// 'devMode' enables human-readable console logging.
func New(devMode bool) zerolog.Logger {
	return NewWithOptions(Options{DevMode: devMode})
}

// Options configures the log sinks.
type Options struct {
	DevMode     bool
	Level       string // zerolog level name; empty or unknown means info
	File        string // rotating file sink; empty disables it
	RotateMB    int
	RotateFiles int
	Out         io.Writer // console sink, defaults to os.Stderr
}

// NewWithOptions builds a logger writing to the console and, when a file is
// configured, to a size-rotated log file.
func NewWithOptions(opts Options) zerolog.Logger {
	out := opts.Out
	if out == nil {
		out = os.Stderr
	}

	var console io.Writer = out
	if opts.DevMode {
		// Human-readable, colorful output for local development
		console = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
		}
	}

	writer := console
	if opts.File != "" {
		// The file sink always gets JSON, regardless of mode.
		_ = os.MkdirAll(filepath.Dir(opts.File), 0o755)
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    max(opts.RotateMB, 1),
			MaxBackups: max(opts.RotateFiles, 0),
		}
		writer = zerolog.MultiLevelWriter(console, file)
	}

	return zerolog.New(writer).
		Level(ParseLevel(opts.Level)).
		With().Timestamp().Logger()
}

// ParseLevel maps a level name onto zerolog, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	if name == "" {
		return zerolog.InfoLevel
	}
	lvl, err := zerolog.ParseLevel(name)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
