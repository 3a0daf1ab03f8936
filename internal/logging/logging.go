// Package logging builds the *log.Logger instances handed to components.
//
// Every component logs through its own logger carrying a "[component] "
// prefix. All of them share one writer: stderr, or a size-rotated file.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/aneuhold/taskd/internal/config"
)

// Flags used for every logger.
const Flags = log.LstdFlags

// Output is an open log destination.
type Output struct {
	io.Writer
	closer io.Closer
}

// Close releases the underlying file, if any.
func (o *Output) Close() error {
	if o.closer == nil {
		return nil
	}
	return o.closer.Close()
}

// Open returns the destination described by cfg: a lumberjack rotating
// file when cfg.File is set, stderr otherwise.
func Open(cfg config.LogConfig) (*Output, error) {
	if cfg.File == "" {
		return &Output{Writer: os.Stderr}, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	lj := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return &Output{Writer: lj, closer: lj}, nil
}

// New returns the base logger writing to out.
func New(out io.Writer) *log.Logger {
	return log.New(out, "", Flags)
}

// For derives a logger for component that shares base's writer.
func For(base *log.Logger, component string) *log.Logger {
	return log.New(base.Writer(), "["+component+"] ", Flags)
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard, "", 0)
}
