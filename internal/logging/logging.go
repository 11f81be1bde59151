// Package logging builds the one process-wide zerolog.Logger every LDM
// binary writes through, following the teacher's
// `log.Logger = log.Output(zerolog.ConsoleWriter{...})` call-site style.
// Destination and verbosity are both runtime-mutable: SIGUSR1 reopens the
// log file for rotation and SIGUSR2 cycles verbosity, so both are exposed
// as methods on Logger rather than decided once at startup.
package logging

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// Level is one step of the warn/info/debug cycle SIGUSR2 rotates through.
type Level int

const (
	LevelWarn Level = iota
	LevelInfo
	LevelDebug
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	default:
		return zerolog.WarnLevel
	}
}

// Logger wraps a zerolog.Logger whose output destination can be reopened
// and whose level can be cycled at runtime without reconstructing it.
type Logger struct {
	mu    sync.Mutex
	dest  string // "-" for stderr, else a file path opened in append mode
	file  *os.File
	level Level
	log   zerolog.Logger
}

// New opens dest ("-" for stderr) and builds a logger at the given initial
// level. A file destination always gets newline-delimited JSON; a stderr
// destination gets the teacher's zerolog.ConsoleWriter rendering when
// stderr is a TTY, and JSON otherwise.
func New(dest string, level Level) (*Logger, error) {
	l := &Logger{dest: dest, level: level}
	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) open() error {
	var w *os.File
	if l.dest == "-" || l.dest == "" {
		w = os.Stderr
	} else {
		f, err := os.OpenFile(l.dest, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("logging: open %q: %w", l.dest, err)
		}
		w = f
		l.file = f
	}

	zerolog.TimeFieldFormat = time.RFC3339
	if w == os.Stderr && term.IsTerminal(int(os.Stderr.Fd())) {
		l.log = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.Kitchen}).
			Level(l.level.zerolog()).With().Timestamp().Logger()
	} else {
		l.log = zerolog.New(w).Level(l.level.zerolog()).With().Timestamp().Logger()
	}
	return nil
}

// Reopen closes and reopens the destination file, the standard log-rotation
// hook invoked on SIGUSR1. A no-op for stderr.
func (l *Logger) Reopen() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	l.file.Close()
	return l.open()
}

// CycleVerbosity advances warn -> info -> debug -> warn, the SIGUSR2 hook.
func (l *Logger) CycleVerbosity() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = (l.level + 1) % 3
	l.log = l.log.Level(l.level.zerolog())
	return l.level
}

// Level reports the current verbosity.
func (l *Logger) Level() Level {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// Zerolog returns the underlying logger for call sites, mirroring the
// teacher's pattern of passing around a *zerolog.Logger rather than this
// wrapper once construction is done.
func (l *Logger) Zerolog() *zerolog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &l.log
}

// Close releases the destination file, if any.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}
