package logging

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ldmd.log")
	l, err := New(path, LevelInfo)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer l.Close()

	l.Zerolog().Info().Msg("hello")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected log output to be written")
	}
}

func TestCycleVerbosityWraps(t *testing.T) {
	l, err := New("-", LevelWarn)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer l.Close()

	if got := l.CycleVerbosity(); got != LevelInfo {
		t.Fatalf("expected LevelInfo, got %v", got)
	}
	if got := l.CycleVerbosity(); got != LevelDebug {
		t.Fatalf("expected LevelDebug, got %v", got)
	}
	if got := l.CycleVerbosity(); got != LevelWarn {
		t.Fatalf("expected wrap to LevelWarn, got %v", got)
	}
}

func TestReopenRecreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ldmd.log")
	l, err := New(path, LevelInfo)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer l.Close()

	l.Zerolog().Info().Msg("before rotation")
	if err := os.Rename(path, path+".1"); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := l.Reopen(); err != nil {
		t.Fatalf("reopen: %v", err)
	}
	l.Zerolog().Info().Msg("after rotation")

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected reopen to recreate %q: %v", path, err)
	}
}
