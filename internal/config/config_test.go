package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFallsBackToDefaultsWhenFilesAbsent(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Queue.Path == "" || cfg.Queue.SlotCount == 0 {
		t.Fatalf("expected default queue config, got %+v", cfg.Queue)
	}
	if cfg.Cursor.Backend != "file" {
		t.Fatalf("expected default file cursor backend, got %q", cfg.Cursor.Backend)
	}
	if cfg.ACLFile != filepath.Join(dir, "ldmd.conf") {
		t.Fatalf("unexpected default ACL file path: %q", cfg.ACLFile)
	}
}

func TestLoadReadsQueueConfigFile(t *testing.T) {
	dir := t.TempDir()
	contents := "path: /data/ldm/queue.pq\nslot_count: 1024\ndata_capacity: 1073741824\n"
	if err := os.WriteFile(filepath.Join(dir, "queue.yaml"), []byte(contents), 0o644); err != nil {
		t.Fatalf("write queue.yaml: %v", err)
	}

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Queue.Path != "/data/ldm/queue.pq" || cfg.Queue.SlotCount != 1024 {
		t.Fatalf("unexpected queue config: %+v", cfg.Queue)
	}
}

func TestLoadRejectsUnknownCursorBackend(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "cursor.yaml"), []byte("backend: redis\n"), 0o644); err != nil {
		t.Fatalf("write cursor.yaml: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected validation error for unknown cursor backend")
	}
}

func TestLoadLegacySnapshotUpgradesAndFillsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ldm.conf.yaml")
	contents := "queue_path: /data/legacy/queue.pq\nslot_count: 2048\ndata_capacity: 4096\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write legacy snapshot: %v", err)
	}

	cfg, err := LoadLegacySnapshot(path)
	if err != nil {
		t.Fatalf("load legacy snapshot: %v", err)
	}
	if cfg.Queue.Path != "/data/legacy/queue.pq" || cfg.Queue.SlotCount != 2048 {
		t.Fatalf("unexpected upgraded queue config: %+v", cfg.Queue)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Fatalf("expected default listen_addr fallback, got %q", cfg.Server.ListenAddr)
	}
	if cfg.Cursor.Backend != "file" {
		t.Fatalf("expected default cursor backend, got %q", cfg.Cursor.Backend)
	}
}

func TestLoadRejectsSigCacheEnabledWithoutAddr(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "sigcache.yaml"), []byte("enabled: true\naddr: \"\"\n"), 0o644); err != nil {
		t.Fatalf("write sigcache.yaml: %v", err)
	}
	if _, err := Load(dir); err == nil {
		t.Fatal("expected validation error for enabled sig cache with empty addr")
	}
}
