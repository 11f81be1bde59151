package config

import (
	"fmt"
	"os"

	legacyyaml "gopkg.in/yaml.v2"
)

// LegacySnapshot is the flat, pre-split config shape older deployments
// still ship as a single file (before the per-concern queue.yaml/
// server.yaml/log.yaml/... split this package otherwise reads). It is
// decoded with yaml.v2, matching the teacher's own config subpackages,
// which depend on both yaml major versions concurrently.
type LegacySnapshot struct {
	QueuePath    string `yaml:"queue_path"`
	SlotCount    uint64 `yaml:"slot_count"`
	DataCapacity uint64 `yaml:"data_capacity"`
	ListenAddr   string `yaml:"listen_addr"`
	LogDest      string `yaml:"log_dest"`
}

// LoadLegacySnapshot reads a single-file legacy config and upgrades it into
// the current Config shape, applying the same defaults and validation Load
// uses for the split-file layout.
func LoadLegacySnapshot(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read legacy snapshot %q: %w", path, err)
	}
	var snap LegacySnapshot
	if err := legacyyaml.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("config: unmarshal legacy snapshot %q: %w", path, err)
	}

	cfg := &Config{
		Queue: QueueConfig{
			Path:         snap.QueuePath,
			SlotCount:    snap.SlotCount,
			DataCapacity: snap.DataCapacity,
		},
		Server: ServerConfig{ListenAddr: snap.ListenAddr},
		Feed:   FeedConfig{ListenAddr: ":9000"},
		Log:    LogConfig{Dest: snap.LogDest},
		Cursor: CursorConfig{Backend: "file", Dir: "/var/ldm/cursors"},
	}
	if cfg.Queue.Path == "" {
		cfg.Queue.Path = "/var/ldm/queue.pq"
	}
	if cfg.Queue.SlotCount == 0 {
		cfg.Queue.SlotCount = 1 << 16
	}
	if cfg.Queue.DataCapacity == 0 {
		cfg.Queue.DataCapacity = 1 << 30
	}
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":9090"
	}
	if cfg.Log.Dest == "" {
		cfg.Log.Dest = "-"
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config: validate legacy snapshot: %w", err)
	}
	return cfg, nil
}
