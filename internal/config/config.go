// Package config loads the daemon-level YAML configuration (queue path,
// data directory, listen address, log destination, and the Redis/Postgres
// DSNs the durable cursor and signature-cache backends use), following
// `src/infrastructure/datafacade/config/loader.go`'s `loadXConfig(dir,
// *Config) error` pattern: one function per concern, each falling back to
// coded defaults when its file is absent, finished off by a single
// validateConfig pass. The access-control and pattern-action files
// themselves stay in their line-oriented, tab-separated formats (spec.md
// §6) — only the daemon's own settings are YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// QueueConfig names the product-queue file and its creation parameters.
type QueueConfig struct {
	Path         string `yaml:"path"`
	SlotCount    uint64 `yaml:"slot_count"`
	DataCapacity uint64 `yaml:"data_capacity"`
}

// ServerConfig is the admin HTTP surface's listen address.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// FeedConfig is the upstream-facing websocket listener's address: where
// downstream LDMs connect to send HIYA/FEEDME/NOTIFYME, separate from the
// admin HTTP surface in ServerConfig.
type FeedConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LogConfig names the log destination and initial verbosity.
type LogConfig struct {
	Dest    string `yaml:"dest"`
	Verbose bool   `yaml:"verbose"`
	Debug   bool   `yaml:"debug"`
}

// CursorConfig selects and configures the durable-cursor backend.
type CursorConfig struct {
	Backend      string        `yaml:"backend"` // "file" or "postgres"
	Dir          string        `yaml:"dir"`
	PostgresDSN  string        `yaml:"postgres_dsn"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
}

// SignatureCacheConfig configures the optional Redis-backed duplicate
// signature accelerator sitting in front of the on-disk signature index.
type SignatureCacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// Config is the fully assembled daemon configuration.
type Config struct {
	Queue     QueueConfig
	Server    ServerConfig
	Feed      FeedConfig
	Log       LogConfig
	Cursor    CursorConfig
	SigCache  SignatureCacheConfig
	ACLFile   string
	PqactFile string
}

// Load reads every concern's YAML file from dir, falling back to defaults
// for any file that doesn't exist, then validates the assembled Config.
func Load(dir string) (*Config, error) {
	cfg := &Config{}

	if err := loadQueueConfig(dir, cfg); err != nil {
		return nil, fmt.Errorf("config: load queue config: %w", err)
	}
	if err := loadServerConfig(dir, cfg); err != nil {
		return nil, fmt.Errorf("config: load server config: %w", err)
	}
	if err := loadFeedConfig(dir, cfg); err != nil {
		return nil, fmt.Errorf("config: load feed config: %w", err)
	}
	if err := loadLogConfig(dir, cfg); err != nil {
		return nil, fmt.Errorf("config: load log config: %w", err)
	}
	if err := loadCursorConfig(dir, cfg); err != nil {
		return nil, fmt.Errorf("config: load cursor config: %w", err)
	}
	if err := loadSigCacheConfig(dir, cfg); err != nil {
		return nil, fmt.Errorf("config: load signature cache config: %w", err)
	}
	if err := loadFilePaths(dir, cfg); err != nil {
		return nil, fmt.Errorf("config: load file paths: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}
	return cfg, nil
}

func readYAML(path string, out any) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, fmt.Errorf("read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return false, fmt.Errorf("unmarshal %q: %w", path, err)
	}
	return true, nil
}

func loadQueueConfig(dir string, cfg *Config) error {
	cfg.Queue = QueueConfig{
		Path:         "/var/ldm/queue.pq",
		SlotCount:    1 << 16,
		DataCapacity: 1 << 30,
	}
	_, err := readYAML(filepath.Join(dir, "queue.yaml"), &cfg.Queue)
	return err
}

func loadServerConfig(dir string, cfg *Config) error {
	cfg.Server = ServerConfig{ListenAddr: ":9090"}
	_, err := readYAML(filepath.Join(dir, "server.yaml"), &cfg.Server)
	return err
}

func loadFeedConfig(dir string, cfg *Config) error {
	cfg.Feed = FeedConfig{ListenAddr: ":9000"}
	_, err := readYAML(filepath.Join(dir, "feed.yaml"), &cfg.Feed)
	return err
}

func loadLogConfig(dir string, cfg *Config) error {
	cfg.Log = LogConfig{Dest: "-"}
	_, err := readYAML(filepath.Join(dir, "log.yaml"), &cfg.Log)
	return err
}

func loadCursorConfig(dir string, cfg *Config) error {
	cfg.Cursor = CursorConfig{
		Backend:      "file",
		Dir:          "/var/ldm/cursors",
		QueryTimeout: 5 * time.Second,
	}
	present, err := readYAML(filepath.Join(dir, "cursor.yaml"), &cfg.Cursor)
	if err != nil {
		return err
	}
	if present && cfg.Cursor.QueryTimeout == 0 {
		cfg.Cursor.QueryTimeout = 5 * time.Second
	}
	return nil
}

func loadSigCacheConfig(dir string, cfg *Config) error {
	cfg.SigCache = SignatureCacheConfig{
		Enabled: false,
		Addr:    "localhost:6379",
		TTL:     10 * time.Minute,
	}
	_, err := readYAML(filepath.Join(dir, "sigcache.yaml"), &cfg.SigCache)
	return err
}

func loadFilePaths(dir string, cfg *Config) error {
	var paths struct {
		ACLFile   string `yaml:"acl_file"`
		PqactFile string `yaml:"pqact_file"`
	}
	paths.ACLFile = filepath.Join(dir, "ldmd.conf")
	paths.PqactFile = filepath.Join(dir, "pqact.conf")
	_, err := readYAML(filepath.Join(dir, "files.yaml"), &paths)
	if err != nil {
		return err
	}
	cfg.ACLFile = paths.ACLFile
	cfg.PqactFile = paths.PqactFile
	return nil
}

func validateConfig(cfg *Config) error {
	if cfg.Queue.Path == "" {
		return fmt.Errorf("queue path is required")
	}
	if cfg.Queue.SlotCount == 0 {
		return fmt.Errorf("queue slot_count must be positive")
	}
	if cfg.Queue.DataCapacity == 0 {
		return fmt.Errorf("queue data_capacity must be positive")
	}
	if cfg.Server.ListenAddr == "" {
		return fmt.Errorf("server listen_addr is required")
	}
	if cfg.Feed.ListenAddr == "" {
		return fmt.Errorf("feed listen_addr is required")
	}
	switch cfg.Cursor.Backend {
	case "file":
		if cfg.Cursor.Dir == "" {
			return fmt.Errorf("cursor dir is required for the file backend")
		}
	case "postgres":
		if cfg.Cursor.PostgresDSN == "" {
			return fmt.Errorf("cursor postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown cursor backend %q", cfg.Cursor.Backend)
	}
	if cfg.SigCache.Enabled && cfg.SigCache.Addr == "" {
		return fmt.Errorf("signature cache addr is required when enabled")
	}
	return nil
}
