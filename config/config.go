package config

import (
	"log"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Power      PowerConfig      `yaml:"power"`
	AutoSave   AutoSaveConfig   `yaml:"autosave"`
	Sync       SyncConfig       `yaml:"sync"`
	Push       PushConfig       `yaml:"push"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
}

// DatabaseConfig holds the local store connection configuration. The default
// driver is sqlite: the recovery store and the mutation queue are process-local
// single-writer stores on each terminal. A shared back-office install can
// switch to postgres.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
}

// PowerConfig holds the UPS monitoring configuration.
type PowerConfig struct {
	Enabled                  bool          `yaml:"enabled"`
	TerminalID               string        `yaml:"terminal_id"`
	IntervalSeconds          int           `yaml:"interval_seconds"`
	Interval                 time.Duration `yaml:"-"` // Ignored by YAML parser
	LowBatteryThreshold      int           `yaml:"low_battery_threshold"`
	CriticalBatteryThreshold int           `yaml:"critical_battery_threshold"`
	Feed                     FeedRequest   `yaml:"feed"`
}

// FeedRequest defines the HTTP request for the power source feed.
type FeedRequest struct {
	URL            string            `yaml:"url"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

// AutoSaveConfig holds the transaction auto-save configuration.
type AutoSaveConfig struct {
	IntervalSeconds int           `yaml:"interval_seconds"`
	Interval        time.Duration `yaml:"-"`
	RetentionHours  int           `yaml:"retention_hours"`
	JanitorMinutes  int           `yaml:"janitor_minutes"`
}

// SyncConfig holds the offline mutation queue configuration.
type SyncConfig struct {
	Enabled          bool          `yaml:"enabled"`
	IntervalSeconds  int           `yaml:"interval_seconds"`
	Interval         time.Duration `yaml:"-"`
	ConflictStrategy string        `yaml:"conflict_strategy"`
	Endpoint         SyncEndpoint  `yaml:"endpoint"`
}

// SyncEndpoint defines the remote sync transport.
type SyncEndpoint struct {
	URL            string            `yaml:"url"`
	HealthURL      string            `yaml:"health_url"`
	Headers        map[string]string `yaml:"headers"`
	TimeoutSeconds int               `yaml:"timeout_seconds"`
}

// PushConfig holds the VAPID keys for web push power alerts.
type PushConfig struct {
	PublicKey  string `yaml:"vapid_public_key"`
	PrivateKey string `yaml:"vapid_private_key"`
	Subject    string `yaml:"subject"`
	TTL        int    `yaml:"ttl"`
}

// WorkerPoolConfig holds the configuration for the alert worker pool.
type WorkerPoolConfig struct {
	Size int `yaml:"size"`
}

// Load reads the configuration from the given path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" {
		cfg.Database.DSN = "pos_terminal.db"
	}

	if cfg.Power.TerminalID == "" {
		cfg.Power.TerminalID = "MAIN-001"
	}
	if cfg.Power.IntervalSeconds <= 0 {
		cfg.Power.IntervalSeconds = 30
	}
	cfg.Power.Interval = time.Duration(cfg.Power.IntervalSeconds) * time.Second
	if cfg.Power.LowBatteryThreshold <= 0 {
		cfg.Power.LowBatteryThreshold = 20
	}
	if cfg.Power.CriticalBatteryThreshold <= 0 {
		cfg.Power.CriticalBatteryThreshold = 10
	}
	if cfg.Power.Feed.TimeoutSeconds <= 0 {
		cfg.Power.Feed.TimeoutSeconds = 10
	}

	if cfg.AutoSave.IntervalSeconds <= 0 {
		cfg.AutoSave.IntervalSeconds = 5
	}
	cfg.AutoSave.Interval = time.Duration(cfg.AutoSave.IntervalSeconds) * time.Second
	if cfg.AutoSave.RetentionHours <= 0 {
		cfg.AutoSave.RetentionHours = 48
	}
	if cfg.AutoSave.JanitorMinutes <= 0 {
		cfg.AutoSave.JanitorMinutes = 60
	}

	if cfg.Sync.IntervalSeconds <= 0 {
		cfg.Sync.IntervalSeconds = 10
	}
	cfg.Sync.Interval = time.Duration(cfg.Sync.IntervalSeconds) * time.Second
	if cfg.Sync.ConflictStrategy == "" {
		cfg.Sync.ConflictStrategy = "last_write_wins"
	}
	if cfg.Sync.Endpoint.TimeoutSeconds <= 0 {
		cfg.Sync.Endpoint.TimeoutSeconds = 15
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 3600
	}

	if cfg.WorkerPool.Size <= 0 {
		log.Printf("worker_pool.size is not set or invalid; defaulting to 1")
		cfg.WorkerPool.Size = 1
	}

	return &cfg, nil
}
