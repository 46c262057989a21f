package config

import (
	"fmt"
	"os"
	"path"
	"time"

	"gopkg.in/yaml.v3"
)

// MemberConfig identifies this grid member
type MemberConfig struct {
	ID string `yaml:"id"`
}

// GatewayConfig holds proxy gateway configuration
type GatewayConfig struct {
	Host                     string        `yaml:"host"`
	Port                     int           `yaml:"port"`
	HeartbeatInterval        time.Duration `yaml:"heartbeat_interval"`
	RequestTimeout           time.Duration `yaml:"request_timeout"`
	Lanes                    int           `yaml:"lanes"`
	LaneDepth                int           `yaml:"lane_depth"`
	PageSize                 int           `yaml:"page_size"`
	OutboxLimit              int           `yaml:"outbox_limit"`
	RequestsPerSecond        float64       `yaml:"requests_per_second"`
	Burst                    int           `yaml:"burst"`
	Workers                  int           `yaml:"workers"`
	QueueSize                int           `yaml:"queue_size"`
	DeferKeyAssociationCheck bool          `yaml:"defer_key_association_check"`
	ShutdownTimeout          time.Duration `yaml:"shutdown_timeout"`
}

// PartitionConfig holds partitioning configuration
type PartitionConfig struct {
	Count        int `yaml:"count"`
	VirtualNodes int `yaml:"virtual_nodes"`
}

// ProcessingConfig holds entry processing configuration
type ProcessingConfig struct {
	LockTimeout  time.Duration `yaml:"lock_timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	Parallelism  int           `yaml:"parallelism"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

// CacheConfig holds cache maintenance configuration
type CacheConfig struct {
	ExpirySweepInterval time.Duration `yaml:"expiry_sweep_interval"`
}

// StoreBinding binds caches whose name matches Pattern to a cache store
type StoreBinding struct {
	Pattern string `yaml:"pattern"`
	Type    string `yaml:"type"`
}

// Cache store types
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// PostgresConfig holds PostgreSQL cache store configuration
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
	Table    string `yaml:"table"`
}

// RedisConfig holds Redis cache store configuration
type RedisConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// GossipConfig holds gossip protocol configuration
type GossipConfig struct {
	Enabled        bool          `yaml:"enabled"`
	BindAddr       string        `yaml:"bind_addr"`
	BindPort       int           `yaml:"bind_port"`
	SeedNodes      []string      `yaml:"seed_nodes"`
	GossipInterval time.Duration `yaml:"gossip_interval"`
	ProbeTimeout   time.Duration `yaml:"probe_timeout"`
	ProbeInterval  time.Duration `yaml:"probe_interval"`
}

// ManagementConfig holds management HTTP server configuration
type ManagementConfig struct {
	Enabled           bool          `yaml:"enabled"`
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config represents the complete configuration of a grid member
type Config struct {
	Member     MemberConfig     `yaml:"member"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Partition  PartitionConfig  `yaml:"partition"`
	Processing ProcessingConfig `yaml:"processing"`
	Cache      CacheConfig      `yaml:"cache"`
	Stores     []StoreBinding   `yaml:"stores"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Redis      RedisConfig      `yaml:"redis"`
	Gossip     GossipConfig     `yaml:"gossip"`
	Management ManagementConfig `yaml:"management"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LoadConfig reads the YAML file at filePath, fills in defaults, applies
// GRID_* environment overrides and validates the result. An empty path
// yields the defaults.
func LoadConfig(filePath string) (*Config, error) {
	cfg := &Config{}
	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	setDefaults(cfg)

	if err := applyEnvironmentOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Member.ID == "" {
		if host, err := os.Hostname(); err == nil && host != "" {
			cfg.Member.ID = host
		} else {
			cfg.Member.ID = "member-1"
		}
	}

	if cfg.Gateway.Host == "" {
		cfg.Gateway.Host = "0.0.0.0"
	}
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 1408
	}
	if cfg.Gateway.HeartbeatInterval == 0 {
		cfg.Gateway.HeartbeatInterval = 10 * time.Second
	}
	if cfg.Gateway.RequestTimeout == 0 {
		cfg.Gateway.RequestTimeout = 30 * time.Second
	}
	if cfg.Gateway.Lanes == 0 {
		cfg.Gateway.Lanes = 8
	}
	if cfg.Gateway.LaneDepth == 0 {
		cfg.Gateway.LaneDepth = 128
	}
	if cfg.Gateway.PageSize == 0 {
		cfg.Gateway.PageSize = 100
	}
	if cfg.Gateway.OutboxLimit == 0 {
		cfg.Gateway.OutboxLimit = 100000
	}
	if cfg.Gateway.Workers == 0 {
		cfg.Gateway.Workers = 16
	}
	if cfg.Gateway.QueueSize == 0 {
		cfg.Gateway.QueueSize = 1024
	}
	if cfg.Gateway.ShutdownTimeout == 0 {
		cfg.Gateway.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Partition.Count == 0 {
		cfg.Partition.Count = 257
	}
	if cfg.Partition.VirtualNodes == 0 {
		cfg.Partition.VirtualNodes = 150
	}

	if cfg.Processing.LockTimeout == 0 {
		cfg.Processing.LockTimeout = 5 * time.Second
	}
	if cfg.Processing.MaxRetries == 0 {
		cfg.Processing.MaxRetries = 5
	}
	if cfg.Processing.RetryBackoff == 0 {
		cfg.Processing.RetryBackoff = 5 * time.Millisecond
	}
	if cfg.Processing.Parallelism == 0 {
		cfg.Processing.Parallelism = 8
	}
	if cfg.Processing.StoreTimeout == 0 {
		cfg.Processing.StoreTimeout = 5 * time.Second
	}

	if cfg.Cache.ExpirySweepInterval == 0 {
		cfg.Cache.ExpirySweepInterval = time.Second
	}

	// Store defaults
	if cfg.Postgres.Host == "" {
		cfg.Postgres.Host = "localhost"
	}
	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.Database == "" {
		cfg.Postgres.Database = "gridcache"
	}
	if cfg.Postgres.MaxConns == 0 {
		cfg.Postgres.MaxConns = 10
	}
	if cfg.Postgres.MinConns == 0 {
		cfg.Postgres.MinConns = 1
	}
	if cfg.Postgres.Table == "" {
		cfg.Postgres.Table = "cache_entries"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "gridcache"
	}

	// Gossip defaults
	if cfg.Gossip.BindAddr == "" {
		cfg.Gossip.BindAddr = "0.0.0.0"
	}
	if cfg.Gossip.BindPort == 0 {
		cfg.Gossip.BindPort = 7946
	}
	if cfg.Gossip.GossipInterval == 0 {
		cfg.Gossip.GossipInterval = 200 * time.Millisecond
	}
	if cfg.Gossip.ProbeTimeout == 0 {
		cfg.Gossip.ProbeTimeout = 500 * time.Millisecond
	}
	if cfg.Gossip.ProbeInterval == 0 {
		cfg.Gossip.ProbeInterval = time.Second
	}

	if cfg.Management.Host == "" {
		cfg.Management.Host = "0.0.0.0"
	}
	if cfg.Management.Port == 0 {
		cfg.Management.Port = 9090
	}
	if cfg.Management.RequestsPerSecond == 0 {
		cfg.Management.RequestsPerSecond = 100
	}
	if cfg.Management.Burst == 0 {
		cfg.Management.Burst = 200
	}
	if cfg.Management.ReadTimeout == 0 {
		cfg.Management.ReadTimeout = 5 * time.Second
	}
	if cfg.Management.WriteTimeout == 0 {
		cfg.Management.WriteTimeout = 10 * time.Second
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Member.ID == "" {
		return fmt.Errorf("member.id is required")
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		return fmt.Errorf("gateway.port must be between 1 and 65535")
	}
	if c.Gateway.HeartbeatInterval < 0 {
		return fmt.Errorf("gateway.heartbeat_interval must not be negative")
	}
	if c.Gateway.RequestsPerSecond < 0 {
		return fmt.Errorf("gateway.requests_per_second must not be negative")
	}
	if c.Partition.Count < 1 {
		return fmt.Errorf("partition.count must be positive")
	}
	if c.Processing.MaxRetries < 0 {
		return fmt.Errorf("processing.max_retries must not be negative")
	}
	if c.Processing.Parallelism < 1 {
		return fmt.Errorf("processing.parallelism must be positive")
	}
	for i, b := range c.Stores {
		if b.Pattern == "" {
			return fmt.Errorf("stores[%d].pattern is required", i)
		}
		if _, err := path.Match(b.Pattern, ""); err != nil {
			return fmt.Errorf("stores[%d].pattern is malformed: %w", i, err)
		}
		switch b.Type {
		case StoreMemory, StorePostgres, StoreRedis:
		default:
			return fmt.Errorf("stores[%d].type must be one of memory, postgres, redis", i)
		}
	}
	if c.Gossip.Enabled && (c.Gossip.BindPort < 0 || c.Gossip.BindPort > 65535) {
		return fmt.Errorf("gossip.bind_port must be between 0 and 65535")
	}
	if c.Management.Enabled {
		if c.Management.Port < 1 || c.Management.Port > 65535 {
			return fmt.Errorf("management.port must be between 1 and 65535")
		}
		if c.Management.Port == c.Gateway.Port {
			return fmt.Errorf("management.port must differ from gateway.port")
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error")
	}
	return nil
}
