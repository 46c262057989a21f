package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. GRID_GATEWAY_PORT
const EnvPrefix = "GRID"

type override struct {
	key   string
	apply func(v *viper.Viper, key string, cfg *Config)
}

// overrides lists the keys that may be set from the environment. Keys use
// the YAML paths; "." becomes "_" in the variable name.
var overrides = []override{
	{"member.id", func(v *viper.Viper, k string, c *Config) { c.Member.ID = v.GetString(k) }},

	{"gateway.host", func(v *viper.Viper, k string, c *Config) { c.Gateway.Host = v.GetString(k) }},
	{"gateway.port", func(v *viper.Viper, k string, c *Config) { c.Gateway.Port = v.GetInt(k) }},
	{"gateway.heartbeat_interval", func(v *viper.Viper, k string, c *Config) { c.Gateway.HeartbeatInterval = v.GetDuration(k) }},
	{"gateway.request_timeout", func(v *viper.Viper, k string, c *Config) { c.Gateway.RequestTimeout = v.GetDuration(k) }},
	{"gateway.lanes", func(v *viper.Viper, k string, c *Config) { c.Gateway.Lanes = v.GetInt(k) }},
	{"gateway.requests_per_second", func(v *viper.Viper, k string, c *Config) { c.Gateway.RequestsPerSecond = v.GetFloat64(k) }},
	{"gateway.burst", func(v *viper.Viper, k string, c *Config) { c.Gateway.Burst = v.GetInt(k) }},
	{"gateway.workers", func(v *viper.Viper, k string, c *Config) { c.Gateway.Workers = v.GetInt(k) }},
	{"gateway.defer_key_association_check", func(v *viper.Viper, k string, c *Config) {
		c.Gateway.DeferKeyAssociationCheck = v.GetBool(k)
	}},

	{"partition.count", func(v *viper.Viper, k string, c *Config) { c.Partition.Count = v.GetInt(k) }},

	{"processing.lock_timeout", func(v *viper.Viper, k string, c *Config) { c.Processing.LockTimeout = v.GetDuration(k) }},
	{"processing.max_retries", func(v *viper.Viper, k string, c *Config) { c.Processing.MaxRetries = v.GetInt(k) }},
	{"processing.parallelism", func(v *viper.Viper, k string, c *Config) { c.Processing.Parallelism = v.GetInt(k) }},

	{"cache.expiry_sweep_interval", func(v *viper.Viper, k string, c *Config) { c.Cache.ExpirySweepInterval = v.GetDuration(k) }},

	{"postgres.host", func(v *viper.Viper, k string, c *Config) { c.Postgres.Host = v.GetString(k) }},
	{"postgres.port", func(v *viper.Viper, k string, c *Config) { c.Postgres.Port = v.GetInt(k) }},
	{"postgres.database", func(v *viper.Viper, k string, c *Config) { c.Postgres.Database = v.GetString(k) }},
	{"postgres.user", func(v *viper.Viper, k string, c *Config) { c.Postgres.User = v.GetString(k) }},
	{"postgres.password", func(v *viper.Viper, k string, c *Config) { c.Postgres.Password = v.GetString(k) }},

	{"redis.host", func(v *viper.Viper, k string, c *Config) { c.Redis.Host = v.GetString(k) }},
	{"redis.port", func(v *viper.Viper, k string, c *Config) { c.Redis.Port = v.GetInt(k) }},
	{"redis.password", func(v *viper.Viper, k string, c *Config) { c.Redis.Password = v.GetString(k) }},
	{"redis.db", func(v *viper.Viper, k string, c *Config) { c.Redis.DB = v.GetInt(k) }},

	{"gossip.enabled", func(v *viper.Viper, k string, c *Config) { c.Gossip.Enabled = v.GetBool(k) }},
	{"gossip.bind_addr", func(v *viper.Viper, k string, c *Config) { c.Gossip.BindAddr = v.GetString(k) }},
	{"gossip.bind_port", func(v *viper.Viper, k string, c *Config) { c.Gossip.BindPort = v.GetInt(k) }},
	{"gossip.seed_nodes", func(v *viper.Viper, k string, c *Config) { c.Gossip.SeedNodes = splitList(v.GetString(k)) }},

	{"management.enabled", func(v *viper.Viper, k string, c *Config) { c.Management.Enabled = v.GetBool(k) }},
	{"management.port", func(v *viper.Viper, k string, c *Config) { c.Management.Port = v.GetInt(k) }},

	{"logging.level", func(v *viper.Viper, k string, c *Config) { c.Logging.Level = v.GetString(k) }},
	{"logging.format", func(v *viper.Viper, k string, c *Config) { c.Logging.Format = v.GetString(k) }},
}

// applyEnvironmentOverrides applies GRID_* environment variables on top of
// the file configuration. Variables take precedence over the file.
func applyEnvironmentOverrides(cfg *Config) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, o := range overrides {
		if err := v.BindEnv(o.key); err != nil {
			return fmt.Errorf("failed to bind %s: %w", o.key, err)
		}
	}
	for _, o := range overrides {
		if v.IsSet(o.key) {
			o.apply(v, o.key, cfg)
		}
	}
	return nil
}

// EnvName returns the environment variable that overrides key
func EnvName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
