// Package config loads the proxy's TOML configuration file, with
// environment variable overrides for the values operators most often
// need to change per-deployment.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// Config is the top-level configuration, one section per [table] in the
// TOML file described by the specification.
type Config struct {
	Server ServerConfig `toml:"server"`
	Admin  AdminConfig  `toml:"admin"`
	Metric MetricConfig `toml:"metric"`
	MySQL  MySQLConfig  `toml:"mysql"`
	Redis  RedisConfig  `toml:"redis"`
	MetaDB MetaDBConfig `toml:"meta_db"`
}

// ServerConfig controls the listening socket the proxy presents to clients.
type ServerConfig struct {
	Port uint16 `toml:"port"`
}

// AdminConfig points at the admin aggregation service.
type AdminConfig struct {
	Address string `toml:"address"`
}

// MetricConfig optionally exposes a Prometheus endpoint.
type MetricConfig struct {
	ExposePort uint16 `toml:"expose_port"`
}

// MySQLConfig is the upstream database the proxy forwards to.
type MySQLConfig struct {
	IP   string `toml:"ip"`
	Port uint16 `toml:"port"`
}

// RedisConfig is the shared cache store. Nodes may be a single URL or a
// comma-separated list for cluster mode (see internal/cache).
type RedisConfig struct {
	Nodes string `toml:"nodes"`
}

// MetaDBConfig is the external SQL store the Rule Table refreshes from.
type MetaDBConfig struct {
	IP                     string `toml:"ip"`
	Port                   uint16 `toml:"port"`
	Username               string `toml:"username"`
	Password               string `toml:"password"`
	Database               string `toml:"database"`
	RefreshDurationSeconds uint64 `toml:"refresh_duration_in_seconds"`
}

// Load reads the TOML file at path and applies environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %q: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.Port == 0 {
		return nil, fmt.Errorf("config: server.port is required")
	}
	if cfg.MySQL.IP == "" || cfg.MySQL.Port == 0 {
		return nil, fmt.Errorf("config: mysql.ip and mysql.port are required")
	}
	if cfg.Redis.Nodes == "" {
		return nil, fmt.Errorf("config: redis.nodes is required")
	}

	return &cfg, nil
}

// Addr returns the host:port of the upstream database.
func (c *MySQLConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.IP, c.Port)
}

// DSN returns the database/sql connection string for the meta_db.
func (m *MetaDBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", m.Username, m.Password, m.IP, m.Port, m.Database)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MYSQLCACHEPROXY_SERVER_PORT"); v != "" {
		if port, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.Server.Port = uint16(port)
		}
	}
	if v := os.Getenv("MYSQLCACHEPROXY_ADMIN_ADDRESS"); v != "" {
		cfg.Admin.Address = v
	}
	if v := os.Getenv("MYSQLCACHEPROXY_REDIS_NODES"); v != "" {
		cfg.Redis.Nodes = v
	}
	if v := os.Getenv("MYSQLCACHEPROXY_MYSQL_IP"); v != "" {
		cfg.MySQL.IP = v
	}
}
