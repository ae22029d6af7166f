// Copyright 2025 Maestro Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads control-plane configuration from a TOML file with
// environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// ServerConfig is the HTTP listener configuration.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig locates the local persistence root.
type StorageConfig struct {
	DataDir string `toml:"data_dir"`
}

// AuthConfig controls bearer-token handling.
type AuthConfig struct {
	// Required rejects requests without a bearer token when true.
	Required bool `toml:"required"`
}

// CacheConfig enables the optional Redis-backed LLM response cache.
type CacheConfig struct {
	RedisAddr string `toml:"redis_addr"`
	TTL       string `toml:"ttl"`
}

// ClusterConfig tunes node heartbeats and leader leases.
type ClusterConfig struct {
	NodeID           string `toml:"node_id"`
	HeartbeatTimeout string `toml:"heartbeat_timeout"`
	LeaderLease      string `toml:"leader_lease"`
}

// Config is the complete control-plane configuration.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Storage StorageConfig `toml:"storage"`
	Auth    AuthConfig    `toml:"auth"`
	Cache   CacheConfig   `toml:"cache"`
	Cluster ClusterConfig `toml:"cluster"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8081},
		Storage: StorageConfig{DataDir: "./data"},
		Cache:   CacheConfig{TTL: "1h"},
		Cluster: ClusterConfig{HeartbeatTimeout: "30s", LeaderLease: "15s"},
	}
}

// Load reads path (optional, "" skips the file) over the defaults, then
// applies environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config file: %w", err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv layers environment variables over the file values.
func applyEnv(cfg *Config) {
	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Cache.RedisAddr = v
	}
	if v := os.Getenv("AUTH_REQUIRED"); v != "" {
		if required, err := strconv.ParseBool(v); err == nil {
			cfg.Auth.Required = required
		}
	}
	if v := os.Getenv("NODE_ID"); v != "" {
		cfg.Cluster.NodeID = v
	}
}

// CacheTTL parses the cache TTL, defaulting to an hour.
func (c Config) CacheTTL() time.Duration {
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil || d <= 0 {
		return time.Hour
	}
	return d
}

// HeartbeatTimeout parses the cluster heartbeat timeout.
func (c Config) HeartbeatTimeout() time.Duration {
	d, err := time.ParseDuration(c.Cluster.HeartbeatTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// LeaderLease parses the leader lease TTL.
func (c Config) LeaderLease() time.Duration {
	d, err := time.ParseDuration(c.Cluster.LeaderLease)
	if err != nil || d <= 0 {
		return 15 * time.Second
	}
	return d
}

// ListenAddr joins host and port for the HTTP listener.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
