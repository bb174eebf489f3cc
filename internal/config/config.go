// Package config loads the server's YAML configuration and applies
// environment-variable overrides, following the Config/LoadConfig/
// applyEnvOverrides/applyDefaults shape of
// Generativebots-ocx-backend-go-svc's internal/config/config.go.
package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v2"
)

// Config is the top-level server configuration, populated from YAML and
// then reconciled against the process environment and CLI flags.
type Config struct {
	Listen  ListenConfig  `yaml:"listen"`
	Workers WorkersConfig `yaml:"workers"`
	Static  StaticConfig  `yaml:"static"`
	Limits  LimitsConfig  `yaml:"limits"`
}

// ListenConfig describes how the master acquires its listening socket.
type ListenConfig struct {
	Address          string `yaml:"address"`
	SystemdActivated bool   `yaml:"systemd_activated"`
	// Backlog is the pending-connection queue length passed to listen(2)
	// when the master binds its own socket (spec.md §3/§6).
	Backlog int `yaml:"backlog"`
}

// MaxWorkers is the hard ceiling on the worker pool size (spec.md §3/§6).
const MaxWorkers = 32

// WorkersConfig controls the pre-forked worker pool.
type WorkersConfig struct {
	Count         int `yaml:"count"`
	RespawnDelay  int `yaml:"respawn_delay_ms"`
	ReapPollMs    int `yaml:"reap_poll_ms"`
	ShutdownGrace int `yaml:"shutdown_grace_sec"`
}

// StaticConfig points at the static file tree served by every worker.
type StaticConfig struct {
	Root string `yaml:"root"`
}

// LimitsConfig bounds per-connection resource usage (spec.md §5).
type LimitsConfig struct {
	ReceiveBufferBytes int `yaml:"receive_buffer_bytes"`
	MaxChunkedBodyBytes int `yaml:"max_chunked_body_bytes"`
}

// Load reads path as YAML, falling back to an empty Config (then defaults)
// if the file does not exist, the way Get() tolerates a missing
// config.yaml in the teacher's config package.
func Load(path string) (*Config, error) {
	var cfg Config

	f, err := os.Open(path)
	if err == nil {
		defer f.Close()
		dec := yaml.NewDecoder(f)
		if decErr := dec.Decode(&cfg); decErr != nil {
			return nil, decErr
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	c.Listen.Address = getEnv("PREFORKD_LISTEN_ADDRESS", c.Listen.Address)
	c.Static.Root = getEnv("PREFORKD_STATIC_ROOT", c.Static.Root)

	if v := getEnvInt("PREFORKD_WORKER_COUNT", 0); v > 0 {
		c.Workers.Count = v
	}
	if v := getEnvBool("PREFORKD_SYSTEMD_ACTIVATED", false); v {
		c.Listen.SystemdActivated = true
	}
}

func (c *Config) applyDefaults() {
	if c.Listen.Address == "" {
		c.Listen.Address = ":8080"
	}
	if c.Workers.Count <= 0 {
		c.Workers.Count = 4
	}
	if c.Workers.Count > MaxWorkers {
		c.Workers.Count = MaxWorkers
	}
	if c.Listen.Backlog <= 0 {
		c.Listen.Backlog = 128
	}
	if c.Workers.RespawnDelay <= 0 {
		c.Workers.RespawnDelay = 200
	}
	if c.Workers.ReapPollMs <= 0 {
		c.Workers.ReapPollMs = 200
	}
	if c.Workers.ShutdownGrace <= 0 {
		c.Workers.ShutdownGrace = 10
	}
	if c.Static.Root == "" {
		c.Static.Root = "./www"
	}
	if c.Limits.ReceiveBufferBytes <= 0 {
		c.Limits.ReceiveBufferBytes = 64 * 1024
	}
	if c.Limits.MaxChunkedBodyBytes <= 0 {
		c.Limits.MaxChunkedBodyBytes = 10 * 1024 * 1024
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return def
}
