// Ventrelay - Environmental Telemetry Relay and Control
// Copyright 2026 Ventrelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ventrelay/ventrelay

// Package config loads Ventrelay configuration with koanf, layering
// defaults, an optional YAML file, and VENTRELAY_* environment variables
// (highest precedence).
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/ventrelay/ventrelay/internal/models"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/ventrelay/config.yaml",
	"/etc/ventrelay/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "VENTRELAY_CONFIG"

// envPrefix is the prefix for environment variable overrides, e.g.
// VENTRELAY_BROKER_URL maps to broker.url.
const envPrefix = "VENTRELAY_"

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Broker   BrokerConfig   `koanf:"broker"`
	Session  SessionConfig  `koanf:"session"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port"`
	Timeout time.Duration `koanf:"timeout"`
}

// Addr returns the host:port listen address.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig configures the relational store.
type DatabaseConfig struct {
	// Driver selects the storage dialect: "postgres" (production) or
	// "sqlite" (standalone and tests).
	Driver string `koanf:"driver"`

	// DSN is the driver-specific connection string.
	DSN string `koanf:"dsn"`

	// MaxOpenConns bounds the connection pool. 0 means unlimited
	// (ignored for sqlite, which is always single-connection).
	MaxOpenConns int `koanf:"max_open_conns"`
}

// BrokerConfig configures the MQTT connection to the controller.
type BrokerConfig struct {
	URL          string `koanf:"url"`
	StatusTopic  string `koanf:"status_topic"`
	CommandTopic string `koanf:"command_topic"`
	ClientID     string `koanf:"client_id"`
}

// SessionConfig configures viewer sessions.
type SessionConfig struct {
	CookieName string        `koanf:"cookie_name"`
	TTL        time.Duration `koanf:"ttl"`
	Secure     bool          `koanf:"secure"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// defaultConfig returns a Config with all default values. These are
// applied first, then overridden by config file and environment.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    3000,
			Timeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			DSN:          "",
			MaxOpenConns: 10,
		},
		Broker: BrokerConfig{
			URL:          "",
			StatusTopic:  "controller/status",
			CommandTopic: "controller/settings",
			ClientID:     "ventrelay",
		},
		Session: SessionConfig{
			CookieName: "ventrelay_session",
			TTL:        7 * 24 * time.Hour,
			Secure:     true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the first config file found
// (or the one named by VENTRELAY_CONFIG), and environment overrides.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: reading %s: %v", models.ErrConfiguration, path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling config: %v", models.ErrConfiguration, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envMappings maps environment variable names (after the VENTRELAY_
// prefix is stripped and lowercased) to config paths. An explicit table
// avoids guessing where the section name ends and the key begins.
var envMappings = map[string]string{
	"server_host":          "server.host",
	"server_port":          "server.port",
	"server_timeout":       "server.timeout",
	"database_driver":      "database.driver",
	"database_dsn":         "database.dsn",
	"database_max_conns":   "database.max_open_conns",
	"broker_url":           "broker.url",
	"broker_status_topic":  "broker.status_topic",
	"broker_command_topic": "broker.command_topic",
	"broker_client_id":     "broker.client_id",
	"session_cookie_name":  "session.cookie_name",
	"session_ttl":          "session.ttl",
	"session_secure":       "session.secure",
	"log_level":            "logging.level",
	"log_format":           "logging.format",
}

// envTransformFunc transforms environment variable names to koanf config
// paths, e.g. VENTRELAY_BROKER_URL -> broker.url. Unknown variables are
// dropped.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(strings.TrimPrefix(key, envPrefix))]
}

// findConfigFile returns the config file path to load, or "" for none.
func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		return path
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Validate checks that required settings are present and coherent.
// A failure here is fatal at startup.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("%w: unknown database driver %q", models.ErrConfiguration, c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("%w: database.dsn is required", models.ErrConfiguration)
	}
	if c.Broker.URL == "" {
		return fmt.Errorf("%w: broker.url is required", models.ErrConfiguration)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d out of range", models.ErrConfiguration, c.Server.Port)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("%w: session.ttl must be positive", models.ErrConfiguration)
	}
	return nil
}
