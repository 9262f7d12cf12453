package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Workspace: "~/.sessiond/workspace",
		Gateway: GatewayConfig{
			Host:         "0.0.0.0",
			Port:         18820,
			RateLimitRPM: 60,
		},
		Stream: StreamConfig{
			PollIntervalMs:     250,
			HeartbeatSec:       12,
			ProgressChars:      24,
			ProgressIntervalMs: 350,
			BufferSize:         128,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
		},
		Telemetry: Telemetry{
			Protocol:    "grpc",
			ServiceName: "sessiond",
		},
		Models: []string{
			"claude-sonnet-4-5",
			"claude-opus-4-1",
			"gpt-5",
			"gpt-4.1-mini",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("SESSIOND_WORKSPACE", &c.Workspace)
	envStr("SESSIOND_HOST", &c.Gateway.Host)
	envStr("SESSIOND_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("SESSIOND_DB_DRIVER", &c.Database.Driver)
	envStr("SESSIOND_DB_DSN", &c.Database.DSN)
	envStr("SESSIOND_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("SESSIOND_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("SESSIOND_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)

	if v := os.Getenv("SESSIOND_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("SESSIOND_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("SESSIOND_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
	if v := os.Getenv("SESSIOND_ALLOWED_ORIGINS"); v != "" {
		c.Gateway.AllowedOrigins = strings.Split(v, ",")
	}
}

// Save writes the config to a JSON file.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
