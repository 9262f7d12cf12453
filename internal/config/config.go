package config

import "sync"

// Config is the root configuration for sessiond.
// Secrets (gateway token, database DSN) come from env vars and are never
// written back to disk.
type Config struct {
	mu sync.RWMutex `json:"-"`

	Workspace string         `json:"workspace,omitempty"`
	Gateway   GatewayConfig  `json:"gateway,omitempty"`
	Stream    StreamConfig   `json:"stream,omitempty"`
	Database  DatabaseConfig `json:"database,omitempty"`
	Telemetry Telemetry      `json:"telemetry,omitempty"`

	// Models is the known model catalog used to validate an agent's
	// selectedModel. Extendable from the config file.
	Models []string `json:"models,omitempty"`
}

// GatewayConfig configures the HTTP/WebSocket listener.
type GatewayConfig struct {
	Host           string   `json:"host,omitempty"`
	Port           int      `json:"port,omitempty"`
	Token          string   `json:"token,omitempty"`
	AllowedOrigins []string `json:"allowed_origins,omitempty"`
	RateLimitRPM   int      `json:"rate_limit_rpm,omitempty"`
}

// StreamConfig tunes live session streaming. The defaults mirror the
// orchestrator's historical hardcoded values.
type StreamConfig struct {
	PollIntervalMs     int `json:"poll_interval_ms,omitempty"`
	HeartbeatSec       int `json:"heartbeat_sec,omitempty"`
	ProgressChars      int `json:"progress_chars,omitempty"`
	ProgressIntervalMs int `json:"progress_interval_ms,omitempty"`
	BufferSize         int `json:"buffer_size,omitempty"`
}

// DatabaseConfig selects the persistence-sink backend.
// Driver is "sqlite" (default) or "postgres".
type DatabaseConfig struct {
	Driver string `json:"driver,omitempty"`
	DSN    string `json:"dsn,omitempty"`
}

// Telemetry configures OTLP trace export.
type Telemetry struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" (default) or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// KnownModel reports whether model appears in the configured catalog.
func (c *Config) KnownModel(model string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.Models {
		if m == model {
			return true
		}
	}
	return false
}

// WorkspacePath returns the expanded workspace root.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Workspace)
}
