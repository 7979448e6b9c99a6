package config

import "time"

// Config represents the main configuration structure
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Privacy   PrivacyConfig   `yaml:"privacy" mapstructure:"privacy"`
	Logging   LoggingConfig   `yaml:"logging" mapstructure:"logging"`
	Upstream  UpstreamConfig  `yaml:"upstream" mapstructure:"upstream"`
	WebSocket WebSocketConfig `yaml:"websocket" mapstructure:"websocket"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	Session   SessionConfig   `yaml:"session" mapstructure:"session"`
	Stats     StatsConfig     `yaml:"stats" mapstructure:"stats"`
	Audit     AuditConfig     `yaml:"audit" mapstructure:"audit"`
	Metrics   MetricsConfig   `yaml:"metrics" mapstructure:"metrics"`
	Batch     BatchConfig     `yaml:"batch" mapstructure:"batch"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// ClassConfig declares an extra entity class on top of the built-in ones
type ClassConfig struct {
	Name           string `yaml:"name" mapstructure:"name"`
	Pattern        string `yaml:"pattern" mapstructure:"pattern"`
	PlaceholderTag string `yaml:"placeholder_tag" mapstructure:"placeholder_tag"`
}

// PrivacyConfig contains masking engine configuration
type PrivacyConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// Detectors lists built-in classes in processing order; "all" expands
	// to every built-in class in default order.
	Detectors     []string      `yaml:"detectors" mapstructure:"detectors"`
	CustomClasses []ClassConfig `yaml:"custom_classes" mapstructure:"custom_classes"`
	DefaultScope  string        `yaml:"default_scope" mapstructure:"default_scope"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
		Path     string `yaml:"path" mapstructure:"path"`
		MaxSize  int    `yaml:"max_size" mapstructure:"max_size"`
		MaxAge   int    `yaml:"max_age" mapstructure:"max_age"`
		Compress bool   `yaml:"compress" mapstructure:"compress"`
	} `yaml:"file" mapstructure:"file"`
}

// UpstreamConfig contains generation service configuration
type UpstreamConfig struct {
	BaseURL      string        `yaml:"base_url" mapstructure:"base_url"`
	APIKey       string        `yaml:"api_key" mapstructure:"api_key"`
	Model        string        `yaml:"model" mapstructure:"model"`
	Temperature  float64       `yaml:"temperature" mapstructure:"temperature"`
	SystemPrompt string        `yaml:"system_prompt" mapstructure:"system_prompt"`
	Timeout      time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxRetries   int           `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	Enabled  bool   `yaml:"enabled" mapstructure:"enabled"`
	Path     string `yaml:"path" mapstructure:"path"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	Events   struct {
		BroadcastMasking     bool `yaml:"broadcast_masking" mapstructure:"broadcast_masking"`
		BroadcastUnmasking   bool `yaml:"broadcast_unmasking" mapstructure:"broadcast_unmasking"`
		BroadcastSystem      bool `yaml:"broadcast_system" mapstructure:"broadcast_system"`
		BroadcastConnections bool `yaml:"broadcast_connections" mapstructure:"broadcast_connections"`
	} `yaml:"events" mapstructure:"events"`
}

// RateLimitConfig contains per-client rate limiting configuration
type RateLimitConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int           `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	Burst          int           `yaml:"burst" mapstructure:"burst"`
	IdleTimeout    time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// SessionConfig controls in-memory retention of conversation mask maps
type SessionConfig struct {
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
	MaxTurns int           `yaml:"max_turns" mapstructure:"max_turns"`
}

// StatsConfig contains Redis configuration for aggregate detection counters
type StatsConfig struct {
	Enabled        bool          `yaml:"enabled" mapstructure:"enabled"`
	RedisURL       string        `yaml:"redis_url" mapstructure:"redis_url"`
	MaxConnections int           `yaml:"max_connections" mapstructure:"max_connections"`
	MinIdleConns   int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	KeyPrefix      string        `yaml:"key_prefix" mapstructure:"key_prefix"`
	Retention      time.Duration `yaml:"retention" mapstructure:"retention"`
}

// AuditConfig contains PostgreSQL configuration for the audit log
type AuditConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// BatchConfig contains batch masking pipeline configuration
type BatchConfig struct {
	BatchSize      int    `yaml:"batch_size" mapstructure:"batch_size"`
	WorkerCount    int    `yaml:"worker_count" mapstructure:"worker_count"`
	IncludeMaps    bool   `yaml:"include_maps" mapstructure:"include_maps"`
	Scope          string `yaml:"scope" mapstructure:"scope"` // empty: use record id
	ProgressReport int    `yaml:"progress_report" mapstructure:"progress_report"`
	MaxTextLength  int    `yaml:"max_text_length" mapstructure:"max_text_length"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 90 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 1 << 20,
		},
		Privacy: PrivacyConfig{
			Enabled:   true,
			Detectors: []string{"all"},
		},
		Upstream: UpstreamConfig{
			BaseURL:     "https://api.openai.com",
			Model:       "gpt-4o-mini",
			Temperature: 0.2,
			SystemPrompt: "You are a helpful assistant. Answer using only the provided context. " +
				"Some values in the context were replaced by placeholder tokens.",
			Timeout:    60 * time.Second,
			MaxRetries: 2,
			RetryDelay: time.Second,
		},
		WebSocket: WebSocketConfig{
			Enabled: true,
			Path:    "/ws",
		},
		RateLimit: RateLimitConfig{
			Enabled:        true,
			RequestsPerMin: 120,
			Burst:          20,
			IdleTimeout:    time.Hour,
		},
		Session: SessionConfig{
			TTL:      30 * time.Minute,
			MaxTurns: 50,
		},
		Stats: StatsConfig{
			Enabled:        false,
			RedisURL:       "redis://localhost:6379/0",
			MaxConnections: 10,
			MinIdleConns:   2,
			KeyPrefix:      "sentinel-mask",
			Retention:      30 * 24 * time.Hour,
		},
		Audit: AuditConfig{
			Enabled:         false,
			DatabaseURL:     "postgres://localhost:5432/sentinel_mask?sslmode=disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Batch: BatchConfig{
			BatchSize:      500,
			WorkerCount:    4,
			IncludeMaps:    false,
			ProgressReport: 1000,
			MaxTextLength:  100000,
		},
	}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.File.Path = "logs/sentinel-mask.log"
	cfg.Logging.File.MaxSize = 100 // MB
	cfg.Logging.File.MaxAge = 30   // days
	cfg.Logging.File.Compress = true

	cfg.WebSocket.Events.BroadcastMasking = true
	cfg.WebSocket.Events.BroadcastUnmasking = true
	cfg.WebSocket.Events.BroadcastSystem = true
	cfg.WebSocket.Events.BroadcastConnections = true

	return cfg
}
