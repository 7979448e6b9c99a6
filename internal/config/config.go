package config

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

var (
	mu      sync.Mutex
	current *viper.Viper
)

// envKeys are bound explicitly so that environment overrides work even when
// the config file does not mention the key.
var envKeys = []string{
	"server.port",
	"logging.level",
	"logging.format",
	"privacy.enabled",
	"privacy.default_scope",
	"upstream.base_url",
	"upstream.api_key",
	"upstream.model",
	"websocket.username",
	"websocket.password",
	"stats.enabled",
	"stats.redis_url",
	"audit.enabled",
	"audit.database_url",
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	// Set defaults
	config := GetDefaults()

	// Configure viper
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/sentinel-mask/")
	v.AddConfigPath("$HOME/.sentinel-mask/")

	// Environment variable overrides
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	// Use specific config file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	// Read configuration
	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal into config struct
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Validate configuration
	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	mu.Lock()
	current = v
	mu.Unlock()

	return config, nil
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	if strings.ContainsAny(config.Privacy.DefaultScope, "[] \t\r\n") {
		return fmt.Errorf("invalid default scope %q: brackets and whitespace are not allowed", config.Privacy.DefaultScope)
	}

	for i, class := range config.Privacy.CustomClasses {
		if class.Name == "" || class.Pattern == "" || class.PlaceholderTag == "" {
			return fmt.Errorf("custom class %d: name, pattern and placeholder_tag are required", i)
		}
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.RateLimit.RequestsPerMin)
	}

	if config.Session.TTL <= 0 {
		return fmt.Errorf("invalid session ttl: %s", config.Session.TTL)
	}

	if config.Batch.WorkerCount <= 0 || config.Batch.BatchSize <= 0 {
		return fmt.Errorf("invalid batch settings: %d workers, batch size %d", config.Batch.WorkerCount, config.Batch.BatchSize)
	}

	if config.Upstream.MaxRetries < 0 {
		return fmt.Errorf("invalid upstream max_retries: %d", config.Upstream.MaxRetries)
	}

	return nil
}

// Watch starts watching the configuration file for changes. The callback
// receives only configurations that pass validation; onError, if set,
// receives the rest.
func Watch(callback func(*Config), onError func(error)) error {
	mu.Lock()
	v := current
	mu.Unlock()

	if v == nil {
		return fmt.Errorf("configuration not loaded")
	}
	if v.ConfigFileUsed() == "" {
		return fmt.Errorf("no configuration file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("failed to unmarshal %s: %w", e.Name, err))
			}
			return
		}

		if err := validateConfig(newConfig); err != nil {
			if onError != nil {
				onError(fmt.Errorf("invalid configuration in %s: %w", e.Name, err))
			}
			return
		}

		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
