package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultCacheTTL is applied to cache writes that do not override it.
	DefaultCacheTTL = 24 * time.Hour

	// DefaultCacheMaxBytes is the soft cap on serialized cache payloads.
	DefaultCacheMaxBytes int64 = 64 << 20

	defaultLedgerRetryInterval = 5 * time.Second
	defaultLedgerMaxRetries    = 5
)

// Config holds the application configuration.
type Config struct {
	AnthropicAPIKey string
	OpenAIAPIKey    string
	GoogleAPIKey    string
	DeepSeekAPIKey  string
	OllamaHost      string
	RoutingConfig   *RoutingConfig
	Cache           CacheConfig
	Ledger          LedgerConfig
	Logging         LoggingConfig
	ConfigDir       string
}

// FileConfig represents the structure of ~/.routegate/config.yaml
type FileConfig struct {
	APIKeys    APIKeysConfig `yaml:"api_keys"`
	OllamaHost string        `yaml:"ollama_host,omitempty"`
	Cache      CacheConfig   `yaml:"cache,omitempty"`
	Ledger     LedgerConfig  `yaml:"ledger,omitempty"`
	Logging    LoggingConfig `yaml:"logging,omitempty"`
}

// APIKeysConfig holds API key configuration from file.
type APIKeysConfig struct {
	Anthropic string `yaml:"anthropic"`
	OpenAI    string `yaml:"openai"`
	Google    string `yaml:"google"`
	DeepSeek  string `yaml:"deepseek"`
}

// CacheConfig selects and tunes the response cache backend.
type CacheConfig struct {
	Backend   string        `yaml:"backend,omitempty"` // sqlite or redis
	Path      string        `yaml:"path,omitempty"`
	RedisAddr string        `yaml:"redis_addr,omitempty"`
	RedisDB   int           `yaml:"redis_db,omitempty"`
	TTL       time.Duration `yaml:"ttl,omitempty"`
	MaxBytes  int64         `yaml:"max_bytes,omitempty"`
	Disabled  bool          `yaml:"disabled,omitempty"`
}

// LedgerConfig tunes the cost ledger store and its write retry policy.
type LedgerConfig struct {
	Path          string        `yaml:"path,omitempty"`
	RetryInterval time.Duration `yaml:"retry_interval,omitempty"`
	MaxRetries    int           `yaml:"max_retries,omitempty"`
	BudgetLimit   float64       `yaml:"budget_limit,omitempty"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
}

// Load reads configuration from config files and environment variables.
// Environment variables take precedence over file configuration.
func Load() (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return LoadFrom(configDir, "")
}

// LoadWithRoutingFile loads config with a specific routing file.
func LoadWithRoutingFile(routingPath string) (*Config, error) {
	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}
	return LoadFrom(configDir, routingPath)
}

// LoadFrom loads config.yaml and routing.yaml from configDir. A non-empty
// routingPath replaces the routing.yaml lookup. The routing configuration is
// validated before it is returned.
func LoadFrom(configDir, routingPath string) (*Config, error) {
	fileConfig, err := loadFileConfig(filepath.Join(configDir, "config.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		AnthropicAPIKey: getEnvOrDefault("ANTHROPIC_API_KEY", fileConfig.APIKeys.Anthropic),
		OpenAIAPIKey:    getEnvOrDefault("OPENAI_API_KEY", fileConfig.APIKeys.OpenAI),
		GoogleAPIKey:    getEnvOrDefault("GOOGLE_API_KEY", fileConfig.APIKeys.Google),
		DeepSeekAPIKey:  getEnvOrDefault("DEEPSEEK_API_KEY", fileConfig.APIKeys.DeepSeek),
		OllamaHost:      getEnvOrDefault("OLLAMA_HOST", fileConfig.OllamaHost),
		Cache:           fileConfig.Cache,
		Ledger:          fileConfig.Ledger,
		Logging:         fileConfig.Logging,
		ConfigDir:       configDir,
	}
	applyDefaults(cfg)

	if routingPath == "" {
		candidate := filepath.Join(configDir, "routing.yaml")
		if _, err := os.Stat(candidate); err == nil {
			routingPath = candidate
		}
	}

	if routingPath != "" {
		routing, err := LoadRoutingConfig(routingPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load routing config from %s: %w", routingPath, err)
		}
		cfg.RoutingConfig = routing
	} else {
		cfg.RoutingConfig = DefaultRoutingConfig()
	}

	if err := cfg.RoutingConfig.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// HasAdapter returns true if the credentials for the given adapter are configured.
func (c *Config) HasAdapter(name string) bool {
	switch name {
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "openai":
		return c.OpenAIAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	case "deepseek":
		return c.DeepSeekAPIKey != ""
	case "ollama", "mock":
		return true
	default:
		return false
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Cache.Backend == "" {
		cfg.Cache.Backend = "sqlite"
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = filepath.Join(cfg.ConfigDir, "cache.db")
	}
	if cfg.Cache.RedisAddr == "" {
		cfg.Cache.RedisAddr = "localhost:6379"
	}
	if cfg.Cache.TTL <= 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Cache.MaxBytes == 0 {
		cfg.Cache.MaxBytes = DefaultCacheMaxBytes
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = filepath.Join(cfg.ConfigDir, "costs.db")
	}
	if cfg.Ledger.RetryInterval <= 0 {
		cfg.Ledger.RetryInterval = defaultLedgerRetryInterval
	}
	if cfg.Ledger.MaxRetries <= 0 {
		cfg.Ledger.MaxRetries = defaultLedgerMaxRetries
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.OllamaHost == "" {
		cfg.OllamaHost = "http://localhost:11434"
	}
}

// loadFileConfig reads the config file, returning empty config if not found.
func loadFileConfig(path string) (*FileConfig, error) {
	cfg := &FileConfig{}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &ConfigurationError{Field: path, Reason: err.Error()}
	}
	return cfg, nil
}

// getEnvOrDefault returns the environment variable value if set,
// otherwise returns the default value.
func getEnvOrDefault(envVar, defaultValue string) string {
	if val := os.Getenv(envVar); val != "" {
		return val
	}
	return defaultValue
}

func getConfigDir() (string, error) {
	configDir := os.Getenv("ROUTEGATE_HOME")
	if configDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, ".routegate")
	}
	if err := os.MkdirAll(configDir, 0o750); err != nil {
		return "", err
	}
	return configDir, nil
}
