package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Logging      LoggingConfig      `yaml:"logging"`
	Upstream     UpstreamConfig     `yaml:"upstream"`
	Retry        RetryConfig        `yaml:"retry"`
	Queue        QueueConfig        `yaml:"queue"`
	Storage      StorageConfig      `yaml:"storage"`
	Redis        RedisConfig        `yaml:"redis"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
	Admin        AdminConfig        `yaml:"admin"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type UpstreamConfig struct {
	BaseURL   string          `yaml:"base_url"`
	Timeout   Duration        `yaml:"timeout"`
	Token     string          `yaml:"token"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type OAuthConfig struct {
	TokenURL     string   `yaml:"token_url"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type RetryConfig struct {
	MaxRetries           int      `yaml:"max_retries"`
	BaseDelay            Duration `yaml:"base_delay"`
	MaxDelay             Duration `yaml:"max_delay"`
	MaxJitter            Duration `yaml:"max_jitter"`
	RetryableStatusCodes []int    `yaml:"retryable_status_codes"`
	RetryableMethods     []string `yaml:"retryable_methods"`
}

type QueueConfig struct {
	MaxSize              int      `yaml:"max_size"`
	Persist              *bool    `yaml:"persist"`
	StorageKey           string   `yaml:"storage_key"`
	SyncOnReconnect      *bool    `yaml:"sync_on_reconnect"`
	MaxSyncRetries       int      `yaml:"max_sync_retries"`
	HighPriorityPatterns []string `yaml:"high_priority_patterns"`
	LowPriorityPatterns  []string `yaml:"low_priority_patterns"`
}

type StorageConfig struct {
	Backend          string   `yaml:"backend"`
	SQLitePath       string   `yaml:"sqlite_path"`
	FallbackToMemory bool     `yaml:"fallback_to_memory"`
	RecoveryInterval Duration `yaml:"recovery_interval"`
}

type RedisConfig struct {
	Address       string `yaml:"address"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	PoolSize      int    `yaml:"pool_size"`
	KeyPrefix     string `yaml:"key_prefix"`
	DeadLetterKey string `yaml:"dead_letter_key"`
}

type ConnectivityConfig struct {
	ProbeURL     string   `yaml:"probe_url"`
	Interval     Duration `yaml:"interval"`
	Timeout      Duration `yaml:"timeout"`
	AssumeOnline bool     `yaml:"assume_online"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type AdminConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Port      int             `yaml:"port"`
	Auth      AdminAuthConfig `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type AdminAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Duration accepts Go duration strings ("1s", "500ms") in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.Upstream.BaseURL) == "" {
		return errors.New("upstream base_url is required")
	}

	if c.Queue.MaxSize <= 0 {
		return errors.New("queue max_size must be positive")
	}

	switch c.Storage.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.Storage.SQLitePath == "" {
			return errors.New("storage.sqlite_path is required for sqlite backend")
		}
	case BackendRedis:
		if c.Redis.Address == "" {
			return errors.New("redis address is required for redis backend")
		}
	default:
		return fmt.Errorf("unknown storage backend: %s", c.Storage.Backend)
	}

	if c.Upstream.OAuth.TokenURL != "" && c.Upstream.OAuth.ClientID == "" {
		return errors.New("upstream oauth client_id is required with token_url")
	}

	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "resilientd"
	}
	if c.Upstream.Timeout == 0 {
		c.Upstream.Timeout = Duration(30 * time.Second)
	}

	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = Duration(time.Second)
	}
	if c.Retry.MaxDelay == 0 {
		c.Retry.MaxDelay = Duration(10 * time.Second)
	}
	if c.Retry.MaxJitter == 0 {
		c.Retry.MaxJitter = Duration(time.Second)
	}

	if c.Queue.MaxSize == 0 {
		c.Queue.MaxSize = 50
	}
	if c.Queue.Persist == nil {
		c.Queue.Persist = boolPtr(true)
	}
	if c.Queue.SyncOnReconnect == nil {
		c.Queue.SyncOnReconnect = boolPtr(true)
	}
	if c.Queue.StorageKey == "" {
		c.Queue.StorageKey = "resilient_offline_queue"
	}
	if c.Queue.MaxSyncRetries == 0 {
		c.Queue.MaxSyncRetries = 3
	}

	c.Storage.Backend = strings.ToLower(strings.TrimSpace(c.Storage.Backend))
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemory
	}
	if c.Storage.RecoveryInterval == 0 {
		c.Storage.RecoveryInterval = Duration(time.Minute)
	}

	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "resilient:"
	}
	if c.Redis.DeadLetterKey == "" {
		c.Redis.DeadLetterKey = "resilient:deadletter"
	}

	if c.Connectivity.ProbeURL == "" && c.Upstream.BaseURL != "" {
		c.Connectivity.ProbeURL = strings.TrimRight(c.Upstream.BaseURL, "/") + "/health"
	}
	if c.Connectivity.Interval == 0 {
		c.Connectivity.Interval = Duration(5 * time.Second)
	}
	if c.Connectivity.Timeout == 0 {
		c.Connectivity.Timeout = Duration(2 * time.Second)
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Admin.Port == 0 {
		c.Admin.Port = 8080
	}
	if c.Admin.Auth.HeaderAPIKey == "" {
		c.Admin.Auth.HeaderAPIKey = "x-api-key"
	}
}

func boolPtr(v bool) *bool {
	return &v
}
