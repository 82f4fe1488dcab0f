// Package config handles configuration loading for guild-sentinel.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Queue      QueueConfig      `yaml:"queue"`
	Validation ValidationConfig `yaml:"validation"`
	Auth       AuthConfig       `yaml:"auth"`
	Logging    LoggingConfig    `yaml:"logging"`
	Detector   DetectorConfig   `yaml:"detector"`
	Policy     PolicyConfig     `yaml:"policy"`
	Platform   PlatformConfig   `yaml:"platform"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Storage    StorageConfig    `yaml:"storage"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
	Secrets    SecretsConfig    `yaml:"secrets"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	HTTPPort     int           `yaml:"http_port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	Production   bool          `yaml:"production"`
}

// IngestConfig holds HTTP intake settings.
type IngestConfig struct {
	MaxBatchSize   int `yaml:"max_batch_size"`
	MaxPayloadSize int `yaml:"max_payload_size"`
}

// QueueConfig holds queue settings.
type QueueConfig struct {
	Size int `yaml:"size"`
}

// ValidationConfig holds event validation settings.
type ValidationConfig struct {
	MaxEventAge time.Duration `yaml:"max_event_age"`
	MaxFuture   time.Duration `yaml:"max_future"`
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	APIKeyHeader string   `yaml:"api_key_header"`
	APIKeys      []string `yaml:"api_keys"`
	Enabled      bool     `yaml:"enabled"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DetectorConfig holds detection timing settings.
type DetectorConfig struct {
	RankCheckTimeout time.Duration `yaml:"rank_check_timeout"`
	EnforceTimeout   time.Duration `yaml:"enforce_timeout"`
	KickDelay        time.Duration `yaml:"kick_delay"`
	KickStaleness    time.Duration `yaml:"kick_staleness"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
	MaxIdleWindow    time.Duration `yaml:"max_idle_window"`
}

// PolicyConfig holds policy store seed settings.
type PolicyConfig struct {
	// GlobalExemptions are actor IDs exempt in every tenant (bot operators,
	// the enforcing agent itself).
	GlobalExemptions []string `yaml:"global_exemptions"`
}

// PlatformConfig holds the gateway client settings.
type PlatformConfig struct {
	BaseURL string `yaml:"base_url"`
	// APITokenRef is a secret reference, e.g. "env:PLATFORM_TOKEN" or
	// "file:platform_token".
	APITokenRef string        `yaml:"api_token_ref"`
	Timeout     time.Duration `yaml:"timeout"`
}

// AlertingConfig holds notification settings.
type AlertingConfig struct {
	WarnCooldown time.Duration       `yaml:"warn_cooldown"`
	SendTimeout  time.Duration       `yaml:"send_timeout"`
	Webhook      WebhookConfig       `yaml:"webhook"`
	RedisEnabled bool                `yaml:"redis_enabled"`
	Redis        RedisCooldownConfig `yaml:"redis"`
}

// WebhookConfig holds webhook channel settings.
type WebhookConfig struct {
	Enabled bool              `yaml:"enabled"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`
}

// RedisCooldownConfig holds Redis connection settings for the shared
// warn-cooldown store.
type RedisCooldownConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// KafkaConfig holds broker transport settings.
type KafkaConfig struct {
	// ConsumerEnabled wires the inbound action-event topic.
	ConsumerEnabled bool `yaml:"consumer_enabled"`
	// AlertsEnabled wires the outbound alert topic.
	AlertsEnabled bool     `yaml:"alerts_enabled"`
	Brokers       []string `yaml:"brokers"`
	EventsTopic   string   `yaml:"events_topic"`
	AlertsTopic   string   `yaml:"alerts_topic"`
	ConsumerGroup string   `yaml:"consumer_group"`

	SecurityProtocol string `yaml:"security_protocol"`
	SASLMechanism    string `yaml:"sasl_mechanism,omitempty"`
	SASLUsername     string `yaml:"sasl_username,omitempty"`
	SASLPassword     string `yaml:"sasl_password,omitempty"`
	TLSEnabled       bool   `yaml:"tls_enabled"`
}

// StorageConfig holds incident archive settings.
type StorageConfig struct {
	Enabled    bool             `yaml:"enabled"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Archive    ArchiveConfig    `yaml:"archive"`
}

// ClickHouseConfig holds ClickHouse connection settings.
type ClickHouseConfig struct {
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
}

// ArchiveConfig holds archive batch writer settings.
type ArchiveConfig struct {
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	RetryDelay    time.Duration `yaml:"retry_delay"`
}

// ConsumerConfig holds detection worker settings.
type ConsumerConfig struct {
	Workers      int           `yaml:"workers"`
	PollInterval time.Duration `yaml:"poll_interval"`
	ShutdownWait time.Duration `yaml:"shutdown_wait"`
}

// SecretsConfig holds secret provider settings.
type SecretsConfig struct {
	EnableEnv  bool          `yaml:"enable_env"`
	EnableFile bool          `yaml:"enable_file"`
	FileDir    string        `yaml:"file_dir"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:     8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			Production:   false,
		},
		Ingest: IngestConfig{
			MaxBatchSize:   1000,
			MaxPayloadSize: 10 * 1024 * 1024, // 10MB
		},
		Queue: QueueConfig{
			Size: 100000,
		},
		Validation: ValidationConfig{
			MaxEventAge: time.Hour,
			MaxFuture:   5 * time.Minute,
		},
		Auth: AuthConfig{
			APIKeyHeader: "X-API-Key",
			Enabled:      false, // Disabled by default for development
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Detector: DetectorConfig{
			RankCheckTimeout: 3 * time.Second,
			EnforceTimeout:   5 * time.Second,
			KickDelay:        1 * time.Second,
			KickStaleness:    5 * time.Second,
			SweepInterval:    time.Minute,
			MaxIdleWindow:    10 * time.Minute,
		},
		Policy: PolicyConfig{},
		Platform: PlatformConfig{
			BaseURL:     "http://localhost:9400",
			APITokenRef: "env:PLATFORM_TOKEN",
			Timeout:     5 * time.Second,
		},
		Alerting: AlertingConfig{
			WarnCooldown: 60 * time.Second,
			SendTimeout:  10 * time.Second,
			Webhook: WebhookConfig{
				Enabled: false,
			},
			RedisEnabled: false,
			Redis: RedisCooldownConfig{
				Addr: "localhost:6379",
			},
		},
		Kafka: KafkaConfig{
			ConsumerEnabled:  false,
			AlertsEnabled:    false,
			Brokers:          []string{"localhost:9092"},
			EventsTopic:      "sentinel-action-events",
			AlertsTopic:      "sentinel-alerts",
			ConsumerGroup:    "sentinel-detectors",
			SecurityProtocol: "PLAINTEXT",
		},
		Storage: StorageConfig{
			Enabled: false, // Disabled by default for development without ClickHouse
			ClickHouse: ClickHouseConfig{
				Hosts:           []string{"localhost:9000"},
				Database:        "sentinel",
				Username:        "default",
				Password:        "",
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
				TLSEnabled:      false,
				DialTimeout:     10 * time.Second,
			},
			Archive: ArchiveConfig{
				BatchSize:     500,
				FlushInterval: 5 * time.Second,
				MaxRetries:    3,
				RetryDelay:    time.Second,
			},
		},
		Consumer: ConsumerConfig{
			Workers:      4,
			PollInterval: 10 * time.Millisecond,
			ShutdownWait: 30 * time.Second,
		},
		Secrets: SecretsConfig{
			EnableEnv:  true,
			EnableFile: false,
			FileDir:    "/etc/secrets",
			CacheTTL:   5 * time.Minute,
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("SENTINEL_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if port := os.Getenv("SENTINEL_HTTP_PORT"); port != "" {
		fmt.Sscanf(port, "%d", &c.Server.HTTPPort)
	}

	if level := os.Getenv("SENTINEL_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}

	if apiKey := os.Getenv("SENTINEL_API_KEY"); apiKey != "" {
		c.Auth.APIKeys = append(c.Auth.APIKeys, apiKey)
		c.Auth.Enabled = true
	}

	if prod := os.Getenv("SENTINEL_PRODUCTION"); prod == "true" {
		c.Server.Production = true
	}

	if url := os.Getenv("SENTINEL_PLATFORM_URL"); url != "" {
		c.Platform.BaseURL = url
	}

	if exempt := os.Getenv("SENTINEL_GLOBAL_EXEMPTIONS"); exempt != "" {
		c.Policy.GlobalExemptions = splitAndTrim(exempt, ",")
	}

	if webhook := os.Getenv("SENTINEL_ALERT_WEBHOOK_URL"); webhook != "" {
		c.Alerting.Webhook.Enabled = true
		c.Alerting.Webhook.URL = webhook
	}

	// Broker settings
	if brokers := os.Getenv("SENTINEL_KAFKA_BROKERS"); brokers != "" {
		c.Kafka.Brokers = splitAndTrim(brokers, ",")
	}

	if enabled := os.Getenv("SENTINEL_KAFKA_CONSUMER_ENABLED"); enabled == "true" {
		c.Kafka.ConsumerEnabled = true
	}

	if enabled := os.Getenv("SENTINEL_KAFKA_ALERTS_ENABLED"); enabled == "true" {
		c.Kafka.AlertsEnabled = true
	}

	// Storage settings
	if enabled := os.Getenv("SENTINEL_STORAGE_ENABLED"); enabled == "true" {
		c.Storage.Enabled = true
	}

	if host := os.Getenv("CLICKHOUSE_HOST"); host != "" {
		c.Storage.ClickHouse.Hosts = []string{host}
	}

	if db := os.Getenv("CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}

	if user := os.Getenv("CLICKHOUSE_USER"); user != "" {
		c.Storage.ClickHouse.Username = user
	}

	if pass := os.Getenv("CLICKHOUSE_PASSWORD"); pass != "" {
		c.Storage.ClickHouse.Password = pass
	}

	// Redis cooldown settings
	if enabled := os.Getenv("SENTINEL_REDIS_ENABLED"); enabled == "true" {
		c.Alerting.RedisEnabled = true
	}

	if addr := os.Getenv("SENTINEL_REDIS_ADDR"); addr != "" {
		c.Alerting.Redis.Addr = addr
	}
}

// splitAndTrim splits a string by separator and trims whitespace from each part.
func splitAndTrim(s, sep string) []string {
	parts := make([]string, 0)
	for _, part := range strings.Split(s, sep) {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.Server.HTTPPort)
	}

	if c.Queue.Size <= 0 {
		return fmt.Errorf("queue size must be positive")
	}

	if c.Ingest.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive")
	}

	if c.Detector.KickDelay <= 0 {
		return fmt.Errorf("kick_delay must be positive")
	}

	if c.Detector.KickStaleness < c.Detector.KickDelay {
		return fmt.Errorf("kick_staleness must be at least kick_delay")
	}

	if c.Kafka.ConsumerEnabled || c.Kafka.AlertsEnabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers required when kafka is enabled")
		}
	}

	if c.Storage.Enabled && len(c.Storage.ClickHouse.Hosts) == 0 {
		return fmt.Errorf("clickhouse hosts required when storage is enabled")
	}

	return nil
}
