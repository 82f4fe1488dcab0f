package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("http port = %d, want 8080", cfg.Server.HTTPPort)
	}
	if cfg.Queue.Size != 100000 {
		t.Errorf("queue size = %d, want 100000", cfg.Queue.Size)
	}
	if cfg.Detector.KickDelay != time.Second {
		t.Errorf("kick delay = %v, want 1s", cfg.Detector.KickDelay)
	}
	if cfg.Detector.KickStaleness != 5*time.Second {
		t.Errorf("kick staleness = %v, want 5s", cfg.Detector.KickStaleness)
	}
	if cfg.Auth.Enabled {
		t.Error("auth should default off")
	}
	if cfg.Kafka.ConsumerEnabled || cfg.Kafka.AlertsEnabled || cfg.Storage.Enabled || cfg.Alerting.RedisEnabled {
		t.Error("optional subsystems should default off")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults must validate: %v", err)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("SENTINEL_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Errorf("http port = %d, want default", cfg.Server.HTTPPort)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  http_port: 9090
logging:
  level: debug
alerting:
  warn_cooldown: 30s
kafka:
  events_topic: custom-events
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("SENTINEL_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPPort != 9090 {
		t.Errorf("http port = %d, want 9090", cfg.Server.HTTPPort)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
	if cfg.Alerting.WarnCooldown != 30*time.Second {
		t.Errorf("warn cooldown = %v, want 30s", cfg.Alerting.WarnCooldown)
	}
	if cfg.Kafka.EventsTopic != "custom-events" {
		t.Errorf("events topic = %q", cfg.Kafka.EventsTopic)
	}
	// Unset fields keep defaults.
	if cfg.Queue.Size != 100000 {
		t.Errorf("queue size = %d, want default", cfg.Queue.Size)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SENTINEL_CONFIG_PATH", filepath.Join(t.TempDir(), "nope.yaml"))
	t.Setenv("SENTINEL_HTTP_PORT", "7070")
	t.Setenv("SENTINEL_API_KEY", "test-key")
	t.Setenv("SENTINEL_GLOBAL_EXEMPTIONS", "op-1, op-2 ,")
	t.Setenv("SENTINEL_KAFKA_BROKERS", "broker-1:9092,broker-2:9092")
	t.Setenv("SENTINEL_ALERT_WEBHOOK_URL", "https://hooks.internal/alerts")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Server.HTTPPort != 7070 {
		t.Errorf("http port = %d, want 7070", cfg.Server.HTTPPort)
	}
	if !cfg.Auth.Enabled || len(cfg.Auth.APIKeys) != 1 {
		t.Error("api key env must enable auth")
	}
	if len(cfg.Policy.GlobalExemptions) != 2 {
		t.Errorf("exemptions = %v, want 2 entries", cfg.Policy.GlobalExemptions)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if !cfg.Alerting.Webhook.Enabled || cfg.Alerting.Webhook.URL == "" {
		t.Error("webhook env must enable webhook channel")
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.HTTPPort = 0 }},
		{"port out of range", func(c *Config) { c.Server.HTTPPort = 70000 }},
		{"zero queue", func(c *Config) { c.Queue.Size = 0 }},
		{"zero batch", func(c *Config) { c.Ingest.MaxBatchSize = 0 }},
		{"zero kick delay", func(c *Config) { c.Detector.KickDelay = 0 }},
		{"staleness below delay", func(c *Config) {
			c.Detector.KickDelay = 10 * time.Second
			c.Detector.KickStaleness = time.Second
		}},
		{"kafka without brokers", func(c *Config) {
			c.Kafka.ConsumerEnabled = true
			c.Kafka.Brokers = nil
		}},
		{"storage without hosts", func(c *Config) {
			c.Storage.Enabled = true
			c.Storage.ClickHouse.Hosts = nil
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
