package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

const validYAML = `environment: test
server:
  port: 8081
upstream:
  base_url: http://relay:9000
  channel_id: chan-1
  request_timeout: 15s
poller:
  interval: 45s
  batch_size: 25
bus:
  type: redis
  redis:
    addr: localhost:6379
    channel: signal-events
clickhouse:
  host: ch-host
  database: sigpull
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Environment != "test" {
		t.Fatalf("unexpected environment %q", cfg.Environment)
	}
	if cfg.Server.Port != 8081 {
		t.Fatalf("unexpected port %d", cfg.Server.Port)
	}
	if cfg.Upstream.RequestTimeout != 15*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.Upstream.RequestTimeout)
	}
	if cfg.Poller.Interval != 45*time.Second || cfg.Poller.BatchSize != 25 {
		t.Fatalf("unexpected poller config %+v", cfg.Poller)
	}
	if cfg.Bus.Type != "redis" || cfg.Bus.Redis.Channel != "signal-events" {
		t.Fatalf("unexpected bus config %+v", cfg.Bus)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("UPSTREAM_BASE_URL", "http://other:9000")
	t.Setenv("CHANNEL_ID", "chan-override")
	t.Setenv("CLICKHOUSE_HOST", "ch-override")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := LoadWithEnv(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Upstream.BaseURL != "http://other:9000" {
		t.Fatalf("base url not overridden: %q", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.ChannelID != "chan-override" {
		t.Fatalf("channel not overridden: %q", cfg.Upstream.ChannelID)
	}
	if cfg.ClickHouse.Host != "ch-override" {
		t.Fatalf("clickhouse host not overridden: %q", cfg.ClickHouse.Host)
	}
	if len(cfg.Bus.Kafka.Brokers) != 2 || cfg.Bus.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("brokers not overridden: %v", cfg.Bus.Kafka.Brokers)
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	cases := []struct {
		name string
		edit func(*Config)
	}{
		{"environment", func(c *Config) { c.Environment = "" }},
		{"base_url", func(c *Config) { c.Upstream.BaseURL = "" }},
		{"channel_id", func(c *Config) { c.Upstream.ChannelID = "" }},
		{"bus_type", func(c *Config) { c.Bus.Type = "rabbitmq" }},
		{"redis_channel", func(c *Config) { c.Bus.Redis.Channel = "" }},
		{"clickhouse_host", func(c *Config) { c.ClickHouse.Host = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, validYAML))
			if err != nil {
				t.Fatalf("load failed: %v", err)
			}
			tc.edit(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestValidatePerBusRequirements(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	cfg.Bus.Type = "kafka"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("kafka without brokers must fail")
	}
	cfg.Bus.Kafka.Brokers = []string{"k1:9092"}
	cfg.Bus.Kafka.Topic = "signal-events"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("kafka config should pass: %v", err)
	}

	cfg.Bus.Type = "websocket"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("websocket without url must fail")
	}
	cfg.Bus.WebSocket.URL = "ws://relay:9000/stream"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("websocket config should pass: %v", err)
	}
}
