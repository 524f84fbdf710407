package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"SigPull/pkg/util"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Environment string `yaml:"environment"`
	Server      struct {
		Port            int           `yaml:"port"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		Output string `yaml:"output"`
	} `yaml:"logging"`
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
	Upstream struct {
		BaseURL        string        `yaml:"base_url"`
		APIToken       string        `yaml:"api_token"`
		ChannelID      string        `yaml:"channel_id"`
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"upstream"`
	Breaker struct {
		Timeout               time.Duration `yaml:"timeout"`
		ErrorThresholdPercent float64       `yaml:"error_threshold_percent"`
		ResetTimeout          time.Duration `yaml:"reset_timeout"`
		Window                time.Duration `yaml:"window"`
		MinRequests           int           `yaml:"min_requests"`
	} `yaml:"breaker"`
	Poller struct {
		Interval             time.Duration `yaml:"interval"`
		BatchSize            int           `yaml:"batch_size"`
		MaxConsecutiveErrors int           `yaml:"max_consecutive_errors"`
		RetryBaseDelay       time.Duration `yaml:"retry_base_delay"`
		RetryMaxDelay        time.Duration `yaml:"retry_max_delay"`
		Filters              struct {
			MediaTypes []string `yaml:"media_types"`
			Senders    []string `yaml:"senders"`
			Match      string   `yaml:"match"`
			Exclude    string   `yaml:"exclude"`
		} `yaml:"filters"`
	} `yaml:"poller"`
	Bus struct {
		Type  string `yaml:"type"` // redis, kafka, websocket
		Redis struct {
			Addr     string `yaml:"addr"`
			Password string `yaml:"password"`
			DB       int    `yaml:"db"`
			Channel  string `yaml:"channel"`
		} `yaml:"redis"`
		Kafka struct {
			Brokers  []string `yaml:"brokers"`
			Topic    string   `yaml:"topic"`
			GroupID  string   `yaml:"group_id"`
			MinBytes int      `yaml:"min_bytes"`
			MaxBytes int      `yaml:"max_bytes"`
		} `yaml:"kafka"`
		WebSocket struct {
			URL            string        `yaml:"url"`
			ReconnectDelay time.Duration `yaml:"reconnect_delay"`
			PingInterval   time.Duration `yaml:"ping_interval"`
		} `yaml:"websocket"`
	} `yaml:"bus"`
	ClickHouse struct {
		Host             string        `yaml:"host"`
		Port             int           `yaml:"port"`
		Database         string        `yaml:"database"`
		User             string        `yaml:"user"`
		Password         string        `yaml:"password"`
		UseHTTP          bool          `yaml:"use_http"`
		AsyncInsert      bool          `yaml:"async_insert"`
		WaitForAsync     bool          `yaml:"wait_for_async_insert"`
		DialTimeout      time.Duration `yaml:"dial_timeout"`
		ReadTimeout      time.Duration `yaml:"read_timeout"`
		WriteTimeout     time.Duration `yaml:"write_timeout"`
		MaxExecutionTime time.Duration `yaml:"max_execution_time"`
	} `yaml:"clickhouse"`
	Backfill struct {
		Enabled   bool          `yaml:"enabled"`
		PageSize  int           `yaml:"page_size"`
		PageDelay time.Duration `yaml:"page_delay"`
		MaxPages  int           `yaml:"max_pages"`
	} `yaml:"backfill"`
	FullScan struct {
		PageSize int `yaml:"page_size"`
	} `yaml:"fullscan"`
}

// Load reads and parses a YAML configuration file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &c, nil
}

// LoadWithEnv loads config from YAML and overrides with environment variables.
func LoadWithEnv(path string) (*Config, error) {
	c, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("SERVER_PORT"); v != "" {
		c.Server.Port = util.ParseIntDefault(v, c.Server.Port)
	}
	if v := os.Getenv("UPSTREAM_BASE_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("UPSTREAM_API_TOKEN"); v != "" {
		c.Upstream.APIToken = v
	}
	if v := os.Getenv("CHANNEL_ID"); v != "" {
		c.Upstream.ChannelID = v
	}
	if v := os.Getenv("BUS_TYPE"); v != "" {
		c.Bus.Type = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Bus.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		c.Bus.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("CLICKHOUSE_HOST"); v != "" {
		c.ClickHouse.Host = v
	}
	if v := os.Getenv("CLICKHOUSE_PASSWORD"); v != "" {
		c.ClickHouse.Password = v
	}

	return c, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Environment == "" {
		return fmt.Errorf("environment is required")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream.base_url is required")
	}
	if c.Upstream.ChannelID == "" {
		return fmt.Errorf("upstream.channel_id is required")
	}
	switch c.Bus.Type {
	case "redis", "kafka", "websocket":
	default:
		return fmt.Errorf("bus.type must be 'redis', 'kafka' or 'websocket', got '%s'", c.Bus.Type)
	}
	if c.Bus.Type == "redis" && c.Bus.Redis.Channel == "" {
		return fmt.Errorf("bus.redis.channel is required")
	}
	if c.Bus.Type == "kafka" && (len(c.Bus.Kafka.Brokers) == 0 || c.Bus.Kafka.Topic == "") {
		return fmt.Errorf("bus.kafka.brokers and bus.kafka.topic are required")
	}
	if c.Bus.Type == "websocket" && c.Bus.WebSocket.URL == "" {
		return fmt.Errorf("bus.websocket.url is required")
	}
	if c.ClickHouse.Host == "" {
		return fmt.Errorf("clickhouse.host is required")
	}
	return nil
}
