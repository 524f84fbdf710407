package di

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"SigPull/internal/domain/models"
	drepo "SigPull/internal/domain/repository"
	"SigPull/internal/handler/api"
	internalrepo "SigPull/internal/repository"
	"SigPull/internal/service/bus"
	"SigPull/internal/service/upstream"
	"SigPull/internal/usecase"
	"SigPull/pkg/breaker"
	pkgch "SigPull/pkg/clickhouse"
	"SigPull/pkg/config"
	xhttp "SigPull/pkg/http"
	applogger "SigPull/pkg/logger"
	"SigPull/pkg/metrics"
	"SigPull/pkg/server"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	level := cfg.Logging.Level
	if level == "" {
		level = "info"
	}
	format := cfg.Logging.Format
	if format == "" {
		format = "console"
	}
	return applogger.New(&applogger.Config{
		Level:  level,
		Format: format,
		Output: cfg.Logging.Output,
	})
}

// ProvideClickHouseClient creates the connection pool and ensures the schema.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(pkgch.Config{
		Host:         cfg.ClickHouse.Host,
		Port:         cfg.ClickHouse.Port,
		Database:     cfg.ClickHouse.Database,
		User:         cfg.ClickHouse.User,
		Password:     cfg.ClickHouse.Password,
		UseHTTP:      cfg.ClickHouse.UseHTTP,
		AsyncInsert:  cfg.ClickHouse.AsyncInsert,
		WaitForAsync: cfg.ClickHouse.WaitForAsync,
		DialTimeout:  cfg.ClickHouse.DialTimeout,
		ReadTimeout:  cfg.ClickHouse.ReadTimeout,
		MaxExecTime:  cfg.ClickHouse.MaxExecutionTime,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db := cfg.ClickHouse.Database
	if err := client.InitSchema(ctx, []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.signals (
			id UUID,
			raw_hash FixedString(64),
			channel LowCardinality(String),
			asset LowCardinality(String),
			buy_min Nullable(Float64),
			buy_max Nullable(Float64),
			target_1 Nullable(Float64),
			target_2 Nullable(Float64),
			target_final Nullable(Float64),
			stop Nullable(Float64),
			signal_type LowCardinality(String),
			source LowCardinality(String),
			raw_message String,
			event_at DateTime,
			ingested_at DateTime
		) ENGINE = ReplacingMergeTree(ingested_at) ORDER BY (channel, raw_hash)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.backfill_checkpoint (
			name String,
			completed UInt8,
			completed_at Nullable(DateTime),
			total_synced Int64,
			batches_run Int32,
			duration_ms Int64,
			updated_at DateTime
		) ENGINE = ReplacingMergeTree(updated_at) ORDER BY name`, db),
	}); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}

	return client, nil
}

// ProvideSignalStore creates the ClickHouse-backed signal store.
func ProvideSignalStore(chClient *pkgch.Client, cfg *config.Config) *internalrepo.ClickHouseSignalStore {
	db := cfg.ClickHouse.Database
	return internalrepo.NewClickHouseSignalStore(chClient.DB(), db+".signals", db+".backfill_checkpoint")
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New()
}

// ProvideBreaker creates the single breaker shared by every upstream caller.
func ProvideBreaker(cfg *config.Config) *breaker.Breaker {
	return breaker.New(breaker.Config{
		Timeout:               cfg.Breaker.Timeout,
		ErrorThresholdPercent: cfg.Breaker.ErrorThresholdPercent,
		ResetTimeout:          cfg.Breaker.ResetTimeout,
		Window:                cfg.Breaker.Window,
		MinRequests:           cfg.Breaker.MinRequests,
	})
}

// ProvideUpstreamSource creates the breaker-wrapped relay client.
func ProvideUpstreamSource(cfg *config.Config, br *breaker.Breaker, lgr *applogger.Logger, m drepo.Metrics) drepo.MessageSource {
	timeout := cfg.Upstream.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := upstream.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.APIToken, cfg.Upstream.ChannelID, timeout)
	return upstream.NewResilientSource(client, br, lgr, m)
}

// ProvideEventSource selects the bus backend for the push path.
func ProvideEventSource(cfg *config.Config, lgr *applogger.Logger) (drepo.EventSource, error) {
	switch cfg.Bus.Type {
	case "redis":
		return bus.NewRedisSource(bus.RedisConfig{
			Addr:     cfg.Bus.Redis.Addr,
			Password: cfg.Bus.Redis.Password,
			DB:       cfg.Bus.Redis.DB,
			Channel:  cfg.Bus.Redis.Channel,
		}, lgr), nil
	case "kafka":
		return bus.NewKafkaSource(bus.KafkaConfig{
			Brokers:  cfg.Bus.Kafka.Brokers,
			Topic:    cfg.Bus.Kafka.Topic,
			GroupID:  cfg.Bus.Kafka.GroupID,
			MinBytes: cfg.Bus.Kafka.MinBytes,
			MaxBytes: cfg.Bus.Kafka.MaxBytes,
		}, lgr)
	case "websocket":
		return bus.NewWebSocketSource(bus.WebSocketConfig{
			URL:            cfg.Bus.WebSocket.URL,
			ReconnectDelay: cfg.Bus.WebSocket.ReconnectDelay,
			PingInterval:   cfg.Bus.WebSocket.PingInterval,
		}, lgr), nil
	default:
		return nil, fmt.Errorf("unknown bus type: %s", cfg.Bus.Type)
	}
}

// ProvideProcessor creates the shared pipeline core.
func ProvideProcessor(store *internalrepo.ClickHouseSignalStore, m drepo.Metrics, lgr *applogger.Logger) *usecase.Processor {
	return usecase.NewProcessor(store, m, lgr)
}

// ProvidePoller creates the pull worker with configured filters.
func ProvidePoller(src drepo.MessageSource, proc *usecase.Processor, m drepo.Metrics, lgr *applogger.Logger, cfg *config.Config) (*usecase.Poller, error) {
	filters := usecase.PollerFilters{}
	for _, mt := range cfg.Poller.Filters.MediaTypes {
		filters.MediaTypes = append(filters.MediaTypes, models.MediaType(mt))
	}
	filters.Senders = cfg.Poller.Filters.Senders
	if expr := cfg.Poller.Filters.Match; expr != "" {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("poller match filter: %w", err)
		}
		filters.Match = re
	}
	if expr := cfg.Poller.Filters.Exclude; expr != "" {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("poller exclude filter: %w", err)
		}
		filters.Exclude = re
	}

	return usecase.NewPoller(src, proc, m, lgr, usecase.PollerConfig{
		Interval:             cfg.Poller.Interval,
		BatchSize:            cfg.Poller.BatchSize,
		MaxConsecutiveErrors: cfg.Poller.MaxConsecutiveErrors,
		RetryBaseDelay:       cfg.Poller.RetryBaseDelay,
		RetryMaxDelay:        cfg.Poller.RetryMaxDelay,
		Filters:              filters,
	}), nil
}

// ProvideSubscriber creates the push worker.
func ProvideSubscriber(src drepo.EventSource, proc *usecase.Processor, m drepo.Metrics, lgr *applogger.Logger, cfg *config.Config) *usecase.Subscriber {
	return usecase.NewSubscriber(src, proc, cfg.Upstream.ChannelID, m, lgr)
}

// ProvideBackfill creates the one-shot history sweep.
func ProvideBackfill(src drepo.MessageSource, store *internalrepo.ClickHouseSignalStore, lgr *applogger.Logger, cfg *config.Config) *usecase.Backfill {
	return usecase.NewBackfill(src, store, lgr, usecase.BackfillConfig{
		PageSize:  cfg.Backfill.PageSize,
		PageDelay: cfg.Backfill.PageDelay,
		MaxPages:  cfg.Backfill.MaxPages,
	})
}

// ProvideFullScan creates the on-demand recovery sweep.
func ProvideFullScan(src drepo.MessageSource, store *internalrepo.ClickHouseSignalStore, proc *usecase.Processor, m drepo.Metrics, lgr *applogger.Logger, cfg *config.Config) *usecase.FullScan {
	return usecase.NewFullScan(src, store, proc, m, lgr, cfg.FullScan.PageSize)
}

// ProvideOpsHandler creates the operator HTTP surface.
func ProvideOpsHandler(lgr *applogger.Logger, store *internalrepo.ClickHouseSignalStore, src drepo.MessageSource, proc *usecase.Processor, scan *usecase.FullScan) xhttp.Handler {
	return api.NewOpsHandler(lgr, store, store, src, proc, scan)
}

// ProvideApp creates the application.
func ProvideApp(
	cfg *config.Config,
	lgr *applogger.Logger,
	poller *usecase.Poller,
	subscriber *usecase.Subscriber,
	backfill *usecase.Backfill,
	fullScan *usecase.FullScan,
	chClient *pkgch.Client,
	handler xhttp.Handler,
) *server.App {
	return server.New(cfg, lgr, poller, subscriber, backfill, fullScan, chClient, handler)
}
