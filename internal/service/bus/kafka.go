package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"SigPull/internal/domain/models"
	drepo "SigPull/internal/domain/repository"
	pkgkafka "SigPull/pkg/kafka"
	"SigPull/pkg/logger"
)

// KafkaSource adapts a Kafka topic of message-arrival events to the
// EventSource interface, for deployments where the relay publishes to
// Kafka instead of Redis.
type KafkaSource struct {
	consumer *pkgkafka.Consumer
	topic    string
	logger   *logger.Logger

	events chan *models.MessageEvent
	errs   chan error
}

// KafkaConfig holds consumer settings for the event topic.
type KafkaConfig struct {
	Brokers  []string
	Topic    string
	GroupID  string
	MinBytes int
	MaxBytes int
}

// NewKafkaSource creates a Kafka-backed event source.
func NewKafkaSource(cfg KafkaConfig, lgr *logger.Logger) (*KafkaSource, error) {
	opts := []pkgkafka.ConsumerOption{
		pkgkafka.WithBrokers(cfg.Brokers),
		pkgkafka.WithGroupID(cfg.GroupID),
	}
	if cfg.MinBytes > 0 && cfg.MaxBytes > 0 {
		opts = append(opts, pkgkafka.WithFetch(cfg.MinBytes, cfg.MaxBytes))
	}
	consumer, err := pkgkafka.NewConsumer(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return &KafkaSource{
		consumer: consumer,
		topic:    cfg.Topic,
		logger:   lgr,
		events:   make(chan *models.MessageEvent, 256),
		errs:     make(chan error, 8),
	}, nil
}

func (s *KafkaSource) Start(ctx context.Context) error {
	s.consumer.RegisterHandler(&eventHandler{src: s})
	if err := s.consumer.Start(); err != nil {
		return fmt.Errorf("kafka start: %w", err)
	}
	s.logger.Info("consuming event topic", logger.String("topic", s.topic))
	return nil
}

func (s *KafkaSource) Events() <-chan *models.MessageEvent { return s.events }

func (s *KafkaSource) Errors() <-chan error { return s.errs }

func (s *KafkaSource) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := s.consumer.Stop(ctx)
	close(s.events)
	return err
}

// eventHandler decodes event payloads into the events channel.
type eventHandler struct {
	src *KafkaSource
}

func (h *eventHandler) Topic() string { return h.src.topic }

func (h *eventHandler) Handle(ctx context.Context, payload []byte) error {
	var ev models.MessageEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		select {
		case h.src.errs <- fmt.Errorf("decode event: %w", err):
		default:
		}
		return nil // malformed events are dropped, not retried
	}
	select {
	case h.src.events <- &ev:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

var _ drepo.EventSource = (*KafkaSource)(nil)
