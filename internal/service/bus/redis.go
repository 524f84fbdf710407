package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"SigPull/internal/domain/models"
	drepo "SigPull/internal/domain/repository"
	"SigPull/pkg/logger"

	"github.com/redis/go-redis/v9"
)

// RedisSource subscribes to the relay's pub/sub channel carrying one JSON
// event per newly observed upstream message. go-redis reconnects the
// subscription on its own; this adapter only surfaces decode errors.
type RedisSource struct {
	client  *redis.Client
	channel string
	logger  *logger.Logger

	pubsub    *redis.PubSub
	events    chan *models.MessageEvent
	errs      chan error
	quit      chan struct{}
	closeOnce sync.Once
}

// RedisConfig holds subscription settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Channel  string
}

// NewRedisSource creates a pub/sub event source.
func NewRedisSource(cfg RedisConfig, lgr *logger.Logger) *RedisSource {
	return &RedisSource{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		channel: cfg.Channel,
		logger:  lgr,
		events:  make(chan *models.MessageEvent, 256),
		errs:    make(chan error, 8),
		quit:    make(chan struct{}),
	}
}

// Start verifies connectivity, subscribes and launches the receive loop.
func (s *RedisSource) Start(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}

	s.pubsub = s.client.Subscribe(ctx, s.channel)
	if _, err := s.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe %s: %w", s.channel, err)
	}
	s.logger.Info("subscribed to event channel", logger.String("channel", s.channel))

	go s.receive(s.pubsub.Channel())
	return nil
}

func (s *RedisSource) receive(ch <-chan *redis.Message) {
	defer close(s.events)
	for msg := range ch {
		var ev models.MessageEvent
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			select {
			case s.errs <- fmt.Errorf("decode event: %w", err):
			default:
			}
			continue
		}
		// the consumer may already have stopped with the buffer full;
		// Close must still be able to end this loop
		select {
		case s.events <- &ev:
		case <-s.quit:
			return
		}
	}
}

func (s *RedisSource) Events() <-chan *models.MessageEvent { return s.events }

func (s *RedisSource) Errors() <-chan error { return s.errs }

// Close unsubscribes and closes the client, which ends the receive loop.
func (s *RedisSource) Close() error {
	s.closeOnce.Do(func() { close(s.quit) })
	if s.pubsub != nil {
		_ = s.pubsub.Close()
	}
	return s.client.Close()
}

var _ drepo.EventSource = (*RedisSource)(nil)
