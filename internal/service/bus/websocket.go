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

	"github.com/gorilla/websocket"
)

// WebSocketSource reads message-arrival events from the relay's WebSocket
// stream. Read failures reconnect after a fixed delay; the subscriber only
// has to tolerate the gap.
type WebSocketSource struct {
	url            string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	logger         *logger.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	events chan *models.MessageEvent
	errs   chan error
}

// WebSocketConfig holds stream settings.
type WebSocketConfig struct {
	URL            string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
}

// NewWebSocketSource creates a WebSocket-backed event source.
func NewWebSocketSource(cfg WebSocketConfig, lgr *logger.Logger) *WebSocketSource {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	return &WebSocketSource{
		url:            cfg.URL,
		reconnectDelay: cfg.ReconnectDelay,
		pingInterval:   cfg.PingInterval,
		logger:         lgr,
		events:         make(chan *models.MessageEvent, 256),
		errs:           make(chan error, 8),
	}
}

type wsFrame struct {
	Type string              `json:"type"`
	Data models.MessageEvent `json:"data"`
}

func (s *WebSocketSource) Start(ctx context.Context) error {
	if err := s.connect(ctx); err != nil {
		return err
	}
	go s.pingLoop(ctx)
	go s.readLoop(ctx)
	return nil
}

func (s *WebSocketSource) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("ws connect: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.logger.Info("event stream connected", logger.String("url", s.url))
	return nil
}

func (s *WebSocketSource) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.mu.Lock()
			conn, closed := s.conn, s.closed
			s.mu.Unlock()
			if closed {
				return
			}
			if conn != nil {
				_ = conn.WriteMessage(websocket.PingMessage, nil)
			}
		}
	}
}

func (s *WebSocketSource) readLoop(ctx context.Context) {
	defer close(s.events)
	for {
		s.mu.Lock()
		conn, closed := s.conn, s.closed
		s.mu.Unlock()
		if closed || ctx.Err() != nil {
			return
		}

		_, b, err := conn.ReadMessage()
		if err != nil {
			select {
			case s.errs <- fmt.Errorf("ws read: %w", err):
			default:
			}
			if !s.reconnect(ctx) {
				return
			}
			continue
		}

		var frame wsFrame
		if err := json.Unmarshal(b, &frame); err != nil || frame.Type != "message" {
			continue // ignore non-event frames
		}
		ev := frame.Data
		select {
		case s.events <- &ev:
		case <-ctx.Done():
			return
		}
	}
}

// reconnect retries until connected or the source is closed.
func (s *WebSocketSource) reconnect(ctx context.Context) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.reconnectDelay):
		}
		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return false
		}
		if err := s.connect(ctx); err == nil {
			return true
		}
		s.logger.Warn("event stream reconnect failed", logger.String("url", s.url))
	}
}

func (s *WebSocketSource) Events() <-chan *models.MessageEvent { return s.events }

func (s *WebSocketSource) Errors() <-chan error { return s.errs }

func (s *WebSocketSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

var _ drepo.EventSource = (*WebSocketSource)(nil)
