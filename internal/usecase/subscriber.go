package usecase

import (
	"context"
	"sync"

	"SigPull/internal/domain/models"
	drepo "SigPull/internal/domain/repository"
	"SigPull/pkg/logger"
)

// Subscriber is the push-path worker: it reacts to message-arrival events
// from the bus with sub-second latency. It is the primary path; the poller
// is the consistency backstop when the bus drops an event. Bus errors are
// counted and logged, never fatal.
type Subscriber struct {
	src       drepo.EventSource
	proc      *Processor
	channelID string
	metrics   drepo.Metrics
	logger    *logger.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewSubscriber creates the push worker bound to one channel of interest.
func NewSubscriber(src drepo.EventSource, proc *Processor, channelID string, metrics drepo.Metrics, lgr *logger.Logger) *Subscriber {
	return &Subscriber{src: src, proc: proc, channelID: channelID, metrics: metrics, logger: lgr}
}

// Start connects the event source and launches the consume loop.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.src.Start(ctx); err != nil {
		return err
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.consume(ctx)
	s.logger.Info("subscriber started", logger.String("channel", s.channelID))
	return nil
}

func (s *Subscriber) consume(ctx context.Context) {
	defer close(s.doneCh)
	events := s.src.Events()
	errs := s.src.Errors()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		case err := <-errs:
			if err != nil {
				s.metrics.RecordError("bus")
				s.logger.Warn("bus error", logger.Error(err))
			}
		case ev, ok := <-events:
			if !ok {
				return
			}
			s.handle(ctx, ev)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, ev *models.MessageEvent) {
	if ev.ChannelID != s.channelID {
		return // events for other channels are not ours
	}
	res := s.proc.ProcessMessage(ctx, ev.ToRawMessage(), models.SourcePush)
	if res.Outcome == models.OutcomeFailedTransit {
		// the poll path will pick the message up again; nothing to ack here
		s.logger.Warn("push processing failed, deferring to poll path",
			logger.String("message_id", ev.MessageID),
			logger.Error(res.Err))
	}
}

// Stop closes the event source and waits for the consume loop.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	_ = s.src.Close()
	<-s.doneCh
	s.logger.Info("subscriber stopped")
}
