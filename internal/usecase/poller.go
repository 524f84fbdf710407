package usecase

import (
	"context"
	"regexp"
	"sync"
	"time"

	"SigPull/internal/domain/models"
	drepo "SigPull/internal/domain/repository"
	"SigPull/pkg/logger"
)

// PollerFilters are optional client-side filters applied before parsing.
type PollerFilters struct {
	MediaTypes []models.MediaType // allow-list; empty allows all
	Senders    []string           // allow-list; empty allows all
	Match      *regexp.Regexp     // content must match
	Exclude    *regexp.Regexp     // content must not match
}

// PollerConfig tunes the pull loop.
type PollerConfig struct {
	Interval             time.Duration
	BatchSize            int
	MaxConsecutiveErrors int
	RetryBaseDelay       time.Duration
	RetryMaxDelay        time.Duration
	Filters              PollerFilters
	StopTimeout          time.Duration
}

// Poller is the pull-path worker: each cycle it fetches a batch of
// unprocessed messages through the resilient client, runs the shared
// pipeline per message, and acknowledges everything except transient
// failures. Cycle failures back off exponentially; the loop never
// self-terminates.
type Poller struct {
	src     drepo.MessageSource
	proc    *Processor
	metrics drepo.Metrics
	logger  *logger.Logger
	cfg     PollerConfig

	mu       sync.Mutex
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	inflight sync.WaitGroup
}

// NewPoller creates the pull worker.
func NewPoller(src drepo.MessageSource, proc *Processor, metrics drepo.Metrics, lgr *logger.Logger, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.MaxConsecutiveErrors <= 0 {
		cfg.MaxConsecutiveErrors = 10
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = time.Second
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 30 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 30 * time.Second
	}
	return &Poller{src: src, proc: proc, metrics: metrics, logger: lgr, cfg: cfg}
}

// Start launches the loop. Calling Start on a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	go p.run(ctx)
	p.logger.Info("poller started",
		logger.Duration("interval_ms", p.cfg.Interval),
		logger.Int("batch_size", p.cfg.BatchSize))
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.doneCh)

	consecutive := 0
	retryDelay := p.cfg.RetryBaseDelay

	for {
		select {
		case <-p.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		cycleStart := time.Now()
		err := p.runCycle(ctx)
		p.metrics.SetPollLag(time.Since(cycleStart).Seconds())

		if err != nil {
			consecutive++
			p.metrics.RecordError("poll_cycle")
			p.logger.Warn("poll cycle failed",
				logger.Int("consecutive", consecutive),
				logger.Duration("retry_delay_ms", retryDelay),
				logger.Error(err))
			if consecutive == p.cfg.MaxConsecutiveErrors {
				// alert-level: pages an operator, the loop keeps running
				p.logger.Error("poll cycle failure threshold reached",
					logger.Int("consecutive", consecutive))
			}
			if !p.sleep(retryDelay) {
				return
			}
			retryDelay *= 2
			if retryDelay > p.cfg.RetryMaxDelay {
				retryDelay = p.cfg.RetryMaxDelay
			}
		} else {
			consecutive = 0
			retryDelay = p.cfg.RetryBaseDelay
		}

		if !p.sleep(p.cfg.Interval) {
			return
		}
	}
}

// runCycle fetches and processes one batch. Per-message failures never
// abort the batch; only the fetch itself is a cycle-level failure.
func (p *Poller) runCycle(ctx context.Context) error {
	p.inflight.Add(1)
	defer p.inflight.Done()

	msgs, err := p.src.FetchUnprocessed(ctx, p.cfg.BatchSize)
	if err != nil {
		return err
	}
	p.metrics.SetQueueDepth(float64(len(msgs)))
	if len(msgs) == 0 {
		return nil
	}

	for _, raw := range msgs {
		if !p.allow(raw) {
			// filtered-out noise is acknowledged so it is not refetched
			p.ack(ctx, raw.MessageID)
			continue
		}
		res := p.proc.ProcessMessage(ctx, raw, models.SourcePoll)
		if res.Outcome.Terminal() {
			p.ack(ctx, raw.MessageID)
		} else {
			p.logger.Warn("message left unacknowledged for retry",
				logger.String("message_id", raw.MessageID),
				logger.Error(res.Err))
		}
	}
	return nil
}

func (p *Poller) ack(ctx context.Context, messageID string) {
	// resilient source treats ack failure as non-fatal
	_, _ = p.src.Acknowledge(ctx, []string{messageID})
}

func (p *Poller) allow(raw *models.RawMessage) bool {
	f := p.cfg.Filters
	if len(f.MediaTypes) > 0 && !containsMedia(f.MediaTypes, raw.MediaType) {
		return false
	}
	if len(f.Senders) > 0 && !containsString(f.Senders, raw.Sender) {
		return false
	}
	content := raw.Content()
	if f.Match != nil && !f.Match.MatchString(content) {
		return false
	}
	if f.Exclude != nil && f.Exclude.MatchString(content) {
		return false
	}
	return true
}

// sleep waits for d or until stop; returns false when stopping.
func (p *Poller) sleep(d time.Duration) bool {
	select {
	case <-p.stopCh:
		return false
	case <-time.After(d):
		return true
	}
}

// Stop flips the running flag and waits, bounded by StopTimeout, for any
// in-flight batch so acknowledgments are not lost mid-flight.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.inflight.Wait()
		<-p.doneCh
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("poller stopped")
	case <-time.After(p.cfg.StopTimeout):
		p.logger.Warn("poller stop timed out with batch in flight")
	}
}

func containsMedia(list []models.MediaType, v models.MediaType) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
