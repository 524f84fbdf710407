package upstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"SigPull/internal/domain/models"
	"SigPull/pkg/breaker"
	"SigPull/pkg/logger"
)

type stubSource struct {
	mu       sync.Mutex
	fetchErr error
	msgs     []*models.RawMessage
	ackErr   error
	fetches  int
	acks     int
}

func (s *stubSource) FetchUnprocessed(_ context.Context, _ int) ([]*models.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.msgs, nil
}

func (s *stubSource) Acknowledge(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks++
	if s.ackErr != nil {
		return 0, s.ackErr
	}
	return len(ids), nil
}

func (s *stubSource) BulkSync(_ context.Context, _ int) (*models.BulkSyncResult, error) {
	return &models.BulkSyncResult{MessagesSynced: 5}, nil
}

func (s *stubSource) ListAll(_ context.Context, _, _ int) ([]*models.RawMessage, error) {
	return nil, nil
}

func (s *stubSource) TestConnection(_ context.Context) bool { return true }

func (s *stubSource) fetchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

type countingMetrics struct {
	mu   sync.Mutex
	errs map[string]int
}

func newCountingMetrics() *countingMetrics { return &countingMetrics{errs: make(map[string]int)} }

func (m *countingMetrics) RecordOutcome(string, string)   {}
func (m *countingMetrics) RecordDuration(string, float64) {}
func (m *countingMetrics) SetQueueDepth(float64)          {}
func (m *countingMetrics) SetPollLag(float64)             {}

func (m *countingMetrics) RecordError(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs[kind]++
}

func (m *countingMetrics) count(kind string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.errs[kind]
}

func newTrippedBreaker(t *testing.T) *breaker.Breaker {
	t.Helper()
	br := breaker.New(breaker.Config{
		Timeout:               time.Second,
		ErrorThresholdPercent: 50,
		ResetTimeout:          time.Minute,
		MinRequests:           1,
	})
	_ = br.Do(context.Background(), func(context.Context) error {
		return errors.New("boom")
	})
	if br.State() != breaker.StateOpen {
		t.Fatalf("breaker should be open, got %v", br.State())
	}
	return br
}

func TestFetchDegradesToEmptyWhenOpen(t *testing.T) {
	stub := &stubSource{msgs: []*models.RawMessage{{MessageID: "m1"}}}
	m := newCountingMetrics()
	r := NewResilientSource(stub, newTrippedBreaker(t), logger.Nop(), m)

	msgs, err := r.FetchUnprocessed(context.Background(), 10)
	if err != nil {
		t.Fatalf("open circuit must not surface an error: %v", err)
	}
	if len(msgs) != 0 {
		t.Fatalf("expected empty batch, got %d", len(msgs))
	}
	if stub.fetchCount() != 0 {
		t.Fatalf("upstream must not be called while open")
	}
	if m.count("circuit_open") != 1 {
		t.Fatalf("short-circuit not recorded")
	}
}

func TestFetchPassesThroughWhenClosed(t *testing.T) {
	stub := &stubSource{msgs: []*models.RawMessage{{MessageID: "m1"}}}
	br := breaker.New(breaker.Config{})
	r := NewResilientSource(stub, br, logger.Nop(), newCountingMetrics())

	msgs, err := r.FetchUnprocessed(context.Background(), 10)
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].MessageID != "m1" {
		t.Fatalf("unexpected batch %v", msgs)
	}
}

func TestAcknowledgeFailureIsNonFatal(t *testing.T) {
	stub := &stubSource{ackErr: errors.New("relay 500")}
	m := newCountingMetrics()
	br := breaker.New(breaker.Config{MinRequests: 100})
	r := NewResilientSource(stub, br, logger.Nop(), m)

	n, err := r.Acknowledge(context.Background(), []string{"m1", "m2"})
	if err != nil {
		t.Fatalf("ack failure must be swallowed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 acked, got %d", n)
	}
	if m.count("ack") != 1 {
		t.Fatalf("ack error not recorded")
	}
}

func TestAcknowledgeSuccess(t *testing.T) {
	stub := &stubSource{}
	r := NewResilientSource(stub, breaker.New(breaker.Config{}), logger.Nop(), newCountingMetrics())

	n, err := r.Acknowledge(context.Background(), []string{"m1", "m2"})
	if err != nil || n != 2 {
		t.Fatalf("unexpected result n=%d err=%v", n, err)
	}
}

func TestBulkSyncPropagatesOpenCircuit(t *testing.T) {
	stub := &stubSource{}
	r := NewResilientSource(stub, newTrippedBreaker(t), logger.Nop(), newCountingMetrics())

	if _, err := r.BulkSync(context.Background(), 100); !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestSharedBreakerAcrossOperations(t *testing.T) {
	stub := &stubSource{fetchErr: errors.New("relay down")}
	br := breaker.New(breaker.Config{
		ErrorThresholdPercent: 50,
		ResetTimeout:          time.Minute,
		MinRequests:           2,
	})
	r := NewResilientSource(stub, br, logger.Nop(), newCountingMetrics())
	ctx := context.Background()

	// failures on the fetch path trip the shared circuit
	for i := 0; i < 2; i++ {
		if _, err := r.FetchUnprocessed(ctx, 10); err == nil {
			t.Fatalf("expected fetch error")
		}
	}
	if br.State() != breaker.StateOpen {
		t.Fatalf("breaker should be open, got %v", br.State())
	}

	// ...and protect the sync path too
	if _, err := r.BulkSync(ctx, 100); !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("expected ErrOpen on sync, got %v", err)
	}
}
