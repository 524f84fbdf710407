package upstream

import (
	"context"
	"errors"

	"SigPull/internal/domain/models"
	drepo "SigPull/internal/domain/repository"
	"SigPull/pkg/breaker"
	"SigPull/pkg/logger"
)

// ResilientSource wraps a MessageSource behind a shared circuit breaker.
// An open circuit degrades fetches to an empty batch instead of an error,
// and acknowledge failures are non-fatal: the idempotency key downstream
// makes re-delivery of the same content harmless.
type ResilientSource struct {
	inner   drepo.MessageSource
	br      *breaker.Breaker
	logger  *logger.Logger
	metrics drepo.Metrics
}

// NewResilientSource wraps src with the given breaker. The breaker instance
// is shared by every caller so failures seen on one path (backfill) protect
// the others (polling) from a known-bad upstream.
func NewResilientSource(src drepo.MessageSource, br *breaker.Breaker, lgr *logger.Logger, m drepo.Metrics) *ResilientSource {
	return &ResilientSource{inner: src, br: br, logger: lgr, metrics: m}
}

// FetchUnprocessed short-circuits to an empty batch while the circuit is open.
func (r *ResilientSource) FetchUnprocessed(ctx context.Context, limit int) ([]*models.RawMessage, error) {
	var msgs []*models.RawMessage
	err := r.br.Do(ctx, func(ctx context.Context) error {
		var e error
		msgs, e = r.inner.FetchUnprocessed(ctx, limit)
		return e
	})
	if errors.Is(err, breaker.ErrOpen) {
		r.logger.Debug("fetch short-circuited, circuit open")
		r.metrics.RecordError("circuit_open")
		return []*models.RawMessage{}, nil
	}
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

// Acknowledge failures are logged and swallowed: at-least-once acquisition
// is safe because deduplication happens downstream.
func (r *ResilientSource) Acknowledge(ctx context.Context, messageIDs []string) (int, error) {
	var n int
	err := r.br.Do(ctx, func(ctx context.Context) error {
		var e error
		n, e = r.inner.Acknowledge(ctx, messageIDs)
		return e
	})
	if err != nil {
		r.logger.Warn("acknowledge failed",
			logger.Int("messages", len(messageIDs)),
			logger.Error(err))
		r.metrics.RecordError("ack")
		return 0, nil
	}
	return n, nil
}

// BulkSync propagates errors (including ErrOpen): the backfill loop treats
// them as page failures and moves on.
func (r *ResilientSource) BulkSync(ctx context.Context, pageSize int) (*models.BulkSyncResult, error) {
	var res *models.BulkSyncResult
	err := r.br.Do(ctx, func(ctx context.Context) error {
		var e error
		res, e = r.inner.BulkSync(ctx, pageSize)
		return e
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *ResilientSource) ListAll(ctx context.Context, limit, offset int) ([]*models.RawMessage, error) {
	var msgs []*models.RawMessage
	err := r.br.Do(ctx, func(ctx context.Context) error {
		var e error
		msgs, e = r.inner.ListAll(ctx, limit, offset)
		return e
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *ResilientSource) TestConnection(ctx context.Context) bool {
	ok := false
	err := r.br.Do(ctx, func(ctx context.Context) error {
		ok = r.inner.TestConnection(ctx)
		if !ok {
			return errors.New("upstream unreachable")
		}
		return nil
	})
	return err == nil && ok
}

var _ drepo.MessageSource = (*ResilientSource)(nil)
