package repository

import (
	"context"
	"time"

	"SigPull/internal/domain/models"

	"github.com/shopspring/decimal"
)

// MessageSource is the upstream chat relay the pipeline acquires from.
type MessageSource interface {
	FetchUnprocessed(ctx context.Context, limit int) ([]*models.RawMessage, error)
	Acknowledge(ctx context.Context, messageIDs []string) (int, error)
	BulkSync(ctx context.Context, pageSize int) (*models.BulkSyncResult, error)
	ListAll(ctx context.Context, limit, offset int) ([]*models.RawMessage, error)
	TestConnection(ctx context.Context) bool
}

// EventSource delivers message-arrival events from the publish/subscribe bus.
type EventSource interface {
	Start(ctx context.Context) error
	Events() <-chan *models.MessageEvent
	Errors() <-chan error
	Close() error
}

// SignalFilter narrows a signal query.
type SignalFilter struct {
	Channel string
	Asset   string
	Limit   int
}

// SignalStore is the durable time-series store. InsertIfAbsent together with
// the store-level dedup on (channel, raw hash) is the final arbiter for the
// idempotency race between the pull and push workers.
type SignalStore interface {
	InsertIfAbsent(ctx context.Context, sig *models.ParsedSignal) (inserted bool, id string, err error)
	Exists(ctx context.Context, sig *models.ParsedSignal) (bool, error)
	ExistsLoose(ctx context.Context, asset string, buyMin, stop *decimal.Decimal) (bool, error)
	Query(ctx context.Context, f SignalFilter) ([]*models.ParsedSignal, error)
	DeleteIngestedAfter(ctx context.Context, t time.Time) error
	Health(ctx context.Context) error
	Close() error
}

// CheckpointStore persists the backfill progress marker.
type CheckpointStore interface {
	ReadCheckpoint(ctx context.Context) (*models.Checkpoint, error)
	WriteCheckpoint(ctx context.Context, cp *models.Checkpoint) error
}

// Metrics records pipeline observability signals. Implementations must be
// non-blocking.
type Metrics interface {
	RecordOutcome(source, outcome string)
	RecordDuration(source string, seconds float64)
	RecordError(kind string)
	SetQueueDepth(n float64)
	SetPollLag(seconds float64)
}
