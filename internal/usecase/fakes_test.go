package usecase

import (
	"context"
	"strconv"
	"sync"
	"time"

	"SigPull/internal/domain/models"
	drepo "SigPull/internal/domain/repository"

	"github.com/shopspring/decimal"
)

// fakeStore is an in-memory SignalStore plus CheckpointStore keyed the same
// way the real store is: (channel, dedup key).
type fakeStore struct {
	mu         sync.Mutex
	rows       map[string]*models.ParsedSignal
	checkpoint *models.Checkpoint
	nextID     int

	insertErr error
	existsErr error
	inserts   int
	existsQ   int
}

func newFakeStore() *fakeStore {
	return &fakeStore{rows: make(map[string]*models.ParsedSignal)}
}

func (f *fakeStore) InsertIfAbsent(_ context.Context, sig *models.ParsedSignal) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return false, "", f.insertErr
	}
	f.inserts++
	key := sig.DedupKey()
	if _, ok := f.rows[key]; ok {
		return false, "", nil
	}
	f.nextID++
	id := "id-" + strconv.Itoa(f.nextID)
	cp := *sig
	cp.ID = id
	f.rows[key] = &cp
	return true, id, nil
}

func (f *fakeStore) Exists(_ context.Context, sig *models.ParsedSignal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.existsErr != nil {
		return false, f.existsErr
	}
	f.existsQ++
	_, ok := f.rows[sig.DedupKey()]
	return ok, nil
}

func (f *fakeStore) ExistsLoose(_ context.Context, asset string, buyMin, stop *decimal.Decimal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	eq := func(a, b *decimal.Decimal) bool {
		if a == nil || b == nil {
			return a == nil && b == nil
		}
		return a.Equal(*b)
	}
	for _, row := range f.rows {
		if row.Asset == asset && eq(row.BuyMin, buyMin) && eq(row.Stop, stop) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) Query(_ context.Context, _ drepo.SignalFilter) ([]*models.ParsedSignal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.ParsedSignal, 0, len(f.rows))
	for _, row := range f.rows {
		out = append(out, row)
	}
	return out, nil
}

func (f *fakeStore) DeleteIngestedAfter(_ context.Context, t time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, row := range f.rows {
		if !row.IngestedAt.Before(t) {
			delete(f.rows, k)
		}
	}
	return nil
}

func (f *fakeStore) Health(_ context.Context) error { return nil }
func (f *fakeStore) Close() error                   { return nil }

func (f *fakeStore) ReadCheckpoint(_ context.Context) (*models.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkpoint == nil {
		return &models.Checkpoint{}, nil
	}
	cp := *f.checkpoint
	return &cp, nil
}

func (f *fakeStore) WriteCheckpoint(_ context.Context, cp *models.Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *cp
	f.checkpoint = &c
	return nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.rows)
}

// fakeSource scripts FetchUnprocessed batches and records acknowledgements.
type fakeSource struct {
	mu       sync.Mutex
	batches  [][]*models.RawMessage
	fetchErr []error
	calls    int
	acked    []string
	ackErr   error

	syncPages []*models.BulkSyncResult
	syncErrs  []error
	syncCalls int

	listPages [][]*models.RawMessage
	listCalls int
}

func (f *fakeSource) FetchUnprocessed(_ context.Context, _ int) ([]*models.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i < len(f.fetchErr) && f.fetchErr[i] != nil {
		return nil, f.fetchErr[i]
	}
	if i < len(f.batches) {
		return f.batches[i], nil
	}
	return nil, nil
}

func (f *fakeSource) Acknowledge(_ context.Context, ids []string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ackErr != nil {
		return 0, f.ackErr
	}
	f.acked = append(f.acked, ids...)
	return len(ids), nil
}

func (f *fakeSource) BulkSync(_ context.Context, _ int) (*models.BulkSyncResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.syncCalls
	f.syncCalls++
	if i < len(f.syncErrs) && f.syncErrs[i] != nil {
		return nil, f.syncErrs[i]
	}
	if i < len(f.syncPages) {
		return f.syncPages[i], nil
	}
	return &models.BulkSyncResult{}, nil
}

func (f *fakeSource) ListAll(_ context.Context, _, _ int) ([]*models.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.listCalls
	f.listCalls++
	if i < len(f.listPages) {
		return f.listPages[i], nil
	}
	return nil, nil
}

func (f *fakeSource) TestConnection(_ context.Context) bool { return true }

func (f *fakeSource) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.acked))
	copy(out, f.acked)
	return out
}

func (f *fakeSource) fetchCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeEventSource feeds scripted bus events.
type fakeEventSource struct {
	events chan *models.MessageEvent
	errs   chan error
	closed bool
	mu     sync.Mutex
}

func newFakeEventSource() *fakeEventSource {
	return &fakeEventSource{
		events: make(chan *models.MessageEvent, 16),
		errs:   make(chan error, 16),
	}
}

func (f *fakeEventSource) Start(_ context.Context) error       { return nil }
func (f *fakeEventSource) Events() <-chan *models.MessageEvent { return f.events }
func (f *fakeEventSource) Errors() <-chan error                { return f.errs }

func (f *fakeEventSource) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

// fakeMetrics counts recorder calls.
type fakeMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
	errors   map[string]int
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{outcomes: make(map[string]int), errors: make(map[string]int)}
}

func (f *fakeMetrics) RecordOutcome(source, outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes[source+"/"+outcome]++
}

func (f *fakeMetrics) RecordDuration(string, float64) {}

func (f *fakeMetrics) RecordError(kind string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errors[kind]++
}

func (f *fakeMetrics) SetQueueDepth(float64) {}
func (f *fakeMetrics) SetPollLag(float64)    {}

func (f *fakeMetrics) outcomeCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.outcomes[key]
}

func (f *fakeMetrics) errorCount(kind string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.errors[kind]
}

func rawMsg(id, text string) *models.RawMessage {
	return &models.RawMessage{
		ChannelID:  "chan-1",
		MessageID:  id,
		Text:       text,
		MediaType:  models.MediaNone,
		PostedAt:   time.Now().Add(-time.Minute),
		ReceivedAt: time.Now(),
	}
}
