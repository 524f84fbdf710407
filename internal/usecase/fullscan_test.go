package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"SigPull/internal/domain/models"
	"SigPull/pkg/logger"
)

func newTestFullScan(src *fakeSource, store *fakeStore, m *fakeMetrics) *FullScan {
	return NewFullScan(src, store, newTestProcessor(store, newFakeMetrics()), m, logger.Nop(), 10)
}

func TestFullScanImportsStructuralMatches(t *testing.T) {
	store := newFakeStore()
	src := &fakeSource{
		listPages: [][]*models.RawMessage{{
			rawMsg("m1", "ATIVO: VALE3 COMPRA: 50.00 STOP: 48.00"),
			rawMsg("m2", "bom dia pessoal"),            // no signal shape
			rawMsg("m3", "ATIVO: PETR4 COMPRA: 25.00"), // shape requires target or stop
			rawMsg("m4", "ATIVO: WINQ24 COMPRA: 1250 ALVO 1: 1260"),
		}},
	}

	report, err := newTestFullScan(src, store, newFakeMetrics()).Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.Scanned != 4 {
		t.Fatalf("expected 4 scanned, got %d", report.Scanned)
	}
	if report.Matched != 2 {
		t.Fatalf("expected 2 matched, got %d", report.Matched)
	}
	if report.Imported != 2 {
		t.Fatalf("expected 2 imported, got %d", report.Imported)
	}
	if store.count() != 2 {
		t.Fatalf("expected 2 rows, got %d", store.count())
	}
}

func TestFullScanLooseDedup(t *testing.T) {
	store := newFakeStore()
	proc := newTestProcessor(store, newFakeMetrics())

	// a signal already ingested through the poll path, different wording
	res := proc.ProcessMessage(context.Background(),
		rawMsg("orig", "ATIVO: VALE3 COMPRA: 50.00 STOP: 48.00"), models.SourcePoll)
	if res.Outcome != models.OutcomePublished {
		t.Fatalf("seed failed: %s", res.Outcome)
	}

	src := &fakeSource{
		listPages: [][]*models.RawMessage{{
			rawMsg("m1", "ATIVO: VALE3\nCOMPRA: 50,00\nSTOP: 48,00 (editado)"),
		}},
	}
	scan := NewFullScan(src, store, proc, newFakeMetrics(), logger.Nop(), 10)

	report, err := scan.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if report.Duplicates != 1 {
		t.Fatalf("expected loose duplicate, got %+v", report)
	}
	if store.count() != 1 {
		t.Fatalf("expected no new row, got %d", store.count())
	}
}

func TestFullScanPaginates(t *testing.T) {
	store := newFakeStore()
	page1 := make([]*models.RawMessage, 10)
	for i := range page1 {
		page1[i] = rawMsg("p1-"+string(rune('a'+i)), "sem sinal aqui")
	}
	src := &fakeSource{
		listPages: [][]*models.RawMessage{
			page1,
			{rawMsg("m1", "ATIVO: PETR4 COMPRA: 25.00 STOP: 24.00")},
		},
	}

	report, err := newTestFullScan(src, store, newFakeMetrics()).Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if src.listCalls != 2 {
		t.Fatalf("expected 2 pages, got %d", src.listCalls)
	}
	if report.Scanned != 11 || report.Imported != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
}

// endlessSource always returns a full page, so a sweep over it only ends
// when its context is cancelled.
type endlessSource struct {
	fakeSource
	started chan struct{}
	once    sync.Once
}

func (e *endlessSource) ListAll(ctx context.Context, limit, offset int) ([]*models.RawMessage, error) {
	e.once.Do(func() { close(e.started) })
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	msgs := make([]*models.RawMessage, limit)
	for i := range msgs {
		msgs[i] = rawMsg(fmt.Sprintf("m%d-%d", offset, i), "sem sinal aqui")
	}
	return msgs, nil
}

func TestFullScanStopCancelsInFlightSweep(t *testing.T) {
	store := newFakeStore()
	src := &endlessSource{started: make(chan struct{})}
	scan := NewFullScan(src, store, newTestProcessor(store, newFakeMetrics()), newFakeMetrics(), logger.Nop(), 10)

	done := make(chan error, 1)
	go func() {
		_, err := scan.Run(context.Background())
		done <- err
	}()

	<-src.started
	scan.Stop()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("sweep did not stop")
	}
	if scan.Running() {
		t.Fatalf("running flag not released")
	}
}

func TestFullScanRejectsConcurrentRuns(t *testing.T) {
	store := newFakeStore()
	src := &fakeSource{}
	scan := newTestFullScan(src, store, newFakeMetrics())

	scan.running.Store(true)
	if _, err := scan.Run(context.Background()); err != ErrScanInProgress {
		t.Fatalf("expected ErrScanInProgress, got %v", err)
	}
	scan.running.Store(false)

	if _, err := scan.Run(context.Background()); err != nil {
		t.Fatalf("run after release failed: %v", err)
	}
	if scan.LastReport() == nil {
		t.Fatalf("report not recorded")
	}
	if scan.Running() {
		t.Fatalf("running flag not released")
	}
}
