package usecase

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"SigPull/internal/domain/models"
	drepo "SigPull/internal/domain/repository"
	"SigPull/internal/parser"
	"SigPull/pkg/logger"
)

// ErrScanInProgress is returned when a scan is requested while one runs.
var ErrScanInProgress = errors.New("full scan already in progress")

// structural pre-filter: a candidate must mention an asset label, a buy
// label, and at least one of a target or stop label
var (
	scanAssetRe  = regexp.MustCompile(`ATIVO`)
	scanBuyRe    = regexp.MustCompile(`COMPRA`)
	scanTargetRe = regexp.MustCompile(`ALVO`)
	scanStopRe   = regexp.MustCompile(`STOP`)
)

// ScanReport summarizes one full-scan run.
type ScanReport struct {
	Scanned    int       `json:"scanned"`
	Matched    int       `json:"matched"`
	Imported   int       `json:"imported"`
	Duplicates int       `json:"duplicates"`
	Invalid    int       `json:"invalid"`
	Failed     int       `json:"failed"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// FullScan is the on-demand recovery sweep: it re-filters all upstream
// messages, not just unprocessed ones, against a structural signal pattern.
// Dedup here is a deliberately looser equality on (asset, buyMin, stop),
// because this path recovers signals whose exact text may have been edited
// upstream.
type FullScan struct {
	src      drepo.MessageSource
	store    drepo.SignalStore
	proc     *Processor
	metrics  drepo.Metrics
	logger   *logger.Logger
	pageSize int

	running  atomic.Bool
	last     atomic.Pointer[ScanReport]
	quit     chan struct{}
	stopOnce sync.Once
}

// NewFullScan creates the on-demand scan worker.
func NewFullScan(src drepo.MessageSource, store drepo.SignalStore, proc *Processor, metrics drepo.Metrics, lgr *logger.Logger, pageSize int) *FullScan {
	if pageSize <= 0 {
		pageSize = 200
	}
	return &FullScan{src: src, store: store, proc: proc, metrics: metrics, logger: lgr, pageSize: pageSize, quit: make(chan struct{})}
}

// Running reports whether a scan is in flight.
func (f *FullScan) Running() bool { return f.running.Load() }

// LastReport returns the most recent report, or nil.
func (f *FullScan) LastReport() *ScanReport { return f.last.Load() }

// Stop cancels an in-flight sweep. Scans launched from the ops endpoint run
// detached from the request, so shutdown ends them here.
func (f *FullScan) Stop() {
	f.stopOnce.Do(func() { close(f.quit) })
}

// Run executes one sweep. Only one scan runs at a time.
func (f *FullScan) Run(ctx context.Context) (*ScanReport, error) {
	if !f.running.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	defer f.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-f.quit:
			cancel()
		case <-ctx.Done():
		}
	}()

	report := &ScanReport{StartedAt: time.Now()}
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		msgs, err := f.src.ListAll(ctx, f.pageSize, offset)
		if err != nil {
			return nil, err
		}
		for _, raw := range msgs {
			report.Scanned++
			f.scanOne(ctx, raw, report)
		}
		if len(msgs) < f.pageSize {
			break
		}
		offset += len(msgs)
	}

	report.FinishedAt = time.Now()
	f.last.Store(report)
	f.logger.Info("full scan finished",
		logger.Int("scanned", report.Scanned),
		logger.Int("matched", report.Matched),
		logger.Int("imported", report.Imported),
		logger.Int("duplicates", report.Duplicates))
	return report, nil
}

func (f *FullScan) scanOne(ctx context.Context, raw *models.RawMessage, report *ScanReport) {
	content := raw.Content()
	if !matchesSignalShape(content) {
		return
	}
	report.Matched++

	postedAt := raw.PostedAt
	sig, err := parser.Parse(content, &parser.Overrides{
		Channel: raw.ChannelID,
		Source:  models.SourceFullScan,
		EventAt: &postedAt,
	})
	if err != nil {
		report.Invalid++
		return
	}
	if f.proc.Validate(sig) != models.OutcomePublished {
		report.Invalid++
		f.metrics.RecordOutcome(string(models.SourceFullScan), string(models.OutcomeIncomplete))
		return
	}

	exists, err := f.store.ExistsLoose(ctx, sig.Asset, sig.BuyMin, sig.Stop)
	if err != nil {
		report.Failed++
		f.metrics.RecordError("full_scan")
		return
	}
	if exists {
		report.Duplicates++
		f.metrics.RecordOutcome(string(models.SourceFullScan), string(models.OutcomeDuplicate))
		return
	}

	if _, _, err := f.store.InsertIfAbsent(ctx, sig); err != nil {
		report.Failed++
		f.metrics.RecordError("full_scan")
		return
	}
	report.Imported++
	f.metrics.RecordOutcome(string(models.SourceFullScan), string(models.OutcomePublished))
}

func matchesSignalShape(content string) bool {
	up := strings.ToUpper(content)
	if !scanAssetRe.MatchString(up) || !scanBuyRe.MatchString(up) {
		return false
	}
	return scanTargetRe.MatchString(up) || scanStopRe.MatchString(up)
}
