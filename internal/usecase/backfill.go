package usecase

import (
	"context"
	"time"

	"SigPull/internal/domain/models"
	drepo "SigPull/internal/domain/repository"
	"SigPull/pkg/logger"
)

// BackfillConfig tunes the one-shot history sweep.
type BackfillConfig struct {
	PageSize  int
	PageDelay time.Duration
	MaxPages  int
}

// Backfill bootstraps the pipeline from a cold start: it pages the upstream
// bulk-sync endpoint until history is exhausted, then writes a completed
// checkpoint so it never runs again against the same store. Partial
// backfills are acceptable; the full-scan worker is the recovery path.
type Backfill struct {
	src    drepo.MessageSource
	ckpt   drepo.CheckpointStore
	logger *logger.Logger
	cfg    BackfillConfig
}

// NewBackfill creates the backfill worker.
func NewBackfill(src drepo.MessageSource, ckpt drepo.CheckpointStore, lgr *logger.Logger, cfg BackfillConfig) *Backfill {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.PageDelay <= 0 {
		cfg.PageDelay = 2 * time.Second
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 200
	}
	return &Backfill{src: src, ckpt: ckpt, logger: lgr, cfg: cfg}
}

// Run executes the sweep at most once per deployment lifetime. It returns
// the checkpoint describing the run, or the pre-existing one when already
// completed.
func (b *Backfill) Run(ctx context.Context) (*models.Checkpoint, error) {
	existing, err := b.ckpt.ReadCheckpoint(ctx)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Completed {
		b.logger.Info("backfill already completed, skipping",
			logger.Int64("total_synced", existing.TotalSynced))
		return existing, nil
	}

	b.logger.Info("backfill starting",
		logger.Int("page_size", b.cfg.PageSize),
		logger.Int("max_pages", b.cfg.MaxPages))

	start := time.Now()
	var total int64
	batches := 0

	for page := 0; page < b.cfg.MaxPages; page++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		res, err := b.src.BulkSync(ctx, b.cfg.PageSize)
		batches++
		if err != nil {
			// page failures do not abort the sweep
			b.logger.Warn("backfill page failed", logger.Int("page", page), logger.Error(err))
			if !sleepCtx(ctx, b.cfg.PageDelay) {
				return nil, ctx.Err()
			}
			continue
		}

		total += int64(res.MessagesSynced)
		b.logger.Debug("backfill page done",
			logger.Int("page", page),
			logger.Int("synced", res.MessagesSynced))

		if res.MessagesSynced < b.cfg.PageSize || !res.HasMore {
			break
		}
		if !sleepCtx(ctx, b.cfg.PageDelay) {
			return nil, ctx.Err()
		}
	}

	now := time.Now()
	cp := &models.Checkpoint{
		Completed:   true,
		CompletedAt: &now,
		TotalSynced: total,
		BatchesRun:  batches,
		DurationMs:  time.Since(start).Milliseconds(),
	}
	if err := b.ckpt.WriteCheckpoint(ctx, cp); err != nil {
		return nil, err
	}
	b.logger.Info("backfill completed",
		logger.Int64("total_synced", total),
		logger.Int("batches", batches),
		logger.Int64("duration_ms", cp.DurationMs))
	return cp, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
