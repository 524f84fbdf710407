package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"SigPull/internal/domain/models"
	drepo "SigPull/internal/domain/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClickHouseSignalStore persists parsed signals. The signals table is a
// ReplacingMergeTree ordered by (channel, raw_hash): the pre-check in
// InsertIfAbsent closes most of the pull/push race window, and a racing
// duplicate that slips through collapses to one row at merge time, so reads
// always go through FINAL.
type ClickHouseSignalStore struct {
	db        *sql.DB
	table     string
	ckptTable string
}

const checkpointName = "backfill"

// NewClickHouseSignalStore creates the store over an existing pool.
func NewClickHouseSignalStore(db *sql.DB, table, ckptTable string) *ClickHouseSignalStore {
	return &ClickHouseSignalStore{db: db, table: table, ckptTable: ckptTable}
}

// Exists reports whether a signal with the same (raw message, channel) key
// is already stored.
func (s *ClickHouseSignalStore) Exists(ctx context.Context, sig *models.ParsedSignal) (bool, error) {
	q := fmt.Sprintf("SELECT 1 FROM %s FINAL WHERE channel = ? AND raw_hash = ? LIMIT 1", s.table)
	var one uint8
	err := s.db.QueryRowContext(ctx, q, sig.Channel, sig.DedupKey()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists: %w", err)
	}
	return true, nil
}

// InsertIfAbsent re-checks the idempotency key immediately before insert and
// stores the signal. Returns inserted=false when an equivalent signal won.
func (s *ClickHouseSignalStore) InsertIfAbsent(ctx context.Context, sig *models.ParsedSignal) (bool, string, error) {
	found, err := s.Exists(ctx, sig)
	if err != nil {
		return false, "", err
	}
	if found {
		return false, "", nil
	}

	id := sig.ID
	if id == "" {
		id = uuid.NewString()
	}
	q := fmt.Sprintf(`INSERT INTO %s
		(id, raw_hash, channel, asset, buy_min, buy_max, target_1, target_2, target_final, stop,
		 signal_type, source, raw_message, event_at, ingested_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	_, err = s.db.ExecContext(ctx, q,
		id,
		sig.DedupKey(),
		sig.Channel,
		sig.Asset,
		decToFloat(sig.BuyMin),
		decToFloat(sig.BuyMax),
		decToFloat(sig.Target1),
		decToFloat(sig.Target2),
		decToFloat(sig.TargetFinal),
		decToFloat(sig.Stop),
		sig.SignalType,
		string(sig.Source),
		sig.RawMessage,
		sig.EventAt,
		sig.IngestedAt,
	)
	if err != nil {
		return false, "", fmt.Errorf("insert signal: %w", err)
	}
	return true, id, nil
}

// ExistsLoose matches on (asset, buy_min, stop) only. The full-scan path
// recovers signals whose exact text may have been edited upstream, so the
// raw-message key would miss them.
func (s *ClickHouseSignalStore) ExistsLoose(ctx context.Context, asset string, buyMin, stop *decimal.Decimal) (bool, error) {
	q := fmt.Sprintf("SELECT 1 FROM %s FINAL WHERE asset = ? AND %s AND %s LIMIT 1",
		s.table, nullableCond("buy_min", buyMin), nullableCond("stop", stop))
	args := []any{asset}
	if buyMin != nil {
		args = append(args, buyMin.InexactFloat64())
	}
	if stop != nil {
		args = append(args, stop.InexactFloat64())
	}
	var one uint8
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("exists loose: %w", err)
	}
	return true, nil
}

// Query fetches signals by filter, newest first.
func (s *ClickHouseSignalStore) Query(ctx context.Context, f drepo.SignalFilter) ([]*models.ParsedSignal, error) {
	q := fmt.Sprintf(`SELECT id, channel, asset, buy_min, buy_max, target_1, target_2, target_final, stop,
		signal_type, source, raw_message, event_at, ingested_at FROM %s FINAL WHERE 1 = 1`, s.table)
	var args []any
	if f.Channel != "" {
		q += " AND channel = ?"
		args = append(args, f.Channel)
	}
	if f.Asset != "" {
		q += " AND asset = ?"
		args = append(args, f.Asset)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " ORDER BY ingested_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query signals: %w", err)
	}
	defer rows.Close()

	var out []*models.ParsedSignal
	for rows.Next() {
		var (
			sig                              models.ParsedSignal
			buyMin, buyMax, t1, t2, tf, stop sql.NullFloat64
			source                           string
		)
		if err := rows.Scan(&sig.ID, &sig.Channel, &sig.Asset, &buyMin, &buyMax, &t1, &t2, &tf, &stop,
			&sig.SignalType, &source, &sig.RawMessage, &sig.EventAt, &sig.IngestedAt); err != nil {
			return nil, fmt.Errorf("scan signal: %w", err)
		}
		sig.Source = models.Source(source)
		sig.BuyMin = floatToDec(buyMin)
		sig.BuyMax = floatToDec(buyMax)
		sig.Target1 = floatToDec(t1)
		sig.Target2 = floatToDec(t2)
		sig.TargetFinal = floatToDec(tf)
		sig.Stop = floatToDec(stop)
		out = append(out, &sig)
	}
	return out, rows.Err()
}

// DeleteIngestedAfter drops rows ingested at or after t. ClickHouse runs the
// mutation asynchronously, so no affected-row count is available.
func (s *ClickHouseSignalStore) DeleteIngestedAfter(ctx context.Context, t time.Time) error {
	q := fmt.Sprintf("ALTER TABLE %s DELETE WHERE ingested_at >= ?", s.table)
	if _, err := s.db.ExecContext(ctx, q, t); err != nil {
		return fmt.Errorf("delete signals: %w", err)
	}
	return nil
}

// ReadCheckpoint returns the backfill checkpoint, or nil when none exists.
func (s *ClickHouseSignalStore) ReadCheckpoint(ctx context.Context) (*models.Checkpoint, error) {
	q := fmt.Sprintf(`SELECT completed, completed_at, total_synced, batches_run, duration_ms
		FROM %s FINAL WHERE name = ? LIMIT 1`, s.ckptTable)
	var (
		completed   uint8
		completedAt sql.NullTime
		cp          models.Checkpoint
	)
	err := s.db.QueryRowContext(ctx, q, checkpointName).
		Scan(&completed, &completedAt, &cp.TotalSynced, &cp.BatchesRun, &cp.DurationMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}
	cp.Completed = completed == 1
	if completedAt.Valid {
		t := completedAt.Time
		cp.CompletedAt = &t
	}
	return &cp, nil
}

// WriteCheckpoint overwrites the checkpoint row.
func (s *ClickHouseSignalStore) WriteCheckpoint(ctx context.Context, cp *models.Checkpoint) error {
	q := fmt.Sprintf(`INSERT INTO %s (name, completed, completed_at, total_synced, batches_run, duration_ms, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, s.ckptTable)
	var completed uint8
	if cp.Completed {
		completed = 1
	}
	var completedAt any
	if cp.CompletedAt != nil {
		completedAt = *cp.CompletedAt
	}
	if _, err := s.db.ExecContext(ctx, q,
		checkpointName, completed, completedAt, cp.TotalSynced, cp.BatchesRun, cp.DurationMs, time.Now()); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func (s *ClickHouseSignalStore) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *ClickHouseSignalStore) Close() error {
	return nil // pool owned by pkg/clickhouse client
}

func decToFloat(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.InexactFloat64()
}

func floatToDec(f sql.NullFloat64) *decimal.Decimal {
	if !f.Valid {
		return nil
	}
	d := decimal.NewFromFloat(f.Float64)
	return &d
}

func nullableCond(col string, d *decimal.Decimal) string {
	if d == nil {
		return col + " IS NULL"
	}
	return col + " = ?"
}

var (
	_ drepo.SignalStore     = (*ClickHouseSignalStore)(nil)
	_ drepo.CheckpointStore = (*ClickHouseSignalStore)(nil)
)
