package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"ctingest/internal/errs"
	"ctingest/internal/metrics"
	"ctingest/internal/sales"
	"ctingest/internal/storage"
)

// DefaultBatchSize is the number of records per insert call.
const DefaultBatchSize = 5000

// Progress is reported after every inserted batch.
type Progress struct {
	Done    int
	Total   int
	Percent float64
}

// Loader replaces the contents of the bronze table with a dataset.
//
// The clear and every insert run in one transaction that is committed once
// at the end. Any failure rolls back, leaving the previous contents intact.
type Loader struct {
	Table     string
	BatchSize int
	Log       zerolog.Logger

	// OnProgress, if set, is called after each batch with monotonically
	// increasing Done; the last call has Percent == 100.
	OnProgress func(Progress)
}

// Load clears the table and inserts records in batches. It returns the
// number of records inserted. Failures wrap errs.ErrLoad.
func (l *Loader) Load(ctx context.Context, sess storage.Session, records []sales.Record) (n int64, err error) {
	size := l.BatchSize
	if size <= 0 {
		size = DefaultBatchSize
	}

	tx, err := sess.BeginLoad(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", errs.ErrLoad, err)
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(ctx); rerr != nil {
				l.Log.Warn().Err(rerr).Msg("rollback failed")
			}
		}
	}()

	l.Log.Info().Str("table", l.Table).Msg("clearing existing data")
	if err := tx.Clear(ctx, l.Table); err != nil {
		return 0, fmt.Errorf("%w: %w", errs.ErrLoad, err)
	}

	columns := sales.ColumnNames()
	total := len(records)
	done := 0
	for _, batch := range sales.Batches(records, size) {
		rows := make([][]any, len(batch))
		for i, r := range batch {
			rows[i] = r.Values()
		}
		if _, err := tx.InsertRows(ctx, l.Table, columns, rows); err != nil {
			return 0, fmt.Errorf("%w: batch at record %d: %w", errs.ErrLoad, done, err)
		}
		metrics.RecordBatch()

		done += len(batch)
		p := Progress{Done: done, Total: total, Percent: float64(done) / float64(total) * 100}
		l.Log.Info().
			Str("progress", fmt.Sprintf("%.1f%%", p.Percent)).
			Int("done", done).
			Int("total", total).
			Msg("batch inserted")
		if l.OnProgress != nil {
			l.OnProgress(p)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: %w", errs.ErrLoad, err)
	}
	metrics.RecordRecords("loaded", done)
	l.Log.Info().Int("records", done).Str("table", l.Table).Msg("loaded records")
	return int64(done), nil
}
