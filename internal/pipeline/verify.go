package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"ctingest/internal/errs"
	"ctingest/internal/sales"
	"ctingest/internal/storage"
)

// DefaultTopTowns is how many towns the verification report lists.
const DefaultTopTowns = 5

// Report is what verification read back from the table.
type Report struct {
	Count    int64
	TopTowns []storage.GroupCount
}

// Verifier runs the read-only post-load checks.
type Verifier struct {
	Table string
	TopN  int
	Log   zerolog.Logger
}

// Verify counts the table and lists the most frequent towns. Failures wrap
// errs.ErrVerification.
func (v *Verifier) Verify(ctx context.Context, sess storage.Session) (Report, error) {
	topN := v.TopN
	if topN <= 0 {
		topN = DefaultTopTowns
	}

	count, err := sess.CountRows(ctx, v.Table)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %w", errs.ErrVerification, err)
	}
	top, err := sess.TopGroups(ctx, v.Table, sales.TownColumn, topN)
	if err != nil {
		return Report{}, fmt.Errorf("%w: %w", errs.ErrVerification, err)
	}

	v.Log.Info().Int64("records", count).Str("table", v.Table).Msg("total records in bronze")
	for _, g := range top {
		v.Log.Info().Str("town", g.Key).Int64("sales", g.Count).Msg("top town")
	}
	return Report{Count: count, TopTowns: top}, nil
}
