// Package pipeline runs the bronze ingestion: download, clean, load and
// verify, strictly in that order, against one warehouse session.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"ctingest/internal/errs"
	"ctingest/internal/logging"
	"ctingest/internal/metrics"
	"ctingest/internal/sales"
	"ctingest/internal/storage"
)

// TestLimit is the record cap of a test run.
const TestLimit = 10000

// Source yields the raw dataset.
type Source interface {
	Fetch(ctx context.Context, url string, limit int) ([]sales.Record, error)
}

// OpenFunc opens the session a run uses. The run closes it.
type OpenFunc func(ctx context.Context) (storage.Session, error)

// Pipeline wires the stages together.
type Pipeline struct {
	Open     OpenFunc
	Source   Source
	URL      string
	Table    string
	Loader   *Loader
	Verifier *Verifier
	Log      zerolog.Logger

	// AutoCreate creates the table before loading when it is missing.
	AutoCreate bool

	now func() time.Time
}

// Summary describes a successful run.
type Summary struct {
	Records  int
	Loaded   int64
	Report   Report
	Duration time.Duration
}

// Run executes one ingestion. limit > 0 caps the number of records
// downloaded. The session is closed before Run returns, on every path.
func (p *Pipeline) Run(ctx context.Context, limit int) (sum Summary, err error) {
	now := p.now
	if now == nil {
		now = time.Now
	}
	start := now()

	p.Log.Info().Msg(logging.Banner)
	p.Log.Info().Msg("CONNECTICUT REAL ESTATE DATA PIPELINE")
	p.Log.Info().Msg(logging.Banner)

	stage := "connect"
	defer func() {
		if err != nil {
			p.Log.Error().Msg(logging.Banner)
			p.Log.Error().Err(err).Str("stage", stage).Msg("PIPELINE FAILED")
			p.Log.Error().Msg(logging.Banner)
		}
	}()

	var sess storage.Session
	err = p.step(stage, now, func() error {
		var oerr error
		sess, oerr = p.Open(ctx)
		return oerr
	})
	if err != nil {
		return Summary{}, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			p.Log.Warn().Err(cerr).Msg("closing warehouse session")
		}
	}()

	if p.AutoCreate {
		stage = "ensure_table"
		err = p.step(stage, now, func() error {
			if e := sess.EnsureTable(ctx, storage.BronzeSales(p.Table)); e != nil {
				return fmt.Errorf("%w: %w", errs.ErrLoad, e)
			}
			return nil
		})
		if err != nil {
			return Summary{}, err
		}
	}

	var records []sales.Record
	stage = "download"
	p.header(1, "downloading data")
	err = p.step(stage, now, func() error {
		var ferr error
		records, ferr = p.Source.Fetch(ctx, p.URL, limit)
		return ferr
	})
	if err != nil {
		return Summary{}, err
	}
	metrics.RecordRecords("downloaded", len(records))

	stage = "clean"
	p.header(2, "cleaning data")
	_ = p.step(stage, now, func() error {
		records = sales.Clean(records)
		return nil
	})
	p.Log.Info().Int("records", len(records)).Msg("data cleaned")

	var loaded int64
	stage = "load"
	p.header(3, "loading data to bronze")
	err = p.step(stage, now, func() error {
		var lerr error
		loaded, lerr = p.Loader.Load(ctx, sess, records)
		return lerr
	})
	if err != nil {
		return Summary{}, err
	}

	var report Report
	stage = "verify"
	p.header(4, "verifying data load")
	err = p.step(stage, now, func() error {
		var verr error
		report, verr = p.Verifier.Verify(ctx, sess)
		return verr
	})
	if err != nil {
		return Summary{}, err
	}

	sum = Summary{Records: len(records), Loaded: loaded, Report: report, Duration: now().Sub(start)}
	p.Log.Info().Msg(logging.Banner)
	p.Log.Info().
		Str("duration", fmt.Sprintf("%.1fs", sum.Duration.Seconds())).
		Int("records", sum.Records).
		Msg("PIPELINE COMPLETED SUCCESSFULLY")
	p.Log.Info().Msg(logging.Banner)
	return sum, nil
}

func (p *Pipeline) header(n int, what string) {
	p.Log.Info().Msg(logging.Banner)
	p.Log.Info().Int("step", n).Msg(what)
}

// step times fn, records it, and logs the outcome at debug level.
func (p *Pipeline) step(name string, now func() time.Time, fn func() error) error {
	t0 := now()
	err := fn()
	d := now().Sub(t0)
	metrics.RecordStep(name, err, d)
	p.Log.Debug().Str("stage", name).Str("status", metrics.Status(err)).Dur("duration", d).Msg("stage finished")
	return err
}
