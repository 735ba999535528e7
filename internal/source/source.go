// Package source downloads the sales CSV export.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"ctingest/internal/errs"
	"ctingest/internal/metrics"
	"ctingest/internal/parser/csv"
	"ctingest/internal/sales"
)

// DefaultTimeout bounds the whole download, body included.
const DefaultTimeout = 300 * time.Second

// Fetcher performs the download stage: one GET, no retry.
type Fetcher struct {
	Client *http.Client
	Log    zerolog.Logger
}

// New returns a Fetcher with its own client. timeout <= 0 uses
// DefaultTimeout.
func New(timeout time.Duration, log zerolog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Fetcher{Client: &http.Client{Timeout: timeout}, Log: log}
}

// Fetch downloads url and parses it. With limit > 0 only the first limit
// records are returned and the rest of the body is not parsed.
//
// Every failure wraps errs.ErrTransport.
func (f *Fetcher) Fetch(ctx context.Context, url string, limit int) ([]sales.Record, error) {
	f.Log.Info().Str("url", url).Msg("downloading data")

	start := time.Now()
	status := 0
	body := &countingReader{}
	var ferr error
	defer func() {
		metrics.RecordHTTP(status, ferr, time.Since(start), body.n)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		ferr = fmt.Errorf("%w: build request: %w", errs.ErrTransport, err)
		return nil, ferr
	}

	resp, err := f.Client.Do(req)
	if err != nil {
		ferr = fmt.Errorf("%w: GET %s: %w", errs.ErrTransport, url, err)
		return nil, ferr
	}
	defer resp.Body.Close()
	status = resp.StatusCode

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 64<<10)
		ferr = fmt.Errorf("%w: GET %s: unexpected status %s", errs.ErrTransport, url, resp.Status)
		return nil, ferr
	}

	body.r = resp.Body
	res, err := csv.ReadRecords(ctx, body, csv.Options{Limit: limit})
	if err != nil {
		ferr = fmt.Errorf("%w: parse %s: %w", errs.ErrTransport, url, err)
		return nil, ferr
	}

	if limit > 0 {
		f.Log.Info().Int("limit", limit).Msg("limiting records for test run")
	}
	f.Log.Info().
		Int("records", len(res.Records)).
		Strs("columns", res.Header).
		Int64("bytes", body.n).
		Dur("duration", time.Since(start)).
		Msg("downloaded records")
	return res.Records, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
