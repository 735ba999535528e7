// Package csv reads the sales CSV export into sales.Record values.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"ctingest/internal/sales"
)

// Options controls ReadRecords.
type Options struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune

	// Limit stops reading after this many records. Zero or negative means all.
	Limit int

	// LazyQuotes relaxes quote handling (see encoding/csv).
	LazyQuotes bool
}

// Result is the parsed export.
type Result struct {
	// Header is the source header row as delivered (BOM removed).
	Header []string

	// Records are in source order. Cells are raw; cleaning happens later.
	Records []sales.Record
}

// ReadRecords parses src, mapping source headers onto the bronze columns.
//
// Header matching ignores case, surrounding whitespace, repeated inner spaces
// and underscores, so "OPM remarks", "OPM Remarks" and "opm_remarks" all map to
// the same column. Unknown headers are ignored. Columns with no matching header,
// and cells past the end of a short row, are absent.
//
// A malformed row aborts the read with an error naming its line. Reading stops
// as soon as opt.Limit records have been collected, so a bounded run does not
// parse the rest of the body.
func ReadRecords(ctx context.Context, src io.Reader, opt Options) (Result, error) {
	// BOMOverride strips a UTF-8 BOM (and decodes UTF-16 when one is present).
	r := transform.NewReader(src, unicode.BOMOverride(unicode.UTF8.NewDecoder()))

	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	hdr, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Result{}, fmt.Errorf("csv: empty input, no header row")
		}
		return Result{}, fmt.Errorf("csv: read header: %w", err)
	}
	header := append([]string(nil), hdr...)

	colIx := mapHeader(header)

	var out []sales.Record
	if opt.Limit > 0 {
		out = make([]sales.Record, 0, opt.Limit)
	}

	for opt.Limit <= 0 || len(out) < opt.Limit {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// ParseError already carries line and column.
			return Result{}, fmt.Errorf("csv: record %d: %w", len(out)+1, err)
		}

		var row sales.Record
		for t, si := range colIx {
			if si < 0 || si >= len(rec) {
				continue // absent
			}
			row.Set(t, sales.Text(rec[si]))
		}
		out = append(out, row)
	}

	return Result{Header: header, Records: out}, nil
}

// mapHeader returns, for each bronze column, the index of its source column or
// -1 when the source has no such header.
func mapHeader(header []string) [sales.NumColumns]int {
	fold := cases.Fold()

	srcIdx := make(map[string]int, len(header))
	for i, h := range header {
		k := headerKey(fold, h)
		if _, dup := srcIdx[k]; !dup {
			srcIdx[k] = i
		}
	}

	var ix [sales.NumColumns]int
	for t, c := range sales.Columns {
		ix[t] = -1
		if si, ok := srcIdx[headerKey(fold, c.Header)]; ok {
			ix[t] = si
		} else if si, ok := srcIdx[headerKey(fold, c.Name)]; ok {
			ix[t] = si
		}
	}
	return ix
}

func headerKey(fold cases.Caser, h string) string {
	h = strings.ReplaceAll(h, "_", " ")
	return fold.String(strings.Join(strings.Fields(h), " "))
}
