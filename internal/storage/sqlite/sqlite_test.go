package sqlite

import (
	"context"
	"fmt"
	"testing"

	"ctingest/internal/sales"
	"ctingest/internal/storage"
)

const table = "raw_sales"

func openMem(t *testing.T) storage.Session {
	t.Helper()

	s, err := Open(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.EnsureTable(context.Background(), storage.BronzeSales(table)); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	return s
}

func townRows(towns ...string) [][]any {
	out := make([][]any, len(towns))
	for i, town := range towns {
		var r sales.Record
		r.SerialNumber = sales.Text(fmt.Sprint(i + 1))
		r.Town = sales.Text(town)
		out[i] = r.Values()
	}
	return out
}

func load(t *testing.T, s storage.Session, rows [][]any) {
	t.Helper()
	ctx := context.Background()

	tx, err := s.BeginLoad(ctx)
	if err != nil {
		t.Fatalf("BeginLoad: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.Clear(ctx, table); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, err := tx.InsertRows(ctx, table, sales.ColumnNames(), rows); err != nil || n != int64(len(rows)) {
		t.Fatalf("InsertRows: n=%d err=%v", n, err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestSession_LoadCountAndTopGroups(t *testing.T) {
	t.Parallel()

	s := openMem(t)
	ctx := context.Background()

	load(t, s, townRows("Avon", "Hartford", "Hartford", "Bristol", "Avon", "Hartford", ""))

	n, err := s.CountRows(ctx, table)
	if err != nil || n != 7 {
		t.Fatalf("CountRows: n=%d err=%v", n, err)
	}

	top, err := s.TopGroups(ctx, table, sales.TownColumn, 2)
	if err != nil {
		t.Fatalf("TopGroups: %v", err)
	}
	want := []storage.GroupCount{{Key: "Hartford", Count: 3}, {Key: "Avon", Count: 2}}
	if len(top) != len(want) {
		t.Fatalf("TopGroups=%v, want %v", top, want)
	}
	for i := range want {
		if top[i] != want[i] {
			t.Fatalf("TopGroups[%d]=%v, want %v", i, top[i], want[i])
		}
	}
}

func TestSession_ReloadReplacesContents(t *testing.T) {
	t.Parallel()

	s := openMem(t)
	ctx := context.Background()

	load(t, s, townRows("A", "B", "C"))
	load(t, s, townRows("D"))

	n, err := s.CountRows(ctx, table)
	if err != nil || n != 1 {
		t.Fatalf("after reload CountRows: n=%d err=%v, want 1", n, err)
	}
}

func TestLoadTx_ClearedTableIsEmptyBeforeInsert(t *testing.T) {
	t.Parallel()

	s := openMem(t)
	ctx := context.Background()
	load(t, s, townRows("A", "B"))

	tx, err := s.BeginLoad(ctx)
	if err != nil {
		t.Fatalf("BeginLoad: %v", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := tx.Clear(ctx, table); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, err := tx.CountRows(ctx, table); err != nil || n != 0 {
		t.Fatalf("CountRows after Clear: n=%d err=%v, want 0", n, err)
	}
}

func TestLoadTx_RollbackKeepsPriorData(t *testing.T) {
	t.Parallel()

	s := openMem(t)
	ctx := context.Background()
	load(t, s, townRows("A", "B"))

	tx, err := s.BeginLoad(ctx)
	if err != nil {
		t.Fatalf("BeginLoad: %v", err)
	}
	if err := tx.Clear(ctx, table); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := tx.InsertRows(ctx, table, sales.ColumnNames(), townRows("Z")); err != nil {
		t.Fatalf("InsertRows: %v", err)
	}
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	// A second rollback is a no-op.
	if err := tx.Rollback(ctx); err != nil {
		t.Fatalf("second Rollback: %v", err)
	}

	if n, err := s.CountRows(ctx, table); err != nil || n != 2 {
		t.Fatalf("CountRows after rollback: n=%d err=%v, want 2", n, err)
	}
}

func TestLoadTx_InsertSplitsLargeBatch(t *testing.T) {
	t.Parallel()

	s := openMem(t)
	ctx := context.Background()

	towns := make([]string, 5000)
	for i := range towns {
		towns[i] = fmt.Sprintf("T%d", i%40)
	}
	load(t, s, townRows(towns...))

	if n, err := s.CountRows(ctx, table); err != nil || n != 5000 {
		t.Fatalf("CountRows: n=%d err=%v, want 5000", n, err)
	}
}

func TestSession_Identity(t *testing.T) {
	t.Parallel()

	s := openMem(t)
	id, err := s.Identity(context.Background())
	if err != nil {
		t.Fatalf("Identity: %v", err)
	}
	if id.Version == "" || id.Database != "main" || id.User != "local" {
		t.Fatalf("unexpected identity: %+v", id)
	}
}

func TestOpen_RequiresDSN(t *testing.T) {
	t.Parallel()

	if _, err := Open(context.Background(), storage.Config{Kind: "sqlite"}); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
