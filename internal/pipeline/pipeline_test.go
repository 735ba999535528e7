package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ctingest/internal/errs"
	"ctingest/internal/sales"
	"ctingest/internal/source"
	"ctingest/internal/storage"
	_ "ctingest/internal/storage/sqlite"
)

// fakeSession records calls in order. The load transaction shares it.
type fakeSession struct {
	calls      []string
	inserts    []int
	rows       int64
	closeCalls int

	insertErr error
	countErr  error
	ensured   []string
}

func (f *fakeSession) Identity(ctx context.Context) (storage.Identity, error) {
	return storage.Identity{}, nil
}

func (f *fakeSession) EnsureTable(ctx context.Context, t storage.TableSpec) error {
	f.calls = append(f.calls, "ensure")
	f.ensured = append(f.ensured, t.Name)
	return nil
}

func (f *fakeSession) BeginLoad(ctx context.Context) (storage.LoadTx, error) {
	f.calls = append(f.calls, "begin")
	return &fakeTx{s: f, pending: f.rows}, nil
}

func (f *fakeSession) CountRows(ctx context.Context, table string) (int64, error) {
	f.calls = append(f.calls, "count")
	return f.rows, f.countErr
}

func (f *fakeSession) TopGroups(ctx context.Context, table, column string, limit int) ([]storage.GroupCount, error) {
	f.calls = append(f.calls, fmt.Sprintf("top:%s:%d", column, limit))
	return []storage.GroupCount{{Key: "Hartford", Count: 2}, {Key: "Avon", Count: 1}}, nil
}

func (f *fakeSession) Close() error {
	f.closeCalls++
	return nil
}

type fakeTx struct {
	s       *fakeSession
	pending int64
	done    bool
}

func (t *fakeTx) Clear(ctx context.Context, table string) error {
	t.s.calls = append(t.s.calls, "clear")
	t.pending = 0
	return nil
}

func (t *fakeTx) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	t.s.calls = append(t.s.calls, "insert")
	if t.s.insertErr != nil {
		return 0, t.s.insertErr
	}
	if len(columns) != sales.NumColumns {
		return 0, fmt.Errorf("got %d columns", len(columns))
	}
	t.s.inserts = append(t.s.inserts, len(rows))
	t.pending += int64(len(rows))
	return int64(len(rows)), nil
}

func (t *fakeTx) CountRows(ctx context.Context, table string) (int64, error) {
	return t.pending, nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.s.calls = append(t.s.calls, "commit")
	t.s.rows = t.pending
	t.done = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.s.calls = append(t.s.calls, "rollback")
	t.done = true
	return nil
}

type fakeSource struct {
	records []sales.Record
	err     error
	calls   int
}

func (f *fakeSource) Fetch(ctx context.Context, url string, limit int) ([]sales.Record, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func rec(serial, town string) sales.Record {
	var r sales.Record
	r.SerialNumber = sales.Text(serial)
	r.Town = sales.Text(town)
	return r
}

func newPipeline(sess *fakeSession, src Source, batch int, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		Open:     func(ctx context.Context) (storage.Session, error) { return sess, nil },
		Source:   src,
		URL:      "https://example.invalid/sales.csv",
		Table:    "raw_sales",
		Loader:   &Loader{Table: "raw_sales", BatchSize: batch, Log: log},
		Verifier: &Verifier{Table: "raw_sales", Log: log},
		Log:      log,
	}
}

func countMessages(log string, msg string) int {
	return strings.Count(log, `"message":"`+msg+`"`)
}

func TestRun_ThreeRecordsTwoBatches(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{rows: 99}
	src := &fakeSource{records: []sales.Record{rec("1", "Hartford "), rec("2", ""), rec("3", "Avon")}}
	p := newPipeline(sess, src, 2, zerolog.Nop())

	var progress []Progress
	p.Loader.OnProgress = func(pr Progress) { progress = append(progress, pr) }

	sum, err := p.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := fmt.Sprint(sess.inserts); got != "[2 1]" {
		t.Fatalf("insert batch sizes=%s, want [2 1]", got)
	}
	if sum.Records != 3 || sum.Loaded != 3 || sum.Report.Count != 3 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if len(sum.Report.TopTowns) == 0 || sum.Report.TopTowns[0].Key != "Hartford" {
		t.Fatalf("unexpected top towns: %+v", sum.Report.TopTowns)
	}

	want := "begin clear insert insert commit count top:town:5"
	if got := strings.Join(sess.calls, " "); got != want {
		t.Fatalf("calls=%q, want %q", got, want)
	}
	if sess.closeCalls != 1 {
		t.Fatalf("closeCalls=%d, want 1", sess.closeCalls)
	}

	if len(progress) != 2 || progress[0].Done != 2 || progress[1].Percent != 100 {
		t.Fatalf("unexpected progress: %+v", progress)
	}
	if progress[0].Percent >= progress[1].Percent {
		t.Fatalf("progress not monotonic: %+v", progress)
	}
}

func TestRun_DownloadTimeout(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := zerolog.New(&buf)

	sess := &fakeSession{rows: 7}
	src := &fakeSource{err: fmt.Errorf("%w: GET: context deadline exceeded", errs.ErrTransport)}
	p := newPipeline(sess, src, 2, log)

	_, err := p.Run(context.Background(), TestLimit)
	if !errors.Is(err, errs.ErrTransport) {
		t.Fatalf("err=%v, want ErrTransport", err)
	}
	if len(sess.calls) != 0 {
		t.Fatalf("no clean/load/verify expected, got calls %v", sess.calls)
	}
	if sess.rows != 7 {
		t.Fatalf("table contents must be untouched")
	}
	if sess.closeCalls != 1 {
		t.Fatalf("closeCalls=%d, want 1", sess.closeCalls)
	}
	if n := countMessages(buf.String(), "PIPELINE FAILED"); n != 1 {
		t.Fatalf("failure log count=%d, want 1\n%s", n, buf.String())
	}
	if !strings.Contains(buf.String(), `"stage":"download"`) {
		t.Fatalf("failure log should name the stage:\n%s", buf.String())
	}
}

func TestRun_InsertFailureRollsBack(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sess := &fakeSession{rows: 5, insertErr: errors.New("warehouse suspended")}
	src := &fakeSource{records: []sales.Record{rec("1", "A")}}
	p := newPipeline(sess, src, 2, zerolog.New(&buf))

	_, err := p.Run(context.Background(), 0)
	if !errors.Is(err, errs.ErrLoad) {
		t.Fatalf("err=%v, want ErrLoad", err)
	}
	want := "begin clear insert rollback"
	if got := strings.Join(sess.calls, " "); got != want {
		t.Fatalf("calls=%q, want %q", got, want)
	}
	if sess.rows != 5 {
		t.Fatalf("rollback must keep prior rows, got %d", sess.rows)
	}
	if sess.closeCalls != 1 {
		t.Fatalf("closeCalls=%d, want 1", sess.closeCalls)
	}
	if n := countMessages(buf.String(), "PIPELINE FAILED"); n != 1 {
		t.Fatalf("failure log count=%d, want 1", n)
	}
}

func TestRun_VerifyFailure(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{countErr: errors.New("permission denied")}
	src := &fakeSource{records: []sales.Record{rec("1", "A")}}
	p := newPipeline(sess, src, 10, zerolog.Nop())

	_, err := p.Run(context.Background(), 0)
	if !errors.Is(err, errs.ErrVerification) {
		t.Fatalf("err=%v, want ErrVerification", err)
	}
	if sess.closeCalls != 1 {
		t.Fatalf("closeCalls=%d, want 1", sess.closeCalls)
	}
}

func TestRun_OpenFailure(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	src := &fakeSource{}
	p := newPipeline(nil, src, 10, zerolog.New(&buf))
	p.Open = func(ctx context.Context) (storage.Session, error) {
		return nil, fmt.Errorf("%w: bad account", errs.ErrConnection)
	}

	_, err := p.Run(context.Background(), 0)
	if !errors.Is(err, errs.ErrConnection) {
		t.Fatalf("err=%v, want ErrConnection", err)
	}
	if src.calls != 0 {
		t.Fatalf("download must not start without a session")
	}
	if n := countMessages(buf.String(), "PIPELINE FAILED"); n != 1 {
		t.Fatalf("failure log count=%d, want 1", n)
	}
}

func TestRun_AutoCreate(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	p := newPipeline(sess, &fakeSource{records: []sales.Record{rec("1", "A")}}, 10, zerolog.Nop())
	p.AutoCreate = true

	if _, err := p.Run(context.Background(), 0); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sess.calls) == 0 || sess.calls[0] != "ensure" || sess.ensured[0] != "raw_sales" {
		t.Fatalf("EnsureTable must run first: %v", sess.calls)
	}
}

func TestRun_LimitIsPassedToSource(t *testing.T) {
	t.Parallel()

	var all []sales.Record
	for i := 0; i < 20; i++ {
		all = append(all, rec(fmt.Sprint(i), "T"))
	}
	sess := &fakeSession{}
	p := newPipeline(sess, &fakeSource{records: all}, 4, zerolog.Nop())

	sum, err := p.Run(context.Background(), 10)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Records != 10 || fmt.Sprint(sess.inserts) != "[4 4 2]" {
		t.Fatalf("records=%d inserts=%v", sum.Records, sess.inserts)
	}
}

func TestRun_Duration(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{}
	p := newPipeline(sess, &fakeSource{}, 10, zerolog.Nop())
	base := time.Unix(0, 0)
	tick := 0
	p.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	sum, err := p.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Duration <= 0 {
		t.Fatalf("Duration=%s, want > 0", sum.Duration)
	}
}

func TestLoader_EmptyDatasetClearsAndCommits(t *testing.T) {
	t.Parallel()

	sess := &fakeSession{rows: 4}
	var called bool
	l := &Loader{Table: "raw_sales", Log: zerolog.Nop(), OnProgress: func(Progress) { called = true }}

	n, err := l.Load(context.Background(), sess, nil)
	if err != nil || n != 0 {
		t.Fatalf("Load: n=%d err=%v", n, err)
	}
	if got := strings.Join(sess.calls, " "); got != "begin clear commit" {
		t.Fatalf("calls=%q", got)
	}
	if sess.rows != 0 || called {
		t.Fatalf("rows=%d progressCalled=%v", sess.rows, called)
	}
}

func TestLoader_DefaultBatchSize(t *testing.T) {
	t.Parallel()

	records := make([]sales.Record, DefaultBatchSize+1)
	sess := &fakeSession{}
	l := &Loader{Table: "raw_sales", Log: zerolog.Nop()}

	if _, err := l.Load(context.Background(), sess, records); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if fmt.Sprint(sess.inserts) != fmt.Sprintf("[%d 1]", DefaultBatchSize) {
		t.Fatalf("inserts=%v", sess.inserts)
	}
}

// End to end against an in-memory SQLite table and a local HTTP server.
func TestRun_SQLiteEndToEnd(t *testing.T) {
	t.Parallel()

	body := "Serial Number,List Year,Town,Address,OPM remarks\n" +
		"1,2021,  Hartford ,1 MAIN ST,\n" +
		"2,2021,Avon,,note\n" +
		"3,2021,Hartford,3 ELM ST,\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	sess, err := storage.Open(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	closed := &closeCounter{Session: sess}

	p := &Pipeline{
		Open:       func(ctx context.Context) (storage.Session, error) { return closed, nil },
		Source:     source.New(5*time.Second, zerolog.Nop()),
		URL:        srv.URL,
		Table:      "raw_sales",
		AutoCreate: true,
		Loader:     &Loader{Table: "raw_sales", BatchSize: 2, Log: zerolog.Nop()},
		Verifier:   &Verifier{Table: "raw_sales", Log: zerolog.Nop()},
		Log:        zerolog.Nop(),
	}

	sum, err := p.Run(context.Background(), 0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Report.Count != 3 {
		t.Fatalf("Count=%d, want 3", sum.Report.Count)
	}
	top := sum.Report.TopTowns
	if len(top) != 2 || top[0] != (storage.GroupCount{Key: "Hartford", Count: 2}) {
		t.Fatalf("TopTowns=%+v", top)
	}
	if closed.n != 1 {
		t.Fatalf("close count=%d, want 1", closed.n)
	}
}

type closeCounter struct {
	storage.Session
	n int
}

func (c *closeCounter) Close() error {
	c.n++
	return c.Session.Close()
}
