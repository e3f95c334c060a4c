package fastpath

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
)

type recordedQuery struct {
	sql  string
	args []any
}

type fakeRow struct {
	value any
	err   error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	switch d := dest[0].(type) {
	case nil:
	case *int32:
		*d = r.value.(int32)
	case *[]byte:
		*d = r.value.([]byte)
	}
	return nil
}

type fakeQuerier struct {
	mu       sync.Mutex
	queries  []recordedQuery
	inFlight atomic.Int32
	overlap  atomic.Bool
	value    any
	err      error
	commits  int
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if q.inFlight.Add(1) > 1 {
		q.overlap.Store(true)
	}
	defer q.inFlight.Add(-1)
	time.Sleep(time.Millisecond)

	q.mu.Lock()
	q.queries = append(q.queries, recordedQuery{sql: sql, args: args})
	q.mu.Unlock()
	return fakeRow{value: q.value, err: q.err}
}

type fakeTx struct {
	fakeQuerier
}

func (q *fakeTx) Commit(context.Context) error {
	if q.inFlight.Load() > 0 {
		q.overlap.Store(true)
	}
	q.commits++
	return nil
}

func TestStatement(t *testing.T) {
	t.Parallel()

	tests := []struct {
		fn   string
		want string
	}{
		{FnOpen, "SELECT lo_open($1, $2)"},
		{FnClose, "SELECT lo_close($1)"},
		{FnRead, "SELECT loread($1, $2)"},
		{FnWrite, "SELECT lowrite($1, $2)"},
		{FnSeek, "SELECT lo_lseek($1, $2, $3)"},
		{FnSeek64, "SELECT lo_lseek64($1, $2, $3)"},
		{FnTell, "SELECT lo_tell($1)"},
		{FnTell64, "SELECT lo_tell64($1)"},
		{FnTruncate, "SELECT lo_truncate($1, $2)"},
		{FnTruncate64, "SELECT lo_truncate64($1, $2)"},
		{FnCreate, "SELECT lo_creat($1)"},
		{FnUnlink, "SELECT lo_unlink($1)"},
	}
	for _, tt := range tests {
		if got := statement(tt.fn); got != tt.want {
			t.Fatalf("statement(%q) = %q, want %q", tt.fn, got, tt.want)
		}
	}
}

func TestCheckCall(t *testing.T) {
	t.Parallel()

	if err := CheckCall(FnRead, []any{int32(1), int32(10)}); err != nil {
		t.Fatalf("CheckCall(loread) error = %v", err)
	}
	if err := CheckCall("pg_sleep", []any{1}); err == nil {
		t.Fatalf("CheckCall(pg_sleep) error = nil, want unknown procedure")
	}
	if err := CheckCall(FnSeek, []any{int32(1)}); err == nil {
		t.Fatalf("CheckCall(lo_lseek, 1 arg) error = nil, want arity error")
	}
}

func TestCapabilities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		version      int
		wantTruncate bool
		wantWide     bool
	}{
		{80200, false, false},
		{80300, true, false},
		{90200, true, false},
		{90300, true, true},
		{160002, true, true},
	}
	for _, tt := range tests {
		caps := Capabilities{ServerVersionNum: tt.version}
		if got := caps.SupportsTruncate(); got != tt.wantTruncate {
			t.Fatalf("%d SupportsTruncate() = %v, want %v", tt.version, got, tt.wantTruncate)
		}
		if got := caps.SupportsWideAddressing(); got != tt.wantWide {
			t.Fatalf("%d SupportsWideAddressing() = %v, want %v", tt.version, got, tt.wantWide)
		}
	}
}

func TestPgxChannel_CallRendersSelect(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{value: []byte("hello")}
	ch := NewPgxChannel(q, Capabilities{ServerVersionNum: 160000})

	var data []byte
	if err := ch.Call(context.Background(), FnRead, &data, int32(3), int32(5)); err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q, want %q", data, "hello")
	}
	if len(q.queries) != 1 || q.queries[0].sql != "SELECT loread($1, $2)" {
		t.Fatalf("queries = %#v", q.queries)
	}
	if q.queries[0].args[0] != int32(3) || q.queries[0].args[1] != int32(5) {
		t.Fatalf("args = %#v", q.queries[0].args)
	}
}

func TestPgxChannel_RejectsUnknownProcedure(t *testing.T) {
	t.Parallel()

	q := &fakeQuerier{}
	ch := NewPgxChannel(q, Capabilities{})
	if err := ch.Call(context.Background(), "lo_import", nil, "/etc/passwd"); err == nil {
		t.Fatalf("Call(lo_import) error = nil, want error")
	}
	if len(q.queries) != 0 {
		t.Fatalf("queries = %d, want 0", len(q.queries))
	}
}

func TestPgxChannel_WrapsQueryError(t *testing.T) {
	t.Parallel()

	cause := errors.New("boom")
	ch := NewPgxChannel(&fakeQuerier{err: cause}, Capabilities{})
	err := ch.Call(context.Background(), FnClose, nil, int32(1))
	if !errors.Is(err, cause) {
		t.Fatalf("err = %v, want wrapping %v", err, cause)
	}
}

func TestPgxChannel_OneRequestInFlight(t *testing.T) {
	t.Parallel()

	q := &fakeTx{fakeQuerier: fakeQuerier{value: int32(0)}}
	ch := NewPgxChannel(q, Capabilities{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(fd int32) {
			defer wg.Done()
			var pos int32
			_ = ch.Call(context.Background(), FnTell, &pos, fd)
		}(int32(i))
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = ch.Commit(context.Background())
	}()
	wg.Wait()

	if q.overlap.Load() {
		t.Fatalf("requests overlapped on one connection")
	}
	if len(q.queries) != 8 {
		t.Fatalf("queries = %d, want 8", len(q.queries))
	}
	if q.commits != 1 {
		t.Fatalf("commits = %d, want 1", q.commits)
	}
}

func TestPgxChannel_CommitWithoutTx(t *testing.T) {
	t.Parallel()

	ch := NewPgxChannel(&fakeQuerier{}, Capabilities{})
	if err := ch.Commit(context.Background()); err == nil {
		t.Fatalf("Commit() error = nil, want error")
	}
}

func TestDetectCapabilities(t *testing.T) {
	t.Parallel()

	caps, err := DetectCapabilities(context.Background(), &fakeQuerier{value: int32(90300)})
	if err != nil {
		t.Fatalf("DetectCapabilities() error = %v", err)
	}
	if !caps.SupportsWideAddressing() {
		t.Fatalf("caps = %#v, want wide addressing", caps)
	}
}
