package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/linnemanlabs/go-core/log"
)

func TestShortFunc(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"github.com/linnemanlabs/triagedesk/internal/decision/pgstore.(*Store).Record", "(*Store).Record"},
		{"pgstore.(*Store).History", "(*Store).History"},
		{"foo.Bar", "Bar"},
		{"main", "main"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := shortFunc(tt.in); got != tt.want {
			t.Errorf("shortFunc(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCompact(t *testing.T) {
	t.Parallel()

	in := "SELECT id\n\t FROM decisions\n WHERE surface = $1"
	if got := compact(in); got != "SELECT id FROM decisions WHERE surface = $1" {
		t.Errorf("compact = %q", got)
	}
}

func TestWithHTTPMethod(t *testing.T) {
	t.Parallel()

	if got := methodFrom(WithHTTPMethod(context.Background(), "POST")); got != "POST" {
		t.Errorf("method = %q, want POST", got)
	}
	if got := methodFrom(WithHTTPMethod(context.Background(), "")); got != "UNKNOWN" {
		t.Errorf("method = %q, want UNKNOWN", got)
	}
	if got := routeFrom(context.Background()); got != "unknown" {
		t.Errorf("route = %q, want unknown", got)
	}
}

type spyTracer struct{ starts, ends int }

func (s *spyTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, _ pgx.TraceQueryStartData) context.Context {
	s.starts++
	return ctx
}

func (s *spyTracer) TraceQueryEnd(context.Context, *pgx.Conn, pgx.TraceQueryEndData) { s.ends++ }

// Not parallel: the observer is process wide.
func TestQueryTracer_ObservesEveryQuery(t *testing.T) {
	defer SetQueryObserver(nil)

	type sample struct{ method, route, outcome string }
	var got []sample
	SetQueryObserver(QueryObserverFunc(func(_ context.Context, method, route, outcome string, _ time.Duration) {
		got = append(got, sample{method, route, outcome})
	}))

	inner := &spyTracer{}
	qt := newQueryTracer(inner, log.Nop(), time.Hour)
	ctx := WithHTTPMethod(context.Background(), "GET")

	end := qt.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "SELECT 1", Args: []any{"x"}})
	qt.TraceQueryEnd(end, nil, pgx.TraceQueryEndData{CommandTag: pgconn.NewCommandTag("SELECT 1")})

	end = qt.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "INSERT"})
	qt.TraceQueryEnd(end, nil, pgx.TraceQueryEndData{Err: &pgconn.PgError{Code: "23505"}})

	if inner.starts != 2 || inner.ends != 2 {
		t.Errorf("inner tracer calls = %d/%d, want 2/2", inner.starts, inner.ends)
	}
	want := []sample{{"GET", "unknown", "ok"}, {"GET", "unknown", "error"}}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("samples = %+v, want %+v", got, want)
	}
}

func TestQueryTracer_NoStartIsIgnored(t *testing.T) {
	t.Parallel()

	qt := newQueryTracer(nil, log.Nop(), time.Millisecond)
	// must not panic without a matching start
	qt.TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{Err: errors.New("boom")})
}

func TestNewPool_RejectsBadURL(t *testing.T) {
	t.Parallel()

	if _, err := NewPool(context.Background(), "", PoolOptions{}); err == nil {
		t.Error("empty url accepted")
	}
	if _, err := NewPool(context.Background(), "postgres://%zz", PoolOptions{}); err == nil {
		t.Error("malformed url accepted")
	}
}
