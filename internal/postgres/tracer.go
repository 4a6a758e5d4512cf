package postgres

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
)

// QueryObserver receives one sample per query. main wires it to Prometheus.
type QueryObserver interface {
	ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration)
}

// QueryObserverFunc adapts a function to QueryObserver.
type QueryObserverFunc func(ctx context.Context, method, route, outcome string, dur time.Duration)

// ObserveQuery implements QueryObserver.
func (f QueryObserverFunc) ObserveQuery(ctx context.Context, method, route, outcome string, dur time.Duration) {
	f(ctx, method, route, outcome, dur)
}

type observerHolder struct{ QueryObserver }

var observer atomic.Pointer[observerHolder]

// SetQueryObserver installs o for every pool. nil removes it.
func SetQueryObserver(o QueryObserver) {
	if o == nil {
		observer.Store(nil)
		return
	}
	observer.Store(&observerHolder{QueryObserver: o})
}

func currentObserver() QueryObserver {
	if h := observer.Load(); h != nil {
		return h.QueryObserver
	}
	return nil
}

type methodKey struct{}

// WithHTTPMethod tags ctx so query samples can be split by HTTP method.
func WithHTTPMethod(ctx context.Context, method string) context.Context {
	if method == "" {
		return ctx
	}
	return context.WithValue(ctx, methodKey{}, method)
}

func methodFrom(ctx context.Context) string {
	if v, ok := ctx.Value(methodKey{}).(string); ok {
		return v
	}
	return "UNKNOWN"
}

func routeFrom(ctx context.Context) string {
	if rc := chi.RouteContext(ctx); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return "unknown"
}

// queryStart is carried between TraceQueryStart and TraceQueryEnd.
type queryStart struct {
	sql    string
	nargs  int
	at     time.Time
	caller string
}

type startKey struct{}

// queryTracer wraps otelpgx. Arguments are never logged, only counted, since
// they carry reviewer and transaction identifiers.
type queryTracer struct {
	inner  pgx.QueryTracer
	logger log.Logger
	slow   time.Duration
}

func newQueryTracer(inner pgx.QueryTracer, logger log.Logger, slow time.Duration) *queryTracer {
	return &queryTracer{inner: inner, logger: logger, slow: slow}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	qs := &queryStart{sql: data.SQL, nargs: len(data.Args), at: time.Now(), caller: storeCaller()}

	if t.inner != nil {
		ctx = t.inner.TraceQueryStart(ctx, conn, data)
	}
	if qs.caller != "" {
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(attribute.String("db.caller", qs.caller))
		}
	}
	return context.WithValue(ctx, startKey{}, qs)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	if t.inner != nil {
		t.inner.TraceQueryEnd(ctx, conn, data)
	}

	qs, ok := ctx.Value(startKey{}).(*queryStart)
	if !ok {
		return
	}
	dur := time.Since(qs.at)

	outcome := "ok"
	if data.Err != nil {
		outcome = "error"
	}
	if obs := currentObserver(); obs != nil {
		obs.ObserveQuery(ctx, methodFrom(ctx), routeFrom(ctx), outcome, dur)
	}

	if data.Err == nil && dur < t.slow {
		return
	}

	L := t.logger
	if L == nil {
		L = log.FromContext(ctx)
	}
	fields := []any{
		"db.statement", compact(qs.sql),
		"db.args", qs.nargs,
		"db.duration", dur.Seconds(),
	}
	if qs.caller != "" {
		fields = append(fields, "db.caller", qs.caller)
	}
	if tag := data.CommandTag.String(); tag != "" {
		fields = append(fields, "pg.command_tag", tag)
	}

	if data.Err != nil {
		var pgErr *pgconn.PgError
		if errors.As(data.Err, &pgErr) {
			fields = append(fields, "db.error_code", pgErr.Code, "db.error_constraint", pgErr.ConstraintName)
		}
		L.Error(ctx, data.Err, "db query failed", fields...)
		return
	}
	L.Warn(ctx, "slow db query", fields...)
}

// compact folds whitespace so multi-line statements log on one line.
func compact(sql string) string {
	return strings.Join(strings.Fields(sql), " ")
}

// storeCaller returns the first frame outside pgx, otelpgx and this package,
// shortened to receiver and method.
func storeCaller() string {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		fr, more := frames.Next()
		fn := fr.Function
		skip := strings.HasPrefix(fn, "runtime.") ||
			strings.Contains(fn, "github.com/jackc/pgx/v5") ||
			strings.Contains(fn, "github.com/exaring/otelpgx") ||
			strings.Contains(fn, "/internal/postgres.")
		if fn != "" && !skip {
			return shortFunc(fn)
		}
		if !more {
			return ""
		}
	}
}

// shortFunc trims the import path and package name from a function name.
func shortFunc(fn string) string {
	if i := strings.LastIndex(fn, "/"); i >= 0 {
		fn = fn[i+1:]
	}
	if dot := strings.Index(fn, "."); dot >= 0 && dot+1 < len(fn) {
		fn = fn[dot+1:]
	}
	return fn
}
