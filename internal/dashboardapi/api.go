// Package dashboardapi serves the review dashboards over HTTP: batch upload,
// stats, triage, the account graph, reports and the live event stream.
package dashboardapi

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/triagedesk/internal/dashboard"
	"github.com/linnemanlabs/triagedesk/internal/identity"
	"github.com/linnemanlabs/triagedesk/internal/report"
)

// DefaultMaxUpload caps a batch upload body.
const DefaultMaxUpload = 10 << 20

// Streamer serves a websocket event stream for one surface.
type Streamer interface {
	HandleWebSocket(w http.ResponseWriter, r *http.Request, surface dashboard.Kind)
}

// Option configures an API.
type Option func(*API)

// WithStream enables the stream route.
func WithStream(s Streamer) Option {
	return func(a *API) { a.stream = s }
}

// WithReports overrides the report assembler.
func WithReports(r *report.Assembler) Option {
	return func(a *API) {
		if r != nil {
			a.reports = r
		}
	}
}

// WithMaxUpload overrides DefaultMaxUpload.
func WithMaxUpload(n int64) Option {
	return func(a *API) {
		if n > 0 {
			a.maxUpload = n
		}
	}
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	surfaces  map[dashboard.Kind]*dashboard.Surface
	stream    Streamer
	reports   *report.Assembler
	maxUpload int64
}

// New creates a new API handler over surfaces.
func New(logger log.Logger, surfaces []*dashboard.Surface, opts ...Option) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if len(surfaces) == 0 {
		panic(xerrors.New("at least one surface is required"))
	}
	a := &API{
		logger:    logger,
		surfaces:  make(map[dashboard.Kind]*dashboard.Surface, len(surfaces)),
		reports:   report.New(nil, logger),
		maxUpload: DefaultMaxUpload,
	}
	for _, s := range surfaces {
		a.surfaces[s.Kind()] = s
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// RegisterRoutes attaches API endpoints to the router. The router is
// expected to run authmw.BearerToken.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1/surfaces/{surface}", func(r chi.Router) {
		r.Use(a.surfaceCtx)

		r.Post("/batch", a.handleUpload)
		r.Get("/stats", a.handleStats)
		r.Get("/transactions", a.handleListTransactions)
		r.Get("/transactions/{id}", a.handleGetTransaction)
		r.Post("/transactions/{id}/status", a.handleTransition)

		r.Post("/session", a.handleAuthenticate)
		r.Delete("/session", a.handleLogout)

		r.Get("/graph", a.handleGraph)
		r.Post("/graph/zoom-in", a.handleZoomIn)
		r.Post("/graph/zoom-out", a.handleZoomOut)
		r.Post("/graph/reset", a.handleResetView)
		r.Post("/graph/size", a.handleResize)
		r.Post("/graph/center/{node}", a.handleCenter)
		r.Post("/graph/nodes/{node}/click", a.handleClick)
		r.Post("/graph/nodes/{node}/drag", a.handleDrag)
		r.Post("/graph/nodes/{node}/release", a.handleRelease)

		r.Get("/report", a.handleReport)
		if a.stream != nil {
			r.Get("/stream", a.handleStream)
		}
	})
}

type surfaceKey struct{}

// surfaceCtx resolves {surface} and checks the caller may read it.
func (a *API) surfaceCtx(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		kind, err := dashboard.ParseKind(chi.URLParam(r, "surface"))
		s, ok := a.surfaces[kind]
		if err != nil || !ok {
			writeError(w, http.StatusNotFound, "unknown surface")
			return
		}

		sess, ok := identity.FromContext(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !sess.Principal.Role.CanView(string(kind)) {
			writeError(w, http.StatusForbidden, "role cannot view this surface")
			return
		}

		trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("triagedesk.surface", string(kind)))
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), surfaceKey{}, s)))
	})
}

func surfaceFrom(r *http.Request) *dashboard.Surface {
	return r.Context().Value(surfaceKey{}).(*dashboard.Surface)
}

func session(r *http.Request) *identity.Session {
	sess, _ := identity.FromContext(r.Context())
	return sess
}

// writeJSON encodes v before writing the status so a value that cannot be
// encoded becomes a 500 instead of an empty success.
func writeJSON(w http.ResponseWriter, code int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		code = http.StatusInternalServerError
		b = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(append(b, '\n'))
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
