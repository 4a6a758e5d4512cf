package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/triagedesk/internal/aggregate"
	"github.com/linnemanlabs/triagedesk/internal/batch"
	"github.com/linnemanlabs/triagedesk/internal/ledger"
	"github.com/linnemanlabs/triagedesk/internal/netgraph"
	"github.com/linnemanlabs/triagedesk/internal/risk"
)

const tracerName = "github.com/linnemanlabs/triagedesk/internal/dashboard"

var (
	// ErrNotAuthenticated rejects triage on a surface whose session expired
	// or was logged out, until Authenticate succeeds.
	ErrNotAuthenticated = errors.New("surface requires authentication")

	// ErrNoBatch is returned when a surface has nothing ingested.
	ErrNoBatch = errors.New("no batch ingested")

	// ErrStaleResponse resolves a Pending whose confirmation arrived after
	// the ledger was reseeded or cleared. Nothing was applied.
	ErrStaleResponse = errors.New("confirmation discarded: ledger replaced")
)

// Option configures a Surface.
type Option func(*Surface)

// WithMetrics records surface activity on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Surface) { s.metrics = m }
}

// WithPublisher sends every change to p.
func WithPublisher(p Publisher) Option {
	return func(s *Surface) {
		if p != nil {
			s.pub = p
		}
	}
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Surface) { s.tracer = tp.Tracer(tracerName) }
}

// Surface is one review dashboard. It is safe for concurrent use.
type Surface struct {
	cfg       Config
	authority ledger.Authority
	logger    log.Logger
	metrics   *Metrics
	pub       Publisher
	tracer    trace.Tracer

	// confirms tracks outstanding authority calls.
	confirms sync.WaitGroup

	mu      sync.Mutex
	batch   *batch.Batch
	ledger  *ledger.Ledger
	stats   aggregate.Stats
	graph   *netgraph.Engine
	expired bool
}

// NewSurface returns an empty, authenticated surface.
func NewSurface(cfg Config, authority ledger.Authority, logger log.Logger, opts ...Option) *Surface {
	if authority == nil {
		panic(xerrors.New("authority is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = DefaultConfirmTimeout
	}
	if len(cfg.Vocabulary.Statuses) == 0 {
		cfg.Vocabulary = DefaultConfig(cfg.Kind).Vocabulary
	}

	s := &Surface{
		cfg:       cfg,
		authority: authority,
		logger:    logger.With("surface", string(cfg.Kind)),
		pub:       nopPublisher{},
		tracer:    otel.Tracer(tracerName),
		ledger:    ledger.New(cfg.Vocabulary),
	}
	for _, o := range opts {
		o(s)
	}
	s.recompute()
	return s
}

// Kind returns the surface kind.
func (s *Surface) Kind() Kind { return s.cfg.Kind }

// Vocabulary returns the statuses this surface uses.
func (s *Surface) Vocabulary() ledger.Vocabulary { return s.cfg.Vocabulary }

// Ingest loads a batch from src and replaces the current one with it.
func (s *Surface) Ingest(ctx context.Context, src batch.Source) (aggregate.Stats, error) {
	b, err := src.Load(ctx)
	if err != nil {
		s.metrics.ingest(s.cfg.Kind, "error")
		return aggregate.Stats{}, err
	}
	return s.Replace(ctx, b)
}

// Replace discards the current batch and ledger and seeds a new ledger
// from b. Outstanding confirmations are ignored when they return.
func (s *Surface) Replace(ctx context.Context, b *batch.Batch) (aggregate.Stats, error) {
	if b == nil {
		return aggregate.Stats{}, fmt.Errorf("%w: nil batch", batch.ErrMalformedBatch)
	}

	s.mu.Lock()
	if s.expired {
		s.mu.Unlock()
		s.metrics.ingest(s.cfg.Kind, "unauthenticated")
		return aggregate.Stats{}, ErrNotAuthenticated
	}
	s.batch = b
	s.graph = nil
	s.ledger.Seed(b.IDs())
	st := s.recompute()
	s.publishLocked(EventBatch, nil, nil)
	s.mu.Unlock()

	s.metrics.ingest(s.cfg.Kind, "ok")
	s.logger.Info(ctx, "batch ingested",
		"batch_id", b.ID,
		"source", b.Source,
		"transactions", b.Len(),
		"generation", st.Generation,
	)

	s.layout(ctx, b)
	return st, nil
}

// layout settles the graph for b outside the surface lock and installs it
// if b is still the current batch.
func (s *Surface) layout(ctx context.Context, b *batch.Batch) {
	eng := netgraph.NewEngine(netgraph.Build(b, s.cfg.Build), s.cfg.Layout)
	res := eng.Run()
	eng.ResetView()
	s.metrics.layout(s.cfg.Kind, res.Iterations)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch != b {
		return
	}
	s.graph = eng
	if !res.Converged {
		s.logger.Warn(ctx, "graph layout hit iteration budget",
			"iterations", res.Iterations,
			"displacement", res.Displacement,
		)
	}
}

// Authenticate accepts a fresh session after expiry or logout.
func (s *Surface) Authenticate(sess Session) error {
	if sess == nil || !sess.Authenticated() {
		return ErrNotAuthenticated
	}
	s.mu.Lock()
	s.expired = false
	s.mu.Unlock()
	return nil
}

// Authenticated reports whether the surface accepts triage.
func (s *Surface) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.expired
}

// Logout tears the surface down. Its batch, ledger and graph are dropped
// and triage stays refused until Authenticate.
func (s *Surface) Logout(ctx context.Context) {
	s.mu.Lock()
	s.clearLocked()
	s.mu.Unlock()
	s.logger.Info(ctx, "surface logged out")
}

func (s *Surface) clearLocked() {
	s.expired = true
	s.batch = nil
	s.graph = nil
	s.ledger.Clear()
	s.recompute()
	s.publishLocked(EventCleared, nil, nil)
}

// recompute must run with s.mu held after every ledger mutation.
func (s *Surface) recompute() aggregate.Stats {
	s.stats = aggregate.Compute(s.batch, s.ledger, s.cfg.Dimensions)
	if s.batch != nil {
		s.stats.BatchID = s.batch.ID
	}
	s.metrics.state(s.cfg.Kind, s.batch.Len(), s.ledger.InFlight())
	return s.stats
}

func (s *Surface) publishLocked(kind EventKind, entry *ledger.Entry, err error) {
	ev := Event{
		Surface:    s.cfg.Kind,
		Kind:       kind,
		Generation: s.ledger.Generation(),
		Entry:      entry,
		Stats:      s.stats,
		At:         time.Now().UTC(),
	}
	if s.batch != nil {
		ev.BatchID = s.batch.ID
	}
	if err != nil {
		ev.Error = err.Error()
	}
	s.pub.Publish(ev)
}

// Stats returns the aggregate matching the current ledger. The maps are
// shared and must not be modified.
func (s *Surface) Stats() aggregate.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// Counts returns the number of transactions per status.
func (s *Surface) Counts() map[ledger.Status]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ledger.Counts()
}

// Row is a transaction with its current disposition.
type Row struct {
	batch.Transaction
	Severity  risk.Classification `json:"severity"`
	Status    ledger.Status       `json:"status"`
	Confirmed bool                `json:"confirmed"`
}

func (s *Surface) rowLocked(t *batch.Transaction) Row {
	r := Row{Transaction: *t, Severity: t.Classification()}
	if e, ok := s.ledger.Get(t.ID); ok {
		r.Status, r.Confirmed = e.Status, e.Confirmed
	} else {
		r.Status, r.Confirmed = s.cfg.Vocabulary.Initial(), true
	}
	return r
}

// Get returns one transaction and its status.
func (s *Surface) Get(id string) (Row, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.batch.Get(id)
	if !ok {
		return Row{}, false
	}
	return s.rowLocked(t), true
}

// Rows returns every transaction in batch order.
func (s *Surface) Rows() []Row {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowsLocked()
}

func (s *Surface) rowsLocked() []Row {
	if s.batch == nil {
		return nil
	}
	out := make([]Row, 0, s.batch.Len())
	for i := range s.batch.Transactions {
		out = append(out, s.rowLocked(&s.batch.Transactions[i]))
	}
	return out
}

// Graph returns the account graph of the current batch. It is absent until
// the layout for the latest batch has settled.
func (s *Surface) Graph() (*netgraph.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch == nil || s.graph == nil {
		return nil, ErrNoBatch
	}
	return s.graph, nil
}

// Snapshot is a point-in-time view of a surface: stats, rows and graph all
// reflect the same ledger state.
type Snapshot struct {
	Surface    Kind               `json:"surface"`
	BatchID    string             `json:"batch_id"`
	Source     string             `json:"source"`
	IngestedAt time.Time          `json:"ingested_at"`
	Generation uint64             `json:"generation"`
	InFlight   int                `json:"in_flight"`
	Stats      aggregate.Stats    `json:"stats"`
	Rows       []Row              `json:"rows"`
	Graph      *netgraph.Snapshot `json:"graph,omitempty"`
	TakenAt    time.Time          `json:"taken_at"`
}

// Snapshot captures the surface for reporting.
func (s *Surface) Snapshot() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.batch == nil {
		return Snapshot{}, ErrNoBatch
	}
	snap := Snapshot{
		Surface:    s.cfg.Kind,
		BatchID:    s.batch.ID,
		Source:     s.batch.Source,
		IngestedAt: s.batch.IngestedAt,
		Generation: s.ledger.Generation(),
		InFlight:   s.ledger.InFlight(),
		Stats:      s.stats,
		Rows:       s.rowsLocked(),
		TakenAt:    time.Now().UTC(),
	}
	if s.graph != nil {
		g := s.graph.Snapshot()
		snap.Graph = &g
	}
	return snap, nil
}

// Wait blocks until every outstanding confirmation has been applied or
// discarded.
func (s *Surface) Wait() {
	s.confirms.Wait()
}
