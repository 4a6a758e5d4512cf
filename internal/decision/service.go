package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/triagedesk/internal/identity"
	"github.com/linnemanlabs/triagedesk/internal/ledger"
)

// Notifier is told about confirmed blocks.
type Notifier interface {
	Send(ctx context.Context, d *Decision) error
}

// Result labels for triagedesk_decisions_total.
const (
	resultConfirmed = "confirmed"
	resultForbidden = "forbidden"
	resultConflict  = "conflict"
	resultInvalid   = "invalid"
	resultError     = "error"
)

// Service is the business boundary for confirmation requests.
type Service struct {
	store    Store
	vocabs   map[string]ledger.Vocabulary
	logger   log.Logger
	metrics  *Metrics
	notifier Notifier
	now      func() time.Time
}

// NewService creates a decision service for the given surfaces. metrics
// and notifier may be nil.
func NewService(store Store, vocabs map[string]ledger.Vocabulary, logger log.Logger, metrics *Metrics, notifier Notifier) *Service {
	if store == nil {
		panic(xerrors.New("decision store is required"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{
		store:    store,
		vocabs:   vocabs,
		logger:   logger,
		metrics:  metrics,
		notifier: notifier,
		now:      time.Now,
	}
}

// Confirm ratifies req on behalf of p. It returns ledger.ErrForbidden when
// p's role may not make the change and ledger.ErrConflict when the
// transaction is no longer in req.From.
func (s *Service) Confirm(ctx context.Context, p identity.Principal, req ledger.ConfirmRequest) (*Decision, error) {
	d, result, err := s.confirm(ctx, p, req)
	if s.metrics != nil {
		s.metrics.DecisionsTotal.WithLabelValues(req.Surface, string(req.To), result).Inc()
	}
	return d, err
}

func (s *Service) confirm(ctx context.Context, p identity.Principal, req ledger.ConfirmRequest) (*Decision, string, error) {
	L := s.logger.With(
		"surface", req.Surface,
		"transaction_id", req.TransactionID,
		"actor", p.Subject,
		"role", string(p.Role),
	)

	vocab, ok := s.vocabs[req.Surface]
	if !ok {
		return nil, resultInvalid, fmt.Errorf("%w %q", ErrUnknownSurface, req.Surface)
	}
	if req.TransactionID == "" || !vocab.Allows(req.From, req.To) {
		return nil, resultInvalid, fmt.Errorf("%w: %s -> %s", ledger.ErrInvalidTransition, req.From, req.To)
	}
	if !p.Role.CanTriage(req.Surface, req.To) {
		L.Warn(ctx, "decision forbidden", "to", string(req.To))
		return nil, resultForbidden, fmt.Errorf("%w: role %s cannot set %s on %s", ledger.ErrForbidden, p.Role, req.To, req.Surface)
	}

	d := &Decision{
		ID:            ulid.Make().String(),
		Surface:       req.Surface,
		TransactionID: req.TransactionID,
		BatchID:       req.BatchID,
		From:          req.From,
		To:            req.To,
		Actor:         p.Subject,
		Role:          string(p.Role),
		CreatedAt:     s.now().UTC(),
	}
	if err := s.store.Record(ctx, d, vocab.Initial()); err != nil {
		if errors.Is(err, ErrStatusMismatch) {
			L.Info(ctx, "decision conflicts with recorded status", "from", string(req.From), "error", err.Error())
			return nil, resultConflict, fmt.Errorf("%w: %w", ledger.ErrConflict, err)
		}
		L.Error(ctx, err, "failed to record decision")
		return nil, resultError, fmt.Errorf("%w: %w", ledger.ErrServerError, err)
	}

	L.Info(ctx, "decision recorded",
		"decision_id", d.ID,
		"from", string(d.From),
		"to", string(d.To),
	)

	if d.To == ledger.Blocked && s.notifier != nil {
		// notification outlives the request
		go s.notify(context.WithoutCancel(ctx), d)
	}
	return d, resultConfirmed, nil
}

func (s *Service) notify(ctx context.Context, d *Decision) {
	result := "sent"
	if err := s.notifier.Send(ctx, d); err != nil {
		result = "failed"
		s.logger.Error(ctx, err, "failed to send decision notification", "decision_id", d.ID)
	}
	if s.metrics != nil {
		s.metrics.NotifyTotal.WithLabelValues(result).Inc()
	}
}

// Current returns the latest decision for a transaction.
func (s *Service) Current(ctx context.Context, surface, txID string) (*Decision, bool, error) {
	return s.store.Current(ctx, surface, txID)
}

// History returns every decision for a transaction, oldest first.
func (s *Service) History(ctx context.Context, surface, txID string) ([]*Decision, error) {
	return s.store.History(ctx, surface, txID)
}
