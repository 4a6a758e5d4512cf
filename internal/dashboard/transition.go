package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/triagedesk/internal/ledger"
)

// Pending is an optimistic transition awaiting the authority.
type Pending struct {
	Ticket ledger.Ticket

	done chan struct{}
	err  error
}

// Done is closed once the transition is confirmed, reverted or discarded.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Err returns the outcome after Done is closed: nil when confirmed.
func (p *Pending) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}

// Wait blocks until the outcome is known or ctx ends. A ctx error does not
// cancel the confirmation.
func (p *Pending) Wait(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pending) resolve(err error) {
	p.err = err
	close(p.done)
}

// RequestTransition applies id -> to immediately and asks the authority to
// confirm it in the background.
//
// Validation failures return ErrInvalidTransition and a second request for
// an id that is still awaiting confirmation returns ErrTransitionInFlight;
// neither changes state. The returned Pending resolves to nil on
// confirmation. A refusal or transport failure reverts the change and
// resolves to an error matching ErrRemoteRejected or ErrRemoteUnreachable.
// ErrUnauthorized also clears the surface and requires Authenticate.
func (s *Surface) RequestTransition(ctx context.Context, sess Session, id string, to ledger.Status) (*Pending, error) {
	ctx, span := s.tracer.Start(ctx, "dashboard.RequestTransition", trace.WithAttributes(
		attribute.String("triagedesk.surface", string(s.cfg.Kind)),
		attribute.String("triagedesk.transaction.id", id),
		attribute.String("triagedesk.status.to", string(to)),
	))
	defer span.End()

	if sess == nil || !sess.Authenticated() {
		s.metrics.transition(s.cfg.Kind, OutcomeUnauthenticated)
		return nil, ErrNotAuthenticated
	}

	s.mu.Lock()
	if s.expired {
		s.mu.Unlock()
		s.metrics.transition(s.cfg.Kind, OutcomeUnauthenticated)
		return nil, ErrNotAuthenticated
	}
	t, err := s.ledger.Begin(id, to)
	if err != nil {
		s.mu.Unlock()
		outcome := OutcomeInvalid
		if errors.Is(err, ledger.ErrTransitionInFlight) {
			outcome = OutcomeInFlight
		}
		s.metrics.transition(s.cfg.Kind, outcome)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	s.recompute()
	entry, _ := s.ledger.Get(id)
	s.publishLocked(EventApplied, &entry, nil)
	var batchID string
	if s.batch != nil {
		batchID = s.batch.ID
	}
	s.mu.Unlock()

	s.metrics.transition(s.cfg.Kind, OutcomeApplied)
	span.SetAttributes(
		attribute.String("triagedesk.status.from", string(t.From)),
		attribute.Int64("triagedesk.ledger.generation", int64(t.Generation)),
	)

	p := &Pending{Ticket: t, done: make(chan struct{})}
	req := ledger.ConfirmRequest{
		Surface:       string(s.cfg.Kind),
		TransactionID: t.ID,
		BatchID:       batchID,
		From:          t.From,
		To:            t.To,
		Generation:    t.Generation,
		Credential:    sess.Credential(),
	}

	// the confirmation outlives the caller's request
	s.confirms.Add(1)
	go s.confirm(context.WithoutCancel(ctx), req, t, p)

	return p, nil
}

func (s *Surface) confirm(ctx context.Context, req ledger.ConfirmRequest, t ledger.Ticket, p *Pending) {
	defer s.confirms.Done()

	ctx, span := s.tracer.Start(ctx, "dashboard.confirm", trace.WithAttributes(
		attribute.String("triagedesk.surface", req.Surface),
		attribute.String("triagedesk.transaction.id", req.TransactionID),
	))
	defer span.End()

	cctx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	start := time.Now()
	err := s.authority.Confirm(cctx, req)
	cancel()
	s.metrics.confirmed(s.cfg.Kind, time.Since(start).Seconds())

	err = classify(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	L := s.logger.With(
		"transaction_id", t.ID,
		"from", string(t.From),
		"to", string(t.To),
		"generation", t.Generation,
	)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ledger.Stale(t) {
		s.metrics.transition(s.cfg.Kind, OutcomeStale)
		L.Info(ctx, "discarding confirmation for replaced ledger", "current_generation", s.ledger.Generation())
		p.resolve(ErrStaleResponse)
		return
	}

	switch {
	case err == nil:
		s.ledger.Commit(t)
		s.recompute()
		entry, _ := s.ledger.Get(t.ID)
		s.publishLocked(EventConfirmed, &entry, nil)
		s.metrics.transition(s.cfg.Kind, OutcomeConfirmed)

	case errors.Is(err, ledger.ErrUnauthorized):
		s.clearLocked()
		s.metrics.transition(s.cfg.Kind, OutcomeCleared)
		L.Warn(ctx, "authority rejected credential, surface cleared")

	default:
		s.ledger.Revert(t)
		s.recompute()
		entry, _ := s.ledger.Get(t.ID)
		s.publishLocked(EventReverted, &entry, err)
		s.metrics.transition(s.cfg.Kind, OutcomeReverted)
		L.Warn(ctx, "transition reverted", "error", err.Error(), "retryable", ledger.Retryable(err))
	}

	p.resolve(err)
}

// classify maps any authority failure outside the remote sentinels, a
// timeout included, to ErrRemoteUnreachable.
func classify(err error) error {
	if err == nil || errors.Is(err, ledger.ErrRemoteRejected) || errors.Is(err, ledger.ErrRemoteUnreachable) {
		return err
	}
	return fmt.Errorf("%w: %w", ledger.ErrRemoteUnreachable, err)
}
