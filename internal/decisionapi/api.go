// Package decisionapi exposes the decision service over HTTP. Remote
// dashboards reach it through internal/authority.
package decisionapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/triagedesk/internal/decision"
	"github.com/linnemanlabs/triagedesk/internal/identity"
	"github.com/linnemanlabs/triagedesk/internal/ledger"
)

// DecisionService defines the business operations decisionapi needs.
type DecisionService interface {
	Confirm(ctx context.Context, p identity.Principal, req ledger.ConfirmRequest) (*decision.Decision, error)
	Current(ctx context.Context, surface, txID string) (*decision.Decision, bool, error)
	History(ctx context.Context, surface, txID string) ([]*decision.Decision, error)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger log.Logger
	svc    DecisionService
}

// New creates a new API handler.
func New(logger log.Logger, svc DecisionService) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if svc == nil {
		panic(xerrors.New("decision service is required"))
	}
	return &API{
		logger: logger,
		svc:    svc,
	}
}

// RegisterRoutes attaches API endpoints to the router. The router is
// expected to run authmw.BearerToken.
func (a *API) RegisterRoutes(r chi.Router) {
	r.Post("/api/v1/decisions", a.handleConfirm)
	r.Get("/api/v1/decisions/{surface}/{id}", a.handleGetDecision)
}

type confirmRequest struct {
	Surface       string        `json:"surface"`
	TransactionID string        `json:"transaction_id"`
	BatchID       string        `json:"batch_id"`
	From          ledger.Status `json:"from"`
	To            ledger.Status `json:"to"`
	Generation    uint64        `json:"generation"`
}

func (a *API) handleConfirm(w http.ResponseWriter, r *http.Request) {
	sess, ok := identity.FromContext(r.Context())
	if !ok || !sess.Authenticated() {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var body confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("triagedesk.surface", body.Surface),
		attribute.String("triagedesk.transaction.id", body.TransactionID),
		attribute.String("triagedesk.transition.to", string(body.To)),
	)

	d, err := a.svc.Confirm(r.Context(), sess.Principal, ledger.ConfirmRequest{
		Surface:       body.Surface,
		TransactionID: body.TransactionID,
		BatchID:       body.BatchID,
		From:          body.From,
		To:            body.To,
		Generation:    body.Generation,
		Credential:    sess.Token,
	})
	if err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			a.logger.Error(r.Context(), err, "failed to confirm decision",
				"surface", body.Surface, "transaction_id", body.TransactionID)
			writeError(w, code, "internal error")
			return
		}
		writeError(w, code, err.Error())
		return
	}

	span.SetAttributes(attribute.String("triagedesk.decision.id", d.ID))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(d)
}

func (a *API) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	surface := chi.URLParam(r, "surface")
	id := chi.URLParam(r, "id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(
		attribute.String("triagedesk.surface", surface),
		attribute.String("triagedesk.transaction.id", id),
	)

	cur, ok, err := a.svc.Current(r.Context(), surface, id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get decision", "surface", surface, "transaction_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	history, err := a.svc.History(r.Context(), surface, id)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get decision history", "surface", surface, "transaction_id", id)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"current": cur,
		"history": history,
	})
}

// statusFor maps service errors onto the codes internal/authority expects.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, decision.ErrUnknownSurface), errors.Is(err, ledger.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
