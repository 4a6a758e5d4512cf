package dashboardapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/triagedesk/internal/batch"
	"github.com/linnemanlabs/triagedesk/internal/batch/csvsource"
	"github.com/linnemanlabs/triagedesk/internal/batch/jsonsource"
	"github.com/linnemanlabs/triagedesk/internal/dashboard"
	"github.com/linnemanlabs/triagedesk/internal/ledger"
	"github.com/linnemanlabs/triagedesk/internal/risk"
)

func layoutFor(k dashboard.Kind) csvsource.Layout {
	if k == dashboard.Loan {
		return csvsource.Loan
	}
	return csvsource.Fraud
}

// source picks a decoder from the request content type. CSV is the default.
func source(r io.Reader, contentType string, layout csvsource.Layout, name string) batch.Source {
	mt, _, _ := mime.ParseMediaType(contentType)
	if mt == "application/json" {
		return jsonsource.New(r, batch.Options{
			Source:     name,
			Required:   layout.Required,
			Defaults:   layout.Defaults,
			Dimensions: layout.Dimensions,
			Annotate:   layout.Annotate,
		})
	}
	return csvsource.New(r, layout, name)
}

func (a *API) handleUpload(w http.ResponseWriter, r *http.Request) {
	s := surfaceFrom(r)
	if !session(r).Principal.Role.CanIngest(string(s.Kind())) {
		writeError(w, http.StatusForbidden, "role cannot upload to this surface")
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload"
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, a.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "batch exceeds upload limit")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	st, err := s.Ingest(r.Context(), source(bytes.NewReader(body), r.Header.Get("Content-Type"), layoutFor(s.Kind()), name))
	switch {
	case err == nil:
	case errors.Is(err, batch.ErrMalformedBatch):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, dashboard.ErrNotAuthenticated):
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	default:
		a.logger.Error(r.Context(), err, "failed to ingest batch", "surface", string(s.Kind()))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	trace.SpanFromContext(r.Context()).SetAttributes(
		attribute.String("triagedesk.batch.id", st.BatchID),
		attribute.Int("triagedesk.batch.size", st.Total),
	)
	writeJSON(w, http.StatusCreated, st)
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, surfaceFrom(r).Stats())
}

// handleListTransactions supports ?severity= and ?status= filters.
func (a *API) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var severity *risk.Bucket
	if v := q.Get("severity"); v != "" {
		b, err := risk.ParseBucket(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		severity = &b
	}
	status := ledger.Status(strings.ToLower(q.Get("status")))

	rows := surfaceFrom(r).Rows()
	out := make([]dashboard.Row, 0, len(rows))
	for i := range rows {
		if severity != nil && rows[i].Severity.Bucket != *severity {
			continue
		}
		if status != "" && rows[i].Status != status {
			continue
		}
		out = append(out, rows[i])
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	row, ok := surfaceFrom(r).Get(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, row)
}

type transitionRequest struct {
	Status ledger.Status `json:"status"`
	Wait   bool          `json:"wait"`
}

type transitionResponse struct {
	TransactionID string        `json:"transaction_id"`
	From          ledger.Status `json:"from"`
	To            ledger.Status `json:"to"`
	Generation    uint64        `json:"generation"`
	State         string        `json:"state"`
	Error         string        `json:"error,omitempty"`
}

// handleTransition applies the change optimistically. With wait set it holds
// the request until the authority answers or the client goes away.
func (a *API) handleTransition(w http.ResponseWriter, r *http.Request) {
	s := surfaceFrom(r)
	id := chi.URLParam(r, "id")

	var body transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if _, ok := s.Get(id); !ok {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	p, err := s.RequestTransition(r.Context(), session(r), id, body.Status)
	if err != nil {
		writeError(w, transitionStatus(err), err.Error())
		return
	}

	resp := transitionResponse{
		TransactionID: id,
		From:          p.Ticket.From,
		To:            p.Ticket.To,
		Generation:    p.Ticket.Generation,
		State:         "applied",
	}
	if !body.Wait {
		writeJSON(w, http.StatusAccepted, resp)
		return
	}

	err = p.Wait(r.Context())
	switch {
	case err == nil:
		resp.State = "confirmed"
		writeJSON(w, http.StatusOK, resp)
	case r.Context().Err() != nil:
		// client is gone; the confirmation carries on without it
		return
	default:
		resp.State = "reverted"
		if errors.Is(err, ledger.ErrUnauthorized) {
			resp.State = "cleared"
		}
		if errors.Is(err, dashboard.ErrStaleResponse) {
			resp.State = "discarded"
		}
		resp.Error = err.Error()
		writeJSON(w, transitionStatus(err), resp)
	}
}

// transitionStatus maps request and confirmation errors to HTTP codes.
func transitionStatus(err error) int {
	switch {
	case errors.Is(err, dashboard.ErrNotAuthenticated), errors.Is(err, ledger.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrTransitionInFlight), errors.Is(err, ledger.ErrConflict), errors.Is(err, dashboard.ErrStaleResponse):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrRemoteRejected), errors.Is(err, ledger.ErrRemoteUnreachable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	s := surfaceFrom(r)
	if !session(r).Principal.Role.CanIngest(string(s.Kind())) {
		writeError(w, http.StatusForbidden, "role cannot manage this surface's session")
		return
	}
	if err := s.Authenticate(session(r)); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	a.logger.Info(r.Context(), "surface authenticated",
		"surface", string(s.Kind()),
		"actor", session(r).Principal.Subject,
	)
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	s := surfaceFrom(r)
	if !session(r).Principal.Role.CanIngest(string(s.Kind())) {
		writeError(w, http.StatusForbidden, "role cannot manage this surface's session")
		return
	}
	s.Logout(r.Context())
	w.WriteHeader(http.StatusNoContent)
}
