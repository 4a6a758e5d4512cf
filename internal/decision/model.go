// Package decision is the confirmation authority for triage transitions. It
// checks the reviewer's role, rejects decisions made against a stale view of
// a transaction, and keeps the full decision history.
package decision

import (
	"errors"
	"time"

	"github.com/linnemanlabs/triagedesk/internal/ledger"
)

// Decision is one confirmed status change.
type Decision struct {
	ID            string        `json:"id"`
	Surface       string        `json:"surface"`
	TransactionID string        `json:"transaction_id"`
	BatchID       string        `json:"batch_id"`
	From          ledger.Status `json:"from"`
	To            ledger.Status `json:"to"`
	Actor         string        `json:"actor"`
	Role          string        `json:"role"`
	CreatedAt     time.Time     `json:"created_at"`
}

var (
	// ErrUnknownSurface is returned for a surface with no vocabulary.
	ErrUnknownSurface = errors.New("unknown surface")

	// ErrStatusMismatch is returned by Store.Record when the transaction's
	// recorded status differs from the decision's From.
	ErrStatusMismatch = errors.New("recorded status differs")
)
