package decision

import (
	"context"

	"github.com/linnemanlabs/triagedesk/internal/ledger"
)

// Store is the persistence interface for decisions.
type Store interface {
	// Current returns the latest decision for a transaction.
	Current(ctx context.Context, surface, txID string) (*Decision, bool, error)

	// Record appends d if the transaction's latest decision for d.BatchID
	// ends in d.From, or if there is none and d.From is initial. A decision
	// from an earlier batch does not count. Otherwise it returns an error
	// matching ErrStatusMismatch and stores nothing.
	Record(ctx context.Context, d *Decision, initial ledger.Status) error

	// History returns every decision for a transaction, oldest first.
	History(ctx context.Context, surface, txID string) ([]*Decision, error)
}
