package ledger

import "context"

// ConfirmRequest asks the authority to ratify one optimistic transition.
type ConfirmRequest struct {
	Surface       string `json:"surface"`
	TransactionID string `json:"transaction_id"`

	// BatchID scopes the authority's record of the transaction to one
	// ingested batch. Re-ingesting starts every transaction over.
	BatchID string `json:"batch_id"`

	From          Status `json:"from"`
	To            Status `json:"to"`

	// Generation is the ledger generation the request was issued under. It
	// is informational for the authority.
	Generation uint64 `json:"generation"`

	// Credential is the caller's bearer token, opaque to the ledger.
	Credential string `json:"-"`
}

// Authority confirms transitions. Implementations return nil on success,
// an error matching ErrUnauthorized, ErrForbidden, ErrConflict or
// ErrServerError when the authority refuses, and one matching
// ErrRemoteUnreachable on transport failure or timeout.
type Authority interface {
	Confirm(ctx context.Context, req ConfirmRequest) error
}

// AuthorityFunc adapts a function to Authority.
type AuthorityFunc func(ctx context.Context, req ConfirmRequest) error

// Confirm implements Authority.
func (f AuthorityFunc) Confirm(ctx context.Context, req ConfirmRequest) error { return f(ctx, req) }
