package ledger

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition rejects an unknown id, a status outside the
	// vocabulary, or a transition the vocabulary does not allow.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrTransitionInFlight rejects a transition while an earlier one for the
	// same id is still awaiting confirmation.
	ErrTransitionInFlight = errors.New("transition in flight")

	// ErrRemoteRejected means the authority answered and refused.
	ErrRemoteRejected = errors.New("remote rejected")

	// ErrRemoteUnreachable means the authority could not be reached in time.
	ErrRemoteUnreachable = errors.New("remote unreachable")
)

// Specific rejections. Each matches ErrRemoteRejected via errors.Is.
var (
	ErrUnauthorized = fmt.Errorf("%w: authentication expired", ErrRemoteRejected)
	ErrForbidden    = fmt.Errorf("%w: permission denied", ErrRemoteRejected)
	ErrConflict     = fmt.Errorf("%w: conflicting decision", ErrRemoteRejected)
	ErrServerError  = fmt.Errorf("%w: authority error", ErrRemoteRejected)
)

// Retryable reports whether the caller may reasonably try the same
// transition again. A conflict is not: the authority holds a different
// status for this batch, and only a re-ingest starts the item over.
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrForbidden), errors.Is(err, ErrConflict):
		return false
	case errors.Is(err, ErrRemoteRejected), errors.Is(err, ErrRemoteUnreachable):
		return true
	case errors.Is(err, ErrTransitionInFlight):
		return true
	}
	return false
}
