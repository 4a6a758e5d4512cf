package decision

import (
	"context"
	"errors"
	"fmt"

	"github.com/linnemanlabs/triagedesk/internal/identity"
	"github.com/linnemanlabs/triagedesk/internal/ledger"
)

// TokenVerifier validates bearer credentials.
type TokenVerifier interface {
	Verify(token string) (identity.Principal, error)
}

// LocalAuthority serves a dashboard surface in the same process as the
// decision service, skipping the HTTP hop.
type LocalAuthority struct {
	svc      *Service
	verifier TokenVerifier
}

// NewLocalAuthority returns a ledger.Authority backed by svc.
func NewLocalAuthority(svc *Service, verifier TokenVerifier) *LocalAuthority {
	return &LocalAuthority{svc: svc, verifier: verifier}
}

// Confirm implements ledger.Authority.
func (a *LocalAuthority) Confirm(ctx context.Context, req ledger.ConfirmRequest) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrRemoteUnreachable, err)
	}
	p, err := a.verifier.Verify(req.Credential)
	if err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrUnauthorized, err)
	}
	_, err = a.svc.Confirm(ctx, p, req)
	if errors.Is(err, ErrUnknownSurface) || errors.Is(err, ledger.ErrInvalidTransition) {
		return fmt.Errorf("%w: %w", ledger.ErrServerError, err)
	}
	return err
}
