package identity

import (
	"fmt"
	"slices"

	"github.com/linnemanlabs/triagedesk/internal/ledger"
)

// Role is the reviewer's authority level, carried in the token.
type Role string

const (
	// CentralBankAdmin reviews the public and admin fraud surfaces.
	CentralBankAdmin Role = "centralbank_admin"

	// ManitAdmin verifies loan disbursements.
	ManitAdmin Role = "manit_admin"

	// Viewer may read every surface and change nothing.
	Viewer Role = "viewer"
)

// grant is the set of statuses a role may assign on one surface.
type grant map[string][]ledger.Status

var grants = map[Role]grant{
	CentralBankAdmin: {
		"public": {ledger.Blocked, ledger.Verified, ledger.Pending},
		"admin":  {ledger.Blocked, ledger.Verified, ledger.Pending},
	},
	ManitAdmin: {
		"loan": {ledger.Verified, ledger.Received, ledger.Pending},
	},
	Viewer: {},
}

// ParseRole validates a role name.
func ParseRole(s string) (Role, error) {
	r := Role(s)
	if _, ok := grants[r]; !ok {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// CanTriage reports whether the role may set a transaction on surface to
// status to.
func (r Role) CanTriage(surface string, to ledger.Status) bool {
	return slices.Contains(grants[r][surface], to)
}

// CanView reports whether the role may read the surface.
func (r Role) CanView(string) bool {
	_, ok := grants[r]
	return ok
}

// CanIngest reports whether the role may replace the batch on surface.
func (r Role) CanIngest(surface string) bool {
	return len(grants[r][surface]) > 0
}
