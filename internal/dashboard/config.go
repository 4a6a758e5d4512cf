package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/linnemanlabs/triagedesk/internal/batch"
	"github.com/linnemanlabs/triagedesk/internal/ledger"
	"github.com/linnemanlabs/triagedesk/internal/netgraph"
)

// Kind names a dashboard surface.
type Kind string

const (
	Public Kind = "public"
	Admin  Kind = "admin"
	Loan   Kind = "loan"
)

// Kinds lists every surface.
var Kinds = []Kind{Public, Admin, Loan}

// ParseKind maps a path segment to a Kind.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case Public, Admin, Loan:
		return k, nil
	}
	return "", fmt.Errorf("unknown surface %q", s)
}

// DefaultConfirmTimeout bounds one authority round trip.
const DefaultConfirmTimeout = 10 * time.Second

// Config parameterizes a surface.
type Config struct {
	Kind       Kind
	Vocabulary ledger.Vocabulary

	// Dimensions are the group keys broken out in stats.
	Dimensions []string

	Build  netgraph.BuildOptions
	Layout netgraph.Config

	ConfirmTimeout time.Duration
}

// DefaultConfig returns the stock configuration for kind.
func DefaultConfig(kind Kind) Config {
	c := Config{
		Kind:           kind,
		Vocabulary:     ledger.AdminVocabulary,
		Build:          netgraph.DefaultBuildOptions,
		Layout:         netgraph.DefaultConfig,
		ConfirmTimeout: DefaultConfirmTimeout,
	}
	if kind == Loan {
		c.Vocabulary = ledger.LoanVocabulary
		c.Dimensions = []string{batch.DimDepartment, batch.DimSemester}
	}
	return c
}
