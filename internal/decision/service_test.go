package decision_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triagedesk/internal/decision"
	"github.com/linnemanlabs/triagedesk/internal/decision/memstore"
	"github.com/linnemanlabs/triagedesk/internal/identity"
	"github.com/linnemanlabs/triagedesk/internal/ledger"
)

var vocabs = map[string]ledger.Vocabulary{
	"public": ledger.AdminVocabulary,
	"admin":  ledger.AdminVocabulary,
	"loan":   ledger.LoanVocabulary,
}

var (
	bankAdmin = identity.Principal{Subject: "rbi-1", Role: identity.CentralBankAdmin}
	loanAdmin = identity.Principal{Subject: "manit-1", Role: identity.ManitAdmin}
	viewer    = identity.Principal{Subject: "guest", Role: identity.Viewer}
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []*decision.Decision
	done chan struct{}
	err  error
}

func newNotifier() *fakeNotifier { return &fakeNotifier{done: make(chan struct{}, 8)} }

func (f *fakeNotifier) Send(_ context.Context, d *decision.Decision) error {
	f.mu.Lock()
	f.sent = append(f.sent, d)
	f.mu.Unlock()
	f.done <- struct{}{}
	return f.err
}

type failingStore struct{ decision.Store }

func (failingStore) Record(context.Context, *decision.Decision, ledger.Status) error {
	return errors.New("disk full")
}

func req(surface, id string, from, to ledger.Status) ledger.ConfirmRequest {
	return ledger.ConfirmRequest{Surface: surface, TransactionID: id, From: from, To: to}
}

func TestConfirm_RecordsDecision(t *testing.T) {
	t.Parallel()

	svc := decision.NewService(memstore.New(), vocabs, log.Nop(), nil, nil)
	ctx := context.Background()

	d, err := svc.Confirm(ctx, bankAdmin, req("admin", "tx-1", ledger.Pending, ledger.Verified))
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if d.ID == "" || d.Actor != "rbi-1" || d.Role != "centralbank_admin" || d.CreatedAt.IsZero() {
		t.Errorf("decision = %+v", d)
	}

	cur, ok, err := svc.Current(ctx, "admin", "tx-1")
	if err != nil || !ok || cur.ID != d.ID {
		t.Errorf("Current = %+v ok=%v err=%v", cur, ok, err)
	}
}

func TestConfirm_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		p    identity.Principal
		req  ledger.ConfirmRequest
		want error
	}{
		{"viewer forbidden", viewer, req("admin", "tx", ledger.Pending, ledger.Blocked), ledger.ErrForbidden},
		{"bank admin on loan", bankAdmin, req("loan", "tx", ledger.Pending, ledger.Verified), ledger.ErrForbidden},
		{"loan admin on admin", loanAdmin, req("admin", "tx", ledger.Pending, ledger.Blocked), ledger.ErrForbidden},
		{"stale from", bankAdmin, req("admin", "tx", ledger.Blocked, ledger.Verified), ledger.ErrConflict},
		{"unknown surface", bankAdmin, req("branch", "tx", ledger.Pending, ledger.Blocked), decision.ErrUnknownSurface},
		{"disallowed transition", loanAdmin, req("loan", "tx", ledger.Verified, ledger.Received), ledger.ErrInvalidTransition},
		{"missing id", bankAdmin, req("admin", "", ledger.Pending, ledger.Blocked), ledger.ErrInvalidTransition},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			svc := decision.NewService(memstore.New(), vocabs, log.Nop(), nil, nil)
			if _, err := svc.Confirm(context.Background(), tc.p, tc.req); !errors.Is(err, tc.want) {
				t.Errorf("err = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestConfirm_StoreFailureIsServerError(t *testing.T) {
	t.Parallel()

	svc := decision.NewService(failingStore{memstore.New()}, vocabs, log.Nop(), nil, nil)
	_, err := svc.Confirm(context.Background(), bankAdmin, req("admin", "tx", ledger.Pending, ledger.Blocked))
	if !errors.Is(err, ledger.ErrServerError) {
		t.Fatalf("err = %v, want ErrServerError", err)
	}
}

func TestConfirm_ConflictAfterConcurrentDecision(t *testing.T) {
	t.Parallel()

	svc := decision.NewService(memstore.New(), vocabs, log.Nop(), nil, nil)
	ctx := context.Background()

	// two reviewers both saw tx-9 as pending
	if _, err := svc.Confirm(ctx, bankAdmin, req("public", "tx-9", ledger.Pending, ledger.Blocked)); err != nil {
		t.Fatalf("first: %v", err)
	}
	_, err := svc.Confirm(ctx, bankAdmin, req("public", "tx-9", ledger.Pending, ledger.Verified))
	if !errors.Is(err, ledger.ErrConflict) || !errors.Is(err, ledger.ErrRemoteRejected) {
		t.Fatalf("second err = %v, want ErrConflict", err)
	}

	h, _ := svc.History(ctx, "public", "tx-9")
	if len(h) != 1 || h[0].To != ledger.Blocked {
		t.Errorf("History = %v", h)
	}
}

func TestConfirm_NotifiesOnBlock(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := decision.NewMetrics(reg)
	n := newNotifier()
	svc := decision.NewService(memstore.New(), vocabs, log.Nop(), m, n)
	ctx := context.Background()

	if _, err := svc.Confirm(ctx, bankAdmin, req("admin", "tx-1", ledger.Pending, ledger.Verified)); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if _, err := svc.Confirm(ctx, bankAdmin, req("admin", "tx-2", ledger.Pending, ledger.Blocked)); err != nil {
		t.Fatalf("block: %v", err)
	}

	select {
	case <-n.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notifier not called for block")
	}
	n.mu.Lock()
	if len(n.sent) != 1 || n.sent[0].TransactionID != "tx-2" {
		t.Errorf("sent = %v, want only tx-2", n.sent)
	}
	n.mu.Unlock()

	if got := testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("admin", "blocked", "confirmed")); got != 1 {
		t.Errorf("decisions{blocked,confirmed} = %v", got)
	}
	if _, err := svc.Confirm(ctx, viewer, req("admin", "tx-3", ledger.Pending, ledger.Blocked)); err == nil {
		t.Fatal("viewer confirmed")
	}
	if got := testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("admin", "blocked", "forbidden")); got != 1 {
		t.Errorf("decisions{blocked,forbidden} = %v", got)
	}
}

func TestLocalAuthority(t *testing.T) {
	t.Parallel()

	secret := []byte("0123456789abcdef0123456789abcdef")
	iss, err := identity.NewIssuer(secret, time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	adminTok, _, _ := iss.Issue("rbi-1", "", identity.CentralBankAdmin)
	viewerTok, _, _ := iss.Issue("guest", "", identity.Viewer)

	svc := decision.NewService(memstore.New(), vocabs, log.Nop(), nil, nil)
	auth := decision.NewLocalAuthority(svc, identity.NewVerifier(secret))
	ctx := context.Background()

	r := req("admin", "tx-1", ledger.Pending, ledger.Blocked)
	r.Credential = adminTok
	if err := auth.Confirm(ctx, r); err != nil {
		t.Fatalf("Confirm: %v", err)
	}

	r = req("admin", "tx-2", ledger.Pending, ledger.Blocked)
	r.Credential = viewerTok
	if err := auth.Confirm(ctx, r); !errors.Is(err, ledger.ErrForbidden) {
		t.Errorf("viewer err = %v, want ErrForbidden", err)
	}

	r.Credential = "garbage"
	if err := auth.Confirm(ctx, r); !errors.Is(err, ledger.ErrUnauthorized) {
		t.Errorf("bad token err = %v, want ErrUnauthorized", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	r.Credential = adminTok
	if err := auth.Confirm(cctx, r); !errors.Is(err, ledger.ErrRemoteUnreachable) {
		t.Errorf("cancelled err = %v, want ErrRemoteUnreachable", err)
	}
}
