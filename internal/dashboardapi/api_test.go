package dashboardapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triagedesk/internal/authmw"
	"github.com/linnemanlabs/triagedesk/internal/dashboard"
	"github.com/linnemanlabs/triagedesk/internal/identity"
	"github.com/linnemanlabs/triagedesk/internal/ledger"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

const fraudCSV = `TXN_TIMESTAMP,TRANSACTION_ID,AMOUNT,PAYER_VPA,BENEFICIARY_VPA,RISK_SCORE,RISK_FACTORS
2026-03-01 10:00:00,T1,1500,alice@upi,shop@upi,92,Unusual amount|New device
2026-03-01 10:05:00,T2,200,bob@upi,shop@upi,15,
2026-03-01 10:07:00,T3,9000,alice@upi,carol@upi,65,Odd time
`

type authorityFunc func(ctx context.Context, req ledger.ConfirmRequest) error

func (f authorityFunc) Confirm(ctx context.Context, req ledger.ConfirmRequest) error {
	return f(ctx, req)
}

type fixture struct {
	router   chi.Router
	issuer   *identity.Issuer
	surfaces map[dashboard.Kind]*dashboard.Surface
}

func newFixture(t testing.TB, auth ledger.Authority, opts ...Option) *fixture {
	t.Helper()

	issuer, err := identity.NewIssuer(secret, time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}
	f := &fixture{issuer: issuer, surfaces: make(map[dashboard.Kind]*dashboard.Surface)}
	var list []*dashboard.Surface
	for _, k := range []dashboard.Kind{dashboard.Admin, dashboard.Loan} {
		cfg := dashboard.DefaultConfig(k)
		cfg.ConfirmTimeout = time.Second
		s := dashboard.NewSurface(cfg, auth, log.Nop())
		f.surfaces[k] = s
		list = append(list, s)
	}
	t.Cleanup(func() {
		for _, s := range list {
			s.Wait()
		}
	})

	f.router = chi.NewRouter()
	f.router.Group(func(r chi.Router) {
		r.Use(authmw.BearerToken(identity.NewVerifier(secret)))
		New(log.Nop(), list, opts...).RegisterRoutes(r)
	})
	return f
}

func (f *fixture) token(t testing.TB, role identity.Role) string {
	t.Helper()
	tok, _, err := f.issuer.Issue("user-"+string(role), "Test", role)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (f *fixture) do(t *testing.T, role identity.Role, method, path, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if role != "" {
		req.Header.Set("Authorization", "Bearer "+f.token(t, role))
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) upload(t *testing.T) {
	t.Helper()
	rec := f.do(t, identity.CentralBankAdmin, http.MethodPost, "/api/v1/surfaces/admin/batch?name=day1.csv", "text/csv", fraudCSV)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload = %d: %s", rec.Code, rec.Body.String())
	}
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func confirmAll(context.Context, ledger.ConfirmRequest) error { return nil }

//  New / constructor

func TestNew_NoSurfaces_Panics(t *testing.T) {
	t.Parallel()

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("New with no surfaces did not panic")
		}
	}()
	New(nil, nil)
}

// Routing and access

func TestRoutes_Access(t *testing.T) {
	t.Parallel()

	f := newFixture(t, authorityFunc(confirmAll))

	tests := []struct {
		name       string
		role       identity.Role
		method     string
		path       string
		wantStatus int
	}{
		{"no token", "", http.MethodGet, "/api/v1/surfaces/admin/stats", http.StatusUnauthorized},
		{"unknown surface", identity.Viewer, http.MethodGet, "/api/v1/surfaces/treasury/stats", http.StatusNotFound},
		{"viewer reads stats", identity.Viewer, http.MethodGet, "/api/v1/surfaces/loan/stats", http.StatusOK},
		{"viewer cannot upload", identity.Viewer, http.MethodPost, "/api/v1/surfaces/admin/batch", http.StatusForbidden},
		{"loan admin cannot upload fraud", identity.ManitAdmin, http.MethodPost, "/api/v1/surfaces/admin/batch", http.StatusForbidden},
		{"graph before batch", identity.Viewer, http.MethodGet, "/api/v1/surfaces/admin/graph", http.StatusNotFound},
		{"report before batch", identity.Viewer, http.MethodGet, "/api/v1/surfaces/admin/report", http.StatusNotFound},
		{"stream disabled", identity.Viewer, http.MethodGet, "/api/v1/surfaces/admin/stream", http.StatusNotFound},
		{"stats wrong method", identity.Viewer, http.MethodPost, "/api/v1/surfaces/admin/stats", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := f.do(t, tt.role, tt.method, tt.path, "text/csv", "")
			if rec.Code != tt.wantStatus {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, rec.Code, tt.wantStatus)
			}
		})
	}
}

// Upload

func TestUpload_CSV(t *testing.T) {
	t.Parallel()

	f := newFixture(t, authorityFunc(confirmAll))
	rec := f.do(t, identity.CentralBankAdmin, http.MethodPost, "/api/v1/surfaces/admin/batch", "text/csv", fraudCSV)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	st := decode[map[string]any](t, rec)
	if st["total"] != float64(3) || st["fraud_count"] != float64(2) {
		t.Errorf("stats = %v", st)
	}

	rows := decode[[]map[string]any](t, f.do(t, identity.Viewer, http.MethodGet, "/api/v1/surfaces/admin/transactions?severity=critical", "", ""))
	if len(rows) != 1 || rows[0]["id"] != "T1" || rows[0]["status"] != "pending" {
		t.Errorf("critical rows = %v", rows)
	}
}

func TestUpload_JSON(t *testing.T) {
	t.Parallel()

	f := newFixture(t, authorityFunc(confirmAll))
	body := `{"transactions":[
		{"txn_timestamp":"2026-03-01T10:00:00Z","transaction_id":"J1","amount":250,"payer_vpa":"a@upi","beneficiary_vpa":"b@upi","risk_score":70}
	]}`
	rec := f.do(t, identity.CentralBankAdmin, http.MethodPost, "/api/v1/surfaces/admin/batch", "application/json; charset=utf-8", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if _, ok := f.surfaces[dashboard.Admin].Get("J1"); !ok {
		t.Error("J1 not ingested")
	}
}

func TestUpload_Rejects(t *testing.T) {
	t.Parallel()

	f := newFixture(t, authorityFunc(confirmAll), WithMaxUpload(64))

	tests := []struct {
		name       string
		body       string
		wantStatus int
	}{
		{"empty", "", http.StatusBadRequest},
		{"missing column", "TRANSACTION_ID,AMOUNT\nT1,10\n", http.StatusBadRequest},
		{"too large", fraudCSV, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		rec := f.do(t, identity.CentralBankAdmin, http.MethodPost, "/api/v1/surfaces/admin/batch", "text/csv", tt.body)
		if rec.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d (%s)", tt.name, rec.Code, tt.wantStatus, rec.Body.String())
		}
	}
	if st := f.surfaces[dashboard.Admin].Stats(); st.Total != 0 {
		t.Errorf("rejected upload changed stats: %+v", st)
	}
}

// Transitions

func TestTransition_Optimistic(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	f := newFixture(t, authorityFunc(func(ctx context.Context, _ ledger.ConfirmRequest) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	f.upload(t)

	rec := f.do(t, identity.CentralBankAdmin, http.MethodPost, "/api/v1/surfaces/admin/transactions/T1/status", "application/json", `{"status":"blocked"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[transitionResponse](t, rec)
	if resp.From != ledger.Pending || resp.To != ledger.Blocked || resp.State != "applied" {
		t.Errorf("response = %+v", resp)
	}

	row := decode[map[string]any](t, f.do(t, identity.Viewer, http.MethodGet, "/api/v1/surfaces/admin/transactions/T1", "", ""))
	if row["status"] != "blocked" || row["confirmed"] != false {
		t.Errorf("row before confirm = %v", row)
	}

	rec = f.do(t, identity.CentralBankAdmin, http.MethodPost, "/api/v1/surfaces/admin/transactions/T1/status", "application/json", `{"status":"verified"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("second transition = %d, want 409", rec.Code)
	}

	close(release)
	f.surfaces[dashboard.Admin].Wait()

	row = decode[map[string]any](t, f.do(t, identity.Viewer, http.MethodGet, "/api/v1/surfaces/admin/transactions/T1", "", ""))
	if row["status"] != "blocked" || row["confirmed"] != true {
		t.Errorf("row after confirm = %v", row)
	}
}

func TestTransition_Wait(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantState  string
		wantRow    ledger.Status
	}{
		{"confirmed", nil, http.StatusOK, "confirmed", ledger.Verified},
		{"forbidden", ledger.ErrForbidden, http.StatusForbidden, "reverted", ledger.Pending},
		{"conflict", ledger.ErrConflict, http.StatusConflict, "reverted", ledger.Pending},
		{"server error", ledger.ErrServerError, http.StatusBadGateway, "reverted", ledger.Pending},
		{"unreachable", ledger.ErrRemoteUnreachable, http.StatusBadGateway, "reverted", ledger.Pending},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, authorityFunc(func(context.Context, ledger.ConfirmRequest) error { return tt.err }))
			f.upload(t)

			rec := f.do(t, identity.CentralBankAdmin, http.MethodPost, "/api/v1/surfaces/admin/transactions/T2/status", "application/json", `{"status":"verified","wait":true}`)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if resp := decode[transitionResponse](t, rec); resp.State != tt.wantState {
				t.Errorf("state = %q, want %q", resp.State, tt.wantState)
			}
			if row, _ := f.surfaces[dashboard.Admin].Get("T2"); row.Status != tt.wantRow || !row.Confirmed {
				t.Errorf("row = %s confirmed=%v, want %s", row.Status, row.Confirmed, tt.wantRow)
			}
		})
	}
}

func TestTransition_UnauthorizedClearsSurface(t *testing.T) {
	t.Parallel()

	f := newFixture(t, authorityFunc(func(context.Context, ledger.ConfirmRequest) error { return ledger.ErrUnauthorized }))
	f.upload(t)

	rec := f.do(t, identity.CentralBankAdmin, http.MethodPost, "/api/v1/surfaces/admin/transactions/T1/status", "application/json", `{"status":"blocked","wait":true}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if resp := decode[transitionResponse](t, rec); resp.State != "cleared" {
		t.Errorf("state = %q", resp.State)
	}
	if st := decode[map[string]any](t, f.do(t, identity.Viewer, http.MethodGet, "/api/v1/surfaces/admin/stats", "", "")); st["total"] != float64(0) {
		t.Errorf("stats after clear = %v", st)
	}

	rec = f.do(t, identity.CentralBankAdmin, http.MethodPost, "/api/v1/surfaces/admin/batch", "text/csv", fraudCSV)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("upload while expired = %d, want 401", rec.Code)
	}

	if rec := f.do(t, identity.CentralBankAdmin, http.MethodPost, "/api/v1/surfaces/admin/session", "", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("session = %d", rec.Code)
	}
	f.upload(t)
}

func TestTransition_Rejects(t *testing.T) {
	t.Parallel()

	f := newFixture(t, authorityFunc(confirmAll))
	f.upload(t)

	tests := []struct {
		name       string
		id         string
		body       string
		wantStatus int
	}{
		{"unknown id", "T404", `{"status":"blocked"}`, http.StatusNotFound},
		{"bad json", "T1", `{`, http.StatusBadRequest},
		{"same status", "T1", `{"status":"pending"}`, http.StatusUnprocessableEntity},
		{"foreign status", "T1", `{"status":"received"}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		rec := f.do(t, identity.CentralBankAdmin, http.MethodPost, "/api/v1/surfaces/admin/transactions/"+tt.id+"/status", "application/json", tt.body)
		if rec.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d", tt.name, rec.Code, tt.wantStatus)
		}
	}
}

func TestLogout(t *testing.T) {
	t.Parallel()

	f := newFixture(t, authorityFunc(confirmAll))
	f.upload(t)

	if rec := f.do(t, identity.CentralBankAdmin, http.MethodDelete, "/api/v1/surfaces/admin/session", "", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("logout = %d", rec.Code)
	}
	rec := f.do(t, identity.CentralBankAdmin, http.MethodPost, "/api/v1/surfaces/admin/transactions/T1/status", "application/json", `{"status":"blocked"}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("transition after logout = %d, want 404 (batch dropped)", rec.Code)
	}
}

func TestSession_RequiresIngestRole(t *testing.T) {
	t.Parallel()

	f := newFixture(t, authorityFunc(confirmAll))
	f.upload(t)

	tests := []struct {
		name   string
		role   identity.Role
		method string
		path   string
		want   int
	}{
		{"viewer logout", identity.Viewer, http.MethodDelete, "/api/v1/surfaces/admin/session", http.StatusForbidden},
		{"viewer authenticate", identity.Viewer, http.MethodPost, "/api/v1/surfaces/admin/session", http.StatusForbidden},
		{"other surface admin logout", identity.ManitAdmin, http.MethodDelete, "/api/v1/surfaces/admin/session", http.StatusForbidden},
		{"admin authenticate", identity.CentralBankAdmin, http.MethodPost, "/api/v1/surfaces/admin/session", http.StatusNoContent},
	}
	for _, tt := range tests {
		if rec := f.do(t, tt.role, tt.method, tt.path, "", ""); rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d (%s)", tt.name, rec.Code, tt.want, rec.Body.String())
		}
	}

	st := decode[map[string]any](t, f.do(t, identity.Viewer, http.MethodGet, "/api/v1/surfaces/admin/stats", "", ""))
	if st["total"] == float64(0) {
		t.Errorf("batch dropped by a forbidden logout: %v", st)
	}
	if rec := f.do(t, identity.CentralBankAdmin, http.MethodDelete, "/api/v1/surfaces/admin/session", "", ""); rec.Code != http.StatusNoContent {
		t.Errorf("admin logout = %d", rec.Code)
	}
	st = decode[map[string]any](t, f.do(t, identity.Viewer, http.MethodGet, "/api/v1/surfaces/admin/stats", "", ""))
	if st["total"] != float64(0) || st["accuracy"] != float64(1) {
		t.Errorf("stats after logout = %v", st)
	}
}

// Graph

func TestGraph(t *testing.T) {
	t.Parallel()

	f := newFixture(t, authorityFunc(confirmAll))
	f.upload(t)

	snap := decode[map[string]any](t, f.do(t, identity.Viewer, http.MethodGet, "/api/v1/surfaces/admin/graph", "", ""))
	nodes, _ := snap["nodes"].([]any)
	if len(nodes) != 4 {
		t.Errorf("nodes = %d, want 4", len(nodes))
	}

	before := decode[map[string]any](t, f.do(t, identity.Viewer, http.MethodPost, "/api/v1/surfaces/admin/graph/reset", "", ""))
	after := decode[map[string]any](t, f.do(t, identity.Viewer, http.MethodPost, "/api/v1/surfaces/admin/graph/zoom-in", "", ""))
	if after["zoom"].(float64) < before["zoom"].(float64) {
		t.Errorf("zoom-in did not zoom: %v -> %v", before["zoom"], after["zoom"])
	}

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
	}{
		{"click", "/graph/nodes/alice@upi/click", "", http.StatusOK},
		{"click unknown", "/graph/nodes/nobody@upi/click", "", http.StatusNotFound},
		{"center", "/graph/center/shop@upi", "", http.StatusOK},
		{"drag", "/graph/nodes/bob@upi/drag", `{"x":10,"y":20}`, http.StatusNoContent},
		{"drag bad body", "/graph/nodes/bob@upi/drag", `nope`, http.StatusBadRequest},
		{"drag out of range", "/graph/nodes/bob@upi/drag", `{"x":1e300,"y":1e300}`, http.StatusUnprocessableEntity},
		{"release", "/graph/nodes/bob@upi/release", "", http.StatusOK},
		{"release unknown", "/graph/nodes/nobody@upi/release", "", http.StatusNotFound},
		{"resize", "/graph/size", `{"width":400,"height":300}`, http.StatusOK},
		{"resize invalid", "/graph/size", `{"width":0,"height":300}`, http.StatusBadRequest},
		{"zoom out", "/graph/zoom-out", "", http.StatusOK},
	}
	for _, tt := range tests {
		rec := f.do(t, identity.Viewer, http.MethodPost, "/api/v1/surfaces/admin"+tt.path, "application/json", tt.body)
		if rec.Code != tt.wantStatus {
			t.Errorf("%s: status = %d, want %d (%s)", tt.name, rec.Code, tt.wantStatus, rec.Body.String())
		}
	}

	rec := f.do(t, identity.Viewer, http.MethodGet, "/api/v1/surfaces/admin/graph", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("graph after release = %d", rec.Code)
	}
	if nodes, _ := decode[map[string]any](t, rec)["nodes"].([]any); len(nodes) != 4 {
		t.Errorf("graph after release has %d nodes, want 4", len(nodes))
	}

	click := decode[map[string]any](t, f.do(t, identity.Viewer, http.MethodPost, "/api/v1/surfaces/admin/graph/nodes/alice@upi/click", "", ""))
	node, _ := click["node"].(map[string]any)
	if node["id"] != "alice@upi" || node["label"] != "alice" || node["transaction_count"] != float64(2) {
		t.Errorf("clicked node = %v", node)
	}
}

// Report

func TestReport(t *testing.T) {
	t.Parallel()

	f := newFixture(t, authorityFunc(confirmAll))
	f.upload(t)

	doc := decode[map[string]any](t, f.do(t, identity.Viewer, http.MethodGet, "/api/v1/surfaces/admin/report", "", ""))
	if doc["title"] != "Fraud Detection Report" {
		t.Errorf("title = %v", doc["title"])
	}
	top, _ := doc["top_risky"].([]any)
	if len(top) != 3 || top[0].(map[string]any)["id"] != "T1" {
		t.Errorf("top_risky = %v", doc["top_risky"])
	}

	rec := f.do(t, identity.Viewer, http.MethodGet, "/api/v1/surfaces/admin/report?format=markdown", "", "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/markdown") {
		t.Fatalf("markdown report = %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), "admin_report_") {
		t.Errorf("Content-Disposition = %q", rec.Header().Get("Content-Disposition"))
	}
	if !strings.Contains(rec.Body.String(), "# Fraud Detection Report") {
		t.Errorf("markdown body:\n%s", rec.Body.String())
	}
}

// Stream

type fakeStream struct{ got dashboard.Kind }

func (s *fakeStream) HandleWebSocket(w http.ResponseWriter, _ *http.Request, k dashboard.Kind) {
	s.got = k
	w.WriteHeader(http.StatusNoContent)
}

func TestStream_PassesSurface(t *testing.T) {
	t.Parallel()

	st := &fakeStream{}
	f := newFixture(t, authorityFunc(confirmAll), WithStream(st))
	rec := f.do(t, identity.Viewer, http.MethodGet, "/api/v1/surfaces/loan/stream", "", "")
	if rec.Code != http.StatusNoContent || st.got != dashboard.Loan {
		t.Errorf("stream = %d surface %q", rec.Code, st.got)
	}
}

func TestTransitionStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{dashboard.ErrNotAuthenticated, http.StatusUnauthorized},
		{ledger.ErrUnauthorized, http.StatusUnauthorized},
		{ledger.ErrForbidden, http.StatusForbidden},
		{ledger.ErrConflict, http.StatusConflict},
		{ledger.ErrTransitionInFlight, http.StatusConflict},
		{dashboard.ErrStaleResponse, http.StatusConflict},
		{ledger.ErrInvalidTransition, http.StatusUnprocessableEntity},
		{ledger.ErrServerError, http.StatusBadGateway},
		{ledger.ErrRemoteUnreachable, http.StatusBadGateway},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := transitionStatus(tt.err); got != tt.want {
			t.Errorf("transitionStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func FuzzUpload(f *testing.F) {
	f.Add(fraudCSV)
	f.Add("TRANSACTION_ID,AMOUNT\n")
	f.Add("\ufeffTXN_TIMESTAMP,TRANSACTION_ID,AMOUNT,PAYER_VPA,BENEFICIARY_VPA,RISK_SCORE\n2026-01-01,X,-1,a,b,101\n")
	f.Add(`"unterminated`)

	fx := newFixture(f, authorityFunc(confirmAll))
	tok := fx.token(f, identity.CentralBankAdmin)

	f.Fuzz(func(t *testing.T, body string) {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/surfaces/admin/batch", strings.NewReader(body))
		req.Header.Set("Content-Type", "text/csv")
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		fx.router.ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated && rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d for %q: %s", rec.Code, body, rec.Body.String())
		}
		var v map[string]any
		if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
			t.Fatalf("non-JSON response: %v", err)
		}
	})
}
