package authority

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/triagedesk/internal/ledger"
)

func request() ledger.ConfirmRequest {
	return ledger.ConfirmRequest{
		Surface:       "admin",
		TransactionID: "tx-1",
		BatchID:       "01J0BATCH",
		From:          ledger.Pending,
		To:            ledger.Blocked,
		Generation:    7,
		Credential:    "tok-123",
	}
}

func TestConfirm_SendsRequest(t *testing.T) {
	t.Parallel()

	var got confirmBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/v1/decisions" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if h := r.Header.Get("Authorization"); h != "Bearer tok-123" {
			t.Errorf("Authorization = %q", h)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c, err := New(srv.URL+"/", time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Confirm(context.Background(), request()); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if got.TransactionID != "tx-1" || got.From != ledger.Pending || got.To != ledger.Blocked || got.Generation != 7 || got.BatchID != "01J0BATCH" {
		t.Errorf("body = %+v", got)
	}
}

func TestConfirm_StatusMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		status    int
		want      error
		retryable bool
	}{
		{"unauthorized", http.StatusUnauthorized, ledger.ErrUnauthorized, false},
		{"forbidden", http.StatusForbidden, ledger.ErrForbidden, false},
		{"conflict", http.StatusConflict, ledger.ErrConflict, false},
		{"server error", http.StatusInternalServerError, ledger.ErrServerError, true},
		{"unprocessable", http.StatusUnprocessableEntity, ledger.ErrServerError, true},
		{"unavailable", http.StatusServiceUnavailable, ledger.ErrRemoteUnreachable, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, `{"error":"nope"}`, tc.status)
			}))
			defer srv.Close()

			c, _ := New(srv.URL, time.Second)
			err := c.Confirm(context.Background(), request())
			if !errors.Is(err, tc.want) {
				t.Fatalf("err = %v, want %v", err, tc.want)
			}
			if ledger.Retryable(err) != tc.retryable {
				t.Errorf("Retryable(%v) = %v", err, !tc.retryable)
			}
		})
	}
}

func TestConfirm_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	c, _ := New(url, time.Second)
	if err := c.Confirm(context.Background(), request()); !errors.Is(err, ledger.ErrRemoteUnreachable) {
		t.Fatalf("err = %v, want ErrRemoteUnreachable", err)
	}
}

func TestConfirm_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	c, _ := New(srv.URL, 50*time.Millisecond)
	if err := c.Confirm(context.Background(), request()); !errors.Is(err, ledger.ErrRemoteUnreachable) {
		t.Fatalf("err = %v, want ErrRemoteUnreachable", err)
	}
}

func TestNew_RejectsBadEndpoint(t *testing.T) {
	t.Parallel()

	for _, ep := range []string{"", "ftp://x", "://bad"} {
		if _, err := New(ep, 0); err == nil {
			t.Errorf("New(%q) accepted", ep)
		}
	}
}

func TestReadError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{`{"error":"transition conflicts"}`, "transition conflicts"},
		{"plain text\n", "plain text"},
		{"", ""},
	}
	for _, tc := range tests {
		if got := readError(strings.NewReader(tc.in)); got != tc.want {
			t.Errorf("readError(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
