// Package authority is the HTTP client side of the decision API. It turns
// every response into the ledger's error taxonomy.
package authority

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/linnemanlabs/triagedesk/internal/ledger"
)

// DefaultTimeout bounds a single confirmation.
const DefaultTimeout = 10 * time.Second

// Client confirms transitions against a remote decision API.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// New returns a Client for the decision API at endpoint, for example
// https://authority.internal. timeout <= 0 uses DefaultTimeout.
func New(endpoint string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid authority endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid authority endpoint %q: scheme must be http or https", endpoint)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		endpoint: strings.TrimRight(endpoint, "/"),
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

type confirmBody struct {
	Surface       string        `json:"surface"`
	TransactionID string        `json:"transaction_id"`
	BatchID       string        `json:"batch_id"`
	From          ledger.Status `json:"from"`
	To            ledger.Status `json:"to"`
	Generation    uint64        `json:"generation"`
}

// Confirm implements ledger.Authority. It never retries.
func (c *Client) Confirm(ctx context.Context, req ledger.ConfirmRequest) error {
	body, err := json.Marshal(confirmBody{
		Surface:       req.Surface,
		TransactionID: req.TransactionID,
		BatchID:       req.BatchID,
		From:          req.From,
		To:            req.To,
		Generation:    req.Generation,
	})
	if err != nil {
		return fmt.Errorf("%w: marshal request: %w", ledger.ErrServerError, err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/v1/decisions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %w", ledger.ErrRemoteUnreachable, err)
	}
	hreq.Header.Set("Content-Type", "application/json")
	if req.Credential != "" {
		hreq.Header.Set("Authorization", "Bearer "+req.Credential)
	}

	resp, err := c.httpClient.Do(hreq) //nolint:gosec // endpoint is from trusted config
	if err != nil {
		return fmt.Errorf("%w: %w", ledger.ErrRemoteUnreachable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	msg := readError(resp.Body)
	return statusError(resp.StatusCode, msg)
}

// statusError maps a response status to nil or a ledger error.
func statusError(code int, msg string) error {
	var base error
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		base = ledger.ErrUnauthorized
	case code == http.StatusForbidden:
		base = ledger.ErrForbidden
	case code == http.StatusConflict:
		base = ledger.ErrConflict
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests,
		code == http.StatusBadGateway, code == http.StatusServiceUnavailable, code == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: authority returned %d: %s", ledger.ErrRemoteUnreachable, code, msg)
	default:
		base = ledger.ErrServerError
	}
	if msg == "" {
		return fmt.Errorf("%w (status %d)", base, code)
	}
	return fmt.Errorf("%w (status %d): %s", base, code, msg)
}

func readError(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 4096))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		return body.Error
	}
	return strings.TrimSpace(string(raw))
}
