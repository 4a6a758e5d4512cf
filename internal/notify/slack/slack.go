// Package slack announces triage decisions to Slack via incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/triagedesk/internal/decision"
	"github.com/linnemanlabs/triagedesk/internal/ledger"
)

const (
	maxFieldLen = 200
	httpTimeout = 10 * time.Second
)

// Notifier sends decisions to a Slack webhook.
type Notifier struct {
	webhookURL string
	client     *http.Client
	logger     log.Logger
}

// New creates a new Slack notifier. If webhookURL is empty, Send is a no-op.
func New(webhookURL string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: httpTimeout},
		logger:     logger,
	}
}

// Send posts a decision to the configured Slack webhook.
// If no webhook URL is configured, it returns nil immediately.
func (n *Notifier) Send(ctx context.Context, d *decision.Decision) error {
	if n.webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(buildMessage(d))
	if err != nil {
		return fmt.Errorf("slack: marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req) //nolint:gosec // G704: webhookURL is from trusted config, not user input
	if err != nil {
		return fmt.Errorf("slack: post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("slack: webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	n.logger.Info(ctx, "decision posted to slack", "decision_id", d.ID, "transaction_id", d.TransactionID)
	return nil
}

func buildMessage(d *decision.Decision) map[string]any {
	return map[string]any{
		"blocks": []map[string]any{
			headerBlock(d),
			{"type": "divider"},
			fieldsBlock(d),
			{"type": "divider"},
			contextBlock(d),
		},
	}
}

func headerBlock(d *decision.Decision) map[string]any {
	text := fmt.Sprintf("%s Transaction %s: %s", statusEmoji(d.To), d.To, truncate(d.TransactionID, maxFieldLen))

	return map[string]any{
		"type": "header",
		"text": map[string]any{
			"type": "plain_text",
			"text": text,
		},
	}
}

func fieldsBlock(d *decision.Decision) map[string]any {
	fields := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Surface:* %s", escape(truncate(d.Surface, maxFieldLen))),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Transition:* %s → %s", escape(string(d.From)), escape(string(d.To))),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Reviewer:* %s", escape(truncate(d.Actor, maxFieldLen))),
		},
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("*Role:* %s", escape(d.Role)),
		},
	}

	return map[string]any{
		"type":   "section",
		"fields": fields,
	}
}

func contextBlock(d *decision.Decision) map[string]any {
	ts := d.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	elements := []map[string]any{
		{
			"type": "mrkdwn",
			"text": fmt.Sprintf("triagedesk • decision %s • %s", d.ID, ts.UTC().Format("2006-01-02 15:04 UTC")),
		},
	}

	return map[string]any{
		"type":     "context",
		"elements": elements,
	}
}

func statusEmoji(s ledger.Status) string {
	switch s {
	case ledger.Blocked:
		return "\U0001f534" // red circle
	case ledger.Verified:
		return "\U0001f7e2" // green circle
	default:
		return "\U0001f7e1" // yellow circle
	}
}

var mrkdwnEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

// escape neutralises Slack control sequences such as <!channel> in
// user-controlled text.
func escape(s string) string {
	return mrkdwnEscaper.Replace(s)
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
