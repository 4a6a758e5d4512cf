// Package claude writes narrative summaries with the Anthropic Messages API.
package claude

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "claude-sonnet-4-5"

// DefaultMaxTokens bounds the length of a summary.
const DefaultMaxTokens = 1024

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("claude returned no text")

// Client produces summaries from a system instruction and a prompt.
type Client struct {
	sdk       anthropic.Client
	model     string
	maxTokens int64
}

// Option configures a Client.
type Option func(*clientOptions)

type clientOptions struct {
	baseURL   string
	maxTokens int64
	timeout   time.Duration
}

// WithBaseURL points the client at a different API host.
func WithBaseURL(u string) Option {
	return func(o *clientOptions) { o.baseURL = u }
}

// WithMaxTokens overrides DefaultMaxTokens.
func WithMaxTokens(n int64) Option {
	return func(o *clientOptions) { o.maxTokens = n }
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.timeout = d }
}

// New creates a new Claude API client with the given API key and model name.
func New(apiKey, model string, opts ...Option) *Client {
	o := clientOptions{maxTokens: DefaultMaxTokens, timeout: 120 * time.Second}
	for _, fn := range opts {
		fn(&o)
	}
	if model == "" {
		model = DefaultModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{
			Timeout:   o.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}),
		option.WithMaxRetries(1),
	}
	if o.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(o.baseURL))
	}

	return &Client{
		sdk:       anthropic.NewClient(reqOpts...),
		model:     model,
		maxTokens: o.maxTokens,
	}
}

// Summarize sends prompt under the system instruction and returns the text
// of the reply.
func (c *Client) Summarize(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	msg, err := c.sdk.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude messages: %w", err)
	}

	text := textOf(msg)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// textOf joins the text blocks of msg.
func textOf(msg *anthropic.Message) string {
	if msg == nil {
		return ""
	}
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" && strings.TrimSpace(block.Text) != "" {
			parts = append(parts, strings.TrimSpace(block.Text))
		}
	}
	return strings.Join(parts, "\n\n")
}
