// Package webhook delivers report payloads to Slack-compatible incoming webhooks.
package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/robalyx/jointracker/internal/report"
	"github.com/robalyx/jointracker/internal/setup/config"
	"go.uber.org/zap"
)

var (
	// ErrInvalidEndpoint indicates an endpoint that is not an absolute http(s) URL.
	ErrInvalidEndpoint = errors.New("invalid webhook endpoint")
	// ErrUnexpectedStatus indicates the endpoint answered with a non-2xx status.
	ErrUnexpectedStatus = errors.New("unexpected webhook response status")
)

// maxErrorBody bounds how much of a failed response is kept for the error message.
const maxErrorBody = 512

// Sender posts payloads to webhook endpoints. Requests are never retried.
type Sender struct {
	client    *http.Client
	userAgent string
	logger    *zap.Logger
}

// NewSender creates a Sender with a pooled HTTP client and the configured timeout.
func NewSender(cfg *config.Webhook, logger *zap.Logger) *Sender {
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = time.Duration(cfg.Timeout) * time.Millisecond

	return NewSenderWithClient(client, cfg.UserAgent, logger)
}

// NewSenderWithClient creates a Sender that uses the given HTTP client.
func NewSenderWithClient(client *http.Client, userAgent string, logger *zap.Logger) *Sender {
	return &Sender{
		client:    client,
		userAgent: userAgent,
		logger:    logger.Named("webhook"),
	}
}

// ValidateEndpoint checks that endpoint is an absolute http or https URL.
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidEndpoint, err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("%w: scheme must be http or https", ErrInvalidEndpoint)
	}

	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}

	return nil
}

// Send posts the payload to endpoint as a Slack block message.
func (s *Sender) Send(ctx context.Context, endpoint string, payload *report.Payload) error {
	body, err := sonic.Marshal(NewMessage(payload))
	if err != nil {
		return fmt.Errorf("failed to encode webhook message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("%w: %d %s", ErrUnexpectedStatus, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	_, _ = io.Copy(io.Discard, resp.Body)

	s.logger.Debug("Webhook delivered",
		zap.String("title", payload.Title),
		zap.String("date", payload.Date),
		zap.Int("status", resp.StatusCode))

	return nil
}
