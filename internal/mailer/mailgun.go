package mailer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultMailgunBaseURL = "https://api.mailgun.net"

// maxErrorBodyBytes caps how much of an error response is kept for logs
// and the job's last_error column.
const maxErrorBodyBytes = 2048

// MailgunConfig holds Mailgun API settings.
type MailgunConfig struct {
	APIKey  string
	Domain  string
	From    string
	BaseURL string
	Timeout time.Duration
}

// MailgunMailer sends email through the Mailgun messages endpoint.
type MailgunMailer struct {
	client  *http.Client
	logger  *slog.Logger
	apiKey  string
	from    string
	sendURL string
}

// NewMailgunMailer creates a Mailgun-backed mailer.
func NewMailgunMailer(cfg MailgunConfig, logger *slog.Logger) (*MailgunMailer, error) {
	if cfg.APIKey == "" || cfg.Domain == "" {
		return nil, fmt.Errorf("mailgun API key and domain are required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("mailgun sender address is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultMailgunBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &MailgunMailer{
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With("component", "mailgun"),
		apiKey:  cfg.APIKey,
		from:    cfg.From,
		sendURL: fmt.Sprintf("%s/v3/%s/messages", strings.TrimRight(baseURL, "/"), cfg.Domain),
	}, nil
}

// Send posts the message to Mailgun. A non-2xx response is returned as a
// *TransportError so callers can count it against the retry budget.
func (m *MailgunMailer) Send(ctx context.Context, email Email) error {
	form := url.Values{}
	form.Set("from", m.from)
	form.Set("to", email.To)
	form.Set("subject", email.Subject)
	if email.HTML != "" {
		form.Set("html", email.HTML)
	}
	if email.Text != "" {
		form.Set("text", email.Text)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.sendURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to build mailgun request: %w", err)
	}
	req.SetBasicAuth("api", m.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("mailgun request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			m.logger.Warn("Error closing mailgun response body", "error", closeErr)
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		m.logger.Warn("Mailgun rejected the message",
			"status", resp.StatusCode, "to", email.To)
		return &TransportError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	m.logger.Debug("Email accepted by mailgun", "to", email.To, "subject", email.Subject)
	return nil
}
