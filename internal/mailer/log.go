package mailer

import (
	"context"
	"log/slog"
)

// LogMailer logs outbound emails instead of sending them. It stands in for
// Mailgun in development and in deployments without email credentials.
type LogMailer struct {
	logger *slog.Logger
}

// NewLogMailer creates a log-only mailer.
func NewLogMailer(logger *slog.Logger) *LogMailer {
	return &LogMailer{logger: logger.With("component", "log_mailer")}
}

// Send logs the email and reports success.
func (m *LogMailer) Send(ctx context.Context, email Email) error {
	m.logger.InfoContext(ctx, "Email delivery disabled, logging instead",
		"to", email.To, "subject", email.Subject)
	return nil
}
