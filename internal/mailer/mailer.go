// Package mailer delivers followup emails over the Mailgun HTTP API and
// renders the drip templates from a personalization snapshot.
package mailer

import (
	"context"
	"fmt"
)

// Email is a single outbound message.
type Email struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Mailer sends emails. Implementations must be safe for concurrent use.
type Mailer interface {
	Send(ctx context.Context, email Email) error
}

// TransportError reports a non-2xx response from the email provider. The
// dispatch worker treats it as retriable.
type TransportError struct {
	StatusCode int
	Body       string
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("email provider returned status %d: %s", e.StatusCode, e.Body)
}
