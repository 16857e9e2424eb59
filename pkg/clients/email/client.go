package email

import (
	"context"
	"log/slog"

	"newsletter-service/api/pkg/metrics"
)

// Message represents an email to be sent. Both bodies are sent so clients
// without HTML support can fall back to text.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
	TextBody string
}

// Result holds the outcome of a send attempt.
type Result struct {
	DeliveryStatus string
	Sent           bool
	MessageID      string
}

// Client defines the interface for sending emails.
// Implementations can be swapped between a stub (for dev/testing)
// and a real provider (HTTP API or SMTP).
type Client interface {
	Send(ctx context.Context, msg Message) (*Result, error)
}

// StubClient simulates sending emails by logging them.
type StubClient struct {
	FromAddress string
}

// NewStubClient creates an email client that logs instead of sending.
func NewStubClient(fromAddress string) *StubClient {
	return &StubClient{FromAddress: fromAddress}
}

func (c *StubClient) Send(_ context.Context, msg Message) (*Result, error) {
	slog.Info("sending email (stub)", "to", msg.To, "from", c.FromAddress, "subject", msg.Subject,
		"htmlBytes", len(msg.HTMLBody), "textBytes", len(msg.TextBody))
	metrics.MailSendSuccess.WithLabelValues("stub").Inc()
	return &Result{
		DeliveryStatus: "sent",
		Sent:           true,
	}, nil
}
