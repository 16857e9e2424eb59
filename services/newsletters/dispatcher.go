// Package newsletters publishes newsletter issues to confirmed subscribers.
package newsletters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"newsletter-service/api/pkg/apperr"
	"newsletter-service/api/pkg/clients/email"
	"newsletter-service/api/pkg/metrics"
	"newsletter-service/api/services/storage"
)

// Issue is one newsletter edition. All fields are required.
type Issue struct {
	Title       string
	TextContent string
	HTMLContent string
}

var errMissingField = errors.New("missing newsletter field")

func (i Issue) validate() error {
	var missing []string
	if strings.TrimSpace(i.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(i.TextContent) == "" {
		missing = append(missing, "text_content")
	}
	if strings.TrimSpace(i.HTMLContent) == "" {
		missing = append(missing, "html_content")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", errMissingField, strings.Join(missing, ", "))
	}
	return nil
}

// Dispatcher sends issues to every confirmed subscriber.
type Dispatcher struct {
	storage storage.Storage
	email   email.Client
}

func NewDispatcher(store storage.Storage, emailClient email.Client) (*Dispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("dispatcher: store cannot be nil")
	}
	if emailClient == nil {
		return nil, fmt.Errorf("dispatcher: email client cannot be nil")
	}
	return &Dispatcher{storage: store, email: emailClient}, nil
}

// Publish delivers the issue to confirmed subscribers in subscription order.
// Subscribers whose stored address no longer validates are skipped. The first
// failed delivery stops the batch: earlier recipients have been sent the
// issue and later ones have not.
func (d *Dispatcher) Publish(ctx context.Context, issue Issue) error {
	if err := issue.validate(); err != nil {
		metrics.NewsletterIssues.WithLabelValues("invalid").Inc()
		return apperr.Validation(err)
	}

	subscribers, err := d.storage.ConfirmedSubscribers(ctx)
	if err != nil {
		metrics.NewsletterIssues.WithLabelValues("error").Inc()
		return apperr.Unexpected(fmt.Errorf("list confirmed subscribers: %w", err))
	}

	msg := email.Message{Subject: issue.Title, HTMLBody: issue.HTMLContent, TextBody: issue.TextContent}
	delivered := 0
	for _, sub := range subscribers {
		if sub.Err != nil {
			metrics.NewsletterDeliveries.WithLabelValues("skipped").Inc()
			slog.Warn("skipping a confirmed subscriber, their stored contact details are invalid", "error", sub.Err)
			continue
		}

		msg.To = sub.Email.String()
		if _, err := d.email.Send(ctx, msg); err != nil {
			metrics.NewsletterDeliveries.WithLabelValues("failed").Inc()
			metrics.NewsletterIssues.WithLabelValues("error").Inc()
			slog.Error("newsletter delivery aborted", "delivered", delivered, "total", len(subscribers), "error", err)
			return apperr.Unexpected(fmt.Errorf("send newsletter issue to %s: %w", sub.Email, err))
		}
		delivered++
		metrics.NewsletterDeliveries.WithLabelValues("sent").Inc()
	}

	slog.Info("newsletter issue published", "title", issue.Title, "delivered", delivered, "total", len(subscribers))
	metrics.NewsletterIssues.WithLabelValues("published").Inc()
	return nil
}
