package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"newsletter-service/api/pkg/apperr"
	"newsletter-service/api/pkg/metrics"
	"newsletter-service/api/services/domain"
	"newsletter-service/api/services/storage"
)

// Confirm marks the subscriber owning rawToken as confirmed. Confirming an
// already confirmed subscriber succeeds without changes.
func (s *Service) Confirm(ctx context.Context, rawToken string) error {
	token, err := domain.ParseSubscriptionToken(rawToken)
	if err != nil {
		metrics.Confirmations.WithLabelValues("invalid").Inc()
		return apperr.Validation(err)
	}

	id, err := s.storage.SubscriberIDByToken(ctx, token)
	if errors.Is(err, storage.ErrNotFound) {
		metrics.Confirmations.WithLabelValues("unknown_token").Inc()
		return apperr.Authorization("subscription token not found")
	}
	if err != nil {
		metrics.Confirmations.WithLabelValues("error").Inc()
		return apperr.Unexpected(fmt.Errorf("look up subscriber by token: %w", err))
	}

	if err := s.storage.ConfirmSubscriber(ctx, id); err != nil {
		metrics.Confirmations.WithLabelValues("error").Inc()
		return apperr.Unexpected(fmt.Errorf("confirm subscriber %s: %w", id, err))
	}

	slog.Info("subscriber confirmed", "subscriberId", id)
	metrics.Confirmations.WithLabelValues("confirmed").Inc()
	return nil
}
