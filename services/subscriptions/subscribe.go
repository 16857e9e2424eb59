package subscriptions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"newsletter-service/api/pkg/apperr"
	"newsletter-service/api/pkg/clients/email"
	"newsletter-service/api/pkg/metrics"
	"newsletter-service/api/services/domain"
	"newsletter-service/api/services/storage"
)

// maxSubscribeAttempts bounds how often a subscribe that lost an insert race
// re-reads the winner's record.
const maxSubscribeAttempts = 3

// SubscribeForm is the raw subscribe request.
type SubscribeForm struct {
	Email string
	Name  string
}

// Subscribe records a pending subscriber (or reuses the existing record and
// token) and sends the confirmation link. It only succeeds when the email
// was sent; a failed send leaves the committed record pending.
func (s *Service) Subscribe(ctx context.Context, form SubscribeForm) error {
	sub, err := domain.ParseNewSubscriber(form.Email, form.Name)
	if err != nil {
		metrics.SubscriptionRequests.WithLabelValues("invalid").Inc()
		return apperr.Validation(err)
	}

	token, err := s.ensureToken(ctx, sub)
	if err != nil {
		metrics.SubscriptionRequests.WithLabelValues("error").Inc()
		return apperr.Unexpected(err)
	}

	if _, err := s.email.Send(ctx, confirmationMessage(sub.Email, s.confirmationLink(token))); err != nil {
		metrics.SubscriptionRequests.WithLabelValues("email_failed").Inc()
		return apperr.Unexpected(fmt.Errorf("send confirmation email: %w", err))
	}

	metrics.SubscriptionRequests.WithLabelValues("accepted").Inc()
	return nil
}

// ensureToken returns the subscriber's token, creating the subscriber and
// token when needed. A uniqueness conflict means a concurrent request created
// the record first, so the lookup runs again instead of failing.
func (s *Service) ensureToken(ctx context.Context, sub domain.NewSubscriber) (domain.SubscriptionToken, error) {
	var lastErr error
	for attempt := 1; attempt <= maxSubscribeAttempts; attempt++ {
		token, err := s.tokenFor(ctx, sub)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, storage.ErrDuplicateEmail) && !errors.Is(err, storage.ErrTokenExists) {
			return domain.SubscriptionToken{}, err
		}
		metrics.SubscriptionInsertConflicts.Inc()
		slog.Info("concurrent subscription detected, reloading", "attempt", attempt, "error", err)
		lastErr = err
	}
	return domain.SubscriptionToken{}, fmt.Errorf("gave up after %d attempts: %w", maxSubscribeAttempts, lastErr)
}

func (s *Service) tokenFor(ctx context.Context, sub domain.NewSubscriber) (domain.SubscriptionToken, error) {
	id, err := s.storage.SubscriberIDByEmail(ctx, sub.Email)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		id = uuid.Nil
	case err != nil:
		return domain.SubscriptionToken{}, fmt.Errorf("look up subscriber: %w", err)
	}

	if id != uuid.Nil {
		token, err := s.storage.TokenBySubscriberID(ctx, id)
		if err == nil {
			if token.IsZero() {
				return domain.SubscriptionToken{}, fmt.Errorf("subscriber %s has an empty subscription token", id)
			}
			return token, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return domain.SubscriptionToken{}, fmt.Errorf("look up subscription token: %w", err)
		}
	}

	token := domain.GenerateSubscriptionToken()
	created := false
	err = s.storage.InTx(ctx, func(tx storage.Tx) error {
		if id == uuid.Nil {
			newID, err := tx.InsertSubscriber(ctx, sub)
			if err != nil {
				return fmt.Errorf("create subscriber: %w", err)
			}
			id = newID
			created = true
		}
		if err := tx.StoreToken(ctx, id, token); err != nil {
			return fmt.Errorf("save subscription token: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.SubscriptionToken{}, err
	}
	if created {
		metrics.SubscriptionsCreated.Inc()
		slog.Info("subscriber created", "subscriberId", id)
	}
	return token, nil
}

func (s *Service) confirmationLink(token domain.SubscriptionToken) string {
	return s.baseURL + "/subscriptions/confirm?subscription_token=" + token.String()
}

func confirmationMessage(to domain.SubscriberEmail, link string) email.Message {
	return email.Message{
		To:      to.String(),
		Subject: "Welcome!",
		HTMLBody: fmt.Sprintf(
			"Welcome to our newsletter!<br />Click <a href=\"%s\">here</a> to confirm your subscription.", link),
		TextBody: fmt.Sprintf(
			"Welcome to our newsletter!\nVisit %s to confirm your subscription.", link),
	}
}
