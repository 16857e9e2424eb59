package storage

import (
	"time"

	"github.com/google/uuid"

	"newsletter-service/api/services/domain"
)

// Subscriber mirrors a row of the subscriptions table.
type Subscriber struct {
	ID           uuid.UUID
	Email        string
	Name         string
	Status       domain.SubscriberStatus
	SubscribedAt time.Time
}

// ConfirmedSubscriber is one entry of the confirmed-subscriber listing.
// Exactly one of Email and Err is meaningful: Err is set when the stored
// address no longer passes validation.
type ConfirmedSubscriber struct {
	Email domain.SubscriberEmail
	Err   error
}
