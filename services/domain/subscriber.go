// Package domain holds the validated value types of the subscription service.
// Values are only constructed through their Parse functions, so a value in
// hand is always well-formed.
package domain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rivo/uniseg"
)

const maxNameLength = 256

// forbiddenNameChars are rejected to keep names safe to embed in markup.
const forbiddenNameChars = `/()"<>\{}`

var (
	ErrInvalidEmail = errors.New("invalid subscriber email")
	ErrInvalidName  = errors.New("invalid subscriber name")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SubscriberStatus is the lifecycle state of a subscriber.
type SubscriberStatus string

const (
	StatusPendingConfirmation SubscriberStatus = "pending_confirmation"
	StatusConfirmed           SubscriberStatus = "confirmed"
)

// SubscriberEmail is a syntactically valid email address.
type SubscriberEmail struct {
	value string
}

// ParseSubscriberEmail validates raw as an email address.
func ParseSubscriberEmail(raw string) (SubscriberEmail, error) {
	if err := validate.Var(raw, "required,email"); err != nil {
		return SubscriberEmail{}, fmt.Errorf("%q is not a valid subscriber email: %w", raw, ErrInvalidEmail)
	}
	return SubscriberEmail{value: raw}, nil
}

func (e SubscriberEmail) String() string {
	return e.value
}

// SubscriberName is a non-blank display name.
type SubscriberName struct {
	value string
}

// ParseSubscriberName rejects blank names, names longer than 256 grapheme
// clusters and names containing any of /()"<>\{}.
func ParseSubscriberName(raw string) (SubscriberName, error) {
	switch {
	case strings.TrimSpace(raw) == "":
		return SubscriberName{}, fmt.Errorf("subscriber name is empty: %w", ErrInvalidName)
	case uniseg.GraphemeClusterCount(raw) > maxNameLength:
		return SubscriberName{}, fmt.Errorf("subscriber name is longer than %d characters: %w", maxNameLength, ErrInvalidName)
	case strings.ContainsAny(raw, forbiddenNameChars):
		return SubscriberName{}, fmt.Errorf("%q contains forbidden characters: %w", raw, ErrInvalidName)
	}
	return SubscriberName{value: raw}, nil
}

func (n SubscriberName) String() string {
	return n.value
}

// NewSubscriber is a validated subscribe request.
type NewSubscriber struct {
	Email SubscriberEmail
	Name  SubscriberName
}

// ParseNewSubscriber validates the name first, then the email.
func ParseNewSubscriber(email, name string) (NewSubscriber, error) {
	n, err := ParseSubscriberName(name)
	if err != nil {
		return NewSubscriber{}, err
	}
	e, err := ParseSubscriberEmail(email)
	if err != nil {
		return NewSubscriber{}, err
	}
	return NewSubscriber{Email: e, Name: n}, nil
}
