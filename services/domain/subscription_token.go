package domain

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// TokenLength is the exact number of characters in a subscription token.
const TokenLength = 25

const tokenAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// ErrInvalidTokenShape is returned when a string is not 25 ASCII alphanumeric characters.
var ErrInvalidTokenShape = errors.New("invalid subscription token shape")

// SubscriptionToken is the opaque credential embedded in a confirmation link.
// Shape is all Parse proves; callers must still check that the token exists in storage.
type SubscriptionToken struct {
	value string
}

// ParseSubscriptionToken accepts exactly TokenLength characters from [A-Za-z0-9].
// Non-ASCII letters and digits are rejected even though they are alphanumeric in Unicode.
func ParseSubscriptionToken(raw string) (SubscriptionToken, error) {
	if len(raw) != TokenLength {
		return SubscriptionToken{}, fmt.Errorf("%q is not a valid subscription token: %w", raw, ErrInvalidTokenShape)
	}
	for i := 0; i < len(raw); i++ {
		if !isASCIIAlphanumeric(raw[i]) {
			return SubscriptionToken{}, fmt.Errorf("%q is not a valid subscription token: %w", raw, ErrInvalidTokenShape)
		}
	}
	return SubscriptionToken{value: raw}, nil
}

// GenerateSubscriptionToken draws TokenLength characters uniformly from the
// alphanumeric alphabet using crypto/rand.
func GenerateSubscriptionToken() SubscriptionToken {
	buf := make([]byte, TokenLength)
	max := big.NewInt(int64(len(tokenAlphabet)))
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			// crypto/rand only fails when the OS entropy source is broken.
			panic(fmt.Sprintf("domain: read random token: %v", err))
		}
		buf[i] = tokenAlphabet[n.Int64()]
	}
	return SubscriptionToken{value: string(buf)}
}

func (t SubscriptionToken) String() string {
	return t.value
}

// IsZero reports whether the token was never set.
func (t SubscriptionToken) IsZero() bool {
	return t.value == ""
}

func isASCIIAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
