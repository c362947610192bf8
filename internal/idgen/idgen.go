// Package idgen generates the short labels relay subscriptions are opened
// under, backed by nanoid.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// SubscriptionPrefix is prepended to relay subscription labels.
const SubscriptionPrefix = "sub-"

// Alphabet is the character set for the random part of a label.
const Alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Length is the number of random characters in a label.
const Length = 12

// SubscriptionLabel returns a fresh label for a relay subscription.
func SubscriptionLabel() (string, error) {
	return WithPrefix(SubscriptionPrefix)
}

// WithPrefix returns prefix followed by Length random characters.
func WithPrefix(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}

// MustSubscriptionLabel is SubscriptionLabel for callers that cannot handle
// an error. It returns a fixed placeholder on failure.
func MustSubscriptionLabel() string {
	id, err := SubscriptionLabel()
	if err != nil {
		return SubscriptionPrefix + "unlabelled"
	}
	return id
}
