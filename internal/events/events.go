// Package events carries relaymux's NATS plumbing: JSON publishing, raw
// subscriptions and the subject names shared by relays and the control bus.
package events

import (
	"context"
	"strconv"
)

// Subject constants
const (
	// SubjectRelayEvents is the prefix relays publish events under; the
	// event kind is appended as the last token ("relay.events.1").
	SubjectRelayEvents = "relay.events"

	// SubjectFlags carries feature flag pushes for running servers.
	SubjectFlags = "relaymux.flags"
)

// KindSubject returns the subject a relay uses for events of the given kind.
func KindSubject(prefix string, kind int) string {
	return prefix + "." + strconv.Itoa(kind)
}

// AllKindsSubject returns the wildcard subject covering every kind under prefix.
func AllKindsSubject(prefix string) string {
	return prefix + ".>"
}

// Publisher is the interface for emitting JSON payloads.
type Publisher interface {
	Publish(ctx context.Context, subject string, payload any) error
	Close() error
}
