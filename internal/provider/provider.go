package provider

import (
	"context"
	"strings"

	"calagg/internal/models"
)

// Provider fetches calendar events from one backend and maps them into
// models.Event. Implementations own their backend client and never share
// mutable state with other providers.
type Provider interface {
	// Name identifies this provider instance (e.g. "yandex-work").
	Name() string

	// Source is the tag stamped on every event this provider returns.
	Source() models.Source

	// Fetch returns the events overlapping w. Failures are *failure.Error.
	Fetch(ctx context.Context, w models.Window) ([]models.Event, error)

	// Search returns events in w matching text. Providers without native
	// search return failure.ErrUnsupported without performing I/O.
	Search(ctx context.Context, text string, w models.Window) ([]models.Event, error)
}

// Matches reports whether text occurs case-insensitively in the event's
// title, description or any attendee.
func Matches(e models.Event, text string) bool {
	needle := strings.ToLower(strings.TrimSpace(text))
	if needle == "" {
		return true
	}
	if strings.Contains(strings.ToLower(e.Title), needle) ||
		strings.Contains(strings.ToLower(e.Description), needle) {
		return true
	}
	for _, a := range e.Attendees {
		if strings.Contains(strings.ToLower(a), needle) {
			return true
		}
	}
	return false
}

// Filter keeps the events matching text, preserving order.
func Filter(events []models.Event, text string) []models.Event {
	out := make([]models.Event, 0, len(events))
	for _, e := range events {
		if Matches(e, text) {
			out = append(out, e)
		}
	}
	return out
}
