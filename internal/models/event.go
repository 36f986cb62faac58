package models

import (
	"slices"
	"strings"
	"time"

	"calagg/internal/failure"
)

// Source identifies the backend family an event came from.
type Source string

const (
	SourceYandex Source = "yandex"
	SourceGoogle Source = "google"
)

// Event represents a standard calendar event.
// This is an internal representation, independent of any specific calendar provider.
// Providers hand events out by value and never modify them afterwards.
type Event struct {
	ID          string    // Provider-local identifier, unique only within its source
	Title       string    // Summary or title of the event
	Description string    // Detailed description of the event
	Start       time.Time // Start instant in the reference timezone
	End         time.Time // End instant in the reference timezone, never before Start
	AllDay      bool      // Date-valued event: Start/End are local midnights
	Location    string    // Location of the event
	Attendees   []string  // Attendee emails or display names, sorted and unique
	Source      Source    // Backend that produced the event
	Raw         any       // Provider payload kept for debugging, never interpreted
}

// Validate checks the invariants every provider must uphold before
// returning an event.
func (e Event) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return failure.Invalid("event %q has an empty title", e.ID)
	}
	if e.End.Before(e.Start) {
		return failure.Invalid("event %q ends before it starts", e.ID)
	}
	return nil
}

// In returns a copy of the event with Start and End expressed in loc.
func (e Event) In(loc *time.Location) Event {
	e.Start = e.Start.In(loc)
	e.End = e.End.In(loc)
	return e
}

// AttendeeSet trims, de-duplicates (case-insensitively) and sorts attendees.
func AttendeeSet(attendees []string) []string {
	if len(attendees) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(attendees))
	out := make([]string, 0, len(attendees))
	for _, a := range attendees {
		a = strings.TrimSpace(a)
		key := strings.ToLower(a)
		if a == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, a)
	}
	slices.Sort(out)
	return out
}
