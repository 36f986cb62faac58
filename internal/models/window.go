package models

import (
	"time"

	"calagg/internal/failure"
)

// Window is the half-open instant range [From, To) every query is reduced to.
type Window struct {
	From time.Time
	To   time.Time
}

// NewWindow builds a validated window.
func NewWindow(from, to time.Time) (Window, error) {
	w := Window{From: from, To: to}
	if err := w.Validate(); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Validate rejects empty and inverted windows.
func (w Window) Validate() error {
	if w.From.IsZero() || w.To.IsZero() {
		return failure.Invalid("window bounds must be set")
	}
	if !w.From.Before(w.To) {
		return failure.Invalid("window start %s is not before end %s",
			w.From.Format(time.RFC3339), w.To.Format(time.RFC3339))
	}
	return nil
}

// Overlaps reports whether the event intersects the window. Zero-duration
// events count when their start lies inside it.
func (w Window) Overlaps(e Event) bool {
	if e.Start.Equal(e.End) {
		return !e.Start.Before(w.From) && e.Start.Before(w.To)
	}
	return e.Start.Before(w.To) && e.End.After(w.From)
}

// In expresses both bounds in loc.
func (w Window) In(loc *time.Location) Window {
	return Window{From: w.From.In(loc), To: w.To.In(loc)}
}

func (w Window) Duration() time.Duration {
	return w.To.Sub(w.From)
}
