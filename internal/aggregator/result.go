package aggregator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"calagg/internal/failure"
	"calagg/internal/models"
)

// ErrAllProvidersUnavailable is matched by the error returned when every
// registered provider failed.
var ErrAllProvidersUnavailable = errors.New("all providers unavailable")

// Status reports how one provider fared during a query.
type Status struct {
	Provider string
	Source   models.Source
	Count    int
	Duration time.Duration
	Err      *failure.Error
}

func (s Status) OK() bool { return s.Err == nil }

// Result is the merged, deduplicated, ordered view of one query.
type Result struct {
	QueryID  uuid.UUID
	Window   models.Window
	Events   []models.Event
	Statuses []Status // registration order
}

// Failures returns the statuses of providers that failed.
func (r *Result) Failures() []Status {
	var out []Status
	for _, s := range r.Statuses {
		if !s.OK() {
			out = append(out, s)
		}
	}
	return out
}

// Partial reports whether at least one provider failed.
func (r *Result) Partial() bool {
	return len(r.Failures()) > 0
}

// UnavailableError carries one cause per provider when none succeeded.
type UnavailableError struct {
	QueryID uuid.UUID
	Causes  []*failure.Error
}

func (e *UnavailableError) Error() string {
	parts := make([]string, 0, len(e.Causes))
	for _, c := range e.Causes {
		parts = append(parts, c.Error())
	}
	return fmt.Sprintf("%v: %s", ErrAllProvidersUnavailable, strings.Join(parts, "; "))
}

func (e *UnavailableError) Unwrap() []error {
	out := make([]error, 0, len(e.Causes)+1)
	out = append(out, ErrAllProvidersUnavailable)
	for _, c := range e.Causes {
		out = append(out, c)
	}
	return out
}
