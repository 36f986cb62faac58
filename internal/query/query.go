// Package query turns the named operations (today, tomorrow, upcoming,
// find) into concrete windows and runs each as one aggregator call.
package query

import (
	"context"
	"strings"
	"time"

	"calagg/internal/aggregator"
	"calagg/internal/failure"
	"calagg/internal/models"
)

const (
	DefaultFindHorizon   = 30 * 24 * time.Hour
	DefaultUpcomingHours = 24
)

// Operation names accepted by Execute.
const (
	OpToday    = "today"
	OpTomorrow = "tomorrow"
	OpUpcoming = "upcoming"
	OpFind     = "find"
)

// Source is the part of the aggregator the query layer needs.
type Source interface {
	Fetch(ctx context.Context, w models.Window) (*aggregator.Result, error)
	Search(ctx context.Context, text string, w models.Window) (*aggregator.Result, error)
}

// Service answers named queries relative to the current time in a
// reference location. It holds no state between calls.
type Service struct {
	source   Source
	location *time.Location
	horizon  time.Duration
	now      func() time.Time
}

type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithFindHorizon sets how far ahead Find looks.
func WithFindHorizon(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.horizon = d
		}
	}
}

func New(source Source, loc *time.Location, opts ...Option) *Service {
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{source: source, location: loc, horizon: DefaultFindHorizon, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Today covers [start of today, start of tomorrow) in the reference location.
func (s *Service) Today(ctx context.Context) (*aggregator.Result, error) {
	return s.source.Fetch(ctx, s.day(0))
}

// Tomorrow is Today shifted by one calendar day.
func (s *Service) Tomorrow(ctx context.Context) (*aggregator.Result, error) {
	return s.source.Fetch(ctx, s.day(1))
}

// Upcoming covers [now, now+hours).
func (s *Service) Upcoming(ctx context.Context, hours int) (*aggregator.Result, error) {
	if hours <= 0 {
		return nil, failure.Invalid("hours must be positive, got %d", hours)
	}
	now := s.now().In(s.location)
	return s.source.Fetch(ctx, models.Window{From: now, To: now.Add(time.Duration(hours) * time.Hour)})
}

// Find searches [now, now+horizon) for text.
func (s *Service) Find(ctx context.Context, text string) (*aggregator.Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, failure.Invalid("search text is empty")
	}
	now := s.now().In(s.location)
	return s.source.Search(ctx, text, models.Window{From: now, To: now.Add(s.horizon)})
}

// Command is an operation already resolved by an upstream intent
// classifier.
type Command struct {
	Op    string `json:"op"`
	Hours *int   `json:"hours,omitempty"`
	Text  string `json:"text,omitempty"`
}

// Execute dispatches a resolved command. Upcoming without hours looks
// DefaultUpcomingHours ahead; an explicit zero is rejected like any other
// non-positive count.
func (s *Service) Execute(ctx context.Context, cmd Command) (*aggregator.Result, error) {
	switch strings.ToLower(strings.TrimSpace(cmd.Op)) {
	case OpToday:
		return s.Today(ctx)
	case OpTomorrow:
		return s.Tomorrow(ctx)
	case OpUpcoming:
		hours := DefaultUpcomingHours
		if cmd.Hours != nil {
			hours = *cmd.Hours
		}
		return s.Upcoming(ctx, hours)
	case OpFind:
		return s.Find(ctx, cmd.Text)
	default:
		return nil, failure.Invalid("unknown operation %q", cmd.Op)
	}
}

// day returns the local calendar day offset days from today. On DST change
// days the window is 23 or 25 hours long.
func (s *Service) day(offset int) models.Window {
	now := s.now().In(s.location)
	start := time.Date(now.Year(), now.Month(), now.Day()+offset, 0, 0, 0, 0, s.location)
	return models.Window{From: start, To: start.AddDate(0, 0, 1)}
}
