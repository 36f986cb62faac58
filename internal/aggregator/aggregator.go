// Package aggregator fans a query out to every registered provider, waits
// for them at a single barrier, and merges what came back into one
// deduplicated, deterministically ordered Result.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"calagg/internal/failure"
	"calagg/internal/models"
	"calagg/internal/provider"
)

const DefaultProviderTimeout = 10 * time.Second

// Aggregator is immutable after New and safe for concurrent use.
type Aggregator struct {
	providers       []provider.Provider
	priority        Priority
	providerTimeout time.Duration
	queryTimeout    time.Duration
	location        *time.Location
	logger          *slog.Logger
}

type Option func(*Aggregator)

// WithPriority sets the source order used to pick surviving duplicates.
func WithPriority(sources ...models.Source) Option {
	return func(a *Aggregator) { a.priority = append(Priority(nil), sources...) }
}

func WithProviderTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.providerTimeout = d }
}

// WithQueryTimeout sets the outer deadline of a query. It is raised to the
// provider timeout when shorter.
func WithQueryTimeout(d time.Duration) Option {
	return func(a *Aggregator) { a.queryTimeout = d }
}

// WithLocation sets the reference timezone events are expressed in.
func WithLocation(loc *time.Location) Option {
	return func(a *Aggregator) { a.location = loc }
}

func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// New builds an Aggregator over a fixed, ordered provider list.
func New(providers []provider.Provider, opts ...Option) *Aggregator {
	a := &Aggregator{
		providers:       append([]provider.Provider(nil), providers...),
		priority:        Priority{models.SourceYandex, models.SourceGoogle},
		providerTimeout: DefaultProviderTimeout,
		location:        time.UTC,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.providerTimeout <= 0 {
		a.providerTimeout = DefaultProviderTimeout
	}
	if a.queryTimeout < a.providerTimeout {
		a.queryTimeout = a.providerTimeout
	}
	return a
}

// Providers returns the registered provider names in registration order.
func (a *Aggregator) Providers() []string {
	names := make([]string, 0, len(a.providers))
	for _, p := range a.providers {
		names = append(names, p.Name())
	}
	return names
}

func (a *Aggregator) Location() *time.Location { return a.location }

// Fetch returns the merged events of all providers overlapping w.
func (a *Aggregator) Fetch(ctx context.Context, w models.Window) (*Result, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return a.run(ctx, w, "")
}

// Search returns the merged events in w matching text. Providers without
// native search are fetched and filtered locally.
func (a *Aggregator) Search(ctx context.Context, text string, w models.Window) (*Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, failure.Invalid("search text is empty")
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return a.run(ctx, w, text)
}

type outcome struct {
	index    int
	events   []models.Event
	err      *failure.Error
	duration time.Duration
}

func (a *Aggregator) run(ctx context.Context, w models.Window, text string) (*Result, error) {
	queryID := uuid.New()
	logger := a.logger.With("query_id", queryID.String())
	w = w.In(a.location)

	ctx, cancel := context.WithTimeout(ctx, a.queryTimeout)
	defer cancel()

	results := make(chan outcome, len(a.providers))
	for i, p := range a.providers {
		i, p := i, p
		go func() {
			results <- a.call(ctx, i, p, w, text)
		}()
	}

	statuses := make([]Status, len(a.providers))
	reported := make([]bool, len(a.providers))
	var events []models.Event

	record := func(o outcome) {
		reported[o.index] = true
		p := a.providers[o.index]
		statuses[o.index] = Status{
			Provider: p.Name(),
			Source:   p.Source(),
			Count:    len(o.events),
			Duration: o.duration,
			Err:      o.err,
		}
		if o.err != nil {
			logger.Warn("Provider failed", "provider", p.Name(), "kind", o.err.Kind, "error", o.err.Err, "duration", o.duration)
			return
		}
		logger.Debug("Provider returned events", "provider", p.Name(), "count", len(o.events), "duration", o.duration)
		events = append(events, o.events...)
	}

	gather(ctx, results, len(a.providers), record)

	for i, p := range a.providers {
		if reported[i] {
			continue
		}
		err := failure.New(p.Name(), string(p.Source()), failure.ErrUnreachable,
			fmt.Errorf("no response before query deadline: %w", ctx.Err()))
		statuses[i] = Status{Provider: p.Name(), Source: p.Source(), Duration: a.queryTimeout, Err: err}
		logger.Warn("Provider abandoned", "provider", p.Name(), "error", err)
	}

	var causes []*failure.Error
	for _, s := range statuses {
		if s.Err != nil {
			causes = append(causes, s.Err)
		}
	}
	if len(a.providers) > 0 && len(causes) == len(a.providers) {
		logger.Error("All providers unavailable", "providers", len(a.providers))
		return nil, &UnavailableError{QueryID: queryID, Causes: causes}
	}

	merged := Merge(events, a.priority)
	if text != "" {
		merged = provider.Filter(merged, text)
	}

	logger.Info("Query complete", "from", w.From, "to", w.To, "collected", len(events), "events", len(merged), "failed", len(causes))
	return &Result{QueryID: queryID, Window: w, Events: merged, Statuses: statuses}, nil
}

// gather hands up to pending outcomes to record until ctx is done. Outcomes
// already delivered when the deadline fires still count.
func gather(ctx context.Context, results <-chan outcome, pending int, record func(outcome)) {
wait:
	for pending > 0 {
		select {
		case o := <-results:
			pending--
			record(o)
		case <-ctx.Done():
			break wait
		}
	}
	for ; pending > 0; pending-- {
		select {
		case o := <-results:
			record(o)
		default:
			return
		}
	}
}

// call runs one provider under its own timeout and normalizes what it
// returns. It never panics.
func (a *Aggregator) call(ctx context.Context, index int, p provider.Provider, w models.Window, text string) (o outcome) {
	o.index = index
	started := time.Now()
	pctx, cancel := context.WithTimeout(ctx, a.providerTimeout)
	defer func() {
		cancel()
		if r := recover(); r != nil {
			o.events = nil
			o.err = failure.New(p.Name(), string(p.Source()), failure.ErrUnknown, fmt.Errorf("provider panic: %v", r))
		}
		o.duration = time.Since(started)
	}()

	events, err := a.fetch(pctx, p, w, text)
	if err == nil && pctx.Err() != nil {
		err = pctx.Err()
	}
	if err != nil {
		if errors.Is(pctx.Err(), context.DeadlineExceeded) {
			o.err = failure.New(p.Name(), string(p.Source()), failure.ErrUnreachable,
				fmt.Errorf("timed out after %s: %w", a.providerTimeout, err))
			return o
		}
		o.err = failure.Wrap(p.Name(), string(p.Source()), err)
		return o
	}

	o.events = make([]models.Event, 0, len(events))
	for _, e := range events {
		if e.Source == "" {
			e.Source = p.Source()
		}
		o.events = append(o.events, e.In(a.location))
	}
	return o
}

func (a *Aggregator) fetch(ctx context.Context, p provider.Provider, w models.Window, text string) ([]models.Event, error) {
	if text == "" {
		return p.Fetch(ctx, w)
	}
	events, err := p.Search(ctx, text, w)
	if errors.Is(err, failure.ErrUnsupported) {
		return p.Fetch(ctx, w)
	}
	return events, err
}
