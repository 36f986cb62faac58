// Package digest runs the today query on a cron schedule and hands each
// outcome to a Sink.
package digest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"calagg/internal/aggregator"
)

// Source produces the agenda for one run.
type Source interface {
	Today(ctx context.Context) (*aggregator.Result, error)
}

// Sink receives every run. Exactly one of res and err is nil.
type Sink func(ctx context.Context, res *aggregator.Result, err error)

type Scheduler struct {
	cron    *cron.Cron
	source  Source
	sink    Sink
	timeout time.Duration
	logger  *slog.Logger
	entryID cron.EntryID
}

// New parses a standard 5-field cron spec evaluated in loc. timeout bounds
// each run; zero means no bound beyond the aggregator's own.
func New(logger *slog.Logger, spec string, loc *time.Location, timeout time.Duration, source Source, sink Sink) (*Scheduler, error) {
	if loc == nil {
		loc = time.UTC
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid digest schedule %q: %w", spec, err)
	}

	s := &Scheduler{
		source:  source,
		sink:    sink,
		timeout: timeout,
		logger:  logger,
	}
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cronLogger{logger}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger})),
	)
	id, err := s.cron.AddFunc(spec, func() { s.Run(context.Background()) })
	if err != nil {
		return nil, fmt.Errorf("failed to schedule digest: %w", err)
	}
	s.entryID = id
	return s, nil
}

// Run executes one digest immediately.
func (s *Scheduler) Run(ctx context.Context) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	res, err := s.source.Today(ctx)
	if err != nil {
		s.logger.Warn("Digest query failed", "error", err)
	} else {
		s.logger.Info("Digest ready", "query_id", res.QueryID, "events", len(res.Events), "failed_sources", len(res.Failures()))
	}
	s.sink(ctx, res, err)
}

// Next reports when the digest fires next. It is zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// Start runs the schedule until ctx is cancelled and waits for a running
// digest to finish.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	s.logger.Info("Digest scheduler started", "next", s.Next())

	<-ctx.Done()
	s.logger.Info("Stopping digest scheduler")
	<-s.cron.Stop().Done()
}

// cronLogger forwards cron's logr-style calls to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
