// Package icsfeed implements a provider over a published iCalendar URL,
// such as the secret address of a Google calendar.
package icsfeed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emersion/go-ical"

	"calagg/internal/failure"
	"calagg/internal/ics"
	"calagg/internal/models"
)

// maxBodySize bounds how much of a feed is read.
const maxBodySize = 32 << 20

// Config describes one feed.
type Config struct {
	Name     string
	Source   models.Source // defaults to google
	URL      string
	Location *time.Location
	Client   *http.Client
}

// Feed fetches and maps a whole ICS feed on every call.
type Feed struct {
	name   string
	source models.Source
	url    string
	client *http.Client
	logger *slog.Logger
	mapper *ics.Mapper
}

func New(logger *slog.Logger, cfg Config) (*Feed, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("ics feed %s: invalid url %q", cfg.Name, redactURL(cfg.URL))
	}
	if cfg.Source == "" {
		cfg.Source = models.SourceGoogle
	}
	if cfg.Name == "" {
		cfg.Name = string(cfg.Source) + "-ics"
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	logger = logger.With("provider", cfg.Name)
	return &Feed{
		name:   cfg.Name,
		source: cfg.Source,
		url:    cfg.URL,
		client: cfg.Client,
		logger: logger,
		mapper: &ics.Mapper{Source: cfg.Source, Location: cfg.Location, Logger: logger},
	}, nil
}

func (f *Feed) Name() string          { return f.name }
func (f *Feed) Source() models.Source { return f.source }

func (f *Feed) Fetch(ctx context.Context, w models.Window) ([]models.Event, error) {
	if err := w.Validate(); err != nil {
		return nil, failure.Wrap(f.name, string(f.source), err)
	}

	cals, err := f.download(ctx)
	if err != nil {
		return nil, failure.Wrap(f.name, string(f.source), err)
	}
	events := f.mapper.Events(cals, w)
	f.logger.Info("Fetched events from ICS feed", "calendars", len(cals), "count", len(events))
	return events, nil
}

// Search is Unsupported: a feed has no query interface.
func (f *Feed) Search(_ context.Context, _ string, w models.Window) ([]models.Event, error) {
	if err := w.Validate(); err != nil {
		return nil, failure.Wrap(f.name, string(f.source), err)
	}
	return nil, failure.New(f.name, string(f.source), failure.ErrUnsupported, nil)
}

func (f *Feed) download(ctx context.Context) ([]*ical.Calendar, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/calendar")

	f.logger.Debug("ICS fetch start", "url", redactURL(f.url))
	resp, err := f.client.Do(req)
	if err != nil {
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			urlErr.URL = redactURL(urlErr.URL)
		}
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if kind := failure.StatusKind(resp.StatusCode); kind != nil {
		return nil, failure.New(f.name, string(f.source), kind, errors.New(resp.Status))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if err := validateICalFormat(body); err != nil {
		return nil, failure.New(f.name, string(f.source), failure.ErrMalformed, err)
	}

	var cals []*ical.Calendar
	dec := ical.NewDecoder(bytes.NewReader(body))
	for {
		cal, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, failure.New(f.name, string(f.source), failure.ErrMalformed,
				fmt.Errorf("failed to decode calendar: %w", err))
		}
		cals = append(cals, cal)
	}
	if len(cals) == 0 {
		return nil, failure.New(f.name, string(f.source), failure.ErrMalformed, errors.New("feed contains no calendar"))
	}
	return cals, nil
}

func validateICalFormat(body []byte) error {
	trimmed := strings.TrimSpace(string(body))
	upper := strings.ToUpper(trimmed)
	if strings.HasPrefix(upper, "<!DOCTYPE") || strings.HasPrefix(upper, "<HTML") {
		return errors.New("received HTML instead of iCalendar data - check if URL requires authentication")
	}
	if !strings.HasPrefix(upper, "BEGIN:VCALENDAR") {
		preview := trimmed
		if len(preview) > 100 {
			preview = preview[:100]
		}
		return fmt.Errorf("invalid iCalendar format - expected BEGIN:VCALENDAR, got: %q", preview)
	}
	return nil
}

// redactURL keeps only scheme and host; secret feed addresses carry the
// credential in the path.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "ics://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}
