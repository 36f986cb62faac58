package yandex

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-webdav/caldav"

	"calagg/internal/failure"
	"calagg/internal/ics"
	"calagg/internal/models"
)

const (
	DefaultEndpoint = "https://caldav.yandex.ru"
	userAgent       = "calagg/1.0"
)

// statusError is returned by the transport for responses that already
// decide the failure kind, so callers can match it through *url.Error.
type statusError struct {
	code int
	kind error
}

func (e *statusError) Error() string {
	return fmt.Sprintf("caldav server returned %d %s", e.code, http.StatusText(e.code))
}

func (e *statusError) Unwrap() error { return e.kind }

// customTransport handles adding Basic Auth and custom headers to requests.
type customTransport struct {
	Username  string
	Password  string
	Transport http.RoundTripper
}

// RoundTrip adds required headers and authentication to each request and
// turns auth, throttling and server errors into typed errors.
func (t *customTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(t.Username, t.Password)
	req.Header.Set("User-Agent", userAgent)
	resp, err := t.Transport.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if kind := failure.StatusKind(resp.StatusCode); kind != nil && kind != failure.ErrUnknown {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &statusError{code: resp.StatusCode, kind: kind}
	}
	return resp, nil
}

// Config describes one CalDAV account.
type Config struct {
	Name     string         // provider instance name used in logs and reports
	Source   models.Source  // defaults to yandex
	Endpoint string         // defaults to DefaultEndpoint
	Username string
	Password string         // app-specific password
	Calendar string         // display name; empty selects the first event calendar
	Location *time.Location // reference timezone
	// Transport overrides the base round tripper, mainly for tests.
	Transport http.RoundTripper
}

// CalDAVClient is a calendar provider backed by a CalDAV server.
type CalDAVClient struct {
	name         string
	source       models.Source
	caldavClient *caldav.Client
	logger       *slog.Logger
	calendarName string
	mapper       *ics.Mapper

	mu          sync.Mutex
	calendarURL string
}

// NewClient creates a CalDAV provider. Calendar discovery happens lazily
// on the first fetch and is cached once it succeeds.
func NewClient(logger *slog.Logger, cfg Config) (*CalDAVClient, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, fmt.Errorf("caldav provider %s: username and password are required", cfg.Name)
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Source == "" {
		cfg.Source = models.SourceYandex
	}
	if cfg.Name == "" {
		cfg.Name = string(cfg.Source)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	transport := &customTransport{
		Username:  cfg.Username,
		Password:  cfg.Password,
		Transport: base,
	}
	httpClient := &http.Client{Transport: transport}

	caldavClient, err := caldav.NewClient(httpClient, cfg.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create caldav client: %w", err)
	}

	logger = logger.With("provider", cfg.Name)
	return &CalDAVClient{
		name:         cfg.Name,
		source:       cfg.Source,
		caldavClient: caldavClient,
		logger:       logger,
		calendarName: cfg.Calendar,
		mapper:       &ics.Mapper{Source: cfg.Source, Location: cfg.Location, Logger: logger},
	}, nil
}

func (c *CalDAVClient) Name() string          { return c.name }
func (c *CalDAVClient) Source() models.Source { return c.source }

// Fetch runs one calendar-query REPORT with a VEVENT time-range filter.
func (c *CalDAVClient) Fetch(ctx context.Context, w models.Window) ([]models.Event, error) {
	if err := w.Validate(); err != nil {
		return nil, failure.Wrap(c.name, string(c.source), err)
	}

	calendarURL, err := c.calendar(ctx)
	if err != nil {
		return nil, failure.Wrap(c.name, string(c.source), err)
	}

	c.logger.Debug("Querying CalDAV calendar", "calendar", calendarURL, "from", w.From, "to", w.To)
	query := &caldav.CalendarQuery{
		CompRequest: caldav.CalendarCompRequest{
			Name:     ical.CompCalendar,
			AllProps: true,
			AllComps: true,
		},
		CompFilter: caldav.CompFilter{
			Name: ical.CompCalendar,
			Comps: []caldav.CompFilter{{
				Name:  ical.CompEvent,
				Start: w.From.UTC(),
				End:   w.To.UTC(),
			}},
		},
	}
	objects, err := c.caldavClient.QueryCalendar(ctx, calendarURL, query)
	if err != nil {
		return nil, failure.Wrap(c.name, string(c.source), fmt.Errorf("failed to query calendar: %w", err))
	}

	cals := make([]*ical.Calendar, 0, len(objects))
	for _, obj := range objects {
		cals = append(cals, obj.Data)
	}
	events := c.mapper.Events(cals, w)

	c.logger.Info("Fetched events from CalDAV", "objects", len(objects), "count", len(events))
	return events, nil
}

// Search is unsupported; the aggregator filters a fetched window instead.
func (c *CalDAVClient) Search(_ context.Context, _ string, w models.Window) ([]models.Event, error) {
	if err := w.Validate(); err != nil {
		return nil, failure.Wrap(c.name, string(c.source), err)
	}
	return nil, failure.New(c.name, string(c.source), failure.ErrUnsupported, nil)
}

// calendar returns the cached calendar path, discovering it on first use.
func (c *CalDAVClient) calendar(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.calendarURL != "" {
		return c.calendarURL, nil
	}

	c.logger.Info("Finding CalDAV calendar", "calendarName", c.calendarName)
	calendarURL, err := c.findCalendar(ctx, c.calendarName)
	if err != nil {
		return "", err
	}
	c.calendarURL = calendarURL
	c.logger.Info("Successfully found CalDAV calendar", "path", calendarURL)
	return calendarURL, nil
}

// findCalendar discovers the user's calendars and returns the path of the
// one with the matching name, or of the first event calendar when name is empty.
func (c *CalDAVClient) findCalendar(ctx context.Context, name string) (string, error) {
	principalPath, err := c.caldavClient.FindCurrentUserPrincipal(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to find principal path: %w", err)
	}

	homeSetPath, err := c.caldavClient.FindCalendarHomeSet(ctx, principalPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendar home set: %w", err)
	}

	calendars, err := c.caldavClient.FindCalendars(ctx, homeSetPath)
	if err != nil {
		return "", fmt.Errorf("failed to find calendars: %w", err)
	}

	for _, cal := range calendars {
		if name == "" && supportsEvents(cal) {
			return cal.Path, nil
		}
		if name != "" && strings.EqualFold(cal.Name, name) {
			return cal.Path, nil
		}
	}

	if name == "" {
		return "", fmt.Errorf("no event calendars found under %s", homeSetPath)
	}
	return "", fmt.Errorf("no calendar found with name '%s'", name)
}

func supportsEvents(cal caldav.Calendar) bool {
	if len(cal.SupportedComponentSet) == 0 {
		return true
	}
	for _, comp := range cal.SupportedComponentSet {
		if strings.EqualFold(comp, ical.CompEvent) {
			return true
		}
	}
	return false
}
