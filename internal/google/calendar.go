package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"calagg/internal/failure"
	"calagg/internal/models"
)

const (
	credentialsFile = "credentials.json"
	defaultTitle    = "(no title)"
	pageSize        = 250
)

// Config describes one authenticated Google account.
type Config struct {
	Name         string        // provider instance name; defaults to google-<account>
	Account      string        // selects token-<account>.json
	Source       models.Source // defaults to google
	CalendarIDs  []string
	ClientID     string
	ClientSecret string
	TokenDir     string
	Location     *time.Location
}

// CalendarClient provides a client for interacting with the Google Calendar API.
type CalendarClient struct {
	name     string
	source   models.Source
	service  *calendar.Service
	logger   *slog.Logger
	location *time.Location

	mu          sync.Mutex
	calendarIDs []string
}

// NewClient creates a new Google Calendar provider.
// It handles loading credentials and setting up an authenticated HTTP client.
// Multiple accounts are supported through token files like token-work.json;
// cfg.Account selects which one is used.
func NewClient(ctx context.Context, logger *slog.Logger, cfg Config) (*CalendarClient, error) {
	config, err := getOAuthConfig(cfg.ClientID, cfg.ClientSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to get OAuth config: %w", err)
	}

	tokenFile := TokenPath(cfg.TokenDir, cfg.Account)
	token, err := tokenFromFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("could not load token for account %s: %w. Please run the 'auth' command first", cfg.Account, err)
	}

	client := config.Client(ctx, token)
	service, err := calendar.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("failed to create calendar service: %w", err)
	}

	return NewFromService(logger, service, cfg), nil
}

// NewFromService wraps an already configured calendar service.
func NewFromService(logger *slog.Logger, service *calendar.Service, cfg Config) *CalendarClient {
	name := cfg.Name
	if name == "" {
		name = "google"
		if cfg.Account != "" {
			name += "-" + cfg.Account
		}
	}
	source := cfg.Source
	if source == "" {
		source = models.SourceGoogle
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &CalendarClient{
		name:        name,
		source:      source,
		service:     service,
		logger:      logger.With("provider", name),
		location:    loc,
		calendarIDs: cfg.CalendarIDs,
	}
}

func (c *CalendarClient) Name() string          { return c.name }
func (c *CalendarClient) Source() models.Source { return c.source }

// Fetch lists the events of every configured calendar overlapping w.
func (c *CalendarClient) Fetch(ctx context.Context, w models.Window) ([]models.Event, error) {
	return c.list(ctx, "", w)
}

// Search uses the API's free text query over the same calendars.
func (c *CalendarClient) Search(ctx context.Context, text string, w models.Window) ([]models.Event, error) {
	if strings.TrimSpace(text) == "" {
		return nil, c.fail(failure.Invalid("search text is empty"))
	}
	return c.list(ctx, text, w)
}

func (c *CalendarClient) list(ctx context.Context, query string, w models.Window) ([]models.Event, error) {
	if err := w.Validate(); err != nil {
		return nil, c.fail(err)
	}

	ids, err := c.calendars(ctx)
	if err != nil {
		return nil, c.fail(err)
	}

	var out []models.Event
	for _, id := range ids {
		events, err := c.listCalendar(ctx, id, query, w)
		if err != nil {
			return nil, c.fail(err)
		}
		out = append(out, events...)
	}
	return out, nil
}

// listCalendar fetches one calendar, following pagination.
func (c *CalendarClient) listCalendar(ctx context.Context, calendarID, query string, w models.Window) ([]models.Event, error) {
	c.logger.Debug("Fetching events", "calendarID", calendarID, "from", w.From, "to", w.To, "query", query)

	call := c.service.Events.List(calendarID).
		ShowDeleted(false).
		SingleEvents(true).
		TimeMin(w.From.Format(time.RFC3339)).
		TimeMax(w.To.Format(time.RFC3339)).
		OrderBy("startTime").
		MaxResults(pageSize)
	if query != "" {
		call = call.Q(query)
	}

	var items []*calendar.Event
	err := call.Pages(ctx, func(page *calendar.Events) error {
		items = append(items, page.Items...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve events from %s: %w", calendarID, err)
	}

	events := c.toInternalEvents(items, w)
	c.logger.Info("Successfully fetched events from Google Calendar", "count", len(events), "calendarID", calendarID)
	return events, nil
}

// calendars returns the configured calendar IDs, discovering every
// calendar of the account on first use when none were configured.
func (c *CalendarClient) calendars(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.calendarIDs) > 0 {
		return c.calendarIDs, nil
	}
	ids, err := c.DiscoverGoogleCalendars(ctx)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, errors.New("account has no calendars")
	}
	c.calendarIDs = ids
	return ids, nil
}

// DiscoverGoogleCalendars finds all calendars associated with the authenticated account.
func (c *CalendarClient) DiscoverGoogleCalendars(ctx context.Context) ([]string, error) {
	var calendarIDs []string
	err := c.service.CalendarList.List().Pages(ctx, func(list *calendar.CalendarList) error {
		for _, item := range list.Items {
			if item.Deleted || item.Hidden {
				continue
			}
			calendarIDs = append(calendarIDs, item.Id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}
	c.logger.Info("Discovered Google calendars", "count", len(calendarIDs))
	return calendarIDs, nil
}

// toInternalEvents converts Google Calendar events to the internal Event model.
// Date-only events start at local midnight and end at the exclusive end date.
func (c *CalendarClient) toInternalEvents(googleEvents []*calendar.Event, w models.Window) []models.Event {
	var internalEvents []models.Event
	for _, item := range googleEvents {
		if item.Status == "cancelled" || item.Start == nil {
			continue
		}

		start, end, allDay, err := c.eventTimes(item)
		if err != nil {
			c.logger.Debug("Skipping event with unparseable time", "id", item.Id, "error", err)
			continue
		}

		var attendees []string
		for _, a := range item.Attendees {
			if a.Email != "" {
				attendees = append(attendees, a.Email)
			} else {
				attendees = append(attendees, a.DisplayName)
			}
		}

		title := strings.TrimSpace(item.Summary)
		if title == "" {
			title = defaultTitle
		}

		event := models.Event{
			ID:          item.Id,
			Title:       title,
			Description: item.Description,
			Start:       start,
			End:         end,
			AllDay:      allDay,
			Location:    item.Location,
			Attendees:   models.AttendeeSet(attendees),
			Source:      c.source,
			Raw:         item,
		}
		if err := event.Validate(); err != nil {
			c.logger.Debug("Skipping invalid event", "id", item.Id, "error", err)
			continue
		}
		if w.Overlaps(event) {
			internalEvents = append(internalEvents, event)
		}
	}
	return internalEvents
}

func (c *CalendarClient) eventTimes(item *calendar.Event) (start, end time.Time, allDay bool, err error) {
	if item.Start.Date != "" {
		start, err = time.ParseInLocation("2006-01-02", item.Start.Date, c.location)
		if err != nil {
			return
		}
		end = start.AddDate(0, 0, 1)
		if item.End != nil && item.End.Date != "" {
			end, err = time.ParseInLocation("2006-01-02", item.End.Date, c.location)
		}
		return start, end, true, err
	}

	start, err = time.Parse(time.RFC3339, item.Start.DateTime)
	if err != nil {
		return
	}
	start = start.In(c.location)
	end = start.Add(time.Hour)
	if item.End != nil && item.End.DateTime != "" {
		end, err = time.Parse(time.RFC3339, item.End.DateTime)
		end = end.In(c.location)
	}
	return start, end, false, err
}

func (c *CalendarClient) fail(err error) error {
	return failure.New(c.name, string(c.source), classify(err), err)
}

// classify maps Calendar API and OAuth errors onto the failure taxonomy.
func classify(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusForbidden {
			for _, item := range apiErr.Errors {
				if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
					return failure.ErrRateLimited
				}
			}
		}
		if kind := failure.StatusKind(apiErr.Code); kind != nil {
			return kind
		}
	}
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return failure.ErrUnauthenticated
	}
	return failure.Classify(err)
}

// GetOAuthConfigForAuthFlow is used by the auth command to get the config for the web flow.
func GetOAuthConfigForAuthFlow(clientID, clientSecret string) (*oauth2.Config, error) {
	return getOAuthConfig(clientID, clientSecret)
}

// getOAuthConfig reads credentials and returns an OAuth2 config.
// It prioritizes environment variables over a local credentials.json file.
func getOAuthConfig(clientID, clientSecret string) (*oauth2.Config, error) {
	if clientID != "" && clientSecret != "" {
		return &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  "urn:ietf:wg:oauth:2.0:oob",
			Scopes:       []string{calendar.CalendarReadonlyScope},
			Endpoint:     google.Endpoint,
		}, nil
	}

	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("credentials.json not found. Please provide GOOGLE_CLIENT_ID and GOOGLE_CLIENT_SECRET env vars or place credentials.json in the working directory")
		}
		return nil, fmt.Errorf("unable to read client secret file: %w", err)
	}

	config, err := google.ConfigFromJSON(b, calendar.CalendarReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret file to config: %w", err)
	}
	config.RedirectURL = "urn:ietf:wg:oauth:2.0:oob" // For desktop app flow
	return config, nil
}

// TokenFromWeb is called by the auth flow to retrieve a token.
func TokenFromWeb(ctx context.Context, config *oauth2.Config, authCode string) (*oauth2.Token, error) {
	return config.Exchange(ctx, authCode)
}

// TokenPath returns the token file of an account inside dir.
func TokenPath(dir, account string) string {
	if account == "" {
		account = "default"
	}
	return filepath.Join(dir, "token-"+account+".json")
}

// SaveToken saves a token to a file path.
func SaveToken(path string, token *oauth2.Token) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("unable to create token file: %w", err)
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(token)
}

// tokenFromFile retrieves a token from a local file.
func tokenFromFile(file string) (*oauth2.Token, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	tok := &oauth2.Token{}
	err = json.NewDecoder(f).Decode(tok)
	return tok, err
}

// GetTokenAccounts lists the accounts that have a token file in dir.
func GetTokenAccounts(dir string) ([]string, error) {
	if dir == "" {
		dir = "."
	}
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var accounts []string
	for _, file := range files {
		if strings.HasPrefix(file.Name(), "token-") && strings.HasSuffix(file.Name(), ".json") {
			accountName := strings.TrimSuffix(strings.TrimPrefix(file.Name(), "token-"), ".json")
			accounts = append(accounts, accountName)
		}
	}
	return accounts, nil
}
