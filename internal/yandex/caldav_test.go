package yandex

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calagg/internal/failure"
	"calagg/internal/models"
)

const principalResponse = `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:">
  <d:response>
    <d:href>/</d:href>
    <d:propstat>
      <d:prop><d:current-user-principal><d:href>/principals/user/</d:href></d:current-user-principal></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

const homeSetResponse = `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/principals/user/</d:href>
    <d:propstat>
      <d:prop><c:calendar-home-set><d:href>/calendars/user/</d:href></c:calendar-home-set></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

const calendarsResponse = `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/calendars/user/</d:href>
    <d:propstat>
      <d:prop><d:resourcetype><d:collection/></d:resourcetype></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/calendars/user/tasks/</d:href>
    <d:propstat>
      <d:prop>
        <d:resourcetype><d:collection/><c:calendar/></d:resourcetype>
        <d:displayname>Tasks</d:displayname>
        <c:supported-calendar-component-set><c:comp name="VTODO"/></c:supported-calendar-component-set>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
  <d:response>
    <d:href>/calendars/user/work/</d:href>
    <d:propstat>
      <d:prop>
        <d:resourcetype><d:collection/><c:calendar/></d:resourcetype>
        <d:displayname>Work</d:displayname>
        <c:supported-calendar-component-set><c:comp name="VEVENT"/></c:supported-calendar-component-set>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

const reportResponse = `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/calendars/user/work/standup.ics</d:href>
    <d:propstat>
      <d:prop>
        <d:getetag>"1"</d:getetag>
        <c:calendar-data>BEGIN:VCALENDAR&#13;
VERSION:2.0&#13;
PRODID:-//Yandex//EN&#13;
BEGIN:VEVENT&#13;
UID:standup&#13;
DTSTAMP:20260301T000000Z&#13;
SUMMARY:Standup&#13;
DTSTART;TZID=Europe/Moscow:20260302T090000&#13;
DTEND;TZID=Europe/Moscow:20260302T093000&#13;
END:VEVENT&#13;
END:VCALENDAR&#13;
</c:calendar-data>
      </d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

// fakeServer answers the discovery PROPFINDs and the calendar-query REPORT
// of a single-user CalDAV server.
type fakeServer struct {
	reports  atomic.Int32
	lastBody atomic.Value
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	user, pass, ok := r.BasicAuth()
	if !ok || user != "ivan" || pass != "secret" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	body, _ := io.ReadAll(r.Body)

	var resp string
	switch {
	case r.Method == "PROPFIND" && r.URL.Path == "/":
		resp = principalResponse
	case r.Method == "PROPFIND" && r.URL.Path == "/principals/user/":
		resp = homeSetResponse
	case r.Method == "PROPFIND" && r.URL.Path == "/calendars/user/":
		resp = calendarsResponse
	case r.Method == "REPORT" && r.URL.Path == "/calendars/user/work/":
		f.reports.Add(1)
		f.lastBody.Store(string(body))
		resp = reportResponse
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	w.WriteHeader(http.StatusMultiStatus)
	_, _ = io.WriteString(w, resp)
}

func testWindow() models.Window {
	return models.Window{
		From: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC),
	}
}

func newTestClient(t *testing.T, endpoint, password, calendar string) *CalDAVClient {
	t.Helper()
	c, err := NewClient(slog.New(slog.NewTextHandler(io.Discard, nil)), Config{
		Name:     "yandex-work",
		Endpoint: endpoint,
		Username: "ivan",
		Password: password,
		Calendar: calendar,
	})
	require.NoError(t, err)
	return c
}

func TestFetch(t *testing.T) {
	fake := &fakeServer{}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", "secret", "")
	assert.Equal(t, "yandex-work", c.Name())
	assert.Equal(t, models.SourceYandex, c.Source())

	events, err := c.Fetch(context.Background(), testWindow())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "standup", events[0].ID)
	assert.Equal(t, "Standup", events[0].Title)
	assert.Equal(t, models.SourceYandex, events[0].Source)
	assert.Equal(t, time.Date(2026, 3, 2, 6, 0, 0, 0, time.UTC), events[0].Start)

	body, _ := fake.lastBody.Load().(string)
	assert.Contains(t, body, "time-range")
	assert.Contains(t, body, "20260302T000000Z")

	// Discovery is cached: a second fetch only issues the REPORT.
	_, err = c.Fetch(context.Background(), testWindow())
	require.NoError(t, err)
	assert.Equal(t, int32(2), fake.reports.Load())
	assert.Equal(t, "/calendars/user/work/", c.calendarURL)
}

func TestFetchSelectsCalendarByName(t *testing.T) {
	srv := httptest.NewServer(&fakeServer{})
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", "secret", "work")
	_, err := c.Fetch(context.Background(), testWindow())
	require.NoError(t, err)
	assert.Equal(t, "/calendars/user/work/", c.calendarURL)

	missing := newTestClient(t, srv.URL+"/", "secret", "Holidays")
	_, err = missing.Fetch(context.Background(), testWindow())
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrUnknown)
	assert.Contains(t, err.Error(), "Holidays")
}

func TestFetchUnauthenticated(t *testing.T) {
	srv := httptest.NewServer(&fakeServer{})
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", "wrong", "")
	_, err := c.Fetch(context.Background(), testWindow())
	require.Error(t, err)
	assert.ErrorIs(t, err, failure.ErrUnauthenticated)

	var fe *failure.Error
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, "yandex-work", fe.Provider)
	assert.Empty(t, c.calendarURL, "failed discovery is not cached")
}

func TestFetchServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", "secret", "")
	_, err := c.Fetch(context.Background(), testWindow())
	assert.ErrorIs(t, err, failure.ErrUnreachable)
}

func TestFetchRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", "secret", "")
	_, err := c.Fetch(context.Background(), testWindow())
	assert.ErrorIs(t, err, failure.ErrRateLimited)
}

func TestFetchTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := newTestClient(t, srv.URL+"/", "secret", "")
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Fetch(ctx, testWindow())
	assert.ErrorIs(t, err, failure.ErrUnreachable)
}

func TestInvalidWindowPerformsNoIO(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL+"/", "secret", "")
	w := testWindow()
	w.To = w.From

	_, err := c.Fetch(context.Background(), w)
	assert.ErrorIs(t, err, failure.ErrInvalidArgument)
	_, err = c.Search(context.Background(), "standup", w)
	assert.ErrorIs(t, err, failure.ErrInvalidArgument)
	assert.Zero(t, calls.Load())
}

func TestSearchUnsupported(t *testing.T) {
	c := newTestClient(t, DefaultEndpoint, "secret", "")
	_, err := c.Search(context.Background(), "standup", testWindow())
	assert.ErrorIs(t, err, failure.ErrUnsupported)
}

func TestNewClientRequiresCredentials(t *testing.T) {
	_, err := NewClient(slog.Default(), Config{Username: "ivan"})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "password"))
}
