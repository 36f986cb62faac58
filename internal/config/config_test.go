package config

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
timezone: Europe/Moscow
log_level: DEBUG
priority: [google, yandex]
provider_timeout: 5s
query_timeout: 2s
providers:
  - name: yandex-work
    type: CalDAV
    username: ivan
    password: ${CALAGG_TEST_PASSWORD}
    calendar: Work
  - type: google
    account: personal
    calendar_ids: [primary, team@group.calendar.google.com]
  - name: holidays
    type: ics
    url: https://calendar.google.com/calendar/ical/holidays/basic.ics
server:
  listen: 0.0.0.0:9090
  basic_auth:
    username: admin
    password: hunter2
`

func TestParse(t *testing.T) {
	t.Setenv("CALAGG_TEST_PASSWORD", "app-pass")

	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)

	assert.Equal(t, "Europe/Moscow", cfg.Timezone)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{"google", "yandex"}, cfg.Priority)
	assert.Equal(t, 5*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 5*time.Second, cfg.QueryTimeout, "query timeout is raised to the provider timeout")
	assert.Equal(t, DefaultFindHorizon, cfg.FindHorizon)
	assert.Equal(t, DefaultDigestSchedule, cfg.Digest.Schedule)
	assert.Equal(t, "0.0.0.0:9090", cfg.Server.Listen)
	require.NotNil(t, cfg.Server.BasicAuth)
	assert.Equal(t, "admin", cfg.Server.BasicAuth.Username)

	require.Len(t, cfg.Providers, 3)
	yandex := cfg.Providers[0]
	assert.Equal(t, TypeCalDAV, yandex.Type)
	assert.Equal(t, "app-pass", yandex.Password)
	assert.Equal(t, "yandex", yandex.Source)
	assert.Equal(t, DefaultYandexURL, yandex.URL)

	google := cfg.Providers[1]
	assert.Equal(t, "google-2", google.Name)
	assert.Equal(t, "google", google.Source)
	assert.Equal(t, []string{"primary", "team@group.calendar.google.com"}, google.CalendarIDs)

	assert.Equal(t, "google", cfg.Providers[2].Source)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Moscow", loc.String())
}

func TestParseValidation(t *testing.T) {
	cases := map[string]string{
		"no providers":     "timezone: UTC\n",
		"bad timezone":     "timezone: Mars/Olympus\nproviders: [{type: ics, url: 'https://x/y.ics'}]\n",
		"unknown type":     "providers: [{type: exchange}]\n",
		"caldav no secret": "providers: [{type: caldav, username: ivan}]\n",
		"ics no url":       "providers: [{type: ics}]\n",
		"duplicate names":  "providers: [{name: a, type: google}, {name: a, type: google}]\n",
		"half basic auth":  "providers: [{type: google}]\nserver: {basic_auth: {username: admin}}\n",
		"not yaml":         "providers: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calagg.yaml")
	require.NoError(t, os.WriteFile(path, []byte("providers: [{type: google, account: work}]\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimezone, cfg.Timezone)
	assert.Equal(t, DefaultProviderTimeout, cfg.ProviderTimeout)
	assert.Equal(t, DefaultListen, cfg.Server.Listen)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestFromEnv(t *testing.T) {
	env := map[string]string{
		"PRIMARY_TIMEZONE":         "Europe/Moscow",
		"YANDEX_CALENDAR_LOGIN":    "ivan@yandex.ru",
		"YANDEX_CALENDAR_PASSWORD": "app-pass",
		"GOOGLE_CLIENT_ID":         "id",
		"GOOGLE_CLIENT_SECRET":     "secret",
		"GOOGLE_ACCOUNT":           "work",
		"GOOGLE_CALENDAR_IDS":      "primary, team@group.calendar.google.com,",
		"GOOGLE_CALENDAR_ICS_URL":  "https://calendar.google.com/calendar/ical/me/private-x/basic.ics",
	}
	cfg, err := FromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)

	assert.Equal(t, "Europe/Moscow", cfg.Timezone)
	require.Len(t, cfg.Providers, 3)

	assert.Equal(t, "yandex", cfg.Providers[0].Name)
	assert.Equal(t, DefaultYandexURL, cfg.Providers[0].URL)

	assert.Equal(t, "google-work", cfg.Providers[1].Name)
	assert.Equal(t, []string{"primary", "team@group.calendar.google.com"}, cfg.Providers[1].CalendarIDs)

	assert.Equal(t, TypeICS, cfg.Providers[2].Type)
}

func TestFromEnvTimezoneFallbackAndEmpty(t *testing.T) {
	env := map[string]string{"TIMEZONE": "Asia/Tokyo", "GOOGLE_CLIENT_ID": "id"}
	cfg, err := FromEnv(func(k string) string { return env[k] })
	require.NoError(t, err)
	assert.Equal(t, "Asia/Tokyo", cfg.Timezone)
	assert.Equal(t, "google", cfg.Providers[0].Name)

	_, err = FromEnv(func(string) string { return "" })
	assert.Error(t, err)
}
