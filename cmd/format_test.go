package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"calagg/internal/aggregator"
	"calagg/internal/failure"
	"calagg/internal/models"
	"calagg/internal/query"
)

func sampleResult() *aggregator.Result {
	loc := time.FixedZone("MSK", 3*60*60)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	return &aggregator.Result{
		QueryID: uuid.New(),
		Window:  models.Window{From: day, To: day.AddDate(0, 0, 1)},
		Events: []models.Event{
			{ID: "h", Title: "Holiday", Start: day, End: day.AddDate(0, 0, 1), AllDay: true, Source: models.SourceGoogle},
			{
				ID: "s", Title: "Standup", Start: day.Add(9 * time.Hour), End: day.Add(9*time.Hour + 30*time.Minute),
				Location: "Room 1", Attendees: []string{"a@x.ru", "b@x.ru"}, Source: models.SourceYandex,
			},
		},
		Statuses: []aggregator.Status{
			{Provider: "yandex", Source: models.SourceYandex, Count: 1},
			{Provider: "google", Source: models.SourceGoogle, Err: failure.New("google", "google", failure.ErrRateLimited, errors.New("quota"))},
		},
	}
}

func TestPrintAgenda(t *testing.T) {
	res := sampleResult()
	var buf bytes.Buffer
	printAgenda(&buf, "Today", res, res.Window.From.Location())

	out := buf.String()
	assert.Contains(t, out, "Mon 02 Mar 2026")
	assert.Contains(t, out, "1. all day")
	assert.Contains(t, out, "2. 09:00 - 09:30  Standup")
	assert.Contains(t, out, "   Room 1, 2 attendees, yandex")
	assert.Contains(t, out, "Unavailable sources:")
	assert.Contains(t, out, "google (google): rate limited")
}

func TestPrintAgendaEmpty(t *testing.T) {
	var buf bytes.Buffer
	printAgenda(&buf, "Tomorrow", &aggregator.Result{}, time.UTC)
	assert.Equal(t, "Tomorrow\nNo events.\n", buf.String())
}

func TestPrintAgendaConvertsToLocation(t *testing.T) {
	res := sampleResult()
	var buf bytes.Buffer
	printAgenda(&buf, "Today", res, time.UTC)
	assert.Contains(t, buf.String(), "06:00 - 06:30  Standup")
}

func TestPrintJSON(t *testing.T) {
	res := sampleResult()
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, res))

	var decoded struct {
		QueryID string `json:"query_id"`
		Events  []struct {
			Title  string `json:"title"`
			AllDay bool   `json:"all_day"`
		} `json:"events"`
		Sources []struct {
			OK bool `json:"ok"`
		} `json:"sources"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, res.QueryID.String(), decoded.QueryID)
	require.Len(t, decoded.Events, 2)
	assert.True(t, decoded.Events[0].AllDay)
	assert.Len(t, decoded.Sources, 2)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(failure.Invalid("hours must be positive")))
	assert.Equal(t, 3, exitCode(&aggregator.UnavailableError{Causes: []*failure.Error{
		failure.New("yandex", "yandex", failure.ErrInvalidArgument, nil),
	}}))
	assert.Equal(t, 1, exitCode(fmt.Errorf("read config: %w", errors.New("boom"))))
}

func TestHeading(t *testing.T) {
	res := sampleResult()
	loc := res.Window.From.Location()
	assert.Equal(t, "Today, Mon 02 Mar 2026", heading(query.Command{Op: query.OpToday}, res, loc))
	six := 6
	assert.Equal(t, "Next 6 hours", heading(query.Command{Op: query.OpUpcoming, Hours: &six}, res, loc))
	assert.Equal(t, "Next 24 hours", heading(query.Command{Op: query.OpUpcoming}, res, loc))
	assert.Equal(t, `Meetings matching "ivan"`, heading(query.Command{Op: query.OpFind, Text: "ivan"}, res, loc))
}
