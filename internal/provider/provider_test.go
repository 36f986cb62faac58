package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"calagg/internal/models"
)

func TestMatches(t *testing.T) {
	e := models.Event{
		Title:       "Quarterly Planning",
		Description: "Budget review with finance",
		Attendees:   []string{"ivan.petrov@example.com", "Maria"},
	}

	assert.True(t, Matches(e, "planning"))
	assert.True(t, Matches(e, "BUDGET"))
	assert.True(t, Matches(e, "petrov"))
	assert.True(t, Matches(e, "maria"))
	assert.False(t, Matches(e, "standup"))
	assert.False(t, Matches(e, "Moscow"), "location is not searched")
}

func TestFilterKeepsOrder(t *testing.T) {
	events := []models.Event{
		{ID: "1", Title: "Standup"},
		{ID: "2", Title: "Lunch"},
		{ID: "3", Title: "standup retro"},
	}
	got := Filter(events, "standup")
	assert.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Equal(t, "3", got[1].ID)
}
