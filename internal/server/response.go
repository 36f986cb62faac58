package server

import (
	"time"

	"calagg/internal/aggregator"
	"calagg/internal/failure"
	"calagg/internal/models"
)

// Response is the JSON view of an aggregator.Result.
type Response struct {
	QueryID string         `json:"query_id"`
	Window  WindowView     `json:"window"`
	Events  []EventView    `json:"events"`
	Sources []SourceStatus `json:"sources"`
}

type WindowView struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

type EventView struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day"`
	Attendees   []string  `json:"attendees,omitempty"`
	Source      string    `json:"source"`
}

type SourceStatus struct {
	Provider   string `json:"provider"`
	Source     string `json:"source"`
	OK         bool   `json:"ok"`
	Count      int    `json:"count"`
	DurationMS int64  `json:"duration_ms"`
	Kind       string `json:"kind,omitempty"`
	Error      string `json:"error,omitempty"`
}

type ErrorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Causes  []SourceStatus `json:"causes,omitempty"`
}

// NewResponse converts a result. Events keep the result's order.
func NewResponse(res *aggregator.Result) Response {
	out := Response{
		QueryID: res.QueryID.String(),
		Window:  WindowView{From: res.Window.From, To: res.Window.To},
		Events:  make([]EventView, 0, len(res.Events)),
		Sources: make([]SourceStatus, 0, len(res.Statuses)),
	}
	for _, e := range res.Events {
		out.Events = append(out.Events, newEventView(e))
	}
	for _, st := range res.Statuses {
		out.Sources = append(out.Sources, newSourceStatus(st))
	}
	return out
}

func newEventView(e models.Event) EventView {
	return EventView{
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		Location:    e.Location,
		Start:       e.Start,
		End:         e.End,
		AllDay:      e.AllDay,
		Attendees:   e.Attendees,
		Source:      string(e.Source),
	}
}

func newSourceStatus(st aggregator.Status) SourceStatus {
	out := SourceStatus{
		Provider:   st.Provider,
		Source:     string(st.Source),
		OK:         st.OK(),
		Count:      st.Count,
		DurationMS: st.Duration.Milliseconds(),
	}
	if st.Err != nil {
		out.Kind = st.Err.Kind.Error()
		out.Error = st.Err.Error()
	}
	return out
}

func sourceOf(e *failure.Error) models.Source {
	return models.Source(e.Source)
}
