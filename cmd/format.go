package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"calagg/internal/aggregator"
	"calagg/internal/models"
	"calagg/internal/server"
)

// printAgenda writes a numbered agenda grouped by local day, followed by
// the sources that could not be reached.
func printAgenda(w io.Writer, heading string, res *aggregator.Result, loc *time.Location) {
	fmt.Fprintln(w, heading)
	if len(res.Events) == 0 {
		fmt.Fprintln(w, "No events.")
	}

	var day string
	for i, e := range res.Events {
		e = e.In(loc)
		if d := e.Start.Format("Mon 02 Jan 2006"); d != day {
			day = d
			fmt.Fprintf(w, "\n%s\n", day)
		}
		fmt.Fprintf(w, "%d. %s  %s\n", i+1, timeRange(e), e.Title)
		if details := eventDetails(e); details != "" {
			fmt.Fprintf(w, "   %s\n", details)
		}
	}

	if failed := res.Failures(); len(failed) > 0 {
		fmt.Fprintln(w, "\nUnavailable sources:")
		for _, st := range failed {
			fmt.Fprintf(w, "  - %s (%s): %v\n", st.Provider, st.Source, st.Err.Kind)
		}
	}
}

func timeRange(e models.Event) string {
	if e.AllDay {
		return "all day      "
	}
	return e.Start.Format("15:04") + " - " + e.End.Format("15:04")
}

func eventDetails(e models.Event) string {
	var parts []string
	if e.Location != "" {
		parts = append(parts, e.Location)
	}
	switch n := len(e.Attendees); n {
	case 0:
	case 1:
		parts = append(parts, "1 attendee")
	default:
		parts = append(parts, fmt.Sprintf("%d attendees", n))
	}
	parts = append(parts, string(e.Source))
	return strings.Join(parts, ", ")
}

func printJSON(w io.Writer, res *aggregator.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(server.NewResponse(res))
}
