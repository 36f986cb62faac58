// Package ics maps iCalendar VEVENT components, as returned by CalDAV
// servers and published ICS feeds, into models.Event.
//
// All-day convention: a date-valued DTSTART becomes local midnight of that
// day in the reference location, DTEND (exclusive) local midnight after the
// last day, and AllDay is set.
package ics

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"

	"calagg/internal/models"
)

const (
	// maxOccurrences caps how many instances one recurrence master may yield per window.
	maxOccurrences = 1000

	defaultTitle = "(no title)"
)

// Mapper converts iCalendar data into canonical events for one provider.
type Mapper struct {
	Source   models.Source
	Location *time.Location
	Logger   *slog.Logger
}

// instanceKey identifies an overridden occurrence of a recurring event.
type instanceKey struct {
	uid   string
	start int64
}

// Events maps every VEVENT of cals that overlaps w. Recurrence masters are
// materialized into their instances inside w; instances overridden by a
// RECURRENCE-ID component are taken from the override. Components that
// cannot be mapped are logged and skipped.
func (m *Mapper) Events(cals []*ical.Calendar, w models.Window) []models.Event {
	loc := m.Location
	if loc == nil {
		loc = time.UTC
	}
	w = w.In(loc)
	tz := newZones(loc)

	var masters, singles []ical.Event
	overridden := make(map[instanceKey]bool)

	for _, cal := range cals {
		if cal == nil {
			continue
		}
		for _, ev := range cal.Events() {
			normalizeTimezones(ev.Component)
			if isCancelled(ev.Component) {
				continue
			}
			if rid := ev.Props.Get(ical.PropRecurrenceID); rid != nil {
				if t, _, err := propTime(rid, tz, loc); err == nil {
					overridden[instanceKey{uid: uid(ev.Component), start: t.Unix()}] = true
				}
				singles = append(singles, ev)
				continue
			}
			if ev.Props.Get(ical.PropRecurrenceRule) != nil || ev.Props.Get(ical.PropRecurrenceDates) != nil {
				masters = append(masters, ev)
				continue
			}
			singles = append(singles, ev)
		}
	}

	var out []models.Event
	for _, ev := range singles {
		e, err := m.toEvent(ev.Component, tz, loc)
		if err != nil {
			m.logger().Debug("Skipping unmappable event", "source", m.Source, "uid", uid(ev.Component), "error", err)
			continue
		}
		if w.Overlaps(e) {
			out = append(out, e)
		}
	}
	for _, ev := range masters {
		instances, err := m.expand(ev.Component, w, tz, loc, overridden)
		if err != nil {
			m.logger().Debug("Skipping unexpandable recurring event", "source", m.Source, "uid", uid(ev.Component), "error", err)
			continue
		}
		out = append(out, instances...)
	}
	return out
}

func (m *Mapper) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.Default()
	}
	return m.Logger
}

// toEvent maps a single (non-master) VEVENT.
func (m *Mapper) toEvent(comp *ical.Component, tz *zones, loc *time.Location) (models.Event, error) {
	startProp := comp.Props.Get(ical.PropDateTimeStart)
	if startProp == nil {
		return models.Event{}, errors.New("missing DTSTART")
	}
	start, allDay, err := propTime(startProp, tz, loc)
	if err != nil {
		return models.Event{}, fmt.Errorf("invalid DTSTART: %w", err)
	}
	end, err := endTime(comp, start, allDay, tz, loc)
	if err != nil {
		return models.Event{}, err
	}

	e := models.Event{
		ID:          uid(comp),
		Title:       text(comp, ical.PropSummary),
		Description: text(comp, ical.PropDescription),
		Location:    text(comp, ical.PropLocation),
		Start:       start,
		End:         end,
		AllDay:      allDay,
		Attendees:   attendees(comp),
		Source:      m.Source,
		Raw:         comp,
	}
	if strings.TrimSpace(e.Title) == "" {
		e.Title = defaultTitle
	}
	if e.ID == "" {
		e.ID = string(m.Source) + "-" + start.UTC().Format(time.RFC3339) + "-" + e.Title
	} else if rid := comp.Props.Get(ical.PropRecurrenceID); rid != nil {
		if t, _, err := propTime(rid, tz, loc); err == nil {
			e.ID = occurrenceID(e.ID, t)
		}
	}
	if err := e.Validate(); err != nil {
		return models.Event{}, err
	}
	return e, nil
}

// expand materializes the instances of a recurrence master that overlap w.
func (m *Mapper) expand(comp *ical.Component, w models.Window, tz *zones, loc *time.Location, overridden map[instanceKey]bool) ([]models.Event, error) {
	first, err := m.toEvent(comp, tz, loc)
	if err != nil {
		return nil, err
	}
	set, err := recurrenceSet(comp, first.Start, tz, loc)
	if err != nil {
		return nil, err
	}

	duration := first.End.Sub(first.Start)
	days := int(duration.Round(24*time.Hour) / (24 * time.Hour))
	starts := set.Between(w.From.Add(-duration), w.To, true)
	if len(starts) > maxOccurrences {
		m.logger().Warn("Truncating recurring event instances", "source", m.Source, "uid", first.ID, "cap", maxOccurrences)
		starts = starts[:maxOccurrences]
	}

	out := make([]models.Event, 0, len(starts))
	for _, s := range starts {
		if overridden[instanceKey{uid: first.ID, start: s.Unix()}] {
			continue
		}
		instance := first
		instance.Start = s.In(loc)
		if first.AllDay {
			instance.End = instance.Start.AddDate(0, 0, days)
		} else {
			instance.End = instance.Start.Add(duration)
		}
		instance.ID = occurrenceID(first.ID, instance.Start)
		if w.Overlaps(instance) {
			out = append(out, instance)
		}
	}
	return out, nil
}

// recurrenceSet builds the RRULE/RDATE/EXDATE set of a master anchored at start.
func recurrenceSet(comp *ical.Component, start time.Time, tz *zones, loc *time.Location) (*rrule.Set, error) {
	set := &rrule.Set{}
	rules := comp.Props.Values(ical.PropRecurrenceRule)
	if len(rules) == 0 {
		// RDATE-only masters still occur at DTSTART.
		set.RDate(start)
	}
	for _, p := range rules {
		r, err := rrule.StrToRRule(p.Value)
		if err != nil {
			return nil, fmt.Errorf("invalid RRULE %q: %w", p.Value, err)
		}
		r.DTStart(start)
		set.RRule(r)
	}
	for _, p := range comp.Props.Values(ical.PropRecurrenceDates) {
		for _, t := range propTimes(&p, tz, loc) {
			set.RDate(t)
		}
	}
	for _, p := range comp.Props.Values(ical.PropExceptionDates) {
		for _, t := range propTimes(&p, tz, loc) {
			set.ExDate(t)
		}
	}
	return set, nil
}

func occurrenceID(uid string, start time.Time) string {
	return uid + "@" + start.UTC().Format(time.RFC3339)
}

func uid(comp *ical.Component) string {
	if p := comp.Props.Get(ical.PropUID); p != nil {
		return strings.TrimSpace(p.Value)
	}
	return ""
}

func text(comp *ical.Component, name string) string {
	v, err := comp.Props.Text(name)
	if err != nil {
		if p := comp.Props.Get(name); p != nil {
			return strings.TrimSpace(p.Value)
		}
		return ""
	}
	return strings.TrimSpace(v)
}

func isCancelled(comp *ical.Component) bool {
	p := comp.Props.Get(ical.PropStatus)
	return p != nil && strings.EqualFold(strings.TrimSpace(p.Value), "CANCELLED")
}

func attendees(comp *ical.Component) []string {
	var out []string
	for _, p := range comp.Props.Values(ical.PropAttendee) {
		v := strings.TrimSpace(p.Value)
		if len(v) >= 7 && strings.EqualFold(v[:7], "mailto:") {
			v = v[7:]
		}
		if v == "" {
			v = p.Params.Get(ical.ParamCommonName)
		}
		out = append(out, v)
	}
	return models.AttendeeSet(out)
}

// endTime resolves DTEND, then DURATION, then the defaults: one day for
// all-day events and one hour for timed ones.
func endTime(comp *ical.Component, start time.Time, allDay bool, tz *zones, loc *time.Location) (time.Time, error) {
	if p := comp.Props.Get(ical.PropDateTimeEnd); p != nil {
		end, _, err := propTime(p, tz, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid DTEND: %w", err)
		}
		return end, nil
	}
	if p := comp.Props.Get(ical.PropDuration); p != nil {
		d, err := p.Duration()
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid DURATION: %w", err)
		}
		return start.Add(d), nil
	}
	if allDay {
		return start.AddDate(0, 0, 1), nil
	}
	return start.Add(time.Hour), nil
}

// propTime parses a DATE or DATE-TIME property value into loc. Floating
// times and unknown TZIDs are read in loc.
func propTime(p *ical.Prop, tz *zones, loc *time.Location) (time.Time, bool, error) {
	return parseValue(p.Value, p.ValueType() == ical.ValueDate, p.Params.Get(ical.ParamTimezoneID), tz, loc)
}

func propTimes(p *ical.Prop, tz *zones, loc *time.Location) []time.Time {
	var out []time.Time
	for _, v := range strings.Split(p.Value, ",") {
		t, _, err := parseValue(v, p.ValueType() == ical.ValueDate, p.Params.Get(ical.ParamTimezoneID), tz, loc)
		if err == nil {
			out = append(out, t)
		}
	}
	return out
}

func parseValue(value string, isDate bool, tzid string, tz *zones, loc *time.Location) (time.Time, bool, error) {
	value = strings.TrimSpace(value)
	if isDate || (len(value) == 8 && !strings.Contains(value, "T")) {
		t, err := time.ParseInLocation("20060102", value, loc)
		return t, true, err
	}
	if strings.HasSuffix(value, "Z") {
		t, err := time.Parse("20060102T150405Z", value)
		return t.In(loc), false, err
	}
	in := loc
	if tzid != "" {
		in, _ = tz.lookup(tzid)
	}
	t, err := time.ParseInLocation("20060102T150405", value, in)
	return t.In(loc), false, err
}

// normalizeTimezones rewrites Windows TZIDs in place so consumers of Raw
// see IANA names too.
func normalizeTimezones(comp *ical.Component) {
	for _, name := range []string{
		ical.PropDateTimeStart,
		ical.PropDateTimeEnd,
		ical.PropRecurrenceID,
		ical.PropExceptionDates,
		ical.PropRecurrenceDates,
	} {
		for _, p := range comp.Props.Values(name) {
			tzid := p.Params.Get(ical.ParamTimezoneID)
			if iana, ok := windowsToIANA[tzid]; ok && tzid != "" {
				p.Params.Set(ical.ParamTimezoneID, iana)
			}
		}
	}
}
