package ics

import (
	"strings"
	"time"
)

// Map of common Windows timezone names to IANA timezone names.
// Exchange-originated invitations forwarded into CalDAV calendars carry these.
var windowsToIANA = map[string]string{
	"Russian Standard Time":         "Europe/Moscow",
	"Ekaterinburg Standard Time":    "Asia/Yekaterinburg",
	"N. Central Asia Standard Time": "Asia/Novosibirsk",
	"Pacific Standard Time":         "America/Los_Angeles",
	"Mountain Standard Time":        "America/Denver",
	"Central Standard Time":         "America/Chicago",
	"Eastern Standard Time":         "America/New_York",
	"GMT Standard Time":             "Europe/London",
	"W. Europe Standard Time":       "Europe/Berlin",
	"Central Europe Standard Time":  "Europe/Budapest",
	"Romance Standard Time":         "Europe/Paris",
	"FLE Standard Time":             "Europe/Kiev",
	"China Standard Time":           "Asia/Shanghai",
	"Tokyo Standard Time":           "Asia/Tokyo",
	"India Standard Time":           "Asia/Kolkata",
	"AUS Eastern Standard Time":     "Australia/Sydney",
	"UTC":                           "UTC",
}

// zones resolves TZIDs once per mapping pass.
type zones struct {
	fallback *time.Location
	cache    map[string]*time.Location
}

func newZones(fallback *time.Location) *zones {
	return &zones{fallback: fallback, cache: make(map[string]*time.Location)}
}

// lookup returns the location for tzid, or the fallback when the name is
// neither IANA nor a known Windows name.
func (z *zones) lookup(tzid string) (*time.Location, bool) {
	if loc, ok := z.cache[tzid]; ok {
		return loc, loc != z.fallback
	}
	name := strings.TrimPrefix(strings.Trim(tzid, `"`), "/")
	if iana, ok := windowsToIANA[name]; ok {
		name = iana
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		z.cache[tzid] = z.fallback
		return z.fallback, false
	}
	z.cache[tzid] = loc
	return loc, true
}
