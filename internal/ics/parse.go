package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "maginkcal/internal/log"
)

// ParsedEvent is one VEVENT before recurrence expansion.
type ParsedEvent struct {
	Source Source

	UID     string
	Summary string

	Start  time.Time
	End    time.Time
	AllDay bool

	// Updated is LAST-MODIFIED, falling back to DTSTAMP.
	Updated time.Time

	RawRRule   string
	ExDates    []time.Time
	Recurrence *time.Time // RECURRENCE-ID (if present) in event's own timezone
	IsOverride bool       // true if this VEVENT is an override for a recurring instance
}

// ParseICS parses a single ICS payload into a list of ParsedEvent.
//
// VTIMEZONE/TZID handling is left to golang-ical. All-day events are
// detected from the DTSTART value type. RRULE/EXDATE/RECURRENCE-ID are
// recorded here and expanded by ExpandOccurrences.
func ParseICS(src Source, body []byte) ([]ParsedEvent, error) {
	if len(body) == 0 {
		return nil, errors.New("ics: empty body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	events := make([]ParsedEvent, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(src, comp)
		if perr != nil {
			// 개별 VEVENT 오류는 건너뛰고 나머지는 계속 파싱한다.
			appLog.Warn("ics vevent parse failed", perr, "id", src.ID, "url", redactURL(src.URL))
			continue
		}
		events = append(events, ev)
	}

	appLog.Debug("ics parse completed", "id", src.ID, "event_count", len(events))
	return events, nil
}

func parseVEvent(src Source, ve *ical.VEvent) (ParsedEvent, error) {
	out := ParsedEvent{Source: src}

	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return out, errors.New("missing UID")
	}
	out.UID = uidProp.Value

	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, errors.New("missing DTSTART")
	}
	out.AllDay = isDateValue(dtStart)

	start, err := ve.GetStartAt()
	if err != nil {
		return out, err
	}
	out.Start = start

	// DTEND is optional: an all-day event then lasts one day, a timed one
	// ends when it starts.
	end, err := ve.GetEndAt()
	switch {
	case err == nil && !end.Before(start):
		out.End = end
	case out.AllDay:
		out.End = start.AddDate(0, 0, 1)
	default:
		out.End = start
	}

	if p := ve.GetProperty("LAST-MODIFIED"); p != nil {
		if t, err := parseICSTime(p.Value, time.UTC); err == nil {
			out.Updated = t
		}
	}
	if out.Updated.IsZero() {
		if p := ve.GetProperty("DTSTAMP"); p != nil {
			if t, err := parseICSTime(p.Value, time.UTC); err == nil {
				out.Updated = t
			}
		}
	}

	if rruleProp := ve.GetProperty(ical.ComponentPropertyRrule); rruleProp != nil {
		out.RawRRule = rruleProp.Value
	}

	// EXDATE may repeat and may hold a comma-separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if t, err := propTime(p, part, start.Location()); err == nil {
				out.ExDates = append(out.ExDates, t)
			}
		}
	}

	if ridProp := ve.GetProperty("RECURRENCE-ID"); ridProp != nil {
		if t, err := propTime(ridProp, ridProp.Value, start.Location()); err == nil {
			out.Recurrence = &t
			out.IsOverride = true
		}
	}

	return out, nil
}

// isDateValue reports whether a DTSTART carries VALUE=DATE or a bare
// YYYYMMDD value.
func isDateValue(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// propTime parses one value of a date/date-time property. A TZID parameter
// selects the zone; without one, floating values take fallback, which
// callers set to the DTSTART zone so EXDATE and RECURRENCE-ID compare equal
// to the expanded instants.
func propTime(p *ical.IANAProperty, value string, fallback *time.Location) (time.Time, error) {
	loc := fallback
	if ids := p.ICalParameters["TZID"]; len(ids) > 0 && ids[0] != "" {
		l, err := time.LoadLocation(strings.Trim(ids[0], `"`))
		if err != nil {
			return time.Time{}, fmt.Errorf("TZID %q: %w", ids[0], err)
		}
		loc = l
	}
	return parseICSTime(value, loc)
}

// parseICSTime parses a basic ICS date/date-time string: "...Z" is UTC,
// everything else is read in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}
	if loc == nil {
		loc = time.Local
	}

	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	if strings.Contains(v, "T") {
		return time.ParseInLocation("20060102T150405", v, loc)
	}
	return time.ParseInLocation("20060102", v, loc)
}
