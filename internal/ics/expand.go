package ics

import (
	"errors"
	"time"

	"github.com/teambition/rrule-go"

	appLog "maginkcal/internal/log"
	"maginkcal/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent caps runaway rules. Zero means
	// defaultMaxOccurrencesPerEvent.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the list of expanded occurrences and optionally
// information about truncation.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

// ExpandOccurrences turns parsed events into concrete occurrences inside the
// configured range: single events pass through, RRULE events are expanded
// with EXDATE removed, and RECURRENCE-ID overrides replace the instance they
// name.
func ExpandOccurrences(events []ParsedEvent, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	// Keep input order of UIDs so output is deterministic.
	order := make([]string, 0)
	baseByUID := make(map[string][]ParsedEvent)
	overridesByUID := make(map[string][]ParsedEvent)

	for _, ev := range events {
		if ev.IsOverride && ev.Recurrence != nil {
			overridesByUID[ev.UID] = append(overridesByUID[ev.UID], ev)
			continue
		}
		if _, seen := baseByUID[ev.UID]; !seen {
			order = append(order, ev.UID)
		}
		baseByUID[ev.UID] = append(baseByUID[ev.UID], ev)
	}

	all := make([]model.Occurrence, 0)
	for _, uid := range order {
		ov := overridesByUID[uid]
		truncated := false

		for _, ev := range baseByUID[uid] {
			occ, hitCap := expandEvent(ev, ov, cfg)
			if hitCap {
				truncated = true
			}
			all = append(all, occ...)
		}

		if truncated {
			result.TruncatedEvents = append(result.TruncatedEvents, uid)
			appLog.Warn("expand: truncated occurrences for UID due to cap",
				errors.New("max occurrences reached"),
				"uid", uid,
				"cap", cfg.MaxOccurrencesPerEvent,
			)
		}
	}

	result.Occurrences = all
	return result, nil
}

func expandEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	if ev.RawRRule == "" {
		return expandSingleEvent(ev, overrides, cfg), false
	}
	return expandRecurringEvent(ev, overrides, cfg)
}

func expandSingleEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) []model.Occurrence {
	if o, ok := findOverrideForStart(overrides, ev.Start); ok {
		ev = o
	}
	if !timeRangesOverlap(ev.Start, ev.End, cfg.RangeStart, cfg.RangeEnd) {
		return nil
	}
	return []model.Occurrence{makeOccurrence(ev, ev.Start, ev.End, cfg.DisplayLocation)}
}

func expandRecurringEvent(ev ParsedEvent, overrides []ParsedEvent, cfg ExpandConfig) ([]model.Occurrence, bool) {
	out := make([]model.Occurrence, 0)
	hitCap := false

	r, err := rrule.StrToRRule(ev.RawRRule)
	if err != nil {
		appLog.Warn("expand: failed to parse RRULE", err, "uid", ev.UID, "rrule", ev.RawRRule)
		return out, false
	}
	r.DTStart(ev.Start)

	var set rrule.Set
	set.RRule(r)
	for _, ex := range ev.ExDates {
		set.ExDate(ex.In(ev.Start.Location()))
	}

	// An occurrence that started before the range may still overlap it.
	dur := ev.End.Sub(ev.Start)
	rangeStart := cfg.RangeStart.Add(-dur).In(ev.Start.Location())
	rangeEnd := cfg.RangeEnd.In(ev.Start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)
	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	for _, occStart := range occTimes {
		inst := ev
		inst.Start = occStart
		inst.End = occStart.Add(dur)

		if o, ok := findOverrideForStart(overrides, occStart); ok {
			inst = o
		}
		if !timeRangesOverlap(inst.Start, inst.End, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, makeOccurrence(inst, inst.Start, inst.End, cfg.DisplayLocation))
	}

	return out, hitCap
}

// findOverrideForStart finds an override whose RECURRENCE-ID equals start.
func findOverrideForStart(overrides []ParsedEvent, start time.Time) (ParsedEvent, bool) {
	for _, ov := range overrides {
		if ov.Recurrence == nil {
			continue
		}
		if ov.Recurrence.Equal(start) {
			return ov, true
		}
	}
	return ParsedEvent{}, false
}

// makeOccurrence converts an event instance into displayLoc. All-day
// instances keep their calendar dates: converting midnight UTC to a zone
// west of UTC would otherwise move them to the previous day.
func makeOccurrence(ev ParsedEvent, start, end time.Time, displayLoc *time.Location) model.Occurrence {
	var startLocal, endLocal time.Time
	if ev.AllDay {
		startLocal = sameDate(start, displayLoc)
		endLocal = sameDate(end, displayLoc)
	} else {
		startLocal = start.In(displayLoc)
		endLocal = end.In(displayLoc)
	}

	return model.Occurrence{
		SourceID:    ev.Source.ID,
		UID:         ev.UID,
		InstanceKey: startLocal.Format(time.RFC3339Nano),
		Summary:     ev.Summary,
		AllDay:      ev.AllDay,
		Start:       startLocal,
		End:         endLocal,
		Updated:     ev.Updated,
	}
}

func sameDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
