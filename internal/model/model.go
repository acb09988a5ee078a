package model

import "time"

// Event is a normalized calendar entry ready for layout. All instants are in
// the display timezone.
type Event struct {
	Summary string

	// Owning calendar metadata, copied onto the event so a grid cell can be
	// rendered without looking the calendar up again.
	CalendarID string
	OwnerName  string
	Icon       string

	Start time.Time
	// End has the midnight adjustment applied: an end at exactly 00:00 is
	// stored as the last instant of the previous day.
	End     time.Time
	Updated time.Time

	AllDay    bool
	MultiDay  bool
	IsUpdated bool
}

// Calendar is one configured event source together with the events fetched
// for it in the current cycle.
type Calendar struct {
	ID     string
	Name   string
	Icon   string
	Events []Event
}

// Calendars keeps calendars in configuration order; the legend and the JSON
// API rely on that order being stable.
type Calendars []*Calendar

// Get returns the calendar with the given id, or nil.
func (cs Calendars) Get(id string) *Calendar {
	for _, c := range cs {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// EventCount is the total number of events across all calendars.
func (cs Calendars) EventCount() int {
	n := 0
	for _, c := range cs {
		n += len(c.Events)
	}
	return n
}

// Occurrence represents a single concrete instance of an ICS event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string // calendar source ID
	UID      string // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, typically derived from the local start time.
	InstanceKey string

	Summary string
	AllDay  bool

	// Start / End are in the configured display timezone. For all-day
	// occurrences they are midnights of the event's own calendar dates.
	Start time.Time
	End   time.Time

	// Updated is LAST-MODIFIED, or DTSTAMP when the feed omits it.
	Updated time.Time
}
