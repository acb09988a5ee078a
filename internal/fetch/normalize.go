package fetch

import (
	"errors"
	"fmt"
	"time"

	"maginkcal/internal/model"
)

const dateLayout = "2006-01-02"

// Normalize converts a raw event into the display timezone and derives the
// all-day, multi-day and recently-updated flags.
func Normalize(raw RawEvent, src Source, loc *time.Location, now time.Time, thresholdHours float64) (model.Event, error) {
	start, err := toLocal(raw.Start, loc)
	if err != nil {
		return model.Event{}, fmt.Errorf("start: %w", err)
	}
	end, err := toLocal(raw.End, loc)
	if err != nil {
		return model.Event{}, fmt.Errorf("end: %w", err)
	}

	end = AdjustEndTime(end, loc)
	if end.Before(start) {
		// zero-length event at midnight
		end = start
	}

	ev := model.Event{
		Summary:    raw.Summary,
		CalendarID: src.ID,
		OwnerName:  src.Name,
		Icon:       src.Icon,
		Start:      start,
		End:        end,
		AllDay:     raw.Start.DateOnly(),
		MultiDay:   IsMultiday(start, end),
	}
	if !raw.Updated.IsZero() {
		ev.Updated = raw.Updated.In(loc)
		ev.IsUpdated = IsRecentlyUpdated(ev.Updated, now, thresholdHours)
	}
	return ev, nil
}

func toLocal(t RawTime, loc *time.Location) (time.Time, error) {
	if t.DateOnly() {
		d, err := time.ParseInLocation(dateLayout, t.Date, loc)
		if err != nil {
			return time.Time{}, err
		}
		return d, nil
	}
	if t.DateTime.IsZero() {
		return time.Time{}, errors.New("neither date nor date-time set")
	}
	return t.DateTime.In(loc), nil
}

// AdjustEndTime moves an end of exactly 00:00:00 to the last instant of the
// previous day, so the event does not spill into the next day's cell.
func AdjustEndTime(end time.Time, loc *time.Location) time.Time {
	end = end.In(loc)
	if end.Hour() != 0 || end.Minute() != 0 || end.Second() != 0 || end.Nanosecond() != 0 {
		return end
	}
	return time.Date(end.Year(), end.Month(), end.Day()-1, 23, 59, 59, int(time.Second-time.Nanosecond), loc)
}

// IsMultiday reports whether start and end fall on different calendar dates
// in start's location.
func IsMultiday(start, end time.Time) bool {
	end = end.In(start.Location())
	sy, sm, sd := start.Date()
	ey, em, ed := end.Date()
	return sy != ey || sm != em || sd != ed
}

// IsRecentlyUpdated reports whether updated lies less than thresholdHours
// before now. A threshold of 0 or less never matches.
func IsRecentlyUpdated(updated, now time.Time, thresholdHours float64) bool {
	if updated.IsZero() || thresholdHours <= 0 {
		return false
	}
	return now.Sub(updated).Hours() < thresholdHours
}
