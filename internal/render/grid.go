package render

import (
	"sort"
	"time"

	"maginkcal/internal/model"
)

const (
	shortGridDays = 35
	longGridDays  = 42
)

// GridWindow returns the first date shown in the month grid for today's
// month and the number of days the grid covers.
//
// The origin is the nearest weekStart on or before the 1st. The grid spans
// five weeks unless the month's last day would fall outside them, in which
// case it spans six.
func GridWindow(today time.Time, weekStart time.Weekday) (time.Time, int) {
	loc := today.Location()
	first := time.Date(today.Year(), today.Month(), 1, 0, 0, 0, 0, loc)
	back := (int(first.Weekday()) - int(weekStart) + 7) % 7
	origin := first.AddDate(0, 0, -back)

	last := first.AddDate(0, 1, -1)
	needed := daysBetween(origin, last) + 1
	if needed > shortGridDays {
		return origin, longGridDays
	}
	return origin, shortGridDays
}

// daysBetween counts calendar days from a to b using their wall-clock dates,
// so DST transitions do not shift the result.
func daysBetween(a, b time.Time) int {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	da := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	db := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(db.Sub(da).Hours() / 24)
}

// Cell is one day of the month grid.
type Cell struct {
	Date         time.Time
	Events       []model.Event
	Today        bool
	OutsideMonth bool
}

// Visible returns at most max events of the cell.
func (c Cell) Visible(max int) []model.Event {
	if len(c.Events) <= max {
		return c.Events
	}
	return c.Events[:max]
}

// Overflow is the number of events hidden by Visible(max).
func (c Cell) Overflow(max int) int {
	if n := len(c.Events) - max; n > 0 {
		return n
	}
	return 0
}

// Grid is the laid-out month.
type Grid struct {
	Origin time.Time
	Cells  []Cell
}

// BuildGrid assigns every event to the cell of its start date and, for
// multi-day events, to the cell of its end date as well. Days in between
// get nothing. Events outside the window are dropped. Each cell is sorted
// by start time.
func BuildGrid(cals model.Calendars, today time.Time, weekStart time.Weekday) Grid {
	origin, days := GridWindow(today, weekStart)

	cells := make([]Cell, days)
	for i := range cells {
		d := origin.AddDate(0, 0, i)
		cells[i] = Cell{
			Date:         d,
			Today:        sameDate(d, today),
			OutsideMonth: d.Month() != today.Month(),
		}
	}

	for _, cal := range cals {
		for _, ev := range cal.Events {
			ev.CalendarID = cal.ID
			ev.Icon = cal.Icon
			ev.OwnerName = cal.Name

			idx := daysBetween(origin, ev.Start)
			if idx >= 0 && idx < days {
				cells[idx].Events = append(cells[idx].Events, ev)
			}
			if !ev.MultiDay {
				continue
			}
			endIdx := daysBetween(origin, ev.End)
			if endIdx != idx && endIdx >= 0 && endIdx < days {
				cells[endIdx].Events = append(cells[endIdx].Events, ev)
			}
		}
	}

	for i := range cells {
		evs := cells[i].Events
		sort.SliceStable(evs, func(a, b int) bool { return evs[a].Start.Before(evs[b].Start) })
	}

	return Grid{Origin: origin, Cells: cells}
}

func sameDate(a, b time.Time) bool {
	return daysBetween(a, b) == 0
}
