package render

import (
	"fmt"
	"testing"
	"time"

	"maginkcal/internal/model"
)

func TestGridWindowProperties(t *testing.T) {
	loc, err := time.LoadLocation("Europe/London")
	if err != nil {
		t.Fatal(err)
	}
	for year := 2023; year <= 2026; year++ {
		for month := time.January; month <= time.December; month++ {
			for ws := time.Sunday; ws <= time.Saturday; ws++ {
				today := time.Date(year, month, 17, 15, 0, 0, 0, loc)
				origin, days := GridWindow(today, ws)

				first := time.Date(year, month, 1, 0, 0, 0, 0, loc)
				last := first.AddDate(0, 1, -1)
				name := fmt.Sprintf("%d-%02d ws=%s", year, month, ws)

				if origin.Weekday() != ws {
					t.Fatalf("%s: origin %s is a %s", name, origin.Format("2006-01-02"), origin.Weekday())
				}
				if origin.After(first) {
					t.Fatalf("%s: origin %s after the 1st", name, origin.Format("2006-01-02"))
				}
				if back := daysBetween(origin, first); back > 6 {
					t.Fatalf("%s: origin %d days before the 1st", name, back)
				}
				span := daysBetween(origin, last)
				want := 35
				if span+1 > 35 {
					want = 42
				}
				if days != want {
					t.Fatalf("%s: days = %d, want %d (span %d)", name, days, want, span)
				}
				if span >= days {
					t.Fatalf("%s: last day of month not covered", name)
				}
			}
		}
	}
}

func TestGridWindowNoWalkBackOnWeekStart(t *testing.T) {
	// 1 September 2024 is a Sunday.
	today := time.Date(2024, 9, 10, 0, 0, 0, 0, time.UTC)
	origin, _ := GridWindow(today, time.Sunday)
	if origin.Day() != 1 || origin.Month() != time.September {
		t.Fatalf("origin = %s, want 2024-09-01", origin.Format("2006-01-02"))
	}
}

func TestGridWindowSixWeeks(t *testing.T) {
	// March 2024 starts on a Friday and has 31 days: Sunday-start needs 6 rows.
	today := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	origin, days := GridWindow(today, time.Sunday)
	if days != 42 || origin.Format("2006-01-02") != "2024-02-25" {
		t.Fatalf("GridWindow = %s, %d", origin.Format("2006-01-02"), days)
	}
	// February 2026 starts on a Sunday and has 28 days.
	_, days = GridWindow(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), time.Sunday)
	if days != 35 {
		t.Fatalf("February 2026 days = %d, want 35", days)
	}
}

func eventOn(summary string, start, end time.Time, allDay bool) model.Event {
	return model.Event{
		Summary:  summary,
		Start:    start,
		End:      end,
		AllDay:   allDay,
		MultiDay: !sameDate(start, end),
	}
}

func findCell(t *testing.T, g Grid, day int, month time.Month) Cell {
	t.Helper()
	for _, c := range g.Cells {
		if c.Date.Day() == day && c.Date.Month() == month {
			return c
		}
	}
	t.Fatalf("no cell for %s %d", month, day)
	return Cell{}
}

func TestBuildGridMultiDayStartAndEndOnly(t *testing.T) {
	loc := time.UTC
	today := time.Date(2024, 5, 15, 8, 0, 0, 0, loc)
	cals := model.Calendars{{
		ID:   "fam",
		Name: "Family",
		Icon: "♣",
		Events: []model.Event{
			eventOn("Holiday", time.Date(2024, 5, 1, 0, 0, 0, 0, loc), time.Date(2024, 5, 1, 23, 59, 59, 0, loc), true),
			eventOn("Trip", time.Date(2024, 5, 5, 10, 0, 0, 0, loc), time.Date(2024, 5, 7, 11, 0, 0, 0, loc), false),
		},
	}}

	g := BuildGrid(cals, today, time.Sunday)

	if c := findCell(t, g, 1, time.May); len(c.Events) != 1 || c.Events[0].Summary != "Holiday" {
		t.Fatalf("day 1 = %+v", c.Events)
	}
	for _, d := range []int{5, 7} {
		c := findCell(t, g, d, time.May)
		if len(c.Events) != 1 || c.Events[0].Summary != "Trip" {
			t.Fatalf("day %d = %+v", d, c.Events)
		}
		if c.Events[0].Icon != "♣" || c.Events[0].OwnerName != "Family" {
			t.Fatalf("day %d event not tagged with owner: %+v", d, c.Events[0])
		}
	}
	if c := findCell(t, g, 6, time.May); len(c.Events) != 0 {
		t.Fatalf("day 6 should be empty, got %+v", c.Events)
	}
	if c := findCell(t, g, 15, time.May); !c.Today || c.OutsideMonth {
		t.Fatalf("day 15 flags = today:%v outside:%v", c.Today, c.OutsideMonth)
	}
	if c := g.Cells[0]; !c.OutsideMonth || c.Date.Format("2006-01-02") != "2024-04-28" {
		t.Fatalf("first cell = %s outside=%v", c.Date.Format("2006-01-02"), c.OutsideMonth)
	}
}

func TestBuildGridDropsOutOfWindowAndKeepsEndInWindow(t *testing.T) {
	loc := time.UTC
	today := time.Date(2024, 5, 15, 0, 0, 0, 0, loc)
	cals := model.Calendars{{ID: "a", Events: []model.Event{
		eventOn("Old", time.Date(2024, 3, 1, 9, 0, 0, 0, loc), time.Date(2024, 3, 1, 10, 0, 0, 0, loc), false),
		// starts before the window, ends inside it
		eventOn("Leftover", time.Date(2024, 4, 20, 9, 0, 0, 0, loc), time.Date(2024, 4, 29, 10, 0, 0, 0, loc), false),
	}}}

	g := BuildGrid(cals, today, time.Sunday)
	total := 0
	for _, c := range g.Cells {
		total += len(c.Events)
	}
	if total != 1 {
		t.Fatalf("assigned %d entries, want 1", total)
	}
	if c := findCell(t, g, 29, time.April); len(c.Events) != 1 || c.Events[0].Summary != "Leftover" {
		t.Fatalf("april 29 = %+v", c.Events)
	}
}

func TestBuildGridSortsAcrossSources(t *testing.T) {
	loc := time.UTC
	today := time.Date(2024, 5, 15, 0, 0, 0, 0, loc)
	at := func(h int) time.Time { return time.Date(2024, 5, 9, h, 0, 0, 0, loc) }
	cals := model.Calendars{
		{ID: "a", Events: []model.Event{eventOn("late", at(18), at(19), false), eventOn("noon", at(12), at(13), false)}},
		{ID: "b", Events: []model.Event{eventOn("early", at(7), at(8), false)}},
	}
	c := findCell(t, BuildGrid(cals, today, time.Monday), 9, time.May)
	got := []string{c.Events[0].Summary, c.Events[1].Summary, c.Events[2].Summary}
	if got[0] != "early" || got[1] != "noon" || got[2] != "late" {
		t.Fatalf("order = %v", got)
	}
}

func TestCellTruncation(t *testing.T) {
	c := Cell{Events: make([]model.Event, 5)}
	for max := 1; max <= 6; max++ {
		vis := c.Visible(max)
		if len(vis) > max {
			t.Fatalf("Visible(%d) returned %d", max, len(vis))
		}
		wantOverflow := 0
		if 5 > max {
			wantOverflow = 5 - max
		}
		if got := c.Overflow(max); got != wantOverflow {
			t.Fatalf("Overflow(%d) = %d, want %d", max, got, wantOverflow)
		}
		if len(vis)+c.Overflow(max) != 5 {
			t.Fatalf("visible + overflow != total for max %d", max)
		}
	}
}
