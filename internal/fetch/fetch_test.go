package fetch

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeQuerier struct {
	events map[string][]RawEvent
	errs   map[string]error
	calls  []string
}

func (f *fakeQuerier) Query(_ context.Context, id string, _, _ time.Time) ([]RawEvent, error) {
	f.calls = append(f.calls, id)
	if err := f.errs[id]; err != nil {
		return nil, err
	}
	return f.events[id], nil
}

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load location %s: %v", name, err)
	}
	return loc
}

func TestNormalizeAllDay(t *testing.T) {
	loc := mustLoc(t, "Asia/Singapore")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, loc)
	src := Source{ID: "fam", Name: "Family", Icon: "♣"}

	cases := []struct {
		name      string
		start     string
		end       string
		wantMulti bool
		wantEnd   time.Time
	}{
		{"single day", "2024-05-01", "2024-05-02", false, time.Date(2024, 5, 1, 23, 59, 59, 999999999, loc)},
		{"three days", "2024-05-05", "2024-05-08", true, time.Date(2024, 5, 7, 23, 59, 59, 999999999, loc)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Normalize(RawEvent{
				Summary: "x",
				Start:   RawTime{Date: tc.start},
				End:     RawTime{Date: tc.end},
			}, src, loc, now, 24)
			if err != nil {
				t.Fatalf("Normalize: %v", err)
			}
			if !ev.AllDay {
				t.Fatalf("AllDay = false for date-only event")
			}
			if ev.MultiDay != tc.wantMulti {
				t.Fatalf("MultiDay = %v, want %v", ev.MultiDay, tc.wantMulti)
			}
			if !ev.End.Equal(tc.wantEnd) {
				t.Fatalf("End = %s, want %s", ev.End, tc.wantEnd)
			}
			if ev.Icon != "♣" || ev.OwnerName != "Family" || ev.CalendarID != "fam" {
				t.Fatalf("owner metadata not copied: %+v", ev)
			}
		})
	}
}

func TestNormalizeConvertsTimezone(t *testing.T) {
	loc := mustLoc(t, "Asia/Seoul")
	start := time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC) // 08:30 next day in Seoul
	end := start.Add(time.Hour)

	ev, err := Normalize(RawEvent{
		Start: RawTime{DateTime: start},
		End:   RawTime{DateTime: end},
	}, Source{ID: "a"}, loc, start, 1)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if ev.AllDay {
		t.Fatalf("timed event flagged all-day")
	}
	if ev.Start.Location() != loc || ev.Start.Day() != 2 || ev.Start.Hour() != 8 {
		t.Fatalf("Start = %s, want 2024-05-02 08:30 KST", ev.Start)
	}
	if ev.MultiDay {
		t.Fatalf("one-hour event flagged multi-day")
	}
}

func TestAdjustEndTime(t *testing.T) {
	loc := time.UTC
	midnight := time.Date(2024, 3, 1, 0, 0, 0, 0, loc)
	got := AdjustEndTime(midnight, loc)
	want := time.Date(2024, 2, 29, 23, 59, 59, 999999999, loc)
	if !got.Equal(want) {
		t.Fatalf("AdjustEndTime(midnight) = %s, want %s", got, want)
	}

	notMidnight := time.Date(2024, 3, 1, 0, 0, 1, 0, loc)
	if got := AdjustEndTime(notMidnight, loc); !got.Equal(notMidnight) {
		t.Fatalf("AdjustEndTime changed non-midnight end: %s", got)
	}
}

func TestTimedEventEndingAtMidnightStaysSingleDay(t *testing.T) {
	loc := time.UTC
	start := time.Date(2024, 3, 1, 20, 0, 0, 0, loc)
	end := time.Date(2024, 3, 2, 0, 0, 0, 0, loc)
	ev, err := Normalize(RawEvent{Start: RawTime{DateTime: start}, End: RawTime{DateTime: end}}, Source{}, loc, start, 1)
	if err != nil {
		t.Fatal(err)
	}
	if ev.MultiDay {
		t.Fatalf("event ending at midnight flagged multi-day")
	}
}

func TestZeroLengthMidnightEventClamped(t *testing.T) {
	loc := time.UTC
	at := time.Date(2024, 3, 2, 0, 0, 0, 0, loc)
	ev, err := Normalize(RawEvent{Start: RawTime{DateTime: at}, End: RawTime{DateTime: at}}, Source{}, loc, at, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !ev.End.Equal(ev.Start) || ev.MultiDay {
		t.Fatalf("zero-length event: end=%s multi=%v", ev.End, ev.MultiDay)
	}
}

func TestIsRecentlyUpdated(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		updated time.Time
		want    bool
	}{
		{now.Add(-time.Hour), true},
		{now.Add(-47 * time.Hour), true},
		{now.Add(-48 * time.Hour), false},
		{now.Add(-72 * time.Hour), false},
		{time.Time{}, false},
	}
	for _, tc := range cases {
		if got := IsRecentlyUpdated(tc.updated, now, 48); got != tc.want {
			t.Fatalf("IsRecentlyUpdated(%s) = %v, want %v", tc.updated, got, tc.want)
		}
	}
	if IsRecentlyUpdated(now.Add(time.Minute), now, 0) {
		t.Fatal("threshold 0 must disable highlighting")
	}
}

func TestNormalizeRejectsEmptyStart(t *testing.T) {
	_, err := Normalize(RawEvent{End: RawTime{Date: "2024-01-01"}}, Source{}, time.UTC, time.Now(), 1)
	if err == nil {
		t.Fatal("expected error for missing start")
	}
}

func TestFetchIsolatesSourceFailures(t *testing.T) {
	loc := time.UTC
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, loc)
	q := &fakeQuerier{
		events: map[string][]RawEvent{
			"good": {
				{Summary: "b", Start: RawTime{Date: "2024-05-03"}, End: RawTime{Date: "2024-05-04"}, Updated: now.Add(-time.Hour)},
			},
			"also": {{Summary: "c", Start: RawTime{Date: "2024-05-09"}, End: RawTime{Date: "2024-05-10"}}},
		},
		errs: map[string]error{"broken": errors.New("403 forbidden")},
	}
	f := New(q, WithClock(func() time.Time { return now }))
	sources := []Source{{ID: "good", Name: "G"}, {ID: "broken", Name: "B"}, {ID: "also", Name: "A"}}

	outcomes, err := f.FetchAll(context.Background(), sources, now, now.AddDate(0, 1, 0), loc, 24)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outcomes))
	}
	var se *SourceError
	if !errors.As(outcomes[1].Err, &se) || se.SourceID != "broken" {
		t.Fatalf("outcome[1].Err = %v, want SourceError for broken", outcomes[1].Err)
	}
	if len(outcomes[1].Calendar.Events) != 0 {
		t.Fatalf("failed source has events")
	}

	cals, err := f.Fetch(context.Background(), sources, now, now.AddDate(0, 1, 0), loc, 24)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got := []string{cals[0].ID, cals[1].ID, cals[2].ID}; got[0] != "good" || got[1] != "broken" || got[2] != "also" {
		t.Fatalf("order = %v", got)
	}
	if len(cals.Get("good").Events) != 1 || !cals.Get("good").Events[0].IsUpdated {
		t.Fatalf("good events = %+v", cals.Get("good").Events)
	}
	if len(cals.Get("also").Events) != 1 {
		t.Fatalf("source after failure not fetched")
	}
	if cals.Get("broken") == nil || len(cals.Get("broken").Events) != 0 {
		t.Fatalf("broken calendar must be present and empty")
	}
}

func TestMalformedEventFailsSource(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	q := &fakeQuerier{events: map[string][]RawEvent{
		"mixed": {
			{Summary: "ok", Start: RawTime{Date: "2024-05-03"}, End: RawTime{Date: "2024-05-04"}},
			{Summary: "garbled", Start: RawTime{Date: "not-a-date"}, End: RawTime{Date: "2024-05-05"}},
		},
		"fine": {{Summary: "c", Start: RawTime{Date: "2024-05-09"}, End: RawTime{Date: "2024-05-10"}}},
	}}
	f := New(q, WithClock(func() time.Time { return now }))
	sources := []Source{{ID: "mixed"}, {ID: "fine"}}

	outcomes, err := f.FetchAll(context.Background(), sources, now, now.AddDate(0, 1, 0), time.UTC, 1)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	var se *SourceError
	if !errors.As(outcomes[0].Err, &se) || se.SourceID != "mixed" {
		t.Fatalf("outcome[0].Err = %v, want SourceError for mixed", outcomes[0].Err)
	}
	if n := len(outcomes[0].Calendar.Events); n != 0 {
		t.Fatalf("malformed source kept %d events, want 0", n)
	}
	if outcomes[1].Err != nil || len(outcomes[1].Calendar.Events) != 1 {
		t.Fatalf("healthy source affected: %+v", outcomes[1])
	}
}

func TestFetchRejectsInvertedWindow(t *testing.T) {
	f := New(&fakeQuerier{})
	now := time.Now()
	if _, err := f.Fetch(context.Background(), nil, now, now.Add(-time.Hour), time.UTC, 1); err == nil {
		t.Fatal("expected error for start after end")
	}
	if _, err := f.Fetch(context.Background(), nil, now, now, nil, 1); err == nil {
		t.Fatal("expected error for nil location")
	}
}

func TestRouter(t *testing.T) {
	a := &fakeQuerier{events: map[string][]RawEvent{"a": {{Summary: "x"}}}}
	r := Router{"a": a}
	got, err := r.Query(context.Background(), "a", time.Time{}, time.Time{})
	if err != nil || len(got) != 1 {
		t.Fatalf("Query(a) = %v, %v", got, err)
	}
	if _, err := r.Query(context.Background(), "missing", time.Time{}, time.Time{}); err == nil {
		t.Fatal("expected error for unrouted source")
	}
}
