// Package gcal reads events from Google Calendar.
package gcal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/api/calendar/v3"

	"maginkcal/internal/fetch"
	appLog "maginkcal/internal/log"
)

// Querier implements fetch.Querier on top of the Calendar API.
type Querier struct {
	svc *calendar.Service
}

func NewQuerier(svc *calendar.Service) *Querier {
	return &Querier{svc: svc}
}

// Query lists single (expanded) events of one calendar in [start, end).
func (q *Querier) Query(ctx context.Context, calendarID string, start, end time.Time) ([]fetch.RawEvent, error) {
	call := q.svc.Events.List(calendarID).
		TimeMin(start.Format(time.RFC3339)).
		TimeMax(end.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)

	out := make([]fetch.RawEvent, 0)
	err := call.Pages(ctx, func(page *calendar.Events) error {
		for _, item := range page.Items {
			raw, err := toRaw(item)
			if err != nil {
				return fmt.Errorf("event %s: %w", item.Id, err)
			}
			out = append(out, raw)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gcal: list events: %w", err)
	}
	appLog.Debug("gcal events listed", "calendar", calendarID, "events", len(out))
	return out, nil
}

func toRaw(item *calendar.Event) (fetch.RawEvent, error) {
	start, err := toRawTime(item.Start)
	if err != nil {
		return fetch.RawEvent{}, fmt.Errorf("start: %w", err)
	}
	end, err := toRawTime(item.End)
	if err != nil {
		return fetch.RawEvent{}, fmt.Errorf("end: %w", err)
	}

	raw := fetch.RawEvent{
		Summary: item.Summary,
		Start:   start,
		End:     end,
	}
	if item.Updated != "" {
		if u, err := time.Parse(time.RFC3339, item.Updated); err == nil {
			raw.Updated = u
		}
	}
	return raw, nil
}

func toRawTime(dt *calendar.EventDateTime) (fetch.RawTime, error) {
	if dt == nil {
		return fetch.RawTime{}, errors.New("missing")
	}
	if dt.DateTime != "" {
		t, err := time.Parse(time.RFC3339, dt.DateTime)
		if err != nil {
			return fetch.RawTime{}, err
		}
		return fetch.RawTime{DateTime: t}, nil
	}
	if dt.Date != "" {
		return fetch.RawTime{Date: dt.Date}, nil
	}
	return fetch.RawTime{}, errors.New("neither date nor dateTime set")
}

// CalendarInfo is one entry of the user's calendar list.
type CalendarInfo struct {
	ID      string
	Summary string
	Primary bool
}

// ListCalendars returns the calendars visible to the account; their ids are
// what goes into the calendars section of the config.
func ListCalendars(ctx context.Context, svc *calendar.Service) ([]CalendarInfo, error) {
	out := make([]CalendarInfo, 0)
	err := svc.CalendarList.List().Context(ctx).Pages(ctx, func(page *calendar.CalendarList) error {
		for _, c := range page.Items {
			out = append(out, CalendarInfo{ID: c.Id, Summary: c.Summary, Primary: c.Primary})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("gcal: list calendars: %w", err)
	}
	return out, nil
}
