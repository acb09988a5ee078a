// Package fetch queries the configured calendar sources over a date window
// and normalizes what they return into model.Event records.
//
// A source that fails (network, permission, malformed payload) is logged and
// contributes no events; it never aborts the other sources.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	appLog "maginkcal/internal/log"
	"maginkcal/internal/model"
)

// DefaultTimeout bounds a single source query when no timeout is configured.
const DefaultTimeout = 20 * time.Second

// Querier is the calendar query capability: one range query for one source.
// Implementations need not return events in any particular order.
type Querier interface {
	Query(ctx context.Context, sourceID string, start, end time.Time) ([]RawEvent, error)
}

// RawTime is either a bare date (all-day) or a date-time.
type RawTime struct {
	// Date is YYYY-MM-DD for date-only values, empty otherwise.
	Date     string
	DateTime time.Time
}

// DateOnly reports whether the value carries no time of day.
func (t RawTime) DateOnly() bool { return t.Date != "" }

// RawEvent is an event as returned by a Querier, before normalization.
type RawEvent struct {
	Summary string
	Start   RawTime
	End     RawTime
	Updated time.Time
}

// Source describes one configured calendar.
type Source struct {
	ID   string
	Name string
	Icon string
}

// SourceError is the failure side of an Outcome.
type SourceError struct {
	SourceID string
	Err      error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("fetch: source %q: %v", e.SourceID, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Outcome is the result of querying one source. Calendar is always non-nil;
// when Err is set its event list is empty.
type Outcome struct {
	Calendar *model.Calendar
	Err      error
}

// Fetcher runs source queries sequentially.
type Fetcher struct {
	q       Querier
	now     func() time.Time
	timeout time.Duration
}

type Option func(*Fetcher)

// WithClock overrides the clock used for the recently-updated flag.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// WithTimeout sets the per-source query timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

func New(q Querier, opts ...Option) *Fetcher {
	f := &Fetcher{
		q:       q,
		now:     time.Now,
		timeout: DefaultTimeout,
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// FetchAll queries every source once and returns one Outcome per source, in
// the order given.
func (f *Fetcher) FetchAll(ctx context.Context, sources []Source, start, end time.Time, loc *time.Location, thresholdHours float64) ([]Outcome, error) {
	if loc == nil {
		return nil, errors.New("fetch: timezone is nil")
	}
	if start.After(end) {
		return nil, fmt.Errorf("fetch: window start %s is after end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	appLog.Info("retrieving events",
		"start", start.In(loc).Format(time.RFC3339),
		"end", end.In(loc).Format(time.RFC3339),
		"sources", len(sources),
	)

	now := f.now()
	outcomes := make([]Outcome, 0, len(sources))
	for _, src := range sources {
		cal := &model.Calendar{ID: src.ID, Name: src.Name, Icon: src.Icon, Events: []model.Event{}}

		events, err := f.fetchOne(ctx, src, start, end, loc, now, thresholdHours)
		if err != nil {
			outcomes = append(outcomes, Outcome{Calendar: cal, Err: &SourceError{SourceID: src.ID, Err: err}})
			continue
		}
		cal.Events = events
		outcomes = append(outcomes, Outcome{Calendar: cal})
	}
	return outcomes, nil
}

// Fetch is FetchAll with failures folded in: failed sources are logged and
// kept as calendars without events. It only returns an error for invalid
// arguments or when ctx was cancelled.
func (f *Fetcher) Fetch(ctx context.Context, sources []Source, start, end time.Time, loc *time.Location, thresholdHours float64) (model.Calendars, error) {
	outcomes, err := f.FetchAll(ctx, sources, start, end, loc, thresholdHours)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}

	cals := make(model.Calendars, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			appLog.Warn("failed to fetch events for calendar", o.Err, "source", o.Calendar.ID)
		}
		cals = append(cals, o.Calendar)
	}
	appLog.Info("events retrieved", "sources", len(cals), "events", cals.EventCount())
	return cals, nil
}

func (f *Fetcher) fetchOne(ctx context.Context, src Source, start, end time.Time, loc *time.Location, now time.Time, thresholdHours float64) ([]model.Event, error) {
	if f.q == nil {
		return nil, errors.New("no querier configured")
	}

	qctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	raws, err := f.q.Query(qctx, src.ID, start, end)
	if err != nil {
		return nil, err
	}

	events := make([]model.Event, 0, len(raws))
	for _, raw := range raws {
		ev, err := Normalize(raw, src, loc, now, thresholdHours)
		if err != nil {
			// One bad event means the response cannot be trusted.
			return nil, fmt.Errorf("malformed event %q: %w", raw.Summary, err)
		}
		events = append(events, ev)
	}
	appLog.Debug("source fetched", "source", src.ID, "events", len(events))
	return events, nil
}

// Router dispatches queries by source id to the backend that owns it.
type Router map[string]Querier

func (r Router) Query(ctx context.Context, sourceID string, start, end time.Time) ([]RawEvent, error) {
	q, ok := r[sourceID]
	if !ok || q == nil {
		return nil, fmt.Errorf("no backend for source %q", sourceID)
	}
	return q.Query(ctx, sourceID, start, end)
}
