package ics

import (
	"context"
	"fmt"
	"time"

	"maginkcal/internal/fetch"
	appLog "maginkcal/internal/log"
)

// Querier adapts ICS subscriptions to fetch.Querier. URLs maps a source id
// to its feed URL; Location is the zone occurrences are expanded in.
type Querier struct {
	Fetcher  *Fetcher
	URLs     map[string]string
	Location *time.Location
}

// Query fetches the feed (through the disk cache), parses it and expands
// recurrences that overlap [start, end].
func (q *Querier) Query(ctx context.Context, sourceID string, start, end time.Time) ([]fetch.RawEvent, error) {
	u, ok := q.URLs[sourceID]
	if !ok || u == "" {
		return nil, fmt.Errorf("ics: no URL configured for %q", sourceID)
	}
	src := Source{ID: sourceID, URL: u}

	res, err := q.Fetcher.FetchOne(ctx, src)
	if err != nil {
		return nil, err
	}
	if res.FromCache {
		appLog.Debug("ics serving cached feed", "id", sourceID)
	}
	parsed, err := ParseICS(src, res.Body)
	if err != nil {
		return nil, fmt.Errorf("ics: parse %s: %w", redactURL(u), err)
	}

	loc := q.Location
	if loc == nil {
		loc = time.Local
	}
	expanded, err := ExpandOccurrences(parsed, ExpandConfig{
		DisplayLocation: loc,
		RangeStart:      start,
		RangeEnd:        end,
	})
	if err != nil {
		return nil, err
	}

	if len(expanded.TruncatedEvents) > 0 {
		appLog.Info("ics recurrences truncated", "id", sourceID, "uids", expanded.TruncatedEvents)
	}

	// Feeds occasionally repeat a VEVENT; keep one copy of each instance.
	seen := make(map[string]struct{}, len(expanded.Occurrences))
	out := make([]fetch.RawEvent, 0, len(expanded.Occurrences))
	for _, occ := range expanded.Occurrences {
		key := occ.UID + "\x00" + occ.InstanceKey
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		raw := fetch.RawEvent{Summary: occ.Summary, Updated: occ.Updated}
		if occ.AllDay {
			raw.Start = fetch.RawTime{Date: occ.Start.Format("2006-01-02")}
			raw.End = fetch.RawTime{Date: occ.End.Format("2006-01-02")}
		} else {
			raw.Start = fetch.RawTime{DateTime: occ.Start}
			raw.End = fetch.RawTime{DateTime: occ.End}
		}
		out = append(out, raw)
	}
	return out, nil
}
