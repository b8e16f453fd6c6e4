// Package recurrence expands recurring masters into concrete occurrences
// within a window, honoring EXDATEs, override VEVENTs carrying RECURRENCE-ID
// and cancellations. Both exception mechanisms coexist because servers and
// clients in the wild use both.
package recurrence

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/davbridge/davbridge/ical"
)

const (
	// DefaultMaxPerMaster caps how many occurrences a single master may
	// expand to. Runaway rules (FREQ=MINUTELY with no COUNT) stay bounded.
	DefaultMaxPerMaster = 100
	// DefaultDisplayCap truncates the combined result; truncation is logged.
	DefaultDisplayCap = 50
)

// Engine expands event records. Safe for concurrent use.
type Engine struct {
	logger       *slog.Logger
	maxPerMaster int
	displayCap   int
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		logger:       logger,
		maxPerMaster: DefaultMaxPerMaster,
		displayCap:   DefaultDisplayCap,
	}
}

// Expand turns the server-delivered record set into concrete occurrences
// within [windowStart, windowEnd]. Records sharing a UID form a series: the
// master (no RECURRENCE-ID) is expanded by its RRULE, and each override
// either cancels or replaces the occurrence its RECURRENCE-ID names. The
// result is sorted by start ascending and truncated to the display cap.
func (e *Engine) Expand(records []*ical.EventRecord, windowStart, windowEnd time.Time) ([]*ical.EventRecord, error) {
	masters := make(map[string]*ical.EventRecord)
	overrides := make(map[string][]*ical.EventRecord)
	var singles []*ical.EventRecord

	for _, rec := range records {
		switch {
		case rec.RecurrenceID != nil:
			overrides[rec.UID] = append(overrides[rec.UID], rec)
		case rec.IsRecurring:
			masters[rec.UID] = rec
		default:
			singles = append(singles, rec)
		}
	}

	var out []*ical.EventRecord

	for _, rec := range singles {
		if overlaps(rec.Start, rec.End, windowStart, windowEnd) {
			out = append(out, rec)
		}
	}

	for uid, master := range masters {
		occurrences, err := e.expandMaster(master, overrides[uid], windowStart, windowEnd)
		if err != nil {
			return nil, fmt.Errorf("failed to expand recurring event %s: %w", uid, err)
		}
		out = append(out, occurrences...)
	}

	// Overrides whose master is outside the fetched set still represent real
	// events; keep the non-cancelled ones that fall in the window.
	for uid, ovs := range overrides {
		if _, ok := masters[uid]; ok {
			continue
		}
		for _, ov := range ovs {
			if ov.Status != ical.StatusCancelled && overlaps(ov.Start, ov.End, windowStart, windowEnd) {
				out = append(out, ov)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })

	if len(out) > e.displayCap {
		e.logger.Warn("truncating expanded occurrences",
			"total", len(out),
			"cap", e.displayCap)
		out = out[:e.displayCap]
	}

	return out, nil
}

func (e *Engine) expandMaster(master *ical.EventRecord, overrides []*ical.EventRecord, windowStart, windowEnd time.Time) ([]*ical.EventRecord, error) {
	duration := master.End.Sub(master.Start)

	starts, err := expandRRule(master.Start, master.RRule, windowStart.Add(-duration), windowEnd)
	if err != nil {
		return nil, err
	}
	if len(starts) > e.maxPerMaster {
		e.logger.Warn("recurrence expansion hit safety cap",
			"uid", master.UID,
			"cap", e.maxPerMaster)
		starts = starts[:e.maxPerMaster]
	}

	var out []*ical.EventRecord
	for _, start := range starts {
		if isExcluded(start, master.ExDates) {
			continue
		}
		end := start.Add(duration)
		if !overlaps(start, end, windowStart, windowEnd) {
			continue
		}

		if ov := findOverride(overrides, start); ov != nil {
			if ov.Status == ical.StatusCancelled {
				continue
			}
			out = append(out, ov)
			continue
		}

		occurrence := *master
		occurrence.Start = start
		occurrence.End = end
		out = append(out, &occurrence)
	}

	return out, nil
}

// expandRRule expands an RRULE within the given range, anchored at the
// master's DTSTART.
func expandRRule(masterStart time.Time, rruleStr string, rangeStart, rangeEnd time.Time) ([]time.Time, error) {
	dtstart := masterStart.UTC().Format("20060102T150405Z")
	full := fmt.Sprintf("DTSTART:%s\nRRULE:%s", dtstart, rruleStr)

	set, err := rrule.StrToRRuleSet(full)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RRULE %q: %w", rruleStr, err)
	}

	return set.Between(rangeStart, rangeEnd, true), nil
}

// findOverride returns the override whose RECURRENCE-ID names the occurrence
// starting at t.
func findOverride(overrides []*ical.EventRecord, t time.Time) *ical.EventRecord {
	for _, ov := range overrides {
		if ov.RecurrenceID != nil && sameInstant(*ov.RecurrenceID, t) {
			return ov
		}
	}
	return nil
}

func isExcluded(t time.Time, exdates []time.Time) bool {
	for _, ex := range exdates {
		if sameInstant(ex, t) {
			return true
		}
		// Date-only EXDATEs exclude any occurrence falling on that day.
		if ex.Hour() == 0 && ex.Minute() == 0 && ex.Second() == 0 {
			if ex.Year() == t.Year() && ex.YearDay() == t.YearDay() {
				return true
			}
		}
	}
	return false
}

func sameInstant(a, b time.Time) bool {
	return a.UTC().Equal(b.UTC())
}

func overlaps(start, end, rangeStart, rangeEnd time.Time) bool {
	return !start.After(rangeEnd) && !end.Before(rangeStart)
}
