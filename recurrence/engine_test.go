package recurrence

import (
	"testing"
	"time"

	"github.com/davbridge/davbridge/ical"
)

func utc(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func master(uid, rrule string, start, end time.Time) *ical.EventRecord {
	return &ical.EventRecord{
		UID:         uid,
		Summary:     "series " + uid,
		Start:       start,
		End:         end,
		IsRecurring: true,
		RRule:       rrule,
	}
}

func TestExpandWeeklySeries(t *testing.T) {
	records := []*ical.EventRecord{
		master("s1", "FREQ=WEEKLY;COUNT=4", utc(2026, 3, 2, 9, 0), utc(2026, 3, 2, 10, 0)),
	}

	out, err := NewEngine(nil).Expand(records, utc(2026, 3, 1, 0, 0), utc(2026, 3, 31, 0, 0))
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("len(out) = %d, want 4", len(out))
	}

	wantStarts := []time.Time{
		utc(2026, 3, 2, 9, 0),
		utc(2026, 3, 9, 9, 0),
		utc(2026, 3, 16, 9, 0),
		utc(2026, 3, 23, 9, 0),
	}
	for i, rec := range out {
		if !rec.Start.Equal(wantStarts[i]) {
			t.Errorf("out[%d].Start = %v, want %v", i, rec.Start, wantStarts[i])
		}
		if !rec.End.Equal(wantStarts[i].Add(time.Hour)) {
			t.Errorf("out[%d].End = %v", i, rec.End)
		}
	}
}

// A cancelled override removes its occurrence from the expansion.
func TestExpandCancelledOverride(t *testing.T) {
	cancelledAt := utc(2026, 3, 9, 9, 0)
	records := []*ical.EventRecord{
		master("s1", "FREQ=WEEKLY;COUNT=4", utc(2026, 3, 2, 9, 0), utc(2026, 3, 2, 10, 0)),
		{
			UID:          "s1",
			Summary:      "series s1",
			Start:        cancelledAt,
			End:          cancelledAt.Add(time.Hour),
			Status:       ical.StatusCancelled,
			RecurrenceID: &cancelledAt,
		},
	}

	out, err := NewEngine(nil).Expand(records, utc(2026, 3, 1, 0, 0), utc(2026, 3, 31, 0, 0))
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	for _, rec := range out {
		if rec.Start.Equal(cancelledAt) {
			t.Errorf("cancelled occurrence %v still present", cancelledAt)
		}
	}
}

// A rescheduled override replaces its occurrence.
func TestExpandRescheduledOverride(t *testing.T) {
	originalAt := utc(2026, 3, 9, 9, 0)
	movedTo := utc(2026, 3, 9, 14, 0)
	records := []*ical.EventRecord{
		master("s1", "FREQ=WEEKLY;COUNT=2", utc(2026, 3, 2, 9, 0), utc(2026, 3, 2, 10, 0)),
		{
			UID:          "s1",
			Summary:      "moved",
			Start:        movedTo,
			End:          movedTo.Add(time.Hour),
			RecurrenceID: &originalAt,
		},
	}

	out, err := NewEngine(nil).Expand(records, utc(2026, 3, 1, 0, 0), utc(2026, 3, 31, 0, 0))
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if !out[1].Start.Equal(movedTo) || out[1].Summary != "moved" {
		t.Errorf("override not applied: %+v", out[1])
	}
}

func TestExpandHonorsExDates(t *testing.T) {
	records := []*ical.EventRecord{
		{
			UID:         "s1",
			Start:       utc(2026, 3, 2, 9, 0),
			End:         utc(2026, 3, 2, 10, 0),
			IsRecurring: true,
			RRule:       "FREQ=DAILY;COUNT=5",
			ExDates:     []time.Time{utc(2026, 3, 4, 9, 0)},
		},
	}

	out, err := NewEngine(nil).Expand(records, utc(2026, 3, 1, 0, 0), utc(2026, 3, 31, 0, 0))
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(out) != 4 {
		t.Fatalf("len(out) = %d, want 4", len(out))
	}
	for _, rec := range out {
		if rec.Start.Day() == 4 {
			t.Error("excluded occurrence still present")
		}
	}
}

// Date-only EXDATEs exclude any occurrence on that day.
func TestExpandDateOnlyExDate(t *testing.T) {
	records := []*ical.EventRecord{
		{
			UID:         "s1",
			Start:       utc(2026, 3, 2, 9, 30),
			End:         utc(2026, 3, 2, 10, 0),
			IsRecurring: true,
			RRule:       "FREQ=DAILY;COUNT=3",
			ExDates:     []time.Time{utc(2026, 3, 3, 0, 0)},
		},
	}

	out, err := NewEngine(nil).Expand(records, utc(2026, 3, 1, 0, 0), utc(2026, 3, 31, 0, 0))
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
}

func TestExpandWindowFilter(t *testing.T) {
	records := []*ical.EventRecord{
		master("s1", "FREQ=DAILY;COUNT=30", utc(2026, 3, 1, 9, 0), utc(2026, 3, 1, 10, 0)),
		{UID: "single-in", Start: utc(2026, 3, 10, 12, 0), End: utc(2026, 3, 10, 13, 0)},
		{UID: "single-out", Start: utc(2026, 5, 1, 12, 0), End: utc(2026, 5, 1, 13, 0)},
	}

	out, err := NewEngine(nil).Expand(records, utc(2026, 3, 10, 0, 0), utc(2026, 3, 12, 23, 59))
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}

	// Three daily occurrences plus the in-window single event.
	if len(out) != 4 {
		t.Fatalf("len(out) = %d, want 4", len(out))
	}
	for i := 1; i < len(out); i++ {
		if out[i].Start.Before(out[i-1].Start) {
			t.Error("output not sorted by start")
		}
	}
	for _, rec := range out {
		if rec.UID == "single-out" {
			t.Error("out-of-window event included")
		}
	}
}

func TestExpandOrphanOverride(t *testing.T) {
	at := utc(2026, 3, 9, 9, 0)
	records := []*ical.EventRecord{
		{UID: "orphan", Summary: "override without master", Start: at, End: at.Add(time.Hour), RecurrenceID: &at},
	}

	out, err := NewEngine(nil).Expand(records, utc(2026, 3, 1, 0, 0), utc(2026, 3, 31, 0, 0))
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
}

func TestExpandDisplayCap(t *testing.T) {
	var records []*ical.EventRecord
	for day := 1; day <= 20; day++ {
		records = append(records, &ical.EventRecord{
			UID:   "e" + string(rune('a'+day)),
			Start: utc(2026, 3, day, 9, 0),
			End:   utc(2026, 3, day, 10, 0),
		})
	}

	e := NewEngine(nil)
	e.displayCap = 10

	out, err := e.Expand(records, utc(2026, 3, 1, 0, 0), utc(2026, 3, 31, 0, 0))
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(out) != 10 {
		t.Errorf("len(out) = %d, want display cap 10", len(out))
	}
}

func TestExpandPerMasterCap(t *testing.T) {
	e := NewEngine(nil)
	e.maxPerMaster = 5

	records := []*ical.EventRecord{
		master("runaway", "FREQ=DAILY", utc(2026, 3, 1, 9, 0), utc(2026, 3, 1, 10, 0)),
	}
	out, err := e.Expand(records, utc(2026, 3, 1, 0, 0), utc(2027, 3, 1, 0, 0))
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(out) != 5 {
		t.Errorf("len(out) = %d, want per-master cap 5", len(out))
	}
}

func TestExpandBadRRule(t *testing.T) {
	records := []*ical.EventRecord{
		master("bad", "FREQ=NEVERLY", utc(2026, 3, 2, 9, 0), utc(2026, 3, 2, 10, 0)),
	}
	if _, err := NewEngine(nil).Expand(records, utc(2026, 3, 1, 0, 0), utc(2026, 3, 31, 0, 0)); err == nil {
		t.Error("Expand() accepted an invalid RRULE")
	}
}
