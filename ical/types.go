// Package ical implements the iCalendar side of the object transformation
// layer: raw body to domain record, fresh-build, and the
// parse-modify-serialize editor that keeps alarms, attendees, custom
// properties and recurrence rules intact across updates.
package ical

import (
	"fmt"
	"time"

	"github.com/samber/mo"
)

// EventStatus is the VEVENT STATUS property value.
type EventStatus string

const (
	StatusConfirmed EventStatus = "CONFIRMED"
	StatusTentative EventStatus = "TENTATIVE"
	StatusCancelled EventStatus = "CANCELLED"
)

// Attendee is one ATTENDEE property with the parameters the bridge keeps.
type Attendee struct {
	Name     string // CN parameter
	Email    string // mailto: value without the scheme
	Role     string // ROLE parameter
	PartStat string // PARTSTAT parameter
}

// EventRecord is the domain record for one VEVENT. Raw carries the body the
// record was parsed from; every mutable code path needs it for the
// parse-modify-serialize editor, so dropping it is a correctness bug.
type EventRecord struct {
	UID          string
	Summary      string
	Start        time.Time
	End          time.Time
	Description  string
	Location     string
	Timezone     string
	Attendees    []Attendee
	Organizer    string
	Status       EventStatus
	Transparency string
	Sequence     int
	IsAllDay     bool
	IsRecurring  bool
	RRule        string
	RecurrenceID *time.Time
	ExDates      []time.Time
	Raw          string
	ETag         string
	URL          string
}

// EventInput is the fresh-build input. Start and End are DATE-only when
// AllDay is set.
type EventInput struct {
	Title       string
	Start       time.Time
	End         time.Time
	Description string
	Location    string
	AllDay      bool
	RRule       string
}

// Changes is the editor's change set. Absent options leave the corresponding
// property untouched.
type Changes struct {
	Title       mo.Option[string]
	Description mo.Option[string]
	Location    mo.Option[string]
	Start       mo.Option[time.Time]
	End         mo.Option[time.Time]
	Status      mo.Option[EventStatus]
}

// RangeError reports an alarm index outside the valid range. ValidCount lets
// the caller render the indices that would have been accepted.
type RangeError struct {
	Index      int
	ValidCount int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("alarm index %d out of range [0, %d)", e.Index, e.ValidCount)
}
