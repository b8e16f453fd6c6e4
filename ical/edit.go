package ical

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"
)

// Update is the parse-modify-serialize editor. It parses the existing
// VCALENDAR/VEVENT, mutates only the fields present in changes, refreshes the
// bookkeeping (SEQUENCE+1, DTSTAMP, LAST-MODIFIED when already present) and
// re-serializes. Everything else rides through the parser untouched: VALARM
// subcomponents, ATTENDEE properties with their parameters, X- properties,
// and the original VERSION.
func Update(raw string, changes Changes) (string, error) {
	cal, err := decode(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse calendar object: %w", err)
	}

	event := firstEvent(cal)
	if event == nil {
		return "", fmt.Errorf("no VEVENT in calendar object")
	}

	wasRecurring := event.Props.Get("RRULE") != nil

	if title, ok := changes.Title.Get(); ok {
		event.Props.SetText("SUMMARY", title)
	}
	if desc, ok := changes.Description.Get(); ok {
		event.Props.SetText("DESCRIPTION", desc)
	}
	if location, ok := changes.Location.Get(); ok {
		event.Props.SetText("LOCATION", location)
	}
	if status, ok := changes.Status.Get(); ok {
		event.Props.SetText("STATUS", string(status))
	}
	if start, ok := changes.Start.Get(); ok {
		setDateKeepingForm(event, "DTSTART", start)
	}
	if end, ok := changes.End.Get(); ok {
		setDateKeepingForm(event, "DTEND", end)
	}

	// Bookkeeping: bump SEQUENCE, refresh DTSTAMP, refresh LAST-MODIFIED only
	// when the input already carried one.
	seq := 0
	if p := event.Props.Get("SEQUENCE"); p != nil {
		if n, err := strconv.Atoi(p.Value); err == nil {
			seq = n
		}
	}
	event.Props.SetText("SEQUENCE", strconv.Itoa(seq+1))

	now := time.Now().UTC().Format(dateTimeFormat)
	dtstamp := goical.NewProp("DTSTAMP")
	dtstamp.Value = now
	event.Props.Set(dtstamp)

	if event.Props.Get("LAST-MODIFIED") != nil {
		lastMod := goical.NewProp("LAST-MODIFIED")
		lastMod.Value = now
		event.Props.Set(lastMod)
	}

	out, err := encode(cal)
	if err != nil {
		return "", err
	}

	// A recurring event must still be recurring after the round trip. Losing
	// the RRULE here silently turns a series into a single event, so treat it
	// as an internal bug rather than a tolerable degradation.
	if wasRecurring && !strings.Contains(out, "RRULE") {
		return "", fmt.Errorf("internal error: RRULE lost while updating recurring event")
	}

	return out, nil
}

// setDateKeepingForm rewrites a date property, keeping the DATE vs DATE-TIME
// form of the existing property when there is one.
func setDateKeepingForm(event *goical.Component, name string, t time.Time) {
	allDay := false
	if existing := event.Props.Get(name); existing != nil {
		allDay = strings.EqualFold(existing.Params.Get("VALUE"), "DATE")
	}
	event.Props.Set(dateProp(name, t, allDay))
}

// AddExDate excludes a single occurrence of a recurring event by adding an
// EXDATE to the master, without deleting the resource. Calling it on a
// non-recurring event is an error, not a no-op.
func AddExDate(raw string, instance time.Time) (string, error) {
	cal, err := decode(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse calendar object: %w", err)
	}

	event := firstEvent(cal)
	if event == nil {
		return "", fmt.Errorf("no VEVENT in calendar object")
	}
	if event.Props.Get("RRULE") == nil {
		return "", fmt.Errorf("cannot add EXDATE: event is not recurring")
	}

	exdate := goical.NewProp("EXDATE")
	if dtstart := event.Props.Get("DTSTART"); dtstart != nil && strings.EqualFold(dtstart.Params.Get("VALUE"), "DATE") {
		exdate.Params.Set("VALUE", "DATE")
		exdate.Value = instance.Format(dateFormat)
	} else {
		exdate.Value = instance.UTC().Format(dateTimeFormat)
	}
	event.Props.Add(exdate)

	return encode(cal)
}

// UpdatePartStat rewrites the PARTSTAT parameter on the ATTENDEE entry
// matching userEmail. Used when responding to an invitation.
func UpdatePartStat(raw, userEmail, partstat string) (string, error) {
	cal, err := decode(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse calendar object: %w", err)
	}

	event := firstEvent(cal)
	if event == nil {
		return "", fmt.Errorf("no VEVENT in calendar object")
	}

	attendees := event.Props.Values("ATTENDEE")
	if len(attendees) == 0 {
		return "", fmt.Errorf("event has no attendees")
	}

	matched := false
	for i := range attendees {
		email := strings.TrimPrefix(strings.TrimPrefix(attendees[i].Value, "mailto:"), "MAILTO:")
		if strings.EqualFold(email, userEmail) {
			attendees[i].Params.Set("PARTSTAT", strings.ToUpper(partstat))
			matched = true
		}
	}
	if !matched {
		return "", fmt.Errorf("no attendee with email %s", userEmail)
	}

	event.Props["ATTENDEE"] = attendees
	return encode(cal)
}
