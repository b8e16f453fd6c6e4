package ical

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	goical "github.com/emersion/go-ical"
)

// Transform parses a raw iCalendar body and populates the domain record from
// its first VEVENT. Missing UID, missing DTSTART or an unparseable DTSTART
// make the object untransformable; callers log at debug and skip it.
func Transform(raw, objectURL, etag string) (*EventRecord, error) {
	cal, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse iCalendar body: %w", err)
	}

	event := firstEvent(cal)
	if event == nil {
		return nil, fmt.Errorf("no VEVENT in calendar object")
	}

	return transformComponent(event, raw, objectURL, etag)
}

// TransformAll parses every VEVENT in the body. Recurring series deliver the
// master and its overrides in one resource, so a single body can yield
// several records.
func TransformAll(raw, objectURL, etag string) ([]*EventRecord, error) {
	cal, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse iCalendar body: %w", err)
	}

	var records []*EventRecord
	for _, child := range cal.Children {
		if child.Name != "VEVENT" {
			continue
		}
		rec, err := transformComponent(child, raw, objectURL, etag)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("no VEVENT in calendar object")
	}
	return records, nil
}

func transformComponent(event *goical.Component, raw, objectURL, etag string) (*EventRecord, error) {
	rec := &EventRecord{
		Raw:  raw,
		ETag: etag,
		URL:  objectURL,
	}

	uid := event.Props.Get("UID")
	if uid == nil || uid.Value == "" {
		return nil, fmt.Errorf("missing UID")
	}
	rec.UID = uid.Value

	dtstart := event.Props.Get("DTSTART")
	if dtstart == nil {
		return nil, fmt.Errorf("missing DTSTART")
	}
	start, allDay, err := parseDateProp(dtstart)
	if err != nil {
		return nil, fmt.Errorf("unparseable DTSTART %q: %w", dtstart.Value, err)
	}
	rec.Start = start
	rec.IsAllDay = allDay
	rec.Timezone = dtstart.Params.Get("TZID")

	if dtend := event.Props.Get("DTEND"); dtend != nil {
		end, _, err := parseDateProp(dtend)
		if err == nil {
			rec.End = end
		}
	}
	if rec.End.IsZero() {
		if allDay {
			rec.End = rec.Start.Add(24 * time.Hour)
		} else {
			rec.End = rec.Start
		}
	}

	if p := event.Props.Get("SUMMARY"); p != nil {
		rec.Summary = p.Value
	}
	if p := event.Props.Get("DESCRIPTION"); p != nil {
		rec.Description = p.Value
	}
	if p := event.Props.Get("LOCATION"); p != nil {
		rec.Location = p.Value
	}
	if p := event.Props.Get("STATUS"); p != nil {
		rec.Status = EventStatus(strings.ToUpper(p.Value))
	}
	if p := event.Props.Get("TRANSP"); p != nil {
		rec.Transparency = strings.ToUpper(p.Value)
	}
	if p := event.Props.Get("ORGANIZER"); p != nil {
		rec.Organizer = strings.TrimPrefix(strings.TrimPrefix(p.Value, "mailto:"), "MAILTO:")
	}
	if p := event.Props.Get("SEQUENCE"); p != nil {
		if n, err := strconv.Atoi(p.Value); err == nil {
			rec.Sequence = n
		}
	}
	if p := event.Props.Get("RRULE"); p != nil && p.Value != "" {
		rec.RRule = p.Value
		rec.IsRecurring = true
	}
	if p := event.Props.Get("RECURRENCE-ID"); p != nil {
		if t, _, err := parseDateProp(p); err == nil {
			rec.RecurrenceID = &t
		}
	}

	for _, p := range event.Props.Values("EXDATE") {
		for _, value := range strings.Split(p.Value, ",") {
			if t, err := parseDateTime(value, p.Params.Get("TZID")); err == nil {
				rec.ExDates = append(rec.ExDates, t)
			}
		}
	}

	for _, p := range event.Props.Values("ATTENDEE") {
		rec.Attendees = append(rec.Attendees, Attendee{
			Name:     p.Params.Get("CN"),
			Email:    strings.TrimPrefix(strings.TrimPrefix(p.Value, "mailto:"), "MAILTO:"),
			Role:     p.Params.Get("ROLE"),
			PartStat: p.Params.Get("PARTSTAT"),
		})
	}

	return rec, nil
}

func decode(raw string) (*goical.Calendar, error) {
	return goical.NewDecoder(bytes.NewReader([]byte(raw))).Decode()
}

func encode(cal *goical.Calendar) (string, error) {
	var buf bytes.Buffer
	if err := goical.NewEncoder(&buf).Encode(cal); err != nil {
		return "", fmt.Errorf("failed to encode calendar: %w", err)
	}
	return buf.String(), nil
}

func firstEvent(cal *goical.Calendar) *goical.Component {
	for _, child := range cal.Children {
		if child.Name == "VEVENT" {
			return child
		}
	}
	return nil
}

// parseDateProp parses a DTSTART/DTEND/RECURRENCE-ID property, honoring
// VALUE=DATE and TZID.
func parseDateProp(p *goical.Prop) (time.Time, bool, error) {
	if strings.EqualFold(p.Params.Get("VALUE"), "DATE") || len(p.Value) == 8 {
		t, err := time.Parse("20060102", p.Value)
		return t, true, err
	}
	t, err := parseDateTime(p.Value, p.Params.Get("TZID"))
	return t, false, err
}

// parseDateTime parses an iCalendar date-time string.
func parseDateTime(value, tzID string) (time.Time, error) {
	value = strings.TrimSpace(value)
	formats := []string{
		"20060102T150405Z", // UTC
		"20060102T150405",  // floating or TZID-local
		"20060102",         // date only
	}
	for _, format := range formats {
		if t, err := time.Parse(format, value); err == nil {
			if tzID != "" && !strings.HasSuffix(value, "Z") {
				if loc, err := time.LoadLocation(tzID); err == nil {
					t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
				}
			}
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date-time format: %s", value)
}
