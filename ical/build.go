package ical

import (
	"fmt"
	"time"

	goical "github.com/emersion/go-ical"
	"github.com/google/uuid"
)

const prodID = "-//davbridge//NONSGML v1.0//EN"

const (
	dateFormat     = "20060102"
	dateTimeFormat = "20060102T150405Z"
)

// Build emits a fresh VCALENDAR with exactly one VEVENT. The UID is newly
// generated; DTSTAMP is the current UTC time. All-day events carry DATE
// values with the VALUE=DATE parameter on DTSTART and DTEND.
func Build(input EventInput) (string, error) {
	if input.Title == "" {
		return "", fmt.Errorf("event title is required")
	}
	if input.Start.IsZero() || input.End.IsZero() {
		return "", fmt.Errorf("event start and end are required")
	}
	if input.End.Before(input.Start) {
		return "", fmt.Errorf("event end %s is before start %s", input.End, input.Start)
	}

	cal := goical.NewCalendar()
	cal.Props.SetText("PRODID", prodID)
	cal.Props.SetText("VERSION", "2.0")

	event := &goical.Component{Name: "VEVENT", Props: goical.Props{}}
	event.Props.SetText("UID", uuid.New().String())

	dtstamp := goical.NewProp("DTSTAMP")
	dtstamp.Value = time.Now().UTC().Format(dateTimeFormat)
	event.Props.Set(dtstamp)

	event.Props.SetText("SUMMARY", input.Title)
	event.Props.Set(dateProp("DTSTART", input.Start, input.AllDay))
	event.Props.Set(dateProp("DTEND", input.End, input.AllDay))

	if input.Description != "" {
		event.Props.SetText("DESCRIPTION", input.Description)
	}
	if input.Location != "" {
		event.Props.SetText("LOCATION", input.Location)
	}
	if input.RRule != "" {
		rrule := goical.NewProp("RRULE")
		rrule.Value = input.RRule
		event.Props.Set(rrule)
	}

	cal.Children = append(cal.Children, event)
	return encode(cal)
}

// dateProp emits a DATE or DATE-TIME property for t.
func dateProp(name string, t time.Time, allDay bool) *goical.Prop {
	p := goical.NewProp(name)
	if allDay {
		p.Params.Set("VALUE", "DATE")
		p.Value = t.Format(dateFormat)
	} else {
		p.Value = t.UTC().Format(dateTimeFormat)
	}
	return p
}
