package ical

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	goical "github.com/emersion/go-ical"
)

// AddAlarm appends a VALARM subcomponent to the VEVENT. The trigger accepts
// an iCalendar duration literal, a short form (15m, 1h, 1d, 2w, 30s) or a
// long form (15 minutes, 1 hour); unrecognized input fails the call.
func AddAlarm(raw, trigger, action, description string) (string, error) {
	normalized, err := ParseTrigger(trigger)
	if err != nil {
		return "", err
	}
	if action == "" {
		action = "DISPLAY"
	}
	if description == "" {
		description = "Reminder"
	}

	cal, err := decode(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse calendar object: %w", err)
	}
	event := firstEvent(cal)
	if event == nil {
		return "", fmt.Errorf("no VEVENT in calendar object")
	}

	alarm := &goical.Component{Name: "VALARM", Props: goical.Props{}}
	alarm.Props.SetText("ACTION", action)
	alarm.Props.SetText("DESCRIPTION", description)
	triggerProp := goical.NewProp("TRIGGER")
	triggerProp.Value = normalized
	alarm.Props.Set(triggerProp)

	event.Children = append(event.Children, alarm)
	return encode(cal)
}

// RemoveAlarm removes the VALARM at the given 0-based position. An index
// outside [0, alarm count) is a typed RangeError so the caller can render the
// valid indices.
func RemoveAlarm(raw string, index int) (string, error) {
	cal, err := decode(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse calendar object: %w", err)
	}
	event := firstEvent(cal)
	if event == nil {
		return "", fmt.Errorf("no VEVENT in calendar object")
	}

	count := 0
	for _, child := range event.Children {
		if child.Name == "VALARM" {
			count++
		}
	}
	if index < 0 || index >= count {
		return "", &RangeError{Index: index, ValidCount: count}
	}

	seen := 0
	kept := event.Children[:0]
	for _, child := range event.Children {
		if child.Name == "VALARM" {
			if seen == index {
				seen++
				continue
			}
			seen++
		}
		kept = append(kept, child)
	}
	event.Children = kept

	return encode(cal)
}

// RemoveAllAlarms removes every VALARM from the VEVENT. It is a no-op when
// none exist.
func RemoveAllAlarms(raw string) (string, error) {
	cal, err := decode(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse calendar object: %w", err)
	}
	event := firstEvent(cal)
	if event == nil {
		return "", fmt.Errorf("no VEVENT in calendar object")
	}

	kept := event.Children[:0]
	for _, child := range event.Children {
		if child.Name != "VALARM" {
			kept = append(kept, child)
		}
	}
	event.Children = kept

	return encode(cal)
}

// CountAlarms returns the number of VALARM subcomponents on the first VEVENT.
func CountAlarms(raw string) (int, error) {
	cal, err := decode(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse calendar object: %w", err)
	}
	event := firstEvent(cal)
	if event == nil {
		return 0, fmt.Errorf("no VEVENT in calendar object")
	}
	count := 0
	for _, child := range event.Children {
		if child.Name == "VALARM" {
			count++
		}
	}
	return count, nil
}

var (
	icalDurationRe = regexp.MustCompile(`^[+-]?P(\d+W)?(\d+D)?(T(\d+H)?(\d+M)?(\d+S)?)?$`)
	shortFormRe    = regexp.MustCompile(`(?i)^(\d+)\s*(s|m|h|d|w)$`)
	longFormRe     = regexp.MustCompile(`(?i)^(\d+)\s+(second|minute|hour|day|week)s?$`)
)

// ParseTrigger normalizes a user-supplied trigger into an iCalendar duration.
// Bare forms like "15m" mean "before the event start" and normalize to a
// negative duration.
func ParseTrigger(input string) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", fmt.Errorf("empty alarm trigger")
	}

	if icalDurationRe.MatchString(s) && strings.ContainsAny(s, "WDHMS") {
		return strings.ToUpper(s), nil
	}

	var amount int
	var unit string
	if m := shortFormRe.FindStringSubmatch(s); m != nil {
		amount, _ = strconv.Atoi(m[1])
		unit = strings.ToLower(m[2])
	} else if m := longFormRe.FindStringSubmatch(s); m != nil {
		amount, _ = strconv.Atoi(m[1])
		unit = strings.ToLower(m[2])[:1]
	} else {
		return "", fmt.Errorf("unrecognized alarm trigger %q", input)
	}

	switch unit {
	case "s":
		return fmt.Sprintf("-PT%dS", amount), nil
	case "m":
		return fmt.Sprintf("-PT%dM", amount), nil
	case "h":
		return fmt.Sprintf("-PT%dH", amount), nil
	case "d":
		return fmt.Sprintf("-P%dD", amount), nil
	case "w":
		return fmt.Sprintf("-P%dW", amount), nil
	}
	return "", fmt.Errorf("unrecognized alarm trigger %q", input)
}
