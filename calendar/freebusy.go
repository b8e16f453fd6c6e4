package calendar

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/beevik/etree"
	goical "github.com/emersion/go-ical"

	"github.com/davbridge/davbridge/davclient"
)

// BusyPeriod is one busy interval in a free/busy answer.
type BusyPeriod struct {
	Start time.Time
	End   time.Time
	Type  string // FBTYPE: BUSY, BUSY-TENTATIVE, ...
}

// FreeBusy answers "when is this calendar busy in [start, end]" through a
// dual path: a server-side free-busy-query REPORT first, and on any failure a
// client-side reconstruction from fetched events. Both paths end in an
// interval merge; empty output is a valid answer meaning the range is free.
func (s *Service) FreeBusy(ctx context.Context, cal davclient.Calendar, start, end time.Time) ([]BusyPeriod, error) {
	periods, err := s.freeBusyReport(ctx, cal.URL, start, end)
	if err != nil {
		s.logger.Debug("free-busy REPORT unavailable, falling back to event scan",
			"calendar", cal.URL,
			"error", err)
		periods, err = s.freeBusyFromEvents(ctx, cal, start, end)
		if err != nil {
			return nil, err
		}
	}
	return MergeBusyPeriods(periods), nil
}

// freeBusyReport POSTs the server-side VFREEBUSY query and parses the reply.
func (s *Service) freeBusyReport(ctx context.Context, collectionURL string, start, end time.Time) ([]BusyPeriod, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := s.client.HTTP().DoREPORTRaw(ctx, collectionURL, 0, davclient.FreeBusyQuery(start, end))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, fmt.Errorf("empty free-busy response")
	}

	periods, err := parseFreeBusy(body)
	if err != nil {
		return nil, err
	}
	return periods, nil
}

// parseFreeBusy accepts either a raw iCalendar body or a multistatus document
// wrapping it in a calendar-data property; servers disagree on the shape.
func parseFreeBusy(body []byte) ([]BusyPeriod, error) {
	cal, err := goical.NewDecoder(bytes.NewReader(body)).Decode()
	if err != nil {
		wrapped, wErr := unwrapCalendarData(body)
		if wErr != nil {
			return nil, fmt.Errorf("unparseable free-busy response: %w", err)
		}
		cal, err = goical.NewDecoder(strings.NewReader(wrapped)).Decode()
		if err != nil {
			return nil, fmt.Errorf("unparseable free-busy calendar-data: %w", err)
		}
	}

	var periods []BusyPeriod
	for _, comp := range cal.Children {
		if comp.Name != "VFREEBUSY" {
			continue
		}
		for _, prop := range comp.Props.Values("FREEBUSY") {
			fbType := prop.Params.Get("FBTYPE")
			if fbType == "" {
				fbType = "BUSY"
			}
			for _, rangeText := range strings.Split(prop.Value, ",") {
				p, err := parsePeriod(rangeText, fbType)
				if err != nil {
					continue
				}
				periods = append(periods, p)
			}
		}
	}
	return periods, nil
}

// unwrapCalendarData extracts the first calendar-data text from a multistatus
// document.
func unwrapCalendarData(body []byte) (string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return "", err
	}
	for _, el := range doc.FindElements("//calendar-data") {
		if text := strings.TrimSpace(el.Text()); text != "" {
			return text, nil
		}
	}
	return "", fmt.Errorf("no calendar-data element in response")
}

// parsePeriod parses an iCalendar period: start/end or start/duration.
func parsePeriod(text, fbType string) (BusyPeriod, error) {
	parts := strings.SplitN(strings.TrimSpace(text), "/", 2)
	if len(parts) != 2 {
		return BusyPeriod{}, fmt.Errorf("malformed period %q", text)
	}

	start, err := time.Parse("20060102T150405Z", parts[0])
	if err != nil {
		return BusyPeriod{}, err
	}

	var end time.Time
	if strings.HasPrefix(parts[1], "P") || strings.HasPrefix(parts[1], "+P") {
		dur, err := parseICalDuration(parts[1])
		if err != nil {
			return BusyPeriod{}, err
		}
		end = start.Add(dur)
	} else {
		end, err = time.Parse("20060102T150405Z", parts[1])
		if err != nil {
			return BusyPeriod{}, err
		}
	}

	return BusyPeriod{Start: start, End: end, Type: fbType}, nil
}

// parseICalDuration handles the period-duration form (PT1H30M, P1D).
func parseICalDuration(text string) (time.Duration, error) {
	s := strings.TrimPrefix(text, "+")
	if !strings.HasPrefix(s, "P") {
		return 0, fmt.Errorf("invalid duration %q", text)
	}
	s = s[1:]

	var total time.Duration
	var num int
	for _, ch := range s {
		switch {
		case ch >= '0' && ch <= '9':
			num = num*10 + int(ch-'0')
		case ch == 'T':
			continue
		case ch == 'W':
			total += time.Duration(num) * 7 * 24 * time.Hour
			num = 0
		case ch == 'D':
			total += time.Duration(num) * 24 * time.Hour
			num = 0
		case ch == 'H':
			total += time.Duration(num) * time.Hour
			num = 0
		case ch == 'M':
			total += time.Duration(num) * time.Minute
			num = 0
		case ch == 'S':
			total += time.Duration(num) * time.Second
			num = 0
		default:
			return 0, fmt.Errorf("invalid duration %q", text)
		}
	}
	return total, nil
}

// freeBusyFromEvents reconstructs busy intervals from fetched events:
// VEVENTs whose TRANSP is TRANSPARENT do not block time; absence of TRANSP
// means OPAQUE.
func (s *Service) freeBusyFromEvents(ctx context.Context, cal davclient.Calendar, start, end time.Time) ([]BusyPeriod, error) {
	records, err := s.FetchEventRecords(ctx, cal, &TimeRange{Start: start, End: end})
	if err != nil {
		return nil, fmt.Errorf("free-busy fallback failed: %w", err)
	}

	var periods []BusyPeriod
	for _, rec := range records {
		if rec.Transparency == "TRANSPARENT" {
			continue
		}
		if rec.Status == "CANCELLED" {
			continue
		}
		periods = append(periods, BusyPeriod{
			Start: rec.Start,
			End:   rec.End,
			Type:  "BUSY",
		})
	}
	return periods, nil
}

// MergeBusyPeriods sorts by start ascending and coalesces overlapping or
// touching periods. The output is non-overlapping, chronologically ordered,
// and uniformly typed BUSY.
func MergeBusyPeriods(periods []BusyPeriod) []BusyPeriod {
	if len(periods) == 0 {
		return nil
	}

	sorted := make([]BusyPeriod, len(periods))
	copy(sorted, periods)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	merged := []BusyPeriod{{Start: sorted[0].Start, End: sorted[0].End, Type: "BUSY"}}
	for _, p := range sorted[1:] {
		last := &merged[len(merged)-1]
		if !p.Start.After(last.End) {
			if p.End.After(last.End) {
				last.End = p.End
			}
			continue
		}
		merged = append(merged, BusyPeriod{Start: p.Start, End: p.End, Type: "BUSY"})
	}
	return merged
}
