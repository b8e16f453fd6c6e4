// Package calendar implements the calendar service: CTag-aware event
// fetching, optimistic-concurrency writes, find-by-UID, free/busy and the
// invitation workflow.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/davbridge/davbridge/davclient"
	"github.com/davbridge/davbridge/ical"
	"github.com/davbridge/davbridge/internal/cache"
	"github.com/davbridge/davbridge/internal/httpclient"
	"github.com/davbridge/davbridge/internal/retry"
	"github.com/davbridge/davbridge/recurrence"
)

// Object is one raw calendar object as delivered by the server. The raw body
// is carried through every mutable code path; the editor depends on it.
type Object struct {
	URL  string
	ETag string
	Data string
}

// TimeRange bounds a fetch to a window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Service is the calendar-side L3 service. One instance serves one CalDAV
// account; it owns the collection cache and the lazily discovered calendar
// list.
type Service struct {
	client *davclient.Client
	cache  *cache.Cache[Object]
	engine *recurrence.Engine
	logger *slog.Logger

	mu          sync.Mutex
	calendars   []davclient.Calendar
	inbox       string
	inboxProbed bool
}

func NewService(client *davclient.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		client: client,
		cache:  cache.New[Object](),
		engine: recurrence.NewEngine(logger),
		logger: logger,
	}
}

// ListCalendars discovers lazily: the first call runs discovery, later calls
// reuse the cached list until RefreshCalendars.
func (s *Service) ListCalendars(ctx context.Context) ([]davclient.Calendar, error) {
	s.mu.Lock()
	if s.calendars != nil {
		defer s.mu.Unlock()
		return s.calendars, nil
	}
	s.mu.Unlock()

	cals, err := s.client.DiscoverCalendars(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calendars = cals
	s.mu.Unlock()
	return cals, nil
}

// RefreshCalendars re-discovers and clears the object cache, since collection
// URLs may have changed.
func (s *Service) RefreshCalendars(ctx context.Context) ([]davclient.Calendar, error) {
	cals, err := s.client.DiscoverCalendars(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.calendars = cals
	s.mu.Unlock()
	s.cache.Clear()
	return cals, nil
}

// FetchEvents returns the raw objects of a calendar. With a time range the
// server is always hit (the cache stores unfiltered bodies, and a window
// subsets differently); without one the CTag fast path applies: a fresh cache
// entry is returned directly, a stale entry is dirty-checked against the
// server and promoted when the collection is unchanged.
func (s *Service) FetchEvents(ctx context.Context, cal davclient.Calendar, tr *TimeRange) ([]Object, error) {
	if tr != nil {
		return s.queryObjects(ctx, cal.URL, tr)
	}

	if s.cache.IsFresh(cal.URL, cal.CTag) {
		entry, _ := s.cache.Get(cal.URL)
		s.logger.Debug("cache hit", "calendar", cal.URL, "objects", len(entry.Objects))
		return entry.Objects, nil
	}

	if entry, ok := s.cache.Get(cal.URL); ok && entry.CTag != "" {
		current, err := s.client.GetCollectionCTag(ctx, cal.URL)
		if err == nil && current == entry.CTag {
			s.logger.Debug("dirty check: collection unchanged", "calendar", cal.URL)
			s.cache.Promote(cal.URL)
			return entry.Objects, nil
		}
	}

	objects, err := s.queryObjects(ctx, cal.URL, nil)
	if err != nil {
		return nil, err
	}

	ctag := cal.CTag
	if current, err := s.client.GetCollectionCTag(ctx, cal.URL); err == nil && current != "" {
		ctag = current
	}
	if ctag != "" {
		s.cache.Set(cal.URL, ctag, objects)
	}
	return objects, nil
}

// FetchEventsByName matches a calendar display name case-insensitively. No
// match warns and returns empty rather than failing.
func (s *Service) FetchEventsByName(ctx context.Context, name string, tr *TimeRange) ([]Object, error) {
	cal, ok, err := s.calendarByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.logger.Warn("no calendar matches name", "name", name)
		return nil, nil
	}
	return s.FetchEvents(ctx, cal, tr)
}

// FetchAllEvents fans out over every discovered calendar concurrently and
// flattens the results.
func (s *Service) FetchAllEvents(ctx context.Context, tr *TimeRange) ([]Object, error) {
	cals, err := s.ListCalendars(ctx)
	if err != nil {
		return nil, err
	}

	type result struct {
		objects []Object
		err     error
	}
	results := make(chan result, len(cals))
	for _, cal := range cals {
		go func(cal davclient.Calendar) {
			objects, err := s.FetchEvents(ctx, cal, tr)
			results <- result{objects: objects, err: err}
		}(cal)
	}

	var all []Object
	var firstErr error
	for range cals {
		r := <-results
		if r.err != nil && firstErr == nil {
			firstErr = r.err
			continue
		}
		all = append(all, r.objects...)
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return all, nil
}

// FetchEventRecords transforms fetched objects into domain records and, when
// a window is given, expands recurring series into concrete occurrences.
// Objects that fail to parse are skipped with a debug log.
func (s *Service) FetchEventRecords(ctx context.Context, cal davclient.Calendar, tr *TimeRange) ([]*ical.EventRecord, error) {
	objects, err := s.FetchEvents(ctx, cal, tr)
	if err != nil {
		return nil, err
	}

	records := s.transform(objects)
	if tr == nil {
		return records, nil
	}
	return s.engine.Expand(records, tr.Start, tr.End)
}

// FindEventByUID fetches (scoped to a calendar name, or all calendars),
// transforms each body and returns the first record whose UID matches, or nil
// when the UID is in no accessible calendar.
func (s *Service) FindEventByUID(ctx context.Context, uid, calendarName string) (*ical.EventRecord, error) {
	var objects []Object
	var err error
	if calendarName != "" {
		objects, err = s.FetchEventsByName(ctx, calendarName, nil)
	} else {
		objects, err = s.FetchAllEvents(ctx, nil)
	}
	if err != nil {
		return nil, err
	}

	for _, rec := range s.transform(objects) {
		if rec.UID == uid && rec.RecurrenceID == nil {
			return rec, nil
		}
	}
	return nil, nil
}

// CreateEvent puts a fresh object into the target calendar under a new UUID
// filename. If-None-Match: * guards against URL collisions; a 412 surfaces as
// a typed conflict. The target calendar's cache entry is invalidated.
func (s *Service) CreateEvent(ctx context.Context, icalText, calendarName string) (objectURL, etag string, err error) {
	cal, err := s.resolveTarget(ctx, calendarName)
	if err != nil {
		return "", "", err
	}

	objectURL, err = joinCollection(cal.URL, uuid.New().String()+".ics")
	if err != nil {
		return "", "", err
	}

	etag, err = s.put(ctx, "create-event", objectURL, icalText, httpclient.IfNoneMatchAny, "")
	if err != nil {
		var conflict *davclient.ConflictError
		if errors.As(err, &conflict) {
			conflict.Remedy = "an object already exists at the generated URL; retry the create"
		}
		return "", "", err
	}

	s.cache.Invalidate(cal.URL)
	s.logger.Info("event created", "url", objectURL, "calendar", cal.Name)
	return objectURL, etag, nil
}

// UpdateEvent puts a modified body under If-Match. A 412 surfaces as a typed
// conflict; success invalidates the containing collection.
func (s *Service) UpdateEvent(ctx context.Context, objectURL, icalText, etag string) (string, error) {
	newEtag, err := s.put(ctx, "update-event", objectURL, icalText, httpclient.IfMatch, etag)
	if err != nil {
		return "", err
	}

	s.cache.Invalidate(collectionOf(objectURL))
	s.logger.Info("event updated", "url", objectURL)
	return newEtag, nil
}

// DeleteEvent removes an object under If-Match. When the caller has no ETag
// the collection is listed and the matching object's ETag reused; an object
// that is not there (or carries no ETag) is a NotFound, not a conflict.
func (s *Service) DeleteEvent(ctx context.Context, objectURL, etag string) error {
	collectionURL := collectionOf(objectURL)

	if etag == "" {
		objects, err := s.queryObjects(ctx, collectionURL, nil)
		if err != nil {
			return err
		}
		for _, obj := range objects {
			if sameObjectURL(obj.URL, objectURL) {
				etag = obj.ETag
				break
			}
		}
		if etag == "" {
			return &davclient.NotFoundError{
				Resource: davclient.ResourceEvent,
				Detail:   fmt.Sprintf("no event at %s", objectURL),
			}
		}
	}

	var conflict, notFound bool
	err := retry.Do(ctx, s.logger, "delete-event", s.client.RetryConfig(), func() error {
		err := s.client.HTTP().DoDELETE(ctx, objectURL, etag)
		switch {
		case errors.Is(err, httpclient.ErrPreconditionFailed):
			conflict = true
			return nil
		case errors.Is(err, httpclient.ErrNotFound):
			notFound = true
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete event: %w", err)
	}
	if conflict {
		return &davclient.ConflictError{
			Resource: davclient.ResourceEvent,
			URL:      objectURL,
			Remedy:   "the event changed since it was read; re-fetch and retry",
		}
	}
	if notFound {
		return &davclient.NotFoundError{
			Resource: davclient.ResourceEvent,
			Detail:   fmt.Sprintf("no event at %s", objectURL),
		}
	}

	s.cache.Invalidate(collectionURL)
	s.logger.Info("event deleted", "url", objectURL)
	return nil
}

// AuthHeaders reconstructs the headers the account's injector attaches, for
// callers that issue standalone server operations.
func (s *Service) AuthHeaders() map[string][]string {
	return s.client.AuthHeaders()
}

// put runs a conditional PUT through the retry engine. Precondition failures
// bypass retry entirely and come back as typed conflicts.
func (s *Service) put(ctx context.Context, op, objectURL, body string, pre httpclient.Precondition, etag string) (string, error) {
	var newEtag string
	var conflict bool
	err := retry.Do(ctx, s.logger, op, s.client.RetryConfig(), func() error {
		var err error
		newEtag, err = s.client.HTTP().DoPUT(ctx, objectURL, "text/calendar; charset=utf-8", pre, etag, []byte(body))
		if errors.Is(err, httpclient.ErrPreconditionFailed) {
			conflict = true
			return nil
		}
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", op, err)
	}
	if conflict {
		return "", &davclient.ConflictError{
			Resource: davclient.ResourceEvent,
			URL:      objectURL,
			Remedy:   "the event changed since it was read; re-fetch and retry",
		}
	}

	// Some servers omit the ETag header on PUT; recover it with a follow-up
	// PROPFIND.
	if newEtag == "" {
		resp, err := s.client.HTTP().DoPROPFIND(ctx, objectURL, 0, "getetag")
		if err != nil {
			return "", fmt.Errorf("failed to get etag of written object: %w", err)
		}
		for _, res := range resp.Resources {
			if res.Etag != "" {
				newEtag = res.Etag
				break
			}
		}
	}
	return newEtag, nil
}

// queryObjects fetches a collection's objects. A calendar-query REPORT is
// tried first; when it fails or comes back empty on an unfiltered fetch, the
// collection is listed with a depth-1 PROPFIND and the bodies bulk-fetched
// through a calendar-multiget, the two-step flow some servers require.
func (s *Service) queryObjects(ctx context.Context, collectionURL string, tr *TimeRange) ([]Object, error) {
	objects, err := s.calendarQuery(ctx, collectionURL, tr)
	if err == nil && len(objects) > 0 {
		return objects, nil
	}
	if tr != nil {
		// A multiget cannot reproduce the server-side time filter.
		return objects, err
	}
	if err != nil {
		s.logger.Debug("calendar-query failed, falling back to multiget",
			"calendar", collectionURL,
			"error", err)
	} else {
		s.logger.Debug("calendar-query returned no results, trying multiget",
			"calendar", collectionURL)
	}

	fallback, ferr := s.multigetObjects(ctx, collectionURL)
	if ferr != nil {
		if err != nil {
			return nil, err
		}
		// An empty query answer stands when the fallback cannot do better.
		s.logger.Debug("multiget fallback failed, keeping empty query result",
			"calendar", collectionURL,
			"error", ferr)
		return objects, nil
	}
	return fallback, nil
}

// calendarQuery runs a calendar-query REPORT, optionally time-bounded,
// through the retry engine.
func (s *Service) calendarQuery(ctx context.Context, collectionURL string, tr *TimeRange) ([]Object, error) {
	var start, end *time.Time
	if tr != nil {
		start, end = &tr.Start, &tr.End
	}
	query := davclient.CalendarQuery(start, end)

	var ms *httpclient.MultiStatus
	err := retry.Do(ctx, s.logger, "calendar-query", s.client.RetryConfig(), func() error {
		var e error
		ms, e = s.client.HTTP().DoREPORT(ctx, collectionURL, 1, query)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar objects: %w", err)
	}
	return s.objectsFromMultiStatus(ms), nil
}

// multigetObjects lists the collection and bulk-fetches bodies with a
// calendar-multiget REPORT.
func (s *Service) multigetObjects(ctx context.Context, collectionURL string) ([]Object, error) {
	hrefs, err := s.listHrefs(ctx, collectionURL)
	if err != nil {
		return nil, err
	}
	if len(hrefs) == 0 {
		return nil, nil
	}

	query := davclient.CalendarMultiget(hrefs)
	var ms *httpclient.MultiStatus
	err = retry.Do(ctx, s.logger, "calendar-multiget", s.client.RetryConfig(), func() error {
		var e error
		ms, e = s.client.HTTP().DoREPORT(ctx, collectionURL, 1, query)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("failed to multiget calendar objects: %w", err)
	}
	return s.objectsFromMultiStatus(ms), nil
}

// listHrefs collects object paths via a depth-1 PROPFIND. The collection
// itself and entries without an etag are skipped.
func (s *Service) listHrefs(ctx context.Context, collectionURL string) ([]string, error) {
	var resp *httpclient.PropfindResponse
	err := retry.Do(ctx, s.logger, "list-events", s.client.RetryConfig(), func() error {
		var e error
		resp, e = s.client.HTTP().DoPROPFIND(ctx, collectionURL, 1, "getetag", "resourcetype")
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list calendar objects: %w", err)
	}

	var hrefs []string
	for href, res := range resp.Resources {
		if res.IsCalendar || res.Etag == "" {
			continue
		}
		hrefs = append(hrefs, href)
	}
	return hrefs, nil
}

func (s *Service) objectsFromMultiStatus(ms *httpclient.MultiStatus) []Object {
	var objects []Object
	for _, resp := range ms.Responses {
		for _, ps := range resp.PropStat {
			if !httpclient.StatusOK(ps.Status) || ps.Prop.CalendarData == "" {
				continue
			}
			objects = append(objects, Object{
				URL:  s.absoluteURL(resp.Href),
				ETag: ps.Prop.ETag,
				Data: ps.Prop.CalendarData,
			})
		}
	}
	return objects
}

// transform parses raw objects into records, skipping unparseable bodies.
func (s *Service) transform(objects []Object) []*ical.EventRecord {
	var records []*ical.EventRecord
	for _, obj := range objects {
		recs, err := ical.TransformAll(obj.Data, obj.URL, obj.ETag)
		if err != nil {
			s.logger.Debug("skipping unparseable calendar object",
				"url", obj.URL,
				"error", err)
			continue
		}
		records = append(records, recs...)
	}
	return records
}

func (s *Service) calendarByName(ctx context.Context, name string) (davclient.Calendar, bool, error) {
	cals, err := s.ListCalendars(ctx)
	if err != nil {
		return davclient.Calendar{}, false, err
	}
	for _, cal := range cals {
		if strings.EqualFold(cal.Name, name) {
			return cal, true, nil
		}
	}
	return davclient.Calendar{}, false, nil
}

// resolveTarget picks the named calendar, or the first discovered one when no
// name is given.
func (s *Service) resolveTarget(ctx context.Context, calendarName string) (davclient.Calendar, error) {
	if calendarName != "" {
		cal, ok, err := s.calendarByName(ctx, calendarName)
		if err != nil {
			return davclient.Calendar{}, err
		}
		if !ok {
			return davclient.Calendar{}, &davclient.NotFoundError{
				Resource: davclient.ResourceEvent,
				Detail:   fmt.Sprintf("no calendar named %q", calendarName),
			}
		}
		return cal, nil
	}

	cals, err := s.ListCalendars(ctx)
	if err != nil {
		return davclient.Calendar{}, err
	}
	if len(cals) == 0 {
		return davclient.Calendar{}, &davclient.NotFoundError{
			Resource: davclient.ResourceEvent,
			Detail:   "no calendars discovered on this account",
		}
	}
	return cals[0], nil
}

func (s *Service) absoluteURL(href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base := s.client.HTTP().BaseURL()
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// collectionOf derives the containing collection URL by trimming the last
// path segment.
func collectionOf(objectURL string) string {
	trimmed := strings.TrimRight(objectURL, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return objectURL
	}
	return trimmed[:idx+1]
}

func joinCollection(collectionURL, name string) (string, error) {
	base, err := url.Parse(collectionURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse collection URL: %w", err)
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	ref, err := url.Parse(name)
	if err != nil {
		return "", fmt.Errorf("failed to parse object name: %w", err)
	}
	return base.ResolveReference(ref).String(), nil
}

// sameObjectURL compares object URLs tolerating absolute vs path-only forms.
func sameObjectURL(a, b string) bool {
	if a == b {
		return true
	}
	pa, errA := url.Parse(a)
	pb, errB := url.Parse(b)
	if errA != nil || errB != nil {
		return false
	}
	return pa.Path == pb.Path
}
