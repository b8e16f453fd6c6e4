// Package addressbook implements the contact-side L3 service: CTag-aware
// vCard fetching with a multiget fallback, optimistic-concurrency writes and
// find-by-UID.
package addressbook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/davbridge/davbridge/davclient"
	"github.com/davbridge/davbridge/internal/cache"
	"github.com/davbridge/davbridge/internal/httpclient"
	"github.com/davbridge/davbridge/internal/retry"
	"github.com/davbridge/davbridge/vcardutil"
)

// Object is one raw vCard object as delivered by the server.
type Object struct {
	URL  string
	ETag string
	Data string
}

// Service is the address-book L3 service. One instance serves one CardDAV
// account; it owns the collection cache and the lazily discovered book list.
type Service struct {
	client *davclient.Client
	cache  *cache.Cache[Object]
	logger *slog.Logger

	mu    sync.Mutex
	books []davclient.AddressBook
}

func NewService(client *davclient.Client, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Service{
		client: client,
		cache:  cache.New[Object](),
		logger: logger,
	}
}

// ListAddressBooks discovers lazily; later calls reuse the cached list until
// RefreshAddressBooks.
func (s *Service) ListAddressBooks(ctx context.Context) ([]davclient.AddressBook, error) {
	s.mu.Lock()
	if s.books != nil {
		defer s.mu.Unlock()
		return s.books, nil
	}
	s.mu.Unlock()

	books, err := s.client.DiscoverAddressBooks(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.books = books
	s.mu.Unlock()
	return books, nil
}

// RefreshAddressBooks re-discovers and clears the object cache.
func (s *Service) RefreshAddressBooks(ctx context.Context) ([]davclient.AddressBook, error) {
	books, err := s.client.DiscoverAddressBooks(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.books = books
	s.mu.Unlock()
	s.cache.Clear()
	return books, nil
}

// FetchContacts returns the raw vCards of an address book with the same CTag
// fast path as the calendar service: fresh entries are served from cache,
// stale entries are dirty-checked and promoted when the server reports no
// change.
func (s *Service) FetchContacts(ctx context.Context, book davclient.AddressBook) ([]Object, error) {
	if s.cache.IsFresh(book.URL, book.CTag) {
		entry, _ := s.cache.Get(book.URL)
		s.logger.Debug("cache hit", "addressbook", book.URL, "objects", len(entry.Objects))
		return entry.Objects, nil
	}

	if entry, ok := s.cache.Get(book.URL); ok && entry.CTag != "" {
		current, err := s.client.GetCollectionCTag(ctx, book.URL)
		if err == nil && current == entry.CTag {
			s.logger.Debug("dirty check: collection unchanged", "addressbook", book.URL)
			s.cache.Promote(book.URL)
			return entry.Objects, nil
		}
	}

	objects, err := s.fetchObjects(ctx, book.URL)
	if err != nil {
		return nil, err
	}

	ctag := book.CTag
	if current, err := s.client.GetCollectionCTag(ctx, book.URL); err == nil && current != "" {
		ctag = current
	}
	if ctag != "" {
		s.cache.Set(book.URL, ctag, objects)
	}
	return objects, nil
}

// FetchAllContacts fans out over every discovered address book concurrently
// and flattens the results.
func (s *Service) FetchAllContacts(ctx context.Context) ([]Object, error) {
	books, err := s.ListAddressBooks(ctx)
	if err != nil {
		return nil, err
	}

	type result struct {
		objects []Object
		err     error
	}
	results := make(chan result, len(books))
	for _, book := range books {
		go func(book davclient.AddressBook) {
			objects, err := s.FetchContacts(ctx, book)
			results <- result{objects: objects, err: err}
		}(book)
	}

	var all []Object
	var firstErr error
	for range books {
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

// FetchContactRecords transforms fetched vCards into domain records, skipping
// unparseable bodies with a debug log.
func (s *Service) FetchContactRecords(ctx context.Context, book davclient.AddressBook) ([]*vcardutil.ContactRecord, error) {
	objects, err := s.FetchContacts(ctx, book)
	if err != nil {
		return nil, err
	}
	return s.transform(objects), nil
}

// FindContactByUID fetches (scoped to a book name, or all books), transforms
// each body and returns the first record whose UID matches, or nil when the
// UID is in no accessible address book.
func (s *Service) FindContactByUID(ctx context.Context, uid, bookName string) (*vcardutil.ContactRecord, error) {
	var objects []Object
	var err error
	if bookName != "" {
		book, ok, err := s.bookByName(ctx, bookName)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.Warn("no address book matches name", "name", bookName)
			return nil, nil
		}
		objects, err = s.FetchContacts(ctx, book)
		if err != nil {
			return nil, err
		}
	} else {
		objects, err = s.FetchAllContacts(ctx)
		if err != nil {
			return nil, err
		}
	}

	for _, rec := range s.transform(objects) {
		if rec.UID == uid {
			return rec, nil
		}
	}
	return nil, nil
}

// CreateContact puts a fresh vCard into the target book under a new UUID
// filename, guarded by If-None-Match: *.
func (s *Service) CreateContact(ctx context.Context, vcardText, bookName string) (objectURL, etag string, err error) {
	book, err := s.resolveTarget(ctx, bookName)
	if err != nil {
		return "", "", err
	}

	objectURL, err = joinCollection(book.URL, uuid.New().String()+".vcf")
	if err != nil {
		return "", "", err
	}

	etag, err = s.put(ctx, "create-contact", objectURL, vcardText, httpclient.IfNoneMatchAny, "")
	if err != nil {
		return "", "", err
	}

	s.cache.Invalidate(book.URL)
	s.logger.Info("contact created", "url", objectURL, "addressbook", book.Name)
	return objectURL, etag, nil
}

// UpdateContact puts a modified vCard under If-Match.
func (s *Service) UpdateContact(ctx context.Context, objectURL, vcardText, etag string) (string, error) {
	newEtag, err := s.put(ctx, "update-contact", objectURL, vcardText, httpclient.IfMatch, etag)
	if err != nil {
		return "", err
	}

	s.cache.Invalidate(collectionOf(objectURL))
	s.logger.Info("contact updated", "url", objectURL)
	return newEtag, nil
}

// DeleteContact removes a vCard under If-Match, recovering the ETag from the
// collection listing when the caller has none.
func (s *Service) DeleteContact(ctx context.Context, objectURL, etag string) error {
	collectionURL := collectionOf(objectURL)

	if etag == "" {
		objects, err := s.fetchObjects(ctx, collectionURL)
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
				Resource: davclient.ResourceContact,
				Detail:   fmt.Sprintf("no contact at %s", objectURL),
			}
		}
	}

	var conflict, notFound bool
	err := retry.Do(ctx, s.logger, "delete-contact", s.client.RetryConfig(), func() error {
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
		return fmt.Errorf("failed to delete contact: %w", err)
	}
	if conflict {
		return &davclient.ConflictError{
			Resource: davclient.ResourceContact,
			URL:      objectURL,
			Remedy:   "the contact changed since it was read; re-fetch and retry",
		}
	}
	if notFound {
		return &davclient.NotFoundError{
			Resource: davclient.ResourceContact,
			Detail:   fmt.Sprintf("no contact at %s", objectURL),
		}
	}

	s.cache.Invalidate(collectionURL)
	s.logger.Info("contact deleted", "url", objectURL)
	return nil
}

// fetchObjects lists the collection and bulk-fetches bodies with an
// addressbook-multiget. Servers that do not implement multiget answer with an
// empty multistatus; in that case the same listing is re-fetched through an
// addressbook-query REPORT plus per-item GETs.
func (s *Service) fetchObjects(ctx context.Context, collectionURL string) ([]Object, error) {
	hrefs, err := s.listHrefs(ctx, collectionURL)
	if err != nil {
		return nil, err
	}
	if len(hrefs) == 0 {
		return nil, nil
	}

	objects, err := s.multiget(ctx, collectionURL, hrefs)
	if err == nil && len(objects) > 0 {
		return objects, nil
	}
	if err != nil {
		s.logger.Debug("addressbook-multiget failed, falling back to query",
			"addressbook", collectionURL,
			"error", err)
	} else {
		s.logger.Debug("addressbook-multiget returned no results, falling back to query",
			"addressbook", collectionURL)
	}

	return s.queryWithGets(ctx, collectionURL)
}

// listHrefs collects object paths and etags via a depth-1 PROPFIND.
func (s *Service) listHrefs(ctx context.Context, collectionURL string) ([]string, error) {
	var resp *httpclient.PropfindResponse
	err := retry.Do(ctx, s.logger, "list-contacts", s.client.RetryConfig(), func() error {
		var e error
		resp, e = s.client.HTTP().DoPROPFIND(ctx, collectionURL, 1, "getetag", "resourcetype")
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list address-book objects: %w", err)
	}

	var hrefs []string
	for href, res := range resp.Resources {
		// Skip the collection itself; objects carry an etag.
		if res.IsAddressBook || res.Etag == "" {
			continue
		}
		hrefs = append(hrefs, href)
	}
	return hrefs, nil
}

func (s *Service) multiget(ctx context.Context, collectionURL string, hrefs []string) ([]Object, error) {
	query := davclient.AddressbookMultiget(hrefs)

	var ms *httpclient.MultiStatus
	err := retry.Do(ctx, s.logger, "addressbook-multiget", s.client.RetryConfig(), func() error {
		var e error
		ms, e = s.client.HTTP().DoREPORT(ctx, collectionURL, 1, query)
		return e
	})
	if err != nil {
		return nil, err
	}
	return s.objectsFromMultiStatus(ms), nil
}

// queryWithGets runs an addressbook-query REPORT and fills in bodies with
// per-item GETs for responses that carried none.
func (s *Service) queryWithGets(ctx context.Context, collectionURL string) ([]Object, error) {
	query := davclient.AddressbookQuery()

	var ms *httpclient.MultiStatus
	err := retry.Do(ctx, s.logger, "addressbook-query", s.client.RetryConfig(), func() error {
		var e error
		ms, e = s.client.HTTP().DoREPORT(ctx, collectionURL, 1, query)
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query address-book objects: %w", err)
	}

	objects := s.objectsFromMultiStatus(ms)
	known := make(map[string]bool, len(objects))
	for _, obj := range objects {
		known[obj.URL] = true
	}

	for _, resp := range ms.Responses {
		u := s.absoluteURL(resp.Href)
		if known[u] {
			continue
		}
		hasOK := false
		for _, ps := range resp.PropStat {
			if httpclient.StatusOK(ps.Status) {
				hasOK = true
			}
		}
		if !hasOK {
			continue
		}

		body, etag, err := s.client.HTTP().DoGET(ctx, resp.Href)
		if err != nil {
			s.logger.Debug("failed to fetch vCard body", "url", resp.Href, "error", err)
			continue
		}
		objects = append(objects, Object{URL: u, ETag: etag, Data: string(body)})
	}
	return objects, nil
}

func (s *Service) objectsFromMultiStatus(ms *httpclient.MultiStatus) []Object {
	var objects []Object
	for _, resp := range ms.Responses {
		for _, ps := range resp.PropStat {
			if !httpclient.StatusOK(ps.Status) || ps.Prop.AddressData == "" {
				continue
			}
			objects = append(objects, Object{
				URL:  s.absoluteURL(resp.Href),
				ETag: ps.Prop.ETag,
				Data: ps.Prop.AddressData,
			})
		}
	}
	return objects
}

func (s *Service) transform(objects []Object) []*vcardutil.ContactRecord {
	var records []*vcardutil.ContactRecord
	for _, obj := range objects {
		rec, err := vcardutil.Transform(obj.Data, obj.URL, obj.ETag)
		if err != nil {
			s.logger.Debug("skipping unparseable vCard", "url", obj.URL, "error", err)
			continue
		}
		records = append(records, rec)
	}
	return records
}

func (s *Service) put(ctx context.Context, op, objectURL, body string, pre httpclient.Precondition, etag string) (string, error) {
	var newEtag string
	var conflict bool
	err := retry.Do(ctx, s.logger, op, s.client.RetryConfig(), func() error {
		var err error
		newEtag, err = s.client.HTTP().DoPUT(ctx, objectURL, "text/vcard; charset=utf-8", pre, etag, []byte(body))
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
			Resource: davclient.ResourceContact,
			URL:      objectURL,
			Remedy:   "the contact changed since it was read; re-fetch and retry",
		}
	}

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

func (s *Service) bookByName(ctx context.Context, name string) (davclient.AddressBook, bool, error) {
	books, err := s.ListAddressBooks(ctx)
	if err != nil {
		return davclient.AddressBook{}, false, err
	}
	for _, book := range books {
		if strings.EqualFold(book.Name, name) {
			return book, true, nil
		}
	}
	return davclient.AddressBook{}, false, nil
}

func (s *Service) resolveTarget(ctx context.Context, bookName string) (davclient.AddressBook, error) {
	if bookName != "" {
		book, ok, err := s.bookByName(ctx, bookName)
		if err != nil {
			return davclient.AddressBook{}, err
		}
		if !ok {
			return davclient.AddressBook{}, &davclient.NotFoundError{
				Resource: davclient.ResourceContact,
				Detail:   fmt.Sprintf("no address book named %q", bookName),
			}
		}
		return book, nil
	}

	books, err := s.ListAddressBooks(ctx)
	if err != nil {
		return davclient.AddressBook{}, err
	}
	if len(books) == 0 {
		return davclient.AddressBook{}, &davclient.NotFoundError{
			Resource: davclient.ResourceContact,
			Detail:   "no address books discovered on this account",
		}
	}
	return books[0], nil
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
