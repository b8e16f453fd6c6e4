// Package httpclient wraps http.Client with the WebDAV verbs the bridge
// needs: PROPFIND, REPORT, GET, PUT, DELETE, with per-request auth injection
// and ETag preconditions.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/beevik/etree"
)

var (
	// ErrPreconditionFailed is returned when the server answers 412 to a
	// conditional PUT or DELETE. Callers map it to a typed conflict; it never
	// enters the retry engine.
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrNotFound is returned for a 404 on an object or report endpoint.
	ErrNotFound = errors.New("resource not found")

	// ErrUnauthorized is returned for 401/403 responses.
	ErrUnauthorized = errors.New("authentication failed")
)

// Precondition selects the conditional header sent with a write.
type Precondition int

const (
	// NoPrecondition sends an unconditional request.
	NoPrecondition Precondition = iota
	// IfMatch sends If-Match: <etag>; the write succeeds only if the stored
	// object still carries that ETag.
	IfMatch
	// IfNoneMatchAny sends If-None-Match: *; the write succeeds only if no
	// object exists at the URL yet.
	IfNoneMatchAny
)

// Wrapper is the verb-level interface the DAV clients are built on. Every
// verb takes a context so deadlines and cancellation interrupt in-flight
// requests, not just the gaps between them.
type Wrapper interface {
	DoPROPFIND(ctx context.Context, url string, depth int, props ...string) (*PropfindResponse, error)
	DoREPORT(ctx context.Context, url string, depth int, doc *etree.Document) (*MultiStatus, error)
	DoREPORTRaw(ctx context.Context, url string, depth int, doc *etree.Document) ([]byte, error)
	DoGET(ctx context.Context, url string) (body []byte, etag string, err error)
	DoPUT(ctx context.Context, url string, contentType string, pre Precondition, etag string, data []byte) (newEtag string, err error)
	DoDELETE(ctx context.Context, url string, etag string) error
	BaseURL() url.URL
	Injector() Injector
}

type wrapper struct {
	client  *http.Client
	baseURL url.URL
	inject  Injector
	logger  *slog.Logger
}

// NewWrapper creates a verb wrapper around client. The injector must match
// the one installed on the client's transport; it is kept so callers can
// reconstruct the auth headers for standalone server operations.
func NewWrapper(client *http.Client, baseURL url.URL, inject Injector, logger *slog.Logger) (Wrapper, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &wrapper{client: client, baseURL: baseURL, inject: inject, logger: logger}, nil
}

func (w *wrapper) BaseURL() url.URL   { return w.baseURL }
func (w *wrapper) Injector() Injector { return w.inject }

// resolveURL resolves a URL string against the base URL.
func (w *wrapper) resolveURL(urlStr string) (*url.URL, error) {
	ref, err := url.Parse(urlStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL %q: %w", urlStr, err)
	}
	return w.baseURL.ResolveReference(ref), nil
}

// statusErr maps common failure statuses to sentinel errors.
func statusErr(code int) error {
	switch code {
	case http.StatusPreconditionFailed:
		return ErrPreconditionFailed
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusUnauthorized, http.StatusForbidden:
		return ErrUnauthorized
	}
	return fmt.Errorf("unexpected status code: %d", code)
}
