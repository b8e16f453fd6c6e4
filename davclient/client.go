// Package davclient implements the CalDAV and CardDAV account clients:
// discovery of calendars, address books and the scheduling inbox, startup
// validation, and the typed error surface exposed to tool handlers.
package davclient

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/davbridge/davbridge/internal/httpclient"
	"github.com/davbridge/davbridge/internal/retry"
)

// AccountType selects the discovery path. The well-known URL and the home-set
// property both depend on it.
type AccountType int

const (
	AccountCalDAV AccountType = iota
	AccountCardDAV
)

func (t AccountType) String() string {
	if t == AccountCardDAV {
		return "carddav"
	}
	return "caldav"
}

func (t AccountType) wellKnownPath() string {
	return "/.well-known/" + t.String()
}

func (t AccountType) homeSetProp() string {
	if t == AccountCardDAV {
		return "addressbook-home-set"
	}
	return "calendar-home-set"
}

// Options configures a Client. ServerURL and Inject are required; the rest
// default.
type Options struct {
	ServerURL string
	Inject    httpclient.Injector
	Transport http.RoundTripper // nil means http.DefaultTransport
	Retry     retry.Config
	Logger    *slog.Logger
}

// Client is one logical DAV account. The bridge creates two at startup, one
// per account type, sharing server URL and credentials.
type Client struct {
	accountType AccountType
	http        httpclient.Wrapper
	retryCfg    retry.Config
	logger      *slog.Logger
}

// New creates a DAV client for the given account type. The auth injector is
// installed as a RoundTripper so credentials survive redirects from the
// well-known URL to the real home path.
func New(accountType AccountType, opts Options) (*Client, error) {
	if opts.ServerURL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	baseURL, err := url.Parse(opts.ServerURL)
	if err != nil || baseURL.Host == "" || (baseURL.Scheme != "http" && baseURL.Scheme != "https") {
		return nil, fmt.Errorf("invalid server URL %q", opts.ServerURL)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}

	hc := &http.Client{
		Transport: httpclient.NewAuthTransport(opts.Inject, opts.Transport, logger),
	}
	wrapper, err := httpclient.NewWrapper(hc, *baseURL, opts.Inject, logger)
	if err != nil {
		return nil, err
	}

	return &Client{
		accountType: accountType,
		http:        wrapper,
		retryCfg:    opts.Retry,
		logger:      logger.With("account", accountType.String()),
	}, nil
}

// HTTP exposes the verb wrapper for the services built on top.
func (c *Client) HTTP() httpclient.Wrapper { return c.http }

// Logger returns the account-scoped logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// RetryConfig returns the retry policy shared by all calls on this account.
func (c *Client) RetryConfig() retry.Config { return c.retryCfg }

// AuthHeaders reconstructs the headers the client's injector attaches, for
// callers that need to issue standalone server operations (free/busy).
func (c *Client) AuthHeaders() http.Header {
	return c.http.Injector().Headers()
}
