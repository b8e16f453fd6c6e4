package davclient

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/davbridge/davbridge/internal/httpclient"
	"github.com/davbridge/davbridge/internal/retry"
)

// Calendar describes one discovered calendar collection.
type Calendar struct {
	URL        string
	Name       string
	Color      string
	CTag       string
	ReadOnly   bool
	Components []string
}

// AddressBook describes one discovered address-book collection.
type AddressBook struct {
	URL      string
	Name     string
	CTag     string
	ReadOnly bool
}

// DiscoverCalendars walks well-known URL, principal and calendar-home-set to
// list the account's calendars.
func (c *Client) DiscoverCalendars(ctx context.Context) ([]Calendar, error) {
	if c.accountType != AccountCalDAV {
		return nil, fmt.Errorf("calendar discovery requires a caldav account, have %s", c.accountType)
	}

	home, err := c.discoverHome(ctx)
	if err != nil {
		return nil, err
	}

	var resp *httpclient.PropfindResponse
	err = retry.Do(ctx, c.logger, "list-calendars", c.retryCfg, func() error {
		var e error
		resp, e = c.http.DoPROPFIND(ctx, home, 1,
			"resourcetype",
			"displayname",
			"calendar-color",
			"getctag",
			"supported-calendar-component-set",
			"current-user-privilege-set")
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list calendars: %w", err)
	}

	var calendars []Calendar
	for uri, res := range resp.Resources {
		if !res.IsCalendar {
			continue
		}
		cal := Calendar{
			URL:        c.absoluteURL(home, uri),
			Name:       displayNameOrPath(res.DisplayName, uri),
			Color:      res.Color,
			CTag:       res.CTag,
			ReadOnly:   !res.CanWrite,
			Components: res.Components,
		}
		c.logger.Debug("discovered calendar",
			"url", cal.URL,
			"name", cal.Name,
			"ctag", cal.CTag,
			"read_only", cal.ReadOnly,
			"components", cal.Components)
		calendars = append(calendars, cal)
	}

	c.logger.Info("calendar discovery complete", "count", len(calendars))
	return calendars, nil
}

// DiscoverAddressBooks walks well-known URL, principal and
// addressbook-home-set to list the account's address books.
func (c *Client) DiscoverAddressBooks(ctx context.Context) ([]AddressBook, error) {
	if c.accountType != AccountCardDAV {
		return nil, fmt.Errorf("address-book discovery requires a carddav account, have %s", c.accountType)
	}

	home, err := c.discoverHome(ctx)
	if err != nil {
		return nil, err
	}

	var resp *httpclient.PropfindResponse
	err = retry.Do(ctx, c.logger, "list-addressbooks", c.retryCfg, func() error {
		var e error
		resp, e = c.http.DoPROPFIND(ctx, home, 1,
			"resourcetype",
			"displayname",
			"getctag",
			"current-user-privilege-set")
		return e
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list address books: %w", err)
	}

	var books []AddressBook
	for uri, res := range resp.Resources {
		if !res.IsAddressBook {
			continue
		}
		book := AddressBook{
			URL:      c.absoluteURL(home, uri),
			Name:     displayNameOrPath(res.DisplayName, uri),
			CTag:     res.CTag,
			ReadOnly: !res.CanWrite,
		}
		c.logger.Debug("discovered address book",
			"url", book.URL,
			"name", book.Name,
			"ctag", book.CTag,
			"read_only", book.ReadOnly)
		books = append(books, book)
	}

	c.logger.Info("address-book discovery complete", "count", len(books))
	return books, nil
}

// DiscoverScheduleInbox locates the per-user scheduling inbox for the
// invitation workflow. Servers without scheduling support answer 404 (or omit
// the property); both return empty with no error and the invitation features
// silently downgrade.
func (c *Client) DiscoverScheduleInbox(ctx context.Context) (string, error) {
	principal, err := c.discoverPrincipal(ctx)
	if err != nil {
		return "", err
	}

	resp, err := c.http.DoPROPFIND(ctx, principal, 0, "schedule-inbox-URL")
	if err != nil {
		if errors.Is(err, httpclient.ErrNotFound) {
			c.logger.Debug("scheduling inbox not supported by server")
			return "", nil
		}
		return "", fmt.Errorf("failed to query schedule-inbox-URL: %w", err)
	}
	if resp.ScheduleInbox == "" {
		c.logger.Debug("server did not advertise a scheduling inbox")
		return "", nil
	}

	inbox := c.absoluteURL(principal, resp.ScheduleInbox)
	c.logger.Debug("discovered scheduling inbox", "url", inbox)
	return inbox, nil
}

// GetCollectionCTag probes the current CTag of a collection. Used as the
// dirty check when a cached entry has gone stale by descriptor but may still
// match the server.
func (c *Client) GetCollectionCTag(ctx context.Context, collectionURL string) (string, error) {
	var resp *httpclient.PropfindResponse
	err := retry.Do(ctx, c.logger, "ctag-probe", c.retryCfg, func() error {
		var e error
		resp, e = c.http.DoPROPFIND(ctx, collectionURL, 0, "getctag")
		return e
	})
	if err != nil {
		return "", fmt.Errorf("failed to probe collection ctag: %w", err)
	}
	for _, res := range resp.Resources {
		if res.CTag != "" {
			return res.CTag, nil
		}
	}
	return "", nil
}

// discoverPrincipal finds the current-user-principal URL, probing the
// well-known URL first and falling back to the server root.
func (c *Client) discoverPrincipal(ctx context.Context) (string, error) {
	base := c.http.BaseURL()
	candidates := []string{}
	if base.Path != "" && base.Path != "/" {
		candidates = append(candidates, base.String())
	}
	candidates = append(candidates,
		c.accountType.wellKnownPath(),
		"/")

	var lastErr error
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		resp, err := c.http.DoPROPFIND(ctx, candidate, 0, "current-user-principal")
		if err != nil {
			if errors.Is(err, httpclient.ErrUnauthorized) {
				return "", err
			}
			lastErr = err
			continue
		}
		if resp.CurrentUserPrincipal != "" {
			return c.absoluteURL(candidate, resp.CurrentUserPrincipal), nil
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("could not find current-user-principal: %w", lastErr)
	}
	return "", fmt.Errorf("could not find current-user-principal")
}

// discoverHome resolves the calendar or address-book home collection for the
// account's principal.
func (c *Client) discoverHome(ctx context.Context) (string, error) {
	var home string
	err := retry.Do(ctx, c.logger, "discover-home", c.retryCfg, func() error {
		principal, err := c.discoverPrincipal(ctx)
		if err != nil {
			return err
		}

		prop := c.accountType.homeSetProp()
		resp, err := c.http.DoPROPFIND(ctx, principal, 0, prop)
		if err != nil {
			return fmt.Errorf("failed to get %s: %w", prop, err)
		}

		set := resp.CalendarHomeSet
		if c.accountType == AccountCardDAV {
			set = resp.AddressbookHomeSet
		}
		if set == "" {
			return fmt.Errorf("no %s found for principal %s", prop, principal)
		}
		home = c.absoluteURL(principal, set)
		return nil
	})
	return home, err
}

// absoluteURL resolves a possibly relative href against the URL it was
// returned from.
func (c *Client) absoluteURL(from, href string) string {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base := c.http.BaseURL()
	if fromURL, err := url.Parse(from); err == nil {
		base = *base.ResolveReference(fromURL)
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

// displayNameOrPath falls back to the last non-empty path segment when the
// server returned no displayname.
func displayNameOrPath(name, uri string) string {
	if name != "" {
		return name
	}
	segments := strings.Split(strings.TrimRight(uri, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			if unescaped, err := url.PathUnescape(segments[i]); err == nil {
				return unescaped
			}
			return segments[i]
		}
	}
	return uri
}
