package davclient

import (
	"context"
	"time"
)

const (
	// StartupDeadline bounds the combined dual-account validation.
	StartupDeadline = 15 * time.Second
	// AccountDeadline bounds a single-account validation.
	AccountDeadline = 10 * time.Second
)

// ValidationResult carries the collection counts found during startup.
type ValidationResult struct {
	CalendarCount    int
	AddressBookCount int
}

// ValidateStartup runs calendar discovery on the CalDAV account and
// address-book discovery on the CardDAV account concurrently, bounded by a
// single deadline. Failures are categorized into a StartupError kind.
func ValidateStartup(ctx context.Context, caldav, carddav *Client) (*ValidationResult, error) {
	ctx, cancel := context.WithTimeout(ctx, StartupDeadline)
	defer cancel()

	type outcome struct {
		count int
		err   error
	}
	calCh := make(chan outcome, 1)
	cardCh := make(chan outcome, 1)

	go func() {
		cals, err := caldav.DiscoverCalendars(ctx)
		calCh <- outcome{count: len(cals), err: err}
	}()
	go func() {
		books, err := carddav.DiscoverAddressBooks(ctx)
		cardCh <- outcome{count: len(books), err: err}
	}()

	cal := <-calCh
	card := <-cardCh

	if cal.err != nil {
		return nil, CategorizeStartupError(cal.err)
	}
	if card.err != nil {
		return nil, CategorizeStartupError(card.err)
	}

	caldav.logger.Info("startup validation complete",
		"calendars", cal.count,
		"address_books", card.count)
	return &ValidationResult{
		CalendarCount:    cal.count,
		AddressBookCount: card.count,
	}, nil
}

// ValidateAccount runs discovery for a single account under its own deadline.
func ValidateAccount(ctx context.Context, c *Client) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, AccountDeadline)
	defer cancel()

	switch c.accountType {
	case AccountCardDAV:
		books, err := c.DiscoverAddressBooks(ctx)
		if err != nil {
			return 0, CategorizeStartupError(err)
		}
		return len(books), nil
	default:
		cals, err := c.DiscoverCalendars(ctx)
		if err != nil {
			return 0, CategorizeStartupError(err)
		}
		return len(cals), nil
	}
}
