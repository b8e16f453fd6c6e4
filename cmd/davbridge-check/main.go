// davbridge-check validates a DAV account configuration end to end: it loads
// the DAVBRIDGE_* environment, builds both clients and runs discovery against
// the server, printing the collection counts or the categorized failure.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/davbridge/davbridge/config"
	"github.com/davbridge/davbridge/davclient"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "davbridge-check:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)

	caldav, err := davclient.New(davclient.AccountCalDAV, davclient.Options{
		ServerURL: cfg.CalDAVURL,
		Inject:    cfg.Injector(),
		Retry:     cfg.Retry,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("caldav client: %w", err)
	}
	carddav, err := davclient.New(davclient.AccountCardDAV, davclient.Options{
		ServerURL: cfg.CardDAVURL,
		Inject:    cfg.Injector(),
		Retry:     cfg.Retry,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("carddav client: %w", err)
	}

	result, err := davclient.ValidateStartup(context.Background(), caldav, carddav)
	if err != nil {
		var startup *davclient.StartupError
		if errors.As(err, &startup) {
			return fmt.Errorf("%s: %s", startup.Kind, startup.Remedy)
		}
		return err
	}

	fmt.Printf("ok: %d calendars, %d address books\n",
		result.CalendarCount, result.AddressBookCount)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
