// Package config loads the account configuration from DAVBRIDGE_* environment
// variables and validates it before any network work starts.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/davbridge/davbridge/internal/httpclient"
	"github.com/davbridge/davbridge/internal/retry"
)

// Auth modes.
const (
	AuthBasic  = "basic"
	AuthBearer = "bearer"
	AuthToken  = "token" // site-specific named-header token
)

type AuthConfig struct {
	Mode     string
	Username string
	Password string
	Token    string
	// Header names the carrier header in token mode.
	Header string
}

type Config struct {
	// ServerURL is the shared base; CalDAVURL/CardDAVURL override it per
	// protocol when the two live on different hosts.
	ServerURL  string
	CalDAVURL  string
	CardDAVURL string

	Auth AuthConfig

	DefaultCalendar    string
	DefaultAddressBook string
	UserEmail          string
	Timezone           string

	LogLevel string
	Retry    retry.Config
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getduration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

// Load reads the environment. It never fails; Validate reports what is wrong.
func Load() *Config {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = getint("DAVBRIDGE_RETRY_ATTEMPTS", retryCfg.MaxAttempts)
	retryCfg.BaseDelay = getduration("DAVBRIDGE_RETRY_BASE_DELAY", retryCfg.BaseDelay)
	retryCfg.MaxDelay = getduration("DAVBRIDGE_RETRY_MAX_DELAY", retryCfg.MaxDelay)

	server := getenv("DAVBRIDGE_SERVER_URL", "")
	return &Config{
		ServerURL:  server,
		CalDAVURL:  getenv("DAVBRIDGE_CALDAV_URL", server),
		CardDAVURL: getenv("DAVBRIDGE_CARDDAV_URL", server),
		Auth: AuthConfig{
			Mode:     strings.ToLower(getenv("DAVBRIDGE_AUTH_MODE", AuthBasic)),
			Username: getenv("DAVBRIDGE_USERNAME", ""),
			Password: getenv("DAVBRIDGE_PASSWORD", ""),
			Token:    getenv("DAVBRIDGE_TOKEN", ""),
			Header:   getenv("DAVBRIDGE_TOKEN_HEADER", "Authorization"),
		},
		DefaultCalendar:    getenv("DAVBRIDGE_DEFAULT_CALENDAR", ""),
		DefaultAddressBook: getenv("DAVBRIDGE_DEFAULT_ADDRESSBOOK", ""),
		UserEmail:          getenv("DAVBRIDGE_USER_EMAIL", ""),
		Timezone:           getenv("DAVBRIDGE_TIMEZONE", ""),
		LogLevel:           getenv("DAVBRIDGE_LOG_LEVEL", "info"),
		Retry:              retryCfg,
	}
}

// FieldError names the offending field and how to fix it.
type FieldError struct {
	Field  string
	Remedy string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("invalid configuration: %s (%s)", e.Field, e.Remedy)
}

// Validate checks the record for contradictions before any client is built.
func (c *Config) Validate() error {
	if c.CalDAVURL == "" && c.CardDAVURL == "" {
		return &FieldError{
			Field:  "DAVBRIDGE_SERVER_URL",
			Remedy: "set DAVBRIDGE_SERVER_URL, or DAVBRIDGE_CALDAV_URL / DAVBRIDGE_CARDDAV_URL",
		}
	}
	for _, u := range []struct{ field, value string }{
		{"DAVBRIDGE_CALDAV_URL", c.CalDAVURL},
		{"DAVBRIDGE_CARDDAV_URL", c.CardDAVURL},
	} {
		if u.value == "" {
			continue
		}
		parsed, err := url.Parse(u.value)
		if err != nil || parsed.Scheme == "" || parsed.Host == "" {
			return &FieldError{
				Field:  u.field,
				Remedy: fmt.Sprintf("%q is not an absolute http(s) URL", u.value),
			}
		}
	}

	switch c.Auth.Mode {
	case AuthBasic:
		if c.Auth.Username == "" || c.Auth.Password == "" {
			return &FieldError{
				Field:  "DAVBRIDGE_USERNAME/DAVBRIDGE_PASSWORD",
				Remedy: "basic auth needs both a username and a password",
			}
		}
	case AuthBearer, AuthToken:
		if c.Auth.Token == "" {
			return &FieldError{
				Field:  "DAVBRIDGE_TOKEN",
				Remedy: fmt.Sprintf("%s auth needs a token", c.Auth.Mode),
			}
		}
	default:
		return &FieldError{
			Field:  "DAVBRIDGE_AUTH_MODE",
			Remedy: fmt.Sprintf("%q is not one of basic, bearer, token", c.Auth.Mode),
		}
	}

	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return &FieldError{
				Field:  "DAVBRIDGE_TIMEZONE",
				Remedy: fmt.Sprintf("%q is not an IANA timezone name", c.Timezone),
			}
		}
	}

	if c.Retry.MaxAttempts < 1 {
		return &FieldError{
			Field:  "DAVBRIDGE_RETRY_ATTEMPTS",
			Remedy: "must be at least 1",
		}
	}
	return nil
}

// Injector builds the header injector matching the configured auth mode.
// Validate must have passed.
func (c *Config) Injector() httpclient.Injector {
	switch c.Auth.Mode {
	case AuthBearer:
		return httpclient.BearerAuth(c.Auth.Token)
	case AuthToken:
		return httpclient.HeaderToken(c.Auth.Header, c.Auth.Token)
	default:
		return httpclient.BasicAuth(c.Auth.Username, c.Auth.Password)
	}
}
