package config

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DAVBRIDGE_SERVER_URL", "https://dav.example.com")
	t.Setenv("DAVBRIDGE_CARDDAV_URL", "https://contacts.example.com")
	t.Setenv("DAVBRIDGE_AUTH_MODE", "Bearer")
	t.Setenv("DAVBRIDGE_TOKEN", "tok-123")
	t.Setenv("DAVBRIDGE_DEFAULT_CALENDAR", "Work")
	t.Setenv("DAVBRIDGE_TIMEZONE", "Europe/Berlin")
	t.Setenv("DAVBRIDGE_RETRY_ATTEMPTS", "5")
	t.Setenv("DAVBRIDGE_RETRY_BASE_DELAY", "2s")

	cfg := Load()

	assert.Equal(t, "https://dav.example.com", cfg.ServerURL)
	// CalDAV falls back to the shared base, CardDAV takes its override.
	assert.Equal(t, "https://dav.example.com", cfg.CalDAVURL)
	assert.Equal(t, "https://contacts.example.com", cfg.CardDAVURL)
	assert.Equal(t, AuthBearer, cfg.Auth.Mode, "mode is lowercased")
	assert.Equal(t, "tok-123", cfg.Auth.Token)
	assert.Equal(t, "Work", cfg.DefaultCalendar)
	assert.Equal(t, "Europe/Berlin", cfg.Timezone)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.Retry.BaseDelay)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DAVBRIDGE_SERVER_URL", "")

	cfg := Load()
	assert.Equal(t, AuthBasic, cfg.Auth.Mode)
	assert.Equal(t, "Authorization", cfg.Auth.Header)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.GreaterOrEqual(t, cfg.Retry.MaxAttempts, 1)
}

func validConfig() *Config {
	return &Config{
		ServerURL:  "https://dav.example.com",
		CalDAVURL:  "https://dav.example.com",
		CardDAVURL: "https://dav.example.com",
		Auth:       AuthConfig{Mode: AuthBasic, Username: "alice", Password: "secret"},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:   "valid basic",
			mutate: func(c *Config) {},
		},
		{
			name: "valid bearer",
			mutate: func(c *Config) {
				c.Auth = AuthConfig{Mode: AuthBearer, Token: "tok"}
			},
		},
		{
			name: "valid token mode",
			mutate: func(c *Config) {
				c.Auth = AuthConfig{Mode: AuthToken, Token: "tok", Header: "X-Site-Token"}
			},
		},
		{
			name: "no URLs at all",
			mutate: func(c *Config) {
				c.CalDAVURL = ""
				c.CardDAVURL = ""
			},
			wantField: "DAVBRIDGE_SERVER_URL",
		},
		{
			name: "relative CalDAV URL",
			mutate: func(c *Config) {
				c.CalDAVURL = "dav.example.com/cal"
			},
			wantField: "DAVBRIDGE_CALDAV_URL",
		},
		{
			name: "basic without password",
			mutate: func(c *Config) {
				c.Auth.Password = ""
			},
			wantField: "DAVBRIDGE_USERNAME/DAVBRIDGE_PASSWORD",
		},
		{
			name: "bearer without token",
			mutate: func(c *Config) {
				c.Auth = AuthConfig{Mode: AuthBearer}
			},
			wantField: "DAVBRIDGE_TOKEN",
		},
		{
			name: "unknown auth mode",
			mutate: func(c *Config) {
				c.Auth.Mode = "ntlm"
			},
			wantField: "DAVBRIDGE_AUTH_MODE",
		},
		{
			name: "bad timezone",
			mutate: func(c *Config) {
				c.Timezone = "Mars/Olympus"
			},
			wantField: "DAVBRIDGE_TIMEZONE",
		},
		{
			name: "retry attempts below one",
			mutate: func(c *Config) {
				c.Retry.MaxAttempts = 0
			},
			wantField: "DAVBRIDGE_RETRY_ATTEMPTS",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Retry.MaxAttempts = 3
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}

			var fieldErr *FieldError
			require.ErrorAs(t, err, &fieldErr)
			assert.Equal(t, tt.wantField, fieldErr.Field)
			assert.NotEmpty(t, fieldErr.Remedy)
		})
	}
}

func TestInjectorModes(t *testing.T) {
	tests := []struct {
		name       string
		auth       AuthConfig
		wantHeader string
		wantValue  string
	}{
		{
			name:       "bearer",
			auth:       AuthConfig{Mode: AuthBearer, Token: "tok"},
			wantHeader: "Authorization",
			wantValue:  "Bearer tok",
		},
		{
			name:       "token with named header",
			auth:       AuthConfig{Mode: AuthToken, Token: "tok", Header: "X-Site-Token"},
			wantHeader: "X-Site-Token",
			wantValue:  "tok",
		},
		{
			name:       "basic",
			auth:       AuthConfig{Mode: AuthBasic, Username: "user", Password: "pass"},
			wantHeader: "Authorization",
			wantValue:  "Basic dXNlcjpwYXNz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Auth = tt.auth

			headers := http.Header{}
			cfg.Injector()(headers)
			assert.Equal(t, tt.wantValue, headers.Get(tt.wantHeader))
		})
	}
}
