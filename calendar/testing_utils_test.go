package calendar

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/davbridge/davbridge/davclient"
	"github.com/davbridge/davbridge/internal/httpclient"
	"github.com/davbridge/davbridge/internal/retry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, handler http.Handler) (*Service, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := davclient.New(davclient.AccountCalDAV, davclient.Options{
		ServerURL: server.URL,
		Inject:    httpclient.BasicAuth("alice", "secret"),
		Retry:     retry.Config{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Logger:    testLogger(),
	})
	if err != nil {
		t.Fatalf("davclient.New() error = %v", err)
	}
	return NewService(client, testLogger()), server
}

func eventICS(uid, summary, start, end string, extra ...string) string {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//test//EN",
		"BEGIN:VEVENT",
		"UID:" + uid,
		"DTSTAMP:20260301T120000Z",
		"SUMMARY:" + summary,
		"DTSTART:" + start,
		"DTEND:" + end,
	}
	lines = append(lines, extra...)
	lines = append(lines, "END:VEVENT", "END:VCALENDAR", "")
	return strings.Join(lines, "\r\n")
}

// calendarDataMultistatus renders a REPORT reply carrying the given objects.
func calendarDataMultistatus(objects map[string]string) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="utf-8"?>` + "\n")
	b.WriteString(`<D:multistatus xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">` + "\n")
	for href, ics := range objects {
		fmt.Fprintf(&b, `<D:response><D:href>%s</D:href><D:propstat><D:prop>`, href)
		fmt.Fprintf(&b, `<D:getetag>"etag-%s"</D:getetag>`, href)
		fmt.Fprintf(&b, `<C:calendar-data>%s</C:calendar-data>`, ics)
		b.WriteString(`</D:prop><D:status>HTTP/1.1 200 OK</D:status></D:propstat></D:response>` + "\n")
	}
	b.WriteString(`</D:multistatus>`)
	return b.String()
}

func ctagMultistatus(href, ctag string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:" xmlns:CS="http://calendarserver.org/ns/">
<D:response><D:href>%s</D:href><D:propstat><D:prop><CS:getctag>%s</CS:getctag></D:prop>
<D:status>HTTP/1.1 200 OK</D:status></D:propstat></D:response></D:multistatus>`, href, ctag)
}

func etagMultistatus(href, etag string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:">
<D:response><D:href>%s</D:href><D:propstat><D:prop><D:getetag>%s</D:getetag></D:prop>
<D:status>HTTP/1.1 200 OK</D:status></D:propstat></D:response></D:multistatus>`, href, etag)
}
