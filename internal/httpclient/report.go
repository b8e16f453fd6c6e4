package httpclient

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/beevik/etree"
)

// MultiStatus is the decoded form of a REPORT multistatus reply. CalendarData
// and AddressData are populated depending on which report was issued.
type MultiStatus struct {
	XMLName   xml.Name `xml:"DAV: multistatus"`
	Responses []struct {
		Href     string `xml:"DAV: href"`
		PropStat []struct {
			Prop struct {
				CalendarData string `xml:"urn:ietf:params:xml:ns:caldav calendar-data"`
				AddressData  string `xml:"urn:ietf:params:xml:ns:carddav address-data"`
				ETag         string `xml:"DAV: getetag"`
			} `xml:"DAV: prop"`
			Status string `xml:"DAV: status"`
		} `xml:"DAV: propstat"`
	} `xml:"DAV: response"`
}

// StatusOK reports whether a propstat status line carries a 200.
func StatusOK(status string) bool {
	return strings.Contains(status, "200")
}

// DoREPORT executes a REPORT request whose body is the given etree document
// and decodes the multistatus reply.
func (w *wrapper) DoREPORT(ctx context.Context, urlStr string, depth int, doc *etree.Document) (*MultiStatus, error) {
	body, status, err := w.doREPORT(ctx, urlStr, depth, doc)
	if err != nil {
		return nil, err
	}
	if status != http.StatusMultiStatus {
		w.logger.Debug("unexpected REPORT status", "status_code", status)
		return nil, statusErr(status)
	}

	var ms MultiStatus
	if err := xml.NewDecoder(bytes.NewReader(body)).Decode(&ms); err != nil {
		return nil, fmt.Errorf("failed to decode REPORT response: %w", err)
	}

	w.logger.Debug("REPORT request complete", "response_count", len(ms.Responses))
	return &ms, nil
}

// DoREPORTRaw executes a REPORT request and returns the raw response body on
// any 2xx status. Free-busy reports answer with a plain iCalendar body rather
// than a multistatus document, and some servers wrap it anyway; the caller
// parses whichever shape arrived.
func (w *wrapper) DoREPORTRaw(ctx context.Context, urlStr string, depth int, doc *etree.Document) ([]byte, error) {
	body, status, err := w.doREPORT(ctx, urlStr, depth, doc)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		w.logger.Debug("unexpected REPORT status", "status_code", status)
		return nil, statusErr(status)
	}
	return body, nil
}

func (w *wrapper) doREPORT(ctx context.Context, urlStr string, depth int, doc *etree.Document) ([]byte, int, error) {
	queryXML, err := doc.WriteToBytes()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to serialize REPORT query: %w", err)
	}

	w.logger.Debug("starting REPORT request",
		"url", urlStr,
		"depth", depth,
		"query_length", len(queryXML))

	resolvedURL, err := w.resolveURL(urlStr)
	if err != nil {
		return nil, 0, err
	}

	req, err := http.NewRequestWithContext(ctx, "REPORT", resolvedURL.String(), bytes.NewReader(queryXML))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", typeXML)
	req.Header.Set("Depth", fmt.Sprintf("%d", depth))

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read response body: %w", err)
	}

	w.logger.Debug("received REPORT response", "status", resp.Status)
	return body, resp.StatusCode, nil
}
