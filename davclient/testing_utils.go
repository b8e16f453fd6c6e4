package davclient

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"time"

	"github.com/beevik/etree"

	"github.com/davbridge/davbridge/internal/httpclient"
	"github.com/davbridge/davbridge/internal/retry"
)

// Mock types for testing.

type propfindFunc func(url string, depth int, props ...string) (*httpclient.PropfindResponse, error)
type reportFunc func(url string, depth int, doc *etree.Document) (*httpclient.MultiStatus, error)

type mockPutResponse struct {
	etag string
	err  error
}

type mockHTTPClient struct {
	baseURL       url.URL
	doPropfind    propfindFunc
	doReport      reportFunc
	reportRaw     []byte
	reportRawErr  error
	getBody       []byte
	getEtag       string
	getErr        error
	putResponse   *mockPutResponse
	deleteErr     error
	deleteCalls   int
	propfindCalls int
}

func (m *mockHTTPClient) DoPROPFIND(ctx context.Context, url string, depth int, props ...string) (*httpclient.PropfindResponse, error) {
	m.propfindCalls++
	if m.doPropfind != nil {
		return m.doPropfind(url, depth, props...)
	}
	return &httpclient.PropfindResponse{Resources: map[string]httpclient.ResourceProps{}}, nil
}

func (m *mockHTTPClient) DoREPORT(ctx context.Context, url string, depth int, doc *etree.Document) (*httpclient.MultiStatus, error) {
	if m.doReport != nil {
		return m.doReport(url, depth, doc)
	}
	return &httpclient.MultiStatus{}, nil
}

func (m *mockHTTPClient) DoREPORTRaw(ctx context.Context, url string, depth int, doc *etree.Document) ([]byte, error) {
	return m.reportRaw, m.reportRawErr
}

func (m *mockHTTPClient) DoGET(ctx context.Context, url string) ([]byte, string, error) {
	return m.getBody, m.getEtag, m.getErr
}

func (m *mockHTTPClient) DoPUT(ctx context.Context, url string, contentType string, pre httpclient.Precondition, etag string, data []byte) (string, error) {
	if m.putResponse != nil {
		return m.putResponse.etag, m.putResponse.err
	}
	return "new-etag", nil
}

func (m *mockHTTPClient) DoDELETE(ctx context.Context, url string, etag string) error {
	m.deleteCalls++
	return m.deleteErr
}

func (m *mockHTTPClient) BaseURL() url.URL { return m.baseURL }

func (m *mockHTTPClient) Injector() httpclient.Injector { return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
}

func newTestClient(accountType AccountType, mock *mockHTTPClient) *Client {
	if mock.baseURL.Host == "" {
		mock.baseURL = url.URL{Scheme: "https", Host: "dav.example.com"}
	}
	return &Client{
		accountType: accountType,
		http:        mock,
		retryCfg:    fastRetry(),
		logger:      testLogger(),
	}
}
