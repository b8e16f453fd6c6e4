package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// DoGET fetches a single object body together with its ETag.
func (w *wrapper) DoGET(ctx context.Context, urlStr string) ([]byte, string, error) {
	w.logger.Debug("starting GET request", "url", urlStr)

	resolvedURL, err := w.resolveURL(urlStr)
	if err != nil {
		return nil, "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolvedURL.String(), nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		w.logger.Debug("unexpected GET status",
			"status_code", resp.StatusCode,
			"status", resp.Status)
		return nil, "", statusErr(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response body: %w", err)
	}

	etag := resp.Header.Get("ETag")
	w.logger.Debug("GET request complete", "etag", etag, "length", len(body))
	return body, etag, nil
}
