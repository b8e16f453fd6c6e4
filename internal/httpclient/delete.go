package httpclient

import (
	"context"
	"net/http"
)

// DoDELETE sends a DELETE request with an If-Match header for optimistic
// locking. A 412 reply surfaces as ErrPreconditionFailed, a 404 as
// ErrNotFound.
func (w *wrapper) DoDELETE(ctx context.Context, urlStr string, etag string) error {
	w.logger.Debug("starting DELETE request",
		"url", urlStr,
		"etag", etag)

	resolvedURL, err := w.resolveURL(urlStr)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, resolvedURL.String(), nil)
	if err != nil {
		return err
	}
	if etag != "" {
		req.Header.Set("If-Match", etag)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	w.logger.Debug("received response", "status", resp.Status)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		w.logger.Debug("unexpected DELETE status",
			"status_code", resp.StatusCode,
			"status", resp.Status)
		return statusErr(resp.StatusCode)
	}

	return nil
}
