package httpclient

import (
	"bytes"
	"context"
	"net/http"
)

// DoPUT writes an object body under the selected precondition. For IfMatch
// the etag argument is echoed back exactly as received from the server; ETags
// are opaque and must not be normalized. A 412 reply surfaces as
// ErrPreconditionFailed.
func (w *wrapper) DoPUT(ctx context.Context, urlStr string, contentType string, pre Precondition, etag string, data []byte) (string, error) {
	w.logger.Debug("starting PUT request",
		"url", urlStr,
		"precondition", pre,
		"etag", etag,
		"data_length", len(data))

	resolvedURL, err := w.resolveURL(urlStr)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, resolvedURL.String(), bytes.NewReader(data))
	if err != nil {
		return "", err
	}

	switch pre {
	case IfMatch:
		req.Header.Set("If-Match", etag)
	case IfNoneMatchAny:
		req.Header.Set("If-None-Match", "*")
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := w.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	w.logger.Debug("received response", "status", resp.Status)

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusNoContent:
	default:
		w.logger.Debug("unexpected PUT status",
			"status_code", resp.StatusCode,
			"status", resp.Status)
		return "", statusErr(resp.StatusCode)
	}

	newEtag := resp.Header.Get("ETag")
	w.logger.Debug("PUT request complete",
		"status", resp.Status,
		"new_etag", newEtag)
	return newEtag, nil
}
