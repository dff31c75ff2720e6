package tracelens

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("tracelens: not found")

// doJSON issues one REST call against the API. in and out may be nil; a 404
// maps to ErrNotFound so callers can branch on it.
func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.config.Host + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("tracelens: marshaling request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("tracelens: building request: %w", err)
	}
	c.setHeaders(req, in != nil)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tracelens: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("tracelens: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("tracelens: decoding response: %w", err)
		}
	}
	return nil
}
