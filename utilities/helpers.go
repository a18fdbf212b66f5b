package utilities

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPStatusError reports a non-2xx response so callers can classify it.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d: %s", e.StatusCode, e.Body)
}

// DoJSONRequest executes the request, retrying transport failures and 5xx
// responses up to maxRetries times with a fixed backoff, and decodes the
// body into out.
func DoJSONRequest(client *http.Client, req *http.Request, maxRetries int, backoff time.Duration, out interface{}) error {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-req.Context().Done():
				return req.Context().Err()
			case <-time.After(backoff):
			}
		}

		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if err := json.Unmarshal(body, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}

		statusErr := &HTTPStatusError{StatusCode: resp.StatusCode, Body: truncate(string(body), 200)}
		if resp.StatusCode >= 500 {
			lastErr = statusErr
			continue
		}
		return statusErr
	}
	return lastErr
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
