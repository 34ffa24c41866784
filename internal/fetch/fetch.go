// Package fetch supplies the transport adapters use to retrieve payloads.
// Which Fetcher a source gets is decided by its proxy mode (see Resolver).
package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Request describes one payload retrieval.
type Request struct {
	URL    string
	Method string // GET when empty
	Header http.Header
}

// Response is a fully-read HTTP-like response. Non-2xx statuses are returned
// as responses, not errors; callers decide with OK or CheckStatus.
type Response struct {
	URL        string
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	FromCache  bool // true if the body was reused from the disk cache
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

func (r *Response) Text() string {
	return string(r.Body)
}

// JSON unmarshals the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("fetch: decode json from %s: %w", redactURL(r.URL), err)
	}
	return nil
}

// Fetcher retrieves one payload. Transport failures are errors; HTTP status
// handling is left to the caller.
type Fetcher interface {
	Fetch(ctx context.Context, req *Request) (*Response, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, req *Request) (*Response, error)

func (f FetcherFunc) Fetch(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Get is shorthand for a bare GET of url.
func Get(ctx context.Context, f Fetcher, url string) (*Response, error) {
	return f.Fetch(ctx, &Request{URL: url, Method: http.MethodGet})
}

// HTTPError represents a non-2xx response.
type HTTPError struct {
	URL        string
	StatusCode int
	Status     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("fetch %s: HTTP %d %s", redactURL(e.URL), e.StatusCode, e.Status)
}

// CheckStatus returns an *HTTPError for non-2xx responses.
func CheckStatus(resp *Response) error {
	if resp.OK() {
		return nil
	}
	return &HTTPError{URL: resp.URL, StatusCode: resp.StatusCode, Status: resp.Status}
}

// redactURL hides sensitive parts of a URL for logging purposes.
func redactURL(u string) string {
	// Example:
	//   https://example.com/path/to/feed.ics?token=abcd
	// -> https://example.com/...(redacted)
	const redactedSuffix = "/...(redacted)"

	i := -1
	for idx := 0; idx+2 < len(u); idx++ {
		if u[idx:idx+3] == "://" {
			i = idx + 3
			break
		}
	}
	if i == -1 {
		return "url://...(redacted)"
	}

	// Find next slash after host.
	j := i
	for j < len(u) && u[j] != '/' && u[j] != '?' {
		j++
	}
	return u[:j] + redactedSuffix
}

// RedactURL is the exported form of redactURL for callers that log URLs.
func RedactURL(u string) string {
	return redactURL(u)
}
