package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/url"
)

// Relay routes requests through an authenticated forwarding endpoint:
// GET <base>?url=<target> with a bearer token. The relay answers with the
// upstream status and body.
type Relay struct {
	base  string
	token string
	inner Fetcher
}

// NewRelay wraps inner so every request goes through the relay at base.
func NewRelay(base, token string, inner Fetcher) (*Relay, error) {
	if base == "" {
		return nil, errors.New("fetch: relay url is empty")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, err
	}
	return &Relay{base: base, token: token, inner: inner}, nil
}

func (r *Relay) Fetch(ctx context.Context, req *Request) (*Response, error) {
	u, err := url.Parse(r.base)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("url", req.URL)
	u.RawQuery = q.Encode()

	header := http.Header{}
	for k, vs := range req.Header {
		header[k] = append([]string(nil), vs...)
	}
	if r.token != "" {
		header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.inner.Fetch(ctx, &Request{URL: u.String(), Method: req.Method, Header: header})
	if err != nil {
		return nil, err
	}
	// Callers see the target URL, not the relay's.
	resp.URL = req.URL
	return resp, nil
}
