package fetch

import (
	"fmt"
	"time"
)

// Options configures every fetcher a Resolver can hand out. It is resolved
// once at the top of a run.
type Options struct {
	Timeout      time.Duration
	Retries      int
	RetryBackoff time.Duration
	CacheDir     string
	UserAgent    string

	RelayURL   string
	RelayToken string

	BrowserURL     string
	BrowserTimeout time.Duration
}

// Resolver maps a source's proxy mode to a Fetcher.
type Resolver struct {
	direct   *Direct
	relay    *Relay
	relayErr error
	browser  *Browser
}

func NewResolver(opts Options) *Resolver {
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	direct := NewDirect(
		WithTimeout(opts.Timeout),
		WithCacheDir(opts.CacheDir),
		WithRetries(opts.Retries, backoff),
		WithUserAgent(opts.UserAgent),
	)
	r := &Resolver{
		direct:  direct,
		browser: &Browser{RemoteURL: opts.BrowserURL, Timeout: opts.BrowserTimeout},
	}
	r.relay, r.relayErr = NewRelay(opts.RelayURL, opts.RelayToken, direct)
	return r
}

// For returns the fetcher for mode ("", "direct", "relay" or "browser").
func (r *Resolver) For(mode string) (Fetcher, error) {
	switch mode {
	case "", "direct":
		return r.direct, nil
	case "relay":
		if r.relayErr != nil {
			return nil, fmt.Errorf("fetch: relay mode unavailable: %w", r.relayErr)
		}
		return r.relay, nil
	case "browser":
		return r.browser, nil
	default:
		return nil, fmt.Errorf("fetch: unknown proxy mode %q", mode)
	}
}
