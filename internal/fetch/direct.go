package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	appLog "eventripper/internal/log"
)

const (
	defaultTimeout   = 15 * time.Second
	defaultUserAgent = "eventripper/0.3 (+https://github.com/eventripper)"
	maxBodyBytes     = 32 << 20
)

// cacheEntry holds HTTP cache metadata for a single URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Direct fetches over plain net/http with retries on 429/5xx and an optional
// disk cache honoring ETag / Last-Modified.
type Direct struct {
	client    *http.Client
	cacheDir  string
	retries   int
	backoff   time.Duration
	userAgent string
}

// DirectOption configures a Direct fetcher.
type DirectOption func(*Direct)

// WithTimeout sets the per-request client timeout.
func WithTimeout(d time.Duration) DirectOption {
	return func(f *Direct) {
		if d > 0 {
			f.client.Timeout = d
		}
	}
}

// WithCacheDir enables the conditional-request disk cache under dir.
func WithCacheDir(dir string) DirectOption {
	return func(f *Direct) { f.cacheDir = dir }
}

// WithRetries sets how many times 429/5xx responses are retried, waiting
// base, 2*base, 4*base... between attempts.
func WithRetries(n int, base time.Duration) DirectOption {
	return func(f *Direct) {
		f.retries = n
		f.backoff = base
	}
}

func WithUserAgent(ua string) DirectOption {
	return func(f *Direct) {
		if ua != "" {
			f.userAgent = ua
		}
	}
}

// NewDirect creates a Direct fetcher. Without WithCacheDir nothing is cached.
func NewDirect(opts ...DirectOption) *Direct {
	f := &Direct{
		client:    &http.Client{Timeout: defaultTimeout},
		backoff:   time.Second,
		userAgent: defaultUserAgent,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch performs the request. Network errors fall back to a cached body when
// one exists; a 304 is answered from the cache.
func (f *Direct) Fetch(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.URL == "" {
		return nil, errors.New("fetch: request URL is empty")
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var (
		cachePath  string
		meta       cacheEntry
		cachedBody []byte
	)
	useCache := f.cacheDir != "" && method == http.MethodGet
	if useCache {
		cachePath = f.cachePathForURL(req.URL)
		if err := os.MkdirAll(cachePath, 0o700); err != nil {
			return nil, err
		}
		meta, _ = f.loadCacheMeta(cachePath)
		cachedBody, _ = f.loadCacheBody(cachePath)
	}

	var lastResp *Response
	for attempt := 0; attempt <= f.retries; attempt++ {
		if attempt > 0 {
			wait := f.backoff * time.Duration(1<<(attempt-1))
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return nil, ctx.Err()
			case <-t.C:
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
		if err != nil {
			return nil, err
		}
		for k, vs := range req.Header {
			for _, v := range vs {
				httpReq.Header.Add(k, v)
			}
		}
		if httpReq.Header.Get("User-Agent") == "" {
			httpReq.Header.Set("User-Agent", f.userAgent)
		}
		if useCache && len(cachedBody) > 0 {
			if meta.ETag != "" {
				httpReq.Header.Set("If-None-Match", meta.ETag)
			}
			if meta.LastModified != "" {
				httpReq.Header.Set("If-Modified-Since", meta.LastModified)
			}
		}

		appLog.Debug("fetch start", "url", redactURL(req.URL), "attempt", attempt)

		resp, err := f.client.Do(httpReq)
		if err != nil {
			if len(cachedBody) > 0 {
				appLog.Error("fetch network error, using cached body", err, "url", redactURL(req.URL))
				return cachedResponse(req.URL, cachedBody), nil
			}
			return nil, err
		}

		body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		if readErr != nil {
			return nil, readErr
		}

		out := &Response{
			URL:        req.URL,
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Header:     resp.Header,
			Body:       body,
		}

		switch {
		case resp.StatusCode == http.StatusNotModified && len(cachedBody) > 0:
			appLog.Debug("fetch not modified; using cache", "url", redactURL(req.URL))
			return cachedResponse(req.URL, cachedBody), nil
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			lastResp = out
			continue
		}

		if useCache && out.OK() {
			newMeta := cacheEntry{
				URL:          req.URL,
				ETag:         resp.Header.Get("ETag"),
				LastModified: resp.Header.Get("Last-Modified"),
			}
			if err := f.saveCache(cachePath, newMeta, body); err != nil {
				// Log but still return the freshly fetched body.
				appLog.Error("fetch cache save failed", err, "url", redactURL(req.URL))
			}
		}
		appLog.Debug("fetch done", "url", redactURL(req.URL), "status", resp.StatusCode)
		return out, nil
	}

	return lastResp, nil
}

func cachedResponse(url string, body []byte) *Response {
	return &Response{
		URL:        url,
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{},
		Body:       body,
		FromCache:  true,
	}
}

func (f *Direct) cachePathForURL(url string) string {
	sum := sha256.Sum256([]byte(url))
	// Use first 16 hex chars as directory name.
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func (f *Direct) loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func (f *Direct) loadCacheBody(cachePath string) ([]byte, error) {
	return os.ReadFile(filepath.Join(cachePath, "body"))
}

func (f *Direct) saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Write body first so meta never points at missing body.
	if err := os.WriteFile(filepath.Join(cachePath, "body"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(cachePath, "meta.json"), data, 0o600)
}
