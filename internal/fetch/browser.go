package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/chromedp/chromedp"
)

// DefaultBrowserTimeout bounds one page load when no timeout is configured.
const DefaultBrowserTimeout = 30 * time.Second

// Browser renders pages in headless Chromium via chromedp and returns the
// resulting DOM as the body. Useful for listings built client-side.
type Browser struct {
	// RemoteURL, when set, attaches to an already running browser
	// (ws://host:9222) instead of launching one.
	RemoteURL string

	// WaitSelector is awaited before the DOM is captured; "body" if empty.
	WaitSelector string

	Timeout time.Duration
}

func (b *Browser) Fetch(parentCtx context.Context, req *Request) (*Response, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("fetch(browser): URL is required")
	}
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultBrowserTimeout
	}
	wait := b.WaitSelector
	if wait == "" {
		wait = "body"
	}

	allocCtx := parentCtx
	if b.RemoteURL != "" {
		var cancelAlloc context.CancelFunc
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(parentCtx, b.RemoteURL)
		defer cancelAlloc()
	}

	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	ctx, timeoutCancel := context.WithTimeout(ctx, timeout)
	defer timeoutCancel()

	var html string
	tasks := chromedp.Tasks{
		chromedp.Navigate(req.URL),
		chromedp.WaitReady(wait, chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return nil, fmt.Errorf("fetch(browser): chromedp run failed for %s: %w", redactURL(req.URL), err)
	}

	return &Response{
		URL:        req.URL,
		StatusCode: http.StatusOK,
		Status:     "200 OK",
		Header:     http.Header{"Content-Type": []string{"text/html; charset=utf-8"}},
		Body:       []byte(html),
	}, nil
}
