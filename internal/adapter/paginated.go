package adapter

import (
	"context"
	"fmt"
)

// DefaultMaxPages caps pagination against misbehaving APIs.
const DefaultMaxPages = 10

// PageFunc fetches one zero-based page and reports whether more follow.
type PageFunc[T any] func(ctx context.Context, page int) (items []T, more bool, err error)

// Paginate collects items from fn until it reports no more pages or maxPages
// pages were read. A non-positive maxPages means DefaultMaxPages.
func Paginate[T any](ctx context.Context, maxPages int, fn PageFunc[T]) ([]T, error) {
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	var all []T
	for page := 0; page < maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		items, more, err := fn(ctx, page)
		if err != nil {
			return all, fmt.Errorf("page %d: %w", page, err)
		}
		all = append(all, items...)
		if !more {
			break
		}
	}
	return all, nil
}
