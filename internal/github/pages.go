// internal/github/pages.go
package github

import (
	"context"
	"iter"
)

// PageFetcher fetches one numbered page of a listing.
type PageFetcher[T any] func(ctx context.Context, page int) (Page[T], error)

// Pages lazily walks a listing starting at page start (values below 1 mean
// the first page). Each yielded page carries the number to resume from, so a
// caller that persists Next after handling a page can restart the walk after
// a crash. Iteration stops after the last page or the first error.
func Pages[T any](ctx context.Context, start int, fetch PageFetcher[T]) iter.Seq2[Page[T], error] {
	return func(yield func(Page[T], error) bool) {
		page := max(start, 1)
		for {
			if err := ctx.Err(); err != nil {
				yield(Page[T]{}, err)
				return
			}
			p, err := fetch(ctx, page)
			if err != nil {
				yield(Page[T]{}, err)
				return
			}
			if !yield(p, nil) || p.Done() {
				return
			}
			page = p.Next
		}
	}
}
