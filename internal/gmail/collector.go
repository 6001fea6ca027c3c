package gmail

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"go.uber.org/zap"
)

// ErrPageFetchFailed marks a collection that stopped early. Refs gathered before the failure are kept.
var ErrPageFetchFailed = errors.New("page fetch failed")

const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)

// Collector walks every list page for a date window.
type Collector struct {
	client   Client
	pageSize int
	log      *zap.SugaredLogger
}

func NewCollector(client Client, pageSize int, log *zap.SugaredLogger) *Collector {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return &Collector{client: client, pageSize: pageSize, log: log}
}

// Refs lazily yields every message in the window. Each call starts from the first page.
// Iteration stops on a page without a continuation token, on an empty page, or on the
// first failed page, which is yielded once as an error wrapping ErrPageFetchFailed.
func (c *Collector) Refs(ctx context.Context, w Window, f SearchFilters) iter.Seq2[MessageRef, error] {
	q := BuildQuery(w, f)
	return func(yield func(MessageRef, error) bool) {
		pageToken := ""
		for page := 1; ; page++ {
			res, err := c.client.List(ctx, q, pageToken, c.pageSize)
			if err != nil {
				yield(MessageRef{}, fmt.Errorf("%w: page %d: %w", ErrPageFetchFailed, page, err))
				return
			}
			c.log.Debugw("listed page", "page", page, "count", len(res.Refs), "query", q.Raw)
			if len(res.Refs) == 0 {
				return
			}
			for _, ref := range res.Refs {
				if !yield(ref, nil) {
					return
				}
			}
			if res.NextPageToken == "" {
				return
			}
			pageToken = res.NextPageToken
		}
	}
}

// Collect drains Refs. On a page failure it returns what was accumulated together with the error;
// callers should report the shortfall rather than treat the run as failed.
func (c *Collector) Collect(ctx context.Context, w Window, f SearchFilters) ([]MessageRef, error) {
	var refs []MessageRef
	for ref, err := range c.Refs(ctx, w, f) {
		if err != nil {
			c.log.Warnw("collection stopped early", "collected", len(refs), "error", err)
			return refs, err
		}
		refs = append(refs, ref)
	}
	return refs, nil
}
