package paging

import (
	"context"
	"fmt"
)

const DefaultPageSize = 1000

// PageFunc fetches up to limit rows starting at offset.
type PageFunc[T any] func(ctx context.Context, offset, limit int) ([]T, error)

// DrainAll concatenates pages until one comes back shorter than pageSize. A full page always
// triggers another fetch, even when nothing remains. On any error the collected rows are discarded.
func DrainAll[T any](ctx context.Context, fetch PageFunc[T], pageSize int) ([]T, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var all []T
	for offset := 0; ; offset += pageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := fetch(ctx, offset, pageSize)
		if err != nil {
			return nil, fmt.Errorf("fetch page at offset %d: %w", offset, err)
		}
		if len(page) > pageSize {
			return nil, fmt.Errorf("page at offset %d returned %d rows, limit %d", offset, len(page), pageSize)
		}
		all = append(all, page...)
		if len(page) < pageSize {
			if all == nil {
				all = []T{}
			}
			return all, nil
		}
	}
}

func CountAll[T any](ctx context.Context, fetch PageFunc[T], pageSize int) (int, error) {
	rows, err := DrainAll(ctx, fetch, pageSize)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}
