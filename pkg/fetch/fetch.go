// Package fetch drives cursor pagination against the remote API and commits
// the collected results once.
package fetch

import (
	"context"
	"errors"
	"strconv"

	"github.com/haierkeys/fast-pass-sync/pkg/code"
	apperrors "github.com/haierkeys/fast-pass-sync/pkg/errors"
)

// Page 单页结果
type Page[T any] struct {
	Items []T
	// Total is the item count the server declares for the whole listing.
	Total int
	// NextCursor is empty when the server has nothing after this page.
	NextCursor string
}

// PageFunc fetches the page at cursor. The first call receives "".
type PageFunc[T any] func(ctx context.Context, cursor string) (*Page[T], error)

// FetchAllPaginated walks pages sequentially from an empty cursor, maps every
// raw item as soon as its page arrives and calls storeResults exactly once with
// the complete set.
//
// The loop ends when the running count reaches the declared total, when a page
// is empty, or when the server returns no next cursor. Cancellation is checked
// before each page and discards everything collected so far. A page or mapping
// error aborts the loop and storeResults is not called.
func FetchAllPaginated[R, D any](
	ctx context.Context,
	fetchPage PageFunc[R],
	mapToDomain func(R) (D, error),
	storeResults func(ctx context.Context, results []D) error,
) error {
	var (
		acc    []D
		cursor string
	)

	for page := 0; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		p, err := fetchPage(ctx, cursor)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			if apperrors.GetAppError(err) != nil {
				return err
			}
			return apperrors.New(code.ErrorNetworkFailure, err).WithDetails("page=" + strconv.Itoa(page))
		}
		if p == nil || len(p.Items) == 0 {
			break
		}

		if acc == nil {
			acc = make([]D, 0, max(p.Total, len(p.Items)))
		}
		for _, raw := range p.Items {
			d, err := mapToDomain(raw)
			if err != nil {
				return err
			}
			acc = append(acc, d)
		}

		if len(acc) >= p.Total || p.NextCursor == "" {
			break
		}
		cursor = p.NextCursor
	}

	return storeResults(ctx, acc)
}
