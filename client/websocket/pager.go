package websocket

import (
	"context"
	stderrors "errors"

	"github.com/juju/errors"
)

// Cursor is an opaque continuation token handed out by the server. The empty
// cursor means there is nothing more to fetch.
type Cursor string

// PageParams wraps the params of a paged request with the paging state.
type PageParams[P any] struct {
	Params P
	// Cursor is empty for the first page.
	Cursor Cursor
	// PageSize is the number of records requested.
	PageSize int
}

// Page is a decoded page response.
type Page[T any] struct {
	Records []T
	// Next is empty on the last page.
	Next Cursor
}

// RetrieveOpts controls a paged retrieval.
type RetrieveOpts struct {
	// PageSize is the number of records requested per page; must be positive.
	PageSize int

	// TotalCap is the maximum number of records to collect; 0 means no limit.
	TotalCap int

	// Cursor resumes a previous retrieval; empty to start from the beginning.
	Cursor Cursor

	// MaxPageSize, if positive, is the largest page the server accepts;
	// PageSize is clamped to it.
	MaxPageSize int
}

// RetrieveResult contains everything collected by Retrieve.
type RetrieveResult[T any] struct {
	Records []T

	// Next is the cursor to continue from if retrieval stopped because of
	// TotalCap while the server still had data; empty otherwise.
	Next Cursor
}

// Retrieve collects records by repeatedly executing the paged request d,
// until the server reports no more data or opts.TotalCap records have been
// collected. Records are returned in server order.
//
// If any page fails, Retrieve returns a *PaginationError and no records. Its
// Resume cursor is opts.Cursor, the one the retrieval started from, not the
// last cursor received: the pages collected so far are discarded, so
// resuming from a later cursor would skip them. Invalid params yield a
// ConfigurationError instead.
func Retrieve[P, T any](
	ctx context.Context,
	e *Executor,
	d RequestDescriptor[PageParams[P], Page[T]],
	params P,
	opts RetrieveOpts,
) (*RetrieveResult[T], error) {
	if opts.PageSize <= 0 {
		return nil, errors.Trace(newConfigurationError("page size must be positive, got %d", opts.PageSize))
	}

	if opts.TotalCap < 0 {
		return nil, errors.Trace(newConfigurationError("total cap must not be negative, got %d", opts.TotalCap))
	}

	pageSize := opts.PageSize
	if opts.MaxPageSize > 0 && pageSize > opts.MaxPageSize {
		pageSize = opts.MaxPageSize
	}

	res := &RetrieveResult[T]{}
	cursor := opts.Cursor

	for pages := 0; ; pages++ {
		want := pageSize
		if opts.TotalCap > 0 {
			want = min(pageSize, opts.TotalCap-len(res.Records))
		}

		page, err := Execute(ctx, e, d, PageParams[P]{
			Params:   params,
			Cursor:   cursor,
			PageSize: want,
		})
		if err != nil {
			if IsConfigurationError(err) {
				// Nothing was sent; there's nothing to resume.
				return nil, errors.Trace(err)
			}

			return nil, &PaginationError{
				Resume: opts.Cursor,
				Pages:  pages,
				Err:    err,
			}
		}

		res.Records = append(res.Records, page.Records...)
		cursor = page.Next

		logger.Tracef("page %d: %d records, total %d, next %q", pages+1, len(page.Records), len(res.Records), cursor)

		if cursor == "" {
			return res, nil
		}

		if opts.TotalCap > 0 && len(res.Records) >= opts.TotalCap {
			res.Next = cursor
			return res, nil
		}
	}
}

// ResumeCursor returns the cursor to restart a failed retrieval from, if err
// came from Retrieve.
func ResumeCursor(err error) (Cursor, bool) {
	var perr *PaginationError
	if stderrors.As(err, &perr) {
		return perr.Resume, true
	}

	return "", false
}
