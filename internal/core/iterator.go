package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"dbconduit/internal/dbclient"
	"dbconduit/internal/domain"
	"dbconduit/internal/log"
)

// maxBatch bounds how many rows are buffered between cache writes.
const maxBatch = 500

// ResultIterator pages over a cursor, caching every row it pulls.
//
// Rows [0, frontier) are in the cache. The cursor only moves forward; a
// request past the frontier drains until the frontier covers it. All cache
// access goes through mu, so whoever drains is the single writer.
type ResultIterator struct {
	mu       sync.Mutex
	cache    RowCache
	cursor   dbclient.Cursor
	frontier int
	done     bool  // cursor exhausted
	err      error // sticky ErrDrain or ErrCacheWrite
}

// NewResultIterator wraps cursor. A header write failure leaves the
// iterator failed with ErrCacheWrite and the cursor closed.
func NewResultIterator(cursor dbclient.Cursor, cache RowCache) *ResultIterator {
	it := &ResultIterator{cache: cache, cursor: cursor}
	if err := cache.SetHeader(cursor.Header()); err != nil {
		it.fail(fmt.Errorf("%w: header: %v", ErrCacheWrite, err))
	}
	return it
}

// restoredIterator serves frontier rows already in cache, with no cursor.
func restoredIterator(cache RowCache, frontier int) *ResultIterator {
	return &ResultIterator{cache: cache, frontier: frontier, done: true}
}

// Header returns the result column names.
func (it *ResultIterator) Header() domain.Header {
	return it.cache.Header()
}

// Frontier returns how many rows are cached.
func (it *ResultIterator) Frontier() int {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.frontier
}

// Exhausted reports whether the cursor was fully drained.
func (it *ResultIterator) Exhausted() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.done
}

// Err returns the sticky drain or cache error, if any.
func (it *ResultIterator) Err() error {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.err
}

// GetRange returns the rows in [from, to) and the row count available after
// draining. to is clamped to the frontier once the cursor is finished.
// A malformed range returns no rows. The error reports a failure hit by this
// call's own draining, or the sticky one when a drain was needed.
func (it *ResultIterator) GetRange(ctx context.Context, from, to int) ([]domain.Row, int, error) {
	it.mu.Lock()
	defer it.mu.Unlock()

	if from < 0 || to < from {
		return nil, it.frontier, nil
	}

	var fillErr error
	if to > it.frontier {
		fillErr = it.fillLocked(ctx, to)
	}
	if to > it.frontier {
		to = it.frontier
	}
	if from >= to {
		return nil, it.frontier, fillErr
	}

	rows, err := it.cache.Rows(from, to)
	if err != nil {
		return nil, it.frontier, fmt.Errorf("read cache: %w", err)
	}
	return rows, it.frontier, fillErr
}

// Advance drains up to n more rows. It reports whether the cursor is exhausted.
func (it *ResultIterator) Advance(ctx context.Context, n int) (bool, error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	err := it.fillLocked(ctx, it.frontier+n)
	return it.done, err
}

// fillLocked drains until the frontier reaches to, the cursor ends, or an
// error occurs. Rows read before a failure are still cached.
func (it *ResultIterator) fillLocked(ctx context.Context, to int) error {
	if it.err != nil {
		return it.err
	}
	for it.frontier < to && !it.done {
		want := to - it.frontier
		if want > maxBatch {
			want = maxBatch
		}

		batch := make([]domain.Row, 0, want)
		var readErr error
		for len(batch) < want {
			row, err := it.cursor.Next(ctx)
			if errors.Is(err, io.EOF) {
				it.done = true
				break
			}
			if err != nil {
				readErr = err
				break
			}
			batch = append(batch, row)
		}

		if len(batch) > 0 {
			if err := it.cache.Append(it.frontier, batch); err != nil {
				return it.fail(fmt.Errorf("%w: %v", ErrCacheWrite, err))
			}
			it.frontier += len(batch)
		}

		if it.done {
			it.closeCursor()
			return nil
		}
		if readErr != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				// cancellation is not sticky: the call decides what it means
				return ctxErr
			}
			return it.fail(fmt.Errorf("%w: %v", ErrDrain, readErr))
		}
	}
	return nil
}

func (it *ResultIterator) fail(err error) error {
	it.err = err
	it.closeCursor()
	return err
}

// Close releases the cursor; cached rows stay readable.
func (it *ResultIterator) Close() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.closeCursor()
	it.done = true
}

func (it *ResultIterator) closeCursor() {
	if it.cursor == nil {
		return
	}
	if err := it.cursor.Close(); err != nil {
		log.Logger.WithError(err).Debug("close cursor")
	}
	it.cursor = nil
}
