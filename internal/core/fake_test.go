package core_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"dbconduit/internal/core"
	"dbconduit/internal/dbclient"
	"dbconduit/internal/domain"
)

// fakeCursor yields n rows of {i, "row-i"}. If failAt >= 0 Next errors at that
// index. If gate is set every Next waits for it or ctx.
type fakeCursor struct {
	n      int
	failAt int
	gate   chan struct{}
	pos    int
	nexts  *atomic.Int64
	closed atomic.Bool
}

func (c *fakeCursor) Header() domain.Header { return domain.Header{"id", "name"} }

func (c *fakeCursor) Next(ctx context.Context) (domain.Row, error) {
	c.nexts.Add(1)
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.failAt >= 0 && c.pos == c.failAt {
		return nil, errors.New("connection reset")
	}
	if c.pos >= c.n {
		return nil, io.EOF
	}
	row := domain.Row{c.pos, fmt.Sprintf("row-%d", c.pos)}
	c.pos++
	return row, nil
}

func (c *fakeCursor) Close() error {
	c.closed.Store(true)
	return nil
}

// fakeDriver serves fakeCursors. queryErr fails every Query.
type fakeDriver struct {
	rows     int
	failAt   int
	gate     chan struct{}
	queryErr error

	nexts   atomic.Int64
	queries atomic.Int64
	closed  atomic.Bool

	mu          sync.Mutex
	current     string
	selectDelay time.Duration
}

func newFakeDriver(rows int) *fakeDriver {
	return &fakeDriver{rows: rows, failAt: -1, current: "main"}
}

func (d *fakeDriver) Ping(context.Context) error { return nil }

func (d *fakeDriver) Query(ctx context.Context, _ string) (dbclient.Cursor, error) {
	d.queries.Add(1)
	if d.queryErr != nil {
		return nil, d.queryErr
	}
	return &fakeCursor{n: d.rows, failAt: d.failAt, gate: d.gate, nexts: &d.nexts}, nil
}

func (d *fakeDriver) Structure(context.Context) ([]domain.StructureNode, error) {
	return []domain.StructureNode{{
		Name: "public",
		Children: []domain.StructureNode{
			{Name: "users", Type: domain.StructureTypeTable, Schema: "public"},
		},
	}}, nil
}

func (d *fakeDriver) Close() error {
	d.closed.Store(true)
	return nil
}

// switchingDriver adds database switching to fakeDriver.
type switchingDriver struct{ *fakeDriver }

func (d switchingDriver) ListDatabases(context.Context) (string, []string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var others []string
	for _, db := range []string{"main", "analytics", "staging"} {
		if db != d.current {
			others = append(others, db)
		}
	}
	return d.current, others, nil
}

func (d switchingDriver) SelectDatabase(_ context.Context, name string) error {
	time.Sleep(d.selectDelay)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = name
	return nil
}

// failingCache rejects every append.
type failingCache struct{ *core.MemoryCache }

func (failingCache) Append(int, []domain.Row) error { return errors.New("disk full") }

func waitTerminal(t *testing.T, call *core.Call) {
	t.Helper()
	select {
	case <-call.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("call %s stuck in %s", call.ID(), call.State())
	}
	require.True(t, call.State().IsTerminal())
}
