package dbclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"dbconduit/internal/domain"
)

// ErrNotSupported is returned by drivers lacking an optional capability.
var ErrNotSupported = errors.New("not supported by driver")

// Cursor streams the rows of one statement. Next returns io.EOF once the
// result is exhausted. A cursor is owned by a single call and is not shared.
type Cursor interface {
	Header() domain.Header
	Next(ctx context.Context) (domain.Row, error)
	Close() error
}

// Driver abstracts interaction with an external database.
// Query must be safe to call concurrently: every call gets its own cursor
// backed by its own session from the driver's pool.
type Driver interface {
	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Query runs a statement and returns a cursor over its result.
	// Write statements yield a single "Rows Affected" row.
	Query(ctx context.Context, query string) (Cursor, error)

	// Structure returns the schema tree for browsing.
	Structure(ctx context.Context) ([]domain.StructureNode, error)

	// Close closes the connection pool.
	Close() error
}

// DatabaseSwitcher is implemented by drivers that host several databases.
type DatabaseSwitcher interface {
	ListDatabases(ctx context.Context) (current string, available []string, err error)
	SelectDatabase(ctx context.Context, name string) error
}

// NewDriver creates a Driver for the given connection spec.
func NewDriver(spec domain.ConnectionSpec) (Driver, error) {
	switch normalizeType(spec.Type) {
	case domain.DatabaseDriverSQLite:
		return newSQLiteDriver(spec.URL)
	case domain.DatabaseDriverMySQL:
		return newMySQLDriver(spec.URL)
	case domain.DatabaseDriverPostgres:
		return newPostgresDriver(spec.URL)
	case domain.DatabaseDriverMongoDB:
		return newMongoDriver(spec.URL)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", spec.Type)
	}
}

// normalizeType folds driver aliases onto the canonical names.
func normalizeType(typ string) domain.DatabaseDriver {
	switch strings.ToLower(typ) {
	case "sqlite", "sqlite3":
		return domain.DatabaseDriverSQLite
	case "mysql", "mariadb":
		return domain.DatabaseDriverMySQL
	case "postgres", "postgresql", "pg":
		return domain.DatabaseDriverPostgres
	case "mongo", "mongodb":
		return domain.DatabaseDriverMongoDB
	}
	return domain.DatabaseDriver(typ)
}

// staticCursor serves a precomputed result, e.g. the affected-row count of a write.
type staticCursor struct {
	header domain.Header
	rows   []domain.Row
	pos    int
}

func newAffectedCursor(affected int64) *staticCursor {
	return &staticCursor{
		header: domain.Header{"Rows Affected"},
		rows:   []domain.Row{{affected}},
	}
}

func (c *staticCursor) Header() domain.Header { return c.header }

func (c *staticCursor) Next(ctx context.Context) (domain.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.pos >= len(c.rows) {
		return nil, io.EOF
	}
	row := c.rows[c.pos]
	c.pos++
	return row, nil
}

func (c *staticCursor) Close() error { return nil }
