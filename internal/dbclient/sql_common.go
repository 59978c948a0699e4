package dbclient

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"dbconduit/internal/domain"
	"dbconduit/internal/log"
)

// sqlDialect captures what differs between the database/sql backends.
type sqlDialect interface {
	// structureQuery yields (schema, name, type) rows; type is "VIEW" for views.
	structureQuery() string
	// currentDatabaseQuery and listDatabasesQuery return "" when unsupported.
	currentDatabaseQuery() string
	listDatabasesQuery() string
	// withDatabase rewrites dsn to target another database.
	withDatabase(dsn, name string) (string, error)
}

// sqlDriver is the shared implementation for MySQL, Postgres, and SQLite.
type sqlDriver struct {
	driverName string
	dialect    sqlDialect

	mu  sync.RWMutex
	db  *sql.DB
	dsn string
}

// newSQLDriver opens a pool. sql.Open does not dial; Ping does.
func newSQLDriver(driverName, dsn string, dialect sqlDialect) (*sqlDriver, error) {
	db, err := openPool(driverName, dsn)
	if err != nil {
		return nil, err
	}
	return &sqlDriver{driverName: driverName, dialect: dialect, db: db, dsn: dsn}, nil
}

func openPool(driverName, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driverName, err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(10 * time.Minute)
	return db, nil
}

func (d *sqlDriver) pool() *sql.DB {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.db
}

func (d *sqlDriver) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return d.pool().PingContext(ctx)
}

// isReadQuery detects if a query returns rows (SELECT, WITH, SHOW, DESCRIBE, EXPLAIN, PRAGMA, VALUES).
func isReadQuery(query string) bool {
	q := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range []string{"SELECT", "WITH", "SHOW", "DESCRIBE", "DESC ", "EXPLAIN", "PRAGMA", "VALUES", "TABLE "} {
		if strings.HasPrefix(q, prefix) {
			return true
		}
	}
	return false
}

func (d *sqlDriver) Query(ctx context.Context, query string) (Cursor, error) {
	db := d.pool()

	if !isReadQuery(query) {
		result, err := db.ExecContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("exec: %w", err)
		}
		affected, _ := result.RowsAffected()
		return newAffectedCursor(affected), nil
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, fmt.Errorf("columns: %w", err)
	}
	return &sqlCursor{rows: rows, header: cols}, nil
}

// sqlCursor adapts *sql.Rows to Cursor.
type sqlCursor struct {
	rows   *sql.Rows
	header domain.Header
}

func (c *sqlCursor) Header() domain.Header { return c.header }

func (c *sqlCursor) Next(ctx context.Context) (domain.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !c.rows.Next() {
		if err := c.rows.Err(); err != nil {
			return nil, fmt.Errorf("iterate: %w", err)
		}
		return nil, io.EOF
	}

	numCols := len(c.header)
	values := make([]any, numCols)
	ptrs := make([]any, numCols)
	for j := range values {
		ptrs[j] = &values[j]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan row: %w", err)
	}

	row := make(domain.Row, numCols)
	for j, v := range values {
		row[j] = formatValue(v)
	}
	return row, nil
}

func (c *sqlCursor) Close() error {
	return c.rows.Close()
}

// formatValue converts a database value to a displayable one.
func formatValue(v any) any {
	if v == nil {
		return nil
	}
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return val
	}
}

func (d *sqlDriver) Structure(ctx context.Context) ([]domain.StructureNode, error) {
	rows, err := d.pool().QueryContext(ctx, d.dialect.structureQuery())
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var rels []relation
	for rows.Next() {
		var r relation
		if err := rows.Scan(&r.schema, &r.name, &r.kind); err != nil {
			continue
		}
		rels = append(rels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	return groupBySchema(rels), nil
}

type relation struct {
	schema, name, kind string
}

// groupBySchema nests relations under one node per schema, both sorted by name.
func groupBySchema(rels []relation) []domain.StructureNode {
	bySchema := make(map[string][]domain.StructureNode)
	for _, r := range rels {
		typ := domain.StructureTypeTable
		if strings.Contains(strings.ToUpper(r.kind), "VIEW") {
			typ = domain.StructureTypeView
		}
		bySchema[r.schema] = append(bySchema[r.schema], domain.StructureNode{
			Name:   r.name,
			Type:   typ,
			Schema: r.schema,
		})
	}

	schemas := make([]string, 0, len(bySchema))
	for s := range bySchema {
		schemas = append(schemas, s)
	}
	sort.Strings(schemas)

	nodes := make([]domain.StructureNode, 0, len(schemas))
	for _, s := range schemas {
		children := bySchema[s]
		sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
		nodes = append(nodes, domain.StructureNode{
			Name:     s,
			Type:     domain.StructureTypeNone,
			Schema:   s,
			Children: children,
		})
	}
	return nodes
}

func (d *sqlDriver) ListDatabases(ctx context.Context) (string, []string, error) {
	if d.dialect.listDatabasesQuery() == "" {
		return "", nil, ErrNotSupported
	}
	db := d.pool()

	var current sql.NullString
	if err := db.QueryRowContext(ctx, d.dialect.currentDatabaseQuery()).Scan(&current); err != nil {
		return "", nil, fmt.Errorf("current database: %w", err)
	}

	rows, err := db.QueryContext(ctx, d.dialect.listDatabasesQuery())
	if err != nil {
		return "", nil, fmt.Errorf("list databases: %w", err)
	}
	defer rows.Close()

	var available []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			continue
		}
		if name != current.String {
			available = append(available, name)
		}
	}
	return current.String, available, rows.Err()
}

// SelectDatabase swaps the pool for one pointed at name. The old pool is
// closed in the background so cursors still draining from it can finish.
func (d *sqlDriver) SelectDatabase(ctx context.Context, name string) error {
	if d.dialect.listDatabasesQuery() == "" {
		return ErrNotSupported
	}

	d.mu.RLock()
	dsn := d.dsn
	d.mu.RUnlock()

	next, err := d.dialect.withDatabase(dsn, name)
	if err != nil {
		return fmt.Errorf("select database %s: %w", name, err)
	}
	db, err := openPool(d.driverName, next)
	if err != nil {
		return err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("select database %s: %w", name, err)
	}

	d.mu.Lock()
	old := d.db
	d.db = db
	d.dsn = next
	d.mu.Unlock()

	go func() {
		if err := old.Close(); err != nil {
			log.Logger.WithError(err).Warn("close previous pool")
		}
	}()
	return nil
}

func (d *sqlDriver) Close() error {
	return d.pool().Close()
}
