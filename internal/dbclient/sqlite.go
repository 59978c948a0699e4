package dbclient

import (
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteDialect struct{}

// newSQLiteDriver opens an external SQLite file with a busy timeout for concurrent readers.
func newSQLiteDriver(path string) (*sqlDriver, error) {
	dsn := strings.TrimPrefix(path, "sqlite://")
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)"
	}
	return newSQLDriver("sqlite", dsn, sqliteDialect{})
}

func (sqliteDialect) structureQuery() string {
	return `SELECT 'main', name, type FROM sqlite_master
		WHERE type IN ('table', 'view') AND name NOT LIKE 'sqlite_%'
		ORDER BY name`
}

func (sqliteDialect) currentDatabaseQuery() string { return "" }

func (sqliteDialect) listDatabasesQuery() string { return "" }

func (sqliteDialect) withDatabase(string, string) (string, error) {
	return "", ErrNotSupported
}
