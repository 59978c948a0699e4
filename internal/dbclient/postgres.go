package dbclient

import (
	"net/url"
	"strings"

	_ "github.com/lib/pq"
)

type postgresDialect struct{}

func newPostgresDriver(dsn string) (*sqlDriver, error) {
	return newSQLDriver("postgres", dsn, postgresDialect{})
}

func (postgresDialect) structureQuery() string {
	return `SELECT table_schema, table_name, table_type FROM information_schema.tables
		WHERE table_schema NOT IN ('pg_catalog', 'information_schema')
		ORDER BY table_schema, table_name`
}

func (postgresDialect) currentDatabaseQuery() string {
	return `SELECT current_database()`
}

func (postgresDialect) listDatabasesQuery() string {
	return `SELECT datname FROM pg_database WHERE datistemplate = false ORDER BY datname`
}

// withDatabase handles both URL ("postgres://...") and key=value DSNs.
// For key=value, lib/pq lets the last dbname win.
func (postgresDialect) withDatabase(dsn, name string) (string, error) {
	if strings.Contains(dsn, "://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", err
		}
		u.Path = "/" + name
		return u.String(), nil
	}
	return strings.TrimSpace(dsn) + " dbname=" + name, nil
}
