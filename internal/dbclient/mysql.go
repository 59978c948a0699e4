package dbclient

import (
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
)

type mysqlDialect struct{}

// newMySQLDriver accepts a go-sql-driver DSN, optionally prefixed with "mysql://".
func newMySQLDriver(dsn string) (*sqlDriver, error) {
	cfg, err := mysql.ParseDSN(strings.TrimPrefix(dsn, "mysql://"))
	if err != nil {
		return nil, fmt.Errorf("parse mysql dsn: %w", err)
	}
	cfg.ParseTime = true
	return newSQLDriver("mysql", cfg.FormatDSN(), mysqlDialect{})
}

func (mysqlDialect) structureQuery() string {
	return `SELECT TABLE_SCHEMA, TABLE_NAME, TABLE_TYPE FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA NOT IN ('mysql', 'information_schema', 'performance_schema', 'sys')
		ORDER BY TABLE_SCHEMA, TABLE_NAME`
}

func (mysqlDialect) currentDatabaseQuery() string {
	return `SELECT DATABASE()`
}

func (mysqlDialect) listDatabasesQuery() string {
	return `SHOW DATABASES`
}

func (mysqlDialect) withDatabase(dsn, name string) (string, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.DBName = name
	return cfg.FormatDSN(), nil
}
