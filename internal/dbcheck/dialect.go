package dbcheck

import (
	"fmt"
	"strings"
)

// Dialect holds the introspection queries that differ between engines.
type Dialect interface {
	Name() string
	// TablesQuery lists the base tables of the connected database, one name
	// per row.
	TablesQuery() string
	// ColumnsQuery lists the columns of one table, one name per row. It takes
	// the table name as its only argument.
	ColumnsQuery() string
	Quote(ident string) string
}

var dialects = map[string]Dialect{
	"sqlite3": sqliteDialect{},
	"mysql":   mysqlDialect{},
}

// DialectFor returns the dialect registered for a database/sql driver name.
func DialectFor(driver string) (Dialect, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported driver %q", driver)
	}
	return d, nil
}

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite3" }

func (sqliteDialect) TablesQuery() string {
	return "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'"
}

func (sqliteDialect) ColumnsQuery() string {
	return "SELECT name FROM pragma_table_info(?)"
}

func (sqliteDialect) Quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

type mysqlDialect struct{}

func (mysqlDialect) Name() string { return "mysql" }

func (mysqlDialect) TablesQuery() string {
	return "SELECT table_name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'"
}

func (mysqlDialect) ColumnsQuery() string {
	return "SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ? ORDER BY ordinal_position"
}

func (mysqlDialect) Quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "``") + "`"
}
