package dbcheck

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Store is the read-only view of the audited database used by the checker.
type Store interface {
	// Tables returns the set of existing table names.
	Tables(ctx context.Context) (map[string]bool, error)
	// Columns returns the column names of table.
	Columns(ctx context.Context, table string) ([]string, error)
	// Count runs a query returning a single integer.
	Count(ctx context.Context, query string) (int64, error)
	// Row runs a query and returns its first row keyed by column name.
	Row(ctx context.Context, query string) (map[string]any, error)
	Dialect() Dialect
	Close() error
}

// ConnectError reports that the database could not be reached at all.
type ConnectError struct {
	Driver string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %v", e.Driver, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SQLStore implements Store over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// Open connects and pings under timeout. Every failure before a successful
// ping is a *ConnectError.
func Open(ctx context.Context, driver, dsn string, timeout time.Duration) (*SQLStore, error) {
	d, err := DialectFor(driver)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, &ConnectError{Driver: driver, Err: errors.New("no DSN configured")}
	}

	var db *sql.DB
	switch driver {
	case "mysql":
		db, err = openMySQL(dsn, timeout)
	case "sqlite3":
		// A missing file would otherwise be created empty and look like a
		// database with no tables.
		if path := sqlitePath(dsn); path != "" {
			if _, statErr := os.Stat(path); statErr != nil {
				return nil, &ConnectError{Driver: driver, Err: statErr}
			}
		}
		db, err = sql.Open(driver, dsn)
	}
	if err != nil {
		return nil, &ConnectError{Driver: driver, Err: err}
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, &ConnectError{Driver: driver, Err: err}
	}
	db.SetMaxOpenConns(1)
	return &SQLStore{db: db, dialect: d}, nil
}

func openMySQL(dsn string, timeout time.Duration) (*sql.DB, error) {
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if timeout > 0 {
		cfg.Timeout = timeout
		cfg.ReadTimeout = timeout
	}
	conn, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, err
	}
	return sql.OpenDB(conn), nil
}

// sqlitePath extracts the file name from a sqlite DSN, or "" for in-memory
// databases.
func sqlitePath(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	query := ""
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path, query = path[:i], path[i+1:]
	}
	if path == "" || path == ":memory:" || strings.Contains(query, "mode=memory") {
		return ""
	}
	return path
}

func (s *SQLStore) Dialect() Dialect { return s.dialect }

func (s *SQLStore) Close() error { return s.db.Close() }

func (s *SQLStore) Tables(ctx context.Context) (map[string]bool, error) {
	names, err := s.scanStrings(ctx, s.dialect.TablesQuery())
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out, nil
}

func (s *SQLStore) Columns(ctx context.Context, table string) ([]string, error) {
	cols, err := s.scanStrings(ctx, s.dialect.ColumnsQuery(), table)
	if err != nil {
		return nil, fmt.Errorf("list columns of %s: %w", table, err)
	}
	return cols, nil
}

func (s *SQLStore) Count(ctx context.Context, query string) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (s *SQLStore) Row(ctx context.Context, query string) (map[string]any, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(cols))
	if !rows.Next() {
		return out, rows.Err()
	}
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, c := range cols {
		if b, ok := vals[i].([]byte); ok {
			out[c] = string(b)
			continue
		}
		out[c] = vals[i]
	}
	return out, rows.Err()
}

func (s *SQLStore) scanStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
