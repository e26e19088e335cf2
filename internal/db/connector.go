package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"dbkit/internal/logger"
	"dbkit/internal/schema"
	"dbkit/pkg/config"
)

// Row is one result row with its column names in select order.
type Row struct {
	Columns []string
	Values  []interface{}
}

// Get returns the value of column, if present.
func (r Row) Get(column string) (interface{}, bool) {
	for i, c := range r.Columns {
		if c == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

// Conn is the connection used by containers: synchronous query execution, the
// generated key of inserts, affected row counts and the database name.
// sql.DB manages its own pool and is safe for concurrent use.
type Conn struct {
	db       *sqlx.DB
	dialect  Dialect
	database string
}

// Open connects to the database and resolves the current database name.
func Open(driver, dsn string, timeoutSec int) (*Conn, error) {
	driver = config.NormalizeDriver(driver)
	d, ok := Lookup(driver)
	if !ok {
		return nil, fmt.Errorf("dialect not registered: %q (available: %v)", driver, listRegistered())
	}
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// every pooled connection would otherwise see its own :memory: database
		sqlDB.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSec)*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	c := &Conn{db: sqlx.NewDb(sqlDB, driver), dialect: d}
	if err := c.db.QueryRowxContext(ctx, d.CurrentDatabaseQuery()).Scan(&c.database); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("query current database: %w", err)
	}
	logger.Info("connected to %s database %q", d.Name(), c.database)
	return c, nil
}

// Wrap builds a Conn around an already opened handle.
func Wrap(sqlDB *sql.DB, driver, database string) (*Conn, error) {
	driver = config.NormalizeDriver(driver)
	d, ok := Lookup(driver)
	if !ok {
		return nil, fmt.Errorf("dialect not registered: %q (available: %v)", driver, listRegistered())
	}
	return &Conn{db: sqlx.NewDb(sqlDB, driver), dialect: d, database: database}, nil
}

// Query executes a statement and reads all rows. []byte values are returned as strings.
func (c *Conn) Query(ctx context.Context, query string) ([]Row, error) {
	logger.Debug("query: %s", query)
	rows, err := c.db.QueryxContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	result := make([]Row, 0)
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			if b, ok := v.([]byte); ok {
				values[i] = string(b)
			}
		}
		result = append(result, Row{Columns: columns, Values: values})
	}
	return result, rows.Err()
}

// Exec executes an INSERT, UPDATE or DELETE statement.
func (c *Conn) Exec(ctx context.Context, query string) (sql.Result, error) {
	logger.Debug("exec: %s", query)
	return c.db.ExecContext(ctx, query)
}

// Insert executes an INSERT statement and returns the generated key, or nil
// if the table has no generated key.
func (c *Conn) Insert(ctx context.Context, query, pkColumn string) (interface{}, error) {
	if ret := c.dialect.Returning(pkColumn); ret != "" && pkColumn != "" {
		rows, err := c.Query(ctx, query+ret)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 || len(rows[0].Values) == 0 {
			return nil, nil
		}
		return rows[0].Values[0], nil
	}

	res, err := c.Exec(ctx, query)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil || id == 0 {
		return nil, nil
	}
	return id, nil
}

// Introspect implements schema.Introspector using the connection's dialect.
func (c *Conn) Introspect(ctx context.Context, database, table string) (schema.Raw, error) {
	return c.dialect.Introspect(ctx, c.db, database, table)
}

// DatabaseName returns the name of the connected database.
func (c *Conn) DatabaseName() string {
	return c.database
}

// Dialect returns the SQL dialect of the connection.
func (c *Conn) Dialect() Dialect {
	return c.dialect
}

// DB returns the underlying handle.
func (c *Conn) DB() *sqlx.DB {
	return c.db
}

// Close closes the database connection.
func (c *Conn) Close() error {
	return c.db.Close()
}
