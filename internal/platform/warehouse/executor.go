// Package warehouse provides read-only SQL access to the OMOP clinical data
// warehouse. The compiler and orchestrator never talk to the warehouse
// directly; they depend on the Executor interface so the backing engine can be
// swapped without touching query generation.
package warehouse

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Row is a single result row keyed by column name.
type Row map[string]interface{}

// Executor runs read-only SQL statements against the warehouse.
type Executor interface {
	Query(ctx context.Context, sql string) ([]Row, error)
	QueryScalar(ctx context.Context, sql string) (interface{}, error)
}

// QueryExecutionError carries the warehouse-native failure for a statement.
// It is surfaced verbatim to callers; a failing statement usually points at a
// real data or schema problem that no fallback can fix.
type QueryExecutionError struct {
	SQL string
	Err error
}

func (e *QueryExecutionError) Error() string {
	return fmt.Sprintf("query execution failed: %v (sql: %s)", e.Err, abbreviate(e.SQL, 120))
}

func (e *QueryExecutionError) Unwrap() error { return e.Err }

func abbreviate(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

// AsInt64 coerces a scanned warehouse value to int64. Different engines report
// counts and identifiers as different integer widths.
func AsInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// PGExecutor implements Executor over a pgx connection pool.
type PGExecutor struct {
	pool *pgxpool.Pool
}

// NewPGExecutor creates a warehouse executor backed by the given pool.
func NewPGExecutor(pool *pgxpool.Pool) *PGExecutor {
	return &PGExecutor{pool: pool}
}

// Query executes sql and returns all rows as column-keyed maps.
func (e *PGExecutor) Query(ctx context.Context, sql string) ([]Row, error) {
	rows, err := e.pool.Query(ctx, sql)
	if err != nil {
		return nil, &QueryExecutionError{SQL: sql, Err: err}
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var results []Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, &QueryExecutionError{SQL: sql, Err: err}
		}
		row := make(Row, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = values[i]
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryExecutionError{SQL: sql, Err: err}
	}
	return results, nil
}

// QueryScalar executes sql and returns the first column of the first row.
func (e *PGExecutor) QueryScalar(ctx context.Context, sql string) (interface{}, error) {
	var v interface{}
	if err := e.pool.QueryRow(ctx, sql).Scan(&v); err != nil {
		return nil, &QueryExecutionError{SQL: sql, Err: err}
	}
	return v, nil
}
