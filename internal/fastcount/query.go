package fastcount

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Query describes one countable predicate over an entity's data set. A query
// must be reducible to a stable compiled form for fingerprinting and to an
// executable form yielding a count. Implementations are owned by the caller
// and never mutated by this package.
type Query interface {
	// SQL returns the compiled count statement and its ordered bind
	// arguments. Both feed the fingerprint, so the output must be stable for
	// the same logical query across processes and restarts.
	SQL(ctx context.Context) (string, []interface{}, error)

	// Debug returns a lower-fidelity textual form used for fingerprinting
	// when compilation fails, and for logs.
	Debug() string

	// Execute computes the count against the live data source.
	Execute(ctx context.Context) (int64, error)
}

// TableQuery counts rows of one table, optionally filtered by a WHERE
// fragment with bound arguments.
type TableQuery struct {
	db    *gorm.DB
	table string
	where string
	args  []interface{}
}

// NewTableQuery builds a TableQuery. An empty where clause counts every row.
func NewTableQuery(db *gorm.DB, table, where string, args ...interface{}) *TableQuery {
	return &TableQuery{db: db, table: table, where: where, args: args}
}

// SQL compiles the count statement without executing it, using a dry-run
// session so the exact dialect-specific text and bind vars come back.
func (q *TableQuery) SQL(ctx context.Context) (string, []interface{}, error) {
	if q.db == nil {
		return "", nil, errors.New("fastcount: query has no database handle")
	}

	var n int64
	tx := q.db.WithContext(ctx).
		Session(&gorm.Session{DryRun: true, NewDB: true}).
		Table(q.table)
	if q.where != "" {
		tx = tx.Where(q.where, q.args...)
	}

	result := tx.Count(&n)
	if result.Error != nil {
		return "", nil, result.Error
	}
	if result.Statement == nil || result.Statement.SQL.Len() == 0 {
		return "", nil, errors.New("fastcount: empty compiled statement")
	}

	return result.Statement.SQL.String(), result.Statement.Vars, nil
}

// Debug renders the query's structure without touching the database.
func (q *TableQuery) Debug() string {
	if q.where == "" {
		return fmt.Sprintf("table=%s all", q.table)
	}
	return fmt.Sprintf("table=%s where=%s args=%v", q.table, q.where, q.args)
}

// Execute counts matching rows against the live database.
func (q *TableQuery) Execute(ctx context.Context) (int64, error) {
	if q.db == nil {
		return 0, errors.New("fastcount: query has no database handle")
	}

	var n int64
	tx := q.db.WithContext(ctx).Table(q.table)
	if q.where != "" {
		tx = tx.Where(q.where, q.args...)
	}

	if err := tx.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
