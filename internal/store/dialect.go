package store

import (
	"context"
	"fmt"
)

// Dialect abstracts database-specific SQL generation and behavior.
type Dialect interface {
	// Name returns "postgres" or "sqlite".
	Name() string

	// DriverName returns the database/sql driver name ("pgx" or "sqlite").
	DriverName() string

	// Placeholder returns the parameter placeholder for the given 1-based index.
	Placeholder(index int) string

	// NewParamBuilder creates a dialect-aware parameter builder.
	NewParamBuilder() ParamBuilder

	// TimestampExpr wraps an already quoted 'yyyy-MM-dd HH:mm:ss' literal
	// in the dialect's timestamp parse call.
	TimestampExpr(quoted string) string

	// ColumnType maps a column data-type tag to the database DDL type.
	ColumnType(dataType string) string

	// SystemTablesSQL returns the DDL for the schema-store tables.
	SystemTablesSQL() string

	// TableExists checks whether a table exists.
	TableExists(ctx context.Context, q Querier, tableName string) (bool, error)

	// GetColumns returns existing upper-cased column names and types for a table.
	GetColumns(ctx context.Context, q Querier, tableName string) (map[string]string, error)

	// CreateViewSQL returns the statement that exposes table through view.
	CreateViewSQL(view, table string) string

	// PageClause returns the trailing clause selecting rows offset < n <= offset+limit.
	PageClause(offset, limit int) string

	// EnsureSequence creates the ID source if it does not exist.
	EnsureSequence(ctx context.Context, q Querier, name string) error

	// NextID draws the next value from the named ID source.
	NextID(ctx context.Context, q Querier, name string) (int64, error)

	// CallProcedure invokes a stored procedure and returns the values of its
	// OUT/INOUT parameters in declaration order.
	CallProcedure(ctx context.Context, q Querier, name string, params []ProcParam) ([]any, error)

	// MapError inspects a driver error and returns a well-known sentinel error if applicable.
	MapError(err error) error
}

// ProcParam is one bound argument of a stored-procedure call.
type ProcParam struct {
	Mode    string // IN, OUT or INOUT
	SQLType string // JDBC-style type name: VARCHAR, NUMERIC, ...
	Value   any
}

// IsProcType reports whether sqlType is a parameter type CallProcedure binds.
func IsProcType(sqlType string) bool {
	_, ok := pgProcTypes[sqlType]
	return ok
}

// HasOutput reports whether the parameter produces a value.
func (p ProcParam) HasOutput() bool {
	return p.Mode == "OUT" || p.Mode == "INOUT"
}

// ParamBuilder accumulates query parameters and generates dialect-specific placeholders.
type ParamBuilder interface {
	// Add appends a value and returns the placeholder string.
	Add(v any) string

	// Params returns all accumulated parameter values.
	Params() []any

	// Count returns the number of parameters added so far.
	Count() int
}

// NewDialect creates a Dialect for the given driver name ("postgres" or "sqlite").
func NewDialect(driver string) Dialect {
	switch driver {
	case "sqlite":
		return &SQLiteDialect{}
	default:
		return &PostgresDialect{}
	}
}

// --- PostgreSQL ParamBuilder ---

type pgParamBuilder struct {
	params []any
	n      int
}

func (p *pgParamBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("$%d", p.n)
}

func (p *pgParamBuilder) Params() []any { return p.params }
func (p *pgParamBuilder) Count() int    { return p.n }

// --- SQLite ParamBuilder ---

type sqliteParamBuilder struct {
	params []any
	n      int
}

func (p *sqliteParamBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("?%d", p.n)
}

func (p *sqliteParamBuilder) Params() []any { return p.params }
func (p *sqliteParamBuilder) Count() int    { return p.n }
