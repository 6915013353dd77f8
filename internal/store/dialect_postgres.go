package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *PostgresDialect) NewParamBuilder() ParamBuilder {
	return &pgParamBuilder{}
}

func (d *PostgresDialect) TimestampExpr(quoted string) string {
	return "TO_TIMESTAMP(" + quoted + ", 'YYYY-MM-DD HH24:MI:SS')"
}

func (d *PostgresDialect) ColumnType(dataType string) string {
	switch dataType {
	case "number":
		return "NUMERIC"
	case "int", "integer":
		return "BIGINT"
	case "date":
		return "DATE"
	case "datetime", "timestamp":
		return "TIMESTAMP"
	case "boolean":
		return "SMALLINT"
	default:
		return "VARCHAR(4000)"
	}
}

func (d *PostgresDialect) SystemTablesSQL() string {
	return pgSystemTablesSQL
}

func (d *PostgresDialect) TableExists(ctx context.Context, q Querier, tableName string) (bool, error) {
	var exists bool
	err := q.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM information_schema.tables WHERE lower(table_name) = lower($1) AND table_schema = current_schema())`,
		tableName,
	).Scan(&exists)
	return exists, err
}

func (d *PostgresDialect) GetColumns(ctx context.Context, q Querier, tableName string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT column_name, data_type FROM information_schema.columns WHERE lower(table_name) = lower($1) AND table_schema = current_schema()`,
		tableName,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var name, dataType string
		if err := rows.Scan(&name, &dataType); err != nil {
			return nil, err
		}
		cols[strings.ToUpper(name)] = dataType
	}
	return cols, rows.Err()
}

func (d *PostgresDialect) CreateViewSQL(view, table string) string {
	return fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM %s", view, table)
}

func (d *PostgresDialect) PageClause(offset, limit int) string {
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}

func (d *PostgresDialect) EnsureSequence(ctx context.Context, q Querier, name string) error {
	_, err := q.ExecContext(ctx, fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s", name))
	return err
}

func (d *PostgresDialect) NextID(ctx context.Context, q Querier, name string) (int64, error) {
	var id int64
	if err := q.QueryRowContext(ctx, fmt.Sprintf("SELECT nextval('%s')", name)).Scan(&id); err != nil {
		return 0, fmt.Errorf("nextval %s: %w", name, err)
	}
	return id, nil
}

// pgProcTypes maps JDBC-style parameter types to the casts used in CALL.
var pgProcTypes = map[string]string{
	"VARCHAR":   "varchar",
	"CHAR":      "char",
	"NVARCHAR":  "varchar",
	"CLOB":      "text",
	"NUMERIC":   "numeric",
	"DECIMAL":   "numeric",
	"INTEGER":   "integer",
	"BIGINT":    "bigint",
	"SMALLINT":  "smallint",
	"DOUBLE":    "double precision",
	"FLOAT":     "real",
	"DATE":      "date",
	"TIMESTAMP": "timestamp",
	"BOOLEAN":   "boolean",
}

// CallProcedure issues CALL name(...). OUT parameters are passed as typed
// NULLs; PostgreSQL returns OUT and INOUT values as a single result row.
func (d *PostgresDialect) CallProcedure(ctx context.Context, q Querier, name string, params []ProcParam) ([]any, error) {
	pb := d.NewParamBuilder()
	args := make([]string, len(params))
	outputs := 0
	for i, p := range params {
		pgType, ok := pgProcTypes[p.SQLType]
		if !ok {
			return nil, fmt.Errorf("unsupported procedure parameter type %q", p.SQLType)
		}
		if p.Mode == "OUT" {
			args[i] = fmt.Sprintf("CAST(NULL AS %s)", pgType)
		} else {
			args[i] = fmt.Sprintf("CAST(%s AS %s)", pb.Add(p.Value), pgType)
		}
		if p.HasOutput() {
			outputs++
		}
	}
	call := fmt.Sprintf("CALL %s(%s)", name, strings.Join(args, ", "))

	if outputs == 0 {
		if _, err := q.ExecContext(ctx, call, pb.Params()...); err != nil {
			return nil, err
		}
		return nil, nil
	}

	rows, err := q.QueryContext(ctx, call, pb.Params()...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("procedure %s returned no output row", name)
	}
	values := make([]any, outputs)
	ptrs := make([]any, outputs)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, fmt.Errorf("scan procedure output: %w", err)
	}
	for i := range values {
		values[i] = normalizeValue(values[i])
	}
	return values, rows.Err()
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// --- PostgreSQL DDL ---

const pgSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS _table_metadata (
    id                BIGSERIAL PRIMARY KEY,
    table_code        VARCHAR(100) NOT NULL UNIQUE,
    table_name        VARCHAR(200) NOT NULL DEFAULT '',
    query_view        VARCHAR(100) NOT NULL,
    target_table      VARCHAR(100) NOT NULL,
    sequence_name     VARCHAR(100) NOT NULL DEFAULT '',
    pk_column         VARCHAR(100) NOT NULL DEFAULT 'ID',
    parent_table_code VARCHAR(100) NOT NULL DEFAULT '',
    parent_fk_column  VARCHAR(100) NOT NULL DEFAULT '',
    validation_rules  TEXT NOT NULL DEFAULT '',
    action_rules      TEXT NOT NULL DEFAULT '',
    deleted           SMALLINT NOT NULL DEFAULT 0,
    update_time       TIMESTAMP NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS _column_metadata (
    id            BIGSERIAL PRIMARY KEY,
    table_code    VARCHAR(100) NOT NULL REFERENCES _table_metadata(table_code) ON DELETE CASCADE,
    field_name    VARCHAR(100) NOT NULL,
    column_name   VARCHAR(100) NOT NULL,
    query_column  VARCHAR(100) NOT NULL DEFAULT '',
    target_column VARCHAR(100) NOT NULL DEFAULT '',
    header_text   VARCHAR(200) NOT NULL DEFAULT '',
    data_type     VARCHAR(30) NOT NULL DEFAULT 'string',
    display_order INTEGER NOT NULL DEFAULT 0,
    visible       SMALLINT NOT NULL DEFAULT 1,
    editable      SMALLINT NOT NULL DEFAULT 1,
    required      SMALLINT NOT NULL DEFAULT 0,
    searchable    SMALLINT NOT NULL DEFAULT 0,
    sortable      SMALLINT NOT NULL DEFAULT 0,
    is_virtual    SMALLINT NOT NULL DEFAULT 0,
    width         INTEGER NOT NULL DEFAULT 0,
    dict_type     VARCHAR(100) NOT NULL DEFAULT '',
    UNIQUE (table_code, field_name)
);

CREATE TABLE IF NOT EXISTS _roles (
    id        BIGSERIAL PRIMARY KEY,
    role_code VARCHAR(100) NOT NULL UNIQUE,
    role_name VARCHAR(200) NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS _user_roles (
    user_id BIGINT NOT NULL,
    role_id BIGINT NOT NULL REFERENCES _roles(id) ON DELETE CASCADE,
    PRIMARY KEY (user_id, role_id)
);

CREATE TABLE IF NOT EXISTS _role_pages (
    id            BIGSERIAL PRIMARY KEY,
    role_id       BIGINT NOT NULL REFERENCES _roles(id) ON DELETE CASCADE,
    page_code     VARCHAR(100) NOT NULL,
    button_policy TEXT NOT NULL DEFAULT '',
    column_policy TEXT NOT NULL DEFAULT '',
    UNIQUE (role_id, page_code)
);

CREATE TABLE IF NOT EXISTS _role_page_data_rules (
    id           BIGSERIAL PRIMARY KEY,
    role_page_id BIGINT NOT NULL REFERENCES _role_pages(id) ON DELETE CASCADE,
    field_name   VARCHAR(100) NOT NULL,
    operator     VARCHAR(20) NOT NULL,
    value        VARCHAR(500) NOT NULL DEFAULT '',
    value_type   VARCHAR(20) NOT NULL DEFAULT 'literal'
);

CREATE TABLE IF NOT EXISTS _dict_types (
    id          BIGSERIAL PRIMARY KEY,
    dict_code   VARCHAR(100) NOT NULL UNIQUE,
    dict_name   VARCHAR(200) NOT NULL DEFAULT '',
    description VARCHAR(500) NOT NULL DEFAULT '',
    deleted     SMALLINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS _dict_items (
    id           BIGSERIAL PRIMARY KEY,
    dict_code    VARCHAR(100) NOT NULL,
    item_code    VARCHAR(100) NOT NULL,
    item_name    VARCHAR(200) NOT NULL DEFAULT '',
    item_value   VARCHAR(200) NOT NULL DEFAULT '',
    sort_order   INTEGER NOT NULL DEFAULT 0,
    extra_config TEXT NOT NULL DEFAULT '',
    deleted      SMALLINT NOT NULL DEFAULT 0,
    UNIQUE (dict_code, item_code)
);

CREATE TABLE IF NOT EXISTS _lookup_configs (
    id              BIGSERIAL PRIMARY KEY,
    lookup_code     VARCHAR(100) NOT NULL UNIQUE,
    lookup_name     VARCHAR(200) NOT NULL DEFAULT '',
    data_source     VARCHAR(200) NOT NULL,
    display_columns TEXT NOT NULL DEFAULT '',
    search_columns  TEXT NOT NULL DEFAULT '',
    value_field     VARCHAR(100) NOT NULL DEFAULT '',
    label_field     VARCHAR(100) NOT NULL DEFAULT '',
    deleted         SMALLINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS _page_rules (
    id            BIGSERIAL PRIMARY KEY,
    page_code     VARCHAR(100) NOT NULL,
    component_key VARCHAR(100) NOT NULL DEFAULT '',
    rule_type     VARCHAR(30) NOT NULL,
    rules         TEXT NOT NULL DEFAULT '',
    sort_order    INTEGER NOT NULL DEFAULT 0,
    deleted       SMALLINT NOT NULL DEFAULT 0
);
`
