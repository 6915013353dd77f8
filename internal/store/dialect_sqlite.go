package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned for features the dialect cannot express.
var ErrUnsupported = errors.New("not supported by dialect")

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) Placeholder(index int) string {
	return fmt.Sprintf("?%d", index)
}

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) TimestampExpr(quoted string) string {
	return "strftime('%Y-%m-%d %H:%M:%S', " + quoted + ")"
}

func (d *SQLiteDialect) ColumnType(dataType string) string {
	switch dataType {
	case "number":
		return "REAL"
	case "int", "integer", "boolean":
		return "INTEGER"
	default:
		return "TEXT"
	}
}

func (d *SQLiteDialect) SystemTablesSQL() string {
	return sqliteSystemTablesSQL
}

func (d *SQLiteDialect) TableExists(ctx context.Context, q Querier, tableName string) (bool, error) {
	var name string
	err := q.QueryRowContext(ctx,
		"SELECT name FROM sqlite_master WHERE type IN ('table','view') AND upper(name) = upper(?1)",
		tableName,
	).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (d *SQLiteDialect) GetColumns(ctx context.Context, q Querier, tableName string) (map[string]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols := make(map[string]string)
	for rows.Next() {
		var cid int
		var name, colType string
		var notNull int
		var dfltValue any
		var pk int
		if err := rows.Scan(&cid, &name, &colType, &notNull, &dfltValue, &pk); err != nil {
			return nil, err
		}
		cols[strings.ToUpper(name)] = colType
	}
	return cols, rows.Err()
}

func (d *SQLiteDialect) CreateViewSQL(view, table string) string {
	return fmt.Sprintf("CREATE VIEW IF NOT EXISTS %s AS SELECT * FROM %s", view, table)
}

func (d *SQLiteDialect) PageClause(offset, limit int) string {
	return fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset)
}

func (d *SQLiteDialect) EnsureSequence(ctx context.Context, q Querier, name string) error {
	_, err := q.ExecContext(ctx, "INSERT OR IGNORE INTO _sequences (name, value) VALUES (?1, 0)", name)
	return err
}

// NextID emulates a sequence with an upsert on _sequences.
func (d *SQLiteDialect) NextID(ctx context.Context, q Querier, name string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`INSERT INTO _sequences (name, value) VALUES (?1, 1)
		 ON CONFLICT(name) DO UPDATE SET value = value + 1
		 RETURNING value`,
		name,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("next id %s: %w", name, err)
	}
	return id, nil
}

func (d *SQLiteDialect) CallProcedure(_ context.Context, _ Querier, name string, _ []ProcParam) ([]any, error) {
	return nil, fmt.Errorf("call %s: stored procedures %w", name, ErrUnsupported)
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "constraint failed: UNIQUE") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// --- SQLite DDL ---

const sqliteSystemTablesSQL = `
CREATE TABLE IF NOT EXISTS _table_metadata (
    id                INTEGER PRIMARY KEY AUTOINCREMENT,
    table_code        TEXT NOT NULL UNIQUE,
    table_name        TEXT NOT NULL DEFAULT '',
    query_view        TEXT NOT NULL,
    target_table      TEXT NOT NULL,
    sequence_name     TEXT NOT NULL DEFAULT '',
    pk_column         TEXT NOT NULL DEFAULT 'ID',
    parent_table_code TEXT NOT NULL DEFAULT '',
    parent_fk_column  TEXT NOT NULL DEFAULT '',
    validation_rules  TEXT NOT NULL DEFAULT '',
    action_rules      TEXT NOT NULL DEFAULT '',
    deleted           INTEGER NOT NULL DEFAULT 0,
    update_time       TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS _column_metadata (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    table_code    TEXT NOT NULL REFERENCES _table_metadata(table_code) ON DELETE CASCADE,
    field_name    TEXT NOT NULL,
    column_name   TEXT NOT NULL,
    query_column  TEXT NOT NULL DEFAULT '',
    target_column TEXT NOT NULL DEFAULT '',
    header_text   TEXT NOT NULL DEFAULT '',
    data_type     TEXT NOT NULL DEFAULT 'string',
    display_order INTEGER NOT NULL DEFAULT 0,
    visible       INTEGER NOT NULL DEFAULT 1,
    editable      INTEGER NOT NULL DEFAULT 1,
    required      INTEGER NOT NULL DEFAULT 0,
    searchable    INTEGER NOT NULL DEFAULT 0,
    sortable      INTEGER NOT NULL DEFAULT 0,
    is_virtual    INTEGER NOT NULL DEFAULT 0,
    width         INTEGER NOT NULL DEFAULT 0,
    dict_type     TEXT NOT NULL DEFAULT '',
    UNIQUE (table_code, field_name)
);

CREATE TABLE IF NOT EXISTS _roles (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    role_code TEXT NOT NULL UNIQUE,
    role_name TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS _user_roles (
    user_id INTEGER NOT NULL,
    role_id INTEGER NOT NULL REFERENCES _roles(id) ON DELETE CASCADE,
    PRIMARY KEY (user_id, role_id)
);

CREATE TABLE IF NOT EXISTS _role_pages (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    role_id       INTEGER NOT NULL REFERENCES _roles(id) ON DELETE CASCADE,
    page_code     TEXT NOT NULL,
    button_policy TEXT NOT NULL DEFAULT '',
    column_policy TEXT NOT NULL DEFAULT '',
    UNIQUE (role_id, page_code)
);

CREATE TABLE IF NOT EXISTS _role_page_data_rules (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    role_page_id INTEGER NOT NULL REFERENCES _role_pages(id) ON DELETE CASCADE,
    field_name   TEXT NOT NULL,
    operator     TEXT NOT NULL,
    value        TEXT NOT NULL DEFAULT '',
    value_type   TEXT NOT NULL DEFAULT 'literal'
);

CREATE TABLE IF NOT EXISTS _sequences (
    name  TEXT PRIMARY KEY,
    value INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS _dict_types (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    dict_code   TEXT NOT NULL UNIQUE,
    dict_name   TEXT NOT NULL DEFAULT '',
    description TEXT NOT NULL DEFAULT '',
    deleted     INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS _dict_items (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    dict_code    TEXT NOT NULL,
    item_code    TEXT NOT NULL,
    item_name    TEXT NOT NULL DEFAULT '',
    item_value   TEXT NOT NULL DEFAULT '',
    sort_order   INTEGER NOT NULL DEFAULT 0,
    extra_config TEXT NOT NULL DEFAULT '',
    deleted      INTEGER NOT NULL DEFAULT 0,
    UNIQUE (dict_code, item_code)
);

CREATE TABLE IF NOT EXISTS _lookup_configs (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    lookup_code     TEXT NOT NULL UNIQUE,
    lookup_name     TEXT NOT NULL DEFAULT '',
    data_source     TEXT NOT NULL,
    display_columns TEXT NOT NULL DEFAULT '',
    search_columns  TEXT NOT NULL DEFAULT '',
    value_field     TEXT NOT NULL DEFAULT '',
    label_field     TEXT NOT NULL DEFAULT '',
    deleted         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS _page_rules (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    page_code     TEXT NOT NULL,
    component_key TEXT NOT NULL DEFAULT '',
    rule_type     TEXT NOT NULL,
    rules         TEXT NOT NULL DEFAULT '',
    sort_order    INTEGER NOT NULL DEFAULT 0,
    deleted       INTEGER NOT NULL DEFAULT 0
);
`
