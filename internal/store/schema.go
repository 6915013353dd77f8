package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/spf13/cast"

	"metatable/internal/metadata"
)

// SchemaStore reads and writes table metadata in the schema-store tables.
// It is the catalog's Loader.
type SchemaStore struct {
	store *Store
}

func NewSchemaStore(s *Store) *SchemaStore {
	return &SchemaStore{store: s}
}

func (ss *SchemaStore) LoadTable(ctx context.Context, code string) (*metadata.TableDescriptor, error) {
	d := ss.store.Dialect
	row, err := QueryRow(ctx, ss.store.DB,
		`SELECT table_code, table_name, query_view, target_table, sequence_name, pk_column,
		        parent_table_code, parent_fk_column, validation_rules, action_rules
		   FROM _table_metadata WHERE table_code = `+d.Placeholder(1)+` AND deleted = 0`,
		code,
	)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	t := &metadata.TableDescriptor{
		Code:            cast.ToString(row["table_code"]),
		Name:            cast.ToString(row["table_name"]),
		QueryView:       cast.ToString(row["query_view"]),
		TargetTable:     cast.ToString(row["target_table"]),
		SequenceName:    cast.ToString(row["sequence_name"]),
		PKColumn:        cast.ToString(row["pk_column"]),
		ParentTableCode: cast.ToString(row["parent_table_code"]),
		ParentFKColumn:  cast.ToString(row["parent_fk_column"]),
		ValidationRules: cast.ToString(row["validation_rules"]),
		ActionRules:     cast.ToString(row["action_rules"]),
	}

	rows, err := QueryRows(ctx, ss.store.DB,
		`SELECT field_name, column_name, query_column, target_column, header_text, data_type,
		        display_order, visible, editable, required, searchable, sortable, is_virtual, width, dict_type
		   FROM _column_metadata WHERE table_code = `+d.Placeholder(1)+`
		  ORDER BY display_order, id`,
		code,
	)
	if err != nil {
		return nil, fmt.Errorf("load columns of %s: %w", code, err)
	}
	for _, r := range rows {
		t.Columns = append(t.Columns, &metadata.ColumnDescriptor{
			FieldName:    cast.ToString(r["field_name"]),
			ColumnName:   cast.ToString(r["column_name"]),
			QueryColumn:  cast.ToString(r["query_column"]),
			TargetColumn: cast.ToString(r["target_column"]),
			HeaderText:   cast.ToString(r["header_text"]),
			DataType:     cast.ToString(r["data_type"]),
			DisplayOrder: cast.ToInt(r["display_order"]),
			Visible:      cast.ToInt(r["visible"]) != 0,
			Editable:     cast.ToInt(r["editable"]) != 0,
			Required:     cast.ToInt(r["required"]) != 0,
			Searchable:   cast.ToInt(r["searchable"]) != 0,
			Sortable:     cast.ToInt(r["sortable"]) != 0,
			Virtual:      cast.ToInt(r["is_virtual"]) != 0,
			Width:        cast.ToInt(r["width"]),
			DictType:     cast.ToString(r["dict_type"]),
		})
	}
	return t, nil
}

func (ss *SchemaStore) ChildTableCodes(ctx context.Context, parent string) ([]string, error) {
	rows, err := QueryRows(ctx, ss.store.DB,
		`SELECT table_code FROM _table_metadata WHERE parent_table_code = `+ss.store.Dialect.Placeholder(1)+
			` AND deleted = 0 ORDER BY table_code`,
		parent,
	)
	if err != nil {
		return nil, err
	}
	codes := make([]string, 0, len(rows))
	for _, r := range rows {
		codes = append(codes, cast.ToString(r["table_code"]))
	}
	return codes, nil
}

// SaveTable upserts the table row and replaces its columns.
func (ss *SchemaStore) SaveTable(ctx context.Context, q Querier, t *metadata.TableDescriptor) error {
	d := ss.store.Dialect
	if _, err := Exec(ctx, q, "DELETE FROM _column_metadata WHERE table_code = "+d.Placeholder(1), t.Code); err != nil {
		return fmt.Errorf("clear columns of %s: %w", t.Code, err)
	}
	if _, err := Exec(ctx, q, "DELETE FROM _table_metadata WHERE table_code = "+d.Placeholder(1), t.Code); err != nil {
		return fmt.Errorf("clear table %s: %w", t.Code, err)
	}

	pb := d.NewParamBuilder()
	sql := fmt.Sprintf(`INSERT INTO _table_metadata
		(table_code, table_name, query_view, target_table, sequence_name, pk_column,
		 parent_table_code, parent_fk_column, validation_rules, action_rules)
		VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
		pb.Add(t.Code), pb.Add(t.Name), pb.Add(t.ReadView()), pb.Add(t.WriteTable()),
		pb.Add(t.SequenceName), pb.Add(t.PrimaryKey()), pb.Add(t.ParentTableCode),
		pb.Add(t.ParentFKColumn), pb.Add(t.ValidationRules), pb.Add(t.ActionRules),
	)
	if _, err := Exec(ctx, q, sql, pb.Params()...); err != nil {
		return fmt.Errorf("insert table %s: %w", t.Code, MapError(d, err))
	}

	for i, c := range t.Columns {
		order := c.DisplayOrder
		if order == 0 {
			order = i + 1
		}
		pb := d.NewParamBuilder()
		sql := fmt.Sprintf(`INSERT INTO _column_metadata
			(table_code, field_name, column_name, query_column, target_column, header_text, data_type,
			 display_order, visible, editable, required, searchable, sortable, is_virtual, width, dict_type)
			VALUES (%s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s, %s)`,
			pb.Add(t.Code), pb.Add(c.FieldName), pb.Add(c.WriteName()), pb.Add(c.QueryColumn),
			pb.Add(c.TargetColumn), pb.Add(c.HeaderText), pb.Add(c.DataType), pb.Add(order),
			pb.Add(flag(c.Visible)), pb.Add(flag(c.Editable)), pb.Add(flag(c.Required)),
			pb.Add(flag(c.Searchable)), pb.Add(flag(c.Sortable)), pb.Add(flag(c.Virtual)),
			pb.Add(c.Width), pb.Add(c.DictType),
		)
		if _, err := Exec(ctx, q, sql, pb.Params()...); err != nil {
			return fmt.Errorf("insert column %s.%s: %w", t.Code, c.FieldName, MapError(d, err))
		}
	}
	return nil
}

// SaveRole upserts a role, its user assignments and its page grants.
func (ss *SchemaStore) SaveRole(ctx context.Context, q Querier, r *metadata.RoleSeed) error {
	d := ss.store.Dialect

	var roleID int64
	err := q.QueryRowContext(ctx, "SELECT id FROM _roles WHERE role_code = "+d.Placeholder(1), r.Code).Scan(&roleID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("find role %s: %w", r.Code, err)
	}
	if err != nil {
		pb := d.NewParamBuilder()
		sql := fmt.Sprintf("INSERT INTO _roles (role_code, role_name) VALUES (%s, %s) RETURNING id", pb.Add(r.Code), pb.Add(r.Name))
		if err := q.QueryRowContext(ctx, sql, pb.Params()...).Scan(&roleID); err != nil {
			return fmt.Errorf("insert role %s: %w", r.Code, err)
		}
	}

	if _, err := Exec(ctx, q, "DELETE FROM _user_roles WHERE role_id = "+d.Placeholder(1), roleID); err != nil {
		return fmt.Errorf("clear users of %s: %w", r.Code, err)
	}
	for _, userID := range r.Users {
		pb := d.NewParamBuilder()
		sql := fmt.Sprintf("INSERT INTO _user_roles (user_id, role_id) VALUES (%s, %s)", pb.Add(userID), pb.Add(roleID))
		if _, err := Exec(ctx, q, sql, pb.Params()...); err != nil {
			return fmt.Errorf("assign user %d to %s: %w", userID, r.Code, err)
		}
	}

	if _, err := Exec(ctx, q, "DELETE FROM _role_pages WHERE role_id = "+d.Placeholder(1), roleID); err != nil {
		return fmt.Errorf("clear pages of %s: %w", r.Code, err)
	}
	for _, p := range r.Pages {
		buttons, err := p.ButtonPolicy()
		if err != nil {
			return err
		}
		columns, err := p.ColumnPolicy()
		if err != nil {
			return err
		}
		pb := d.NewParamBuilder()
		sql := fmt.Sprintf(`INSERT INTO _role_pages (role_id, page_code, button_policy, column_policy)
			VALUES (%s, %s, %s, %s) RETURNING id`, pb.Add(roleID), pb.Add(p.Page), pb.Add(buttons), pb.Add(columns))
		var pageID int64
		if err := q.QueryRowContext(ctx, sql, pb.Params()...).Scan(&pageID); err != nil {
			return fmt.Errorf("grant page %s to %s: %w", p.Page, r.Code, err)
		}
		for _, rule := range p.DataRules {
			valueType := rule.ValueType
			if valueType == "" {
				valueType = "literal"
			}
			pb := d.NewParamBuilder()
			sql := fmt.Sprintf(`INSERT INTO _role_page_data_rules (role_page_id, field_name, operator, value, value_type)
				VALUES (%s, %s, %s, %s, %s)`,
				pb.Add(pageID), pb.Add(rule.FieldName), pb.Add(rule.Operator), pb.Add(rule.Value), pb.Add(valueType))
			if _, err := Exec(ctx, q, sql, pb.Params()...); err != nil {
				return fmt.Errorf("add data rule to %s/%s: %w", r.Code, p.Page, err)
			}
		}
	}
	return nil
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}
