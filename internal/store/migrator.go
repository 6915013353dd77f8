package store

import (
	"context"
	"fmt"
	"strings"

	"metatable/internal/metadata"
	"metatable/internal/sqlfmt"
)

// Migrator creates the physical objects a table descriptor refers to: the
// write target, the read view and the ID source.
type Migrator struct {
	store *Store
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// Migrate ensures the target table matches the descriptor. Creates the table
// if it doesn't exist, or adds missing columns.
func (m *Migrator) Migrate(ctx context.Context, t *metadata.TableDescriptor) error {
	table, err := sqlfmt.Identifier(t.WriteTable())
	if err != nil {
		return err
	}

	exists, err := m.store.Dialect.TableExists(ctx, m.store.DB, table)
	if err != nil {
		return fmt.Errorf("check table exists: %w", err)
	}

	if !exists {
		err = m.createTable(ctx, t, table)
	} else {
		err = m.alterTable(ctx, t, table)
	}
	if err != nil {
		return err
	}

	if view := t.ReadView(); !strings.EqualFold(view, table) {
		if _, err := sqlfmt.Identifier(view); err != nil {
			return err
		}
		if _, err := m.store.DB.ExecContext(ctx, m.store.Dialect.CreateViewSQL(view, table)); err != nil {
			return fmt.Errorf("create view %s: %w", view, err)
		}
	}

	if t.SequenceName != "" {
		seq, err := sqlfmt.Identifier(t.SequenceName)
		if err != nil {
			return err
		}
		if err := m.store.Dialect.EnsureSequence(ctx, m.store.DB, seq); err != nil {
			return fmt.Errorf("create sequence %s: %w", seq, err)
		}
	}
	return nil
}

type columnDef struct {
	name, ddlType string
}

// columnDefs lists the key, the audit columns and every stored column once.
func (m *Migrator) columnDefs(t *metadata.TableDescriptor) ([]columnDef, error) {
	d := m.store.Dialect
	seen := make(map[string]bool)
	var defs []columnDef
	add := func(name, dataType string) error {
		if _, err := sqlfmt.Identifier(name); err != nil {
			return err
		}
		key := strings.ToUpper(name)
		if seen[key] {
			return nil
		}
		seen[key] = true
		defs = append(defs, columnDef{name: name, ddlType: d.ColumnType(dataType)})
		return nil
	}

	for _, f := range metadata.AuditFields {
		if err := add(t.AuditColumn(f), metadata.AuditDataType(f)); err != nil {
			return nil, err
		}
	}
	for _, c := range t.Columns {
		if c.Virtual || metadata.IsAuditField(c.FieldName) {
			continue
		}
		if err := add(c.WriteName(), c.DataType); err != nil {
			return nil, err
		}
	}
	return defs, nil
}

func (m *Migrator) createTable(ctx context.Context, t *metadata.TableDescriptor, table string) error {
	defs, err := m.columnDefs(t)
	if err != nil {
		return err
	}

	pk := strings.ToUpper(t.PrimaryKey())
	deleted := strings.ToUpper(t.AuditColumn(metadata.FieldDeleted))
	cols := make([]string, len(defs))
	for i, def := range defs {
		col := def.name + " " + def.ddlType
		switch strings.ToUpper(def.name) {
		case pk:
			col += " PRIMARY KEY"
		case deleted:
			col += " NOT NULL DEFAULT 0"
		}
		cols[i] = col
	}

	sql := fmt.Sprintf("CREATE TABLE %s (\n  %s\n)", table, strings.Join(cols, ",\n  "))
	if _, err := m.store.DB.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("create table %s: %w", table, err)
	}
	return m.createIndexes(ctx, t, table)
}

func (m *Migrator) alterTable(ctx context.Context, t *metadata.TableDescriptor, table string) error {
	existing, err := m.store.Dialect.GetColumns(ctx, m.store.DB, table)
	if err != nil {
		return fmt.Errorf("get columns for %s: %w", table, err)
	}
	defs, err := m.columnDefs(t)
	if err != nil {
		return err
	}

	for _, def := range defs {
		if _, ok := existing[strings.ToUpper(def.name)]; ok {
			continue
		}
		sql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, def.name, def.ddlType)
		if _, err := m.store.DB.ExecContext(ctx, sql); err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, def.name, err)
		}
	}
	return m.createIndexes(ctx, t, table)
}

func (m *Migrator) createIndexes(ctx context.Context, t *metadata.TableDescriptor, table string) error {
	deleted := t.AuditColumn(metadata.FieldDeleted)
	name := "IDX_" + strings.ReplaceAll(table, ".", "_") + "_DELETED"
	sql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", name, table, deleted)
	if _, err := m.store.DB.ExecContext(ctx, sql); err != nil {
		return fmt.Errorf("create soft delete index on %s: %w", table, err)
	}
	return nil
}
