package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"

	"metatable/internal/apperr"
	"metatable/internal/metadata"
	"metatable/internal/sqlfmt"
	"metatable/internal/store"
)

// assignment is one column = literal pair of an INSERT or UPDATE.
type assignment struct {
	column, literal string
	audit           bool
}

// Insert writes data as a new row and returns its generated key. The key,
// audit timestamps, actor stamps and deleted=0 are stamped over whatever the
// caller sent. Entries that map to no stored column are dropped.
func (e *Engine) Insert(ctx context.Context, req Request, tableCode string, data map[string]any) (id int64, err error) {
	ctx, span := startSpan(ctx, "insert", tableCode)
	defer func() { endSpan(span, err) }()

	tv, err := e.resolve(ctx, req, tableCode)
	if err != nil {
		return 0, err
	}
	td := tv.eff
	table, err := sqlfmt.Identifier(td.WriteTable())
	if err != nil {
		return 0, err
	}
	if td.SequenceName == "" {
		return 0, apperr.InvalidArgumentf("table %s has no ID sequence", tableCode)
	}
	seq, err := sqlfmt.Identifier(td.SequenceName)
	if err != nil {
		return 0, err
	}
	id, err = e.dialect.NextID(ctx, req.Q, seq)
	if err != nil {
		return 0, apperr.ExecutionFailuref(err, "next id for %s", tableCode)
	}

	row := copyData(data)
	now := time.Now()
	actor := req.User.Actor(e.actor)
	row[metadata.FieldID] = id
	row[metadata.FieldCreateTime] = now
	row[metadata.FieldUpdateTime] = now
	row[metadata.FieldDeleted] = 0
	row[metadata.FieldCreateBy] = actor
	row[metadata.FieldUpdateBy] = actor

	assigns, err := e.assignments(tv, row)
	if err != nil {
		return 0, err
	}
	cols := make([]string, len(assigns))
	vals := make([]string, len(assigns))
	for i, a := range assigns {
		cols[i] = a.column
		vals[i] = a.literal
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, strings.Join(cols, ", "), strings.Join(vals, ", "))
	if _, err := store.Exec(ctx, req.Q, sql); err != nil {
		return 0, apperr.ExecutionFailuref(store.MapError(e.dialect, err), "insert into %s", tableCode)
	}
	span.SetEntity(tableCode, cast.ToString(id))
	return id, nil
}

// Update writes data over the live row with the given key. Key, creation
// stamps and the deleted flag cannot be changed through it.
func (e *Engine) Update(ctx context.Context, req Request, tableCode string, id any, data map[string]any) (err error) {
	ctx, span := startSpan(ctx, "update", tableCode)
	defer func() { endSpan(span, err) }()

	if isBlank(id) {
		return apperr.InvalidArgumentf("id is required")
	}
	if len(data) == 0 {
		return apperr.InvalidArgumentf("no fields to update on %s", tableCode)
	}
	tv, err := e.resolve(ctx, req, tableCode)
	if err != nil {
		return err
	}
	td := tv.eff
	table, err := sqlfmt.Identifier(td.WriteTable())
	if err != nil {
		return err
	}

	row := copyData(data)
	for _, f := range []string{metadata.FieldID, metadata.FieldCreateTime, metadata.FieldCreateBy, metadata.FieldDeleted} {
		delete(row, f)
	}
	row[metadata.FieldUpdateTime] = time.Now()
	row[metadata.FieldUpdateBy] = req.User.Actor(e.actor)

	assigns, err := e.assignments(tv, row)
	if err != nil {
		return err
	}
	sets := make([]string, 0, len(assigns))
	business := 0
	for _, a := range assigns {
		sets = append(sets, a.column+" = "+a.literal)
		if !a.audit {
			business++
		}
	}
	if business == 0 {
		return apperr.InvalidArgumentf("no updatable fields for %s", tableCode)
	}

	pk, idLit, err := e.keyPredicate(td, id)
	if err != nil {
		return err
	}
	sql := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s AND %s = 0",
		table, strings.Join(sets, ", "), pk, idLit, deletedColumn(td))
	n, err := store.Exec(ctx, req.Q, sql)
	if err != nil {
		return apperr.ExecutionFailuref(store.MapError(e.dialect, err), "update %s", tableCode)
	}
	if n == 0 {
		return apperr.NotFoundf("%s record %v not found", tableCode, id)
	}
	span.SetEntity(tableCode, cast.ToString(id))
	return nil
}

// Delete soft-deletes the row and, first, every live child row pointing at it
// through a declared foreign key.
func (e *Engine) Delete(ctx context.Context, req Request, tableCode string, id any) (err error) {
	ctx, span := startSpan(ctx, "delete", tableCode)
	defer func() { endSpan(span, err) }()

	if isBlank(id) {
		return apperr.InvalidArgumentf("id is required")
	}
	tv, err := e.resolve(ctx, req, tableCode)
	if err != nil {
		return err
	}
	td := tv.eff
	idLit, err := e.formatter.Literal(id, "number", metadata.FieldID)
	if err != nil {
		return err
	}
	actor := req.User.Actor(e.actor)

	children, err := e.catalog.FindChildren(ctx, tableCode)
	if err != nil {
		return err
	}
	for _, child := range children {
		if child.ParentFKColumn == "" {
			log.Printf("WARN: child table %s of %s has no foreign key column, cascade skipped", child.Code, tableCode)
			continue
		}
		fk, err := sqlfmt.Identifier(child.ParentFKColumn)
		if err != nil {
			return err
		}
		n, err := e.softDelete(ctx, req.Q, child, fk, idLit, actor)
		if err != nil {
			return apperr.ExecutionFailuref(err, "cascade delete %s", child.Code)
		}
		if n > 0 {
			log.Printf("Cascade soft-deleted %d %s rows of %s %v", n, child.Code, tableCode, id)
		}
	}

	pk, err := sqlfmt.Identifier(td.PrimaryKey())
	if err != nil {
		return err
	}
	n, err := e.softDelete(ctx, req.Q, td, pk, idLit, actor)
	if err != nil {
		return apperr.ExecutionFailuref(err, "delete %s", tableCode)
	}
	if n == 0 {
		return apperr.NotFoundf("%s record %v not found", tableCode, id)
	}
	span.SetEntity(tableCode, cast.ToString(id))
	return nil
}

func (e *Engine) softDelete(ctx context.Context, q store.Querier, td *metadata.TableDescriptor, column, lit, actor string) (int64, error) {
	table, err := sqlfmt.Identifier(td.WriteTable())
	if err != nil {
		return 0, err
	}
	now, err := e.formatter.Timestamp(time.Now(), metadata.FieldUpdateTime)
	if err != nil {
		return 0, err
	}
	sql := fmt.Sprintf("UPDATE %s SET %s = 1, %s = %s, %s = %s WHERE %s = %s AND %s = 0",
		table,
		deletedColumn(td),
		td.AuditColumn(metadata.FieldUpdateTime), now,
		td.AuditColumn(metadata.FieldUpdateBy), sqlfmt.Quote(actor),
		column, lit, deletedColumn(td))
	return store.Exec(ctx, q, sql)
}

// assignments maps row entries to write columns in field order. Audit fields
// go to their fixed columns; other entries need a stored column, and an
// editable one when the request carries a page permission.
func (e *Engine) assignments(tv *tableView, row map[string]any) ([]assignment, error) {
	td := tv.eff
	fields := make([]string, 0, len(row))
	for f := range row {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	seen := make(map[string]bool, len(fields))
	out := make([]assignment, 0, len(fields))
	for _, field := range fields {
		var column, dataType string
		audit := metadata.IsAuditField(field)
		col := td.Column(field)
		switch {
		case audit:
			column, dataType = td.AuditColumn(field), metadata.AuditDataType(field)
			if col != nil && !col.Virtual {
				column = col.WriteName()
			}
		case col == nil || col.Virtual:
			continue
		case tv.enforceEdit && !col.Editable:
			continue
		default:
			column, dataType = col.WriteName(), col.DataType
		}

		if _, err := sqlfmt.Identifier(column); err != nil {
			return nil, err
		}
		key := strings.ToUpper(column)
		if seen[key] {
			continue
		}
		seen[key] = true

		lit, err := e.formatter.Literal(row[field], dataType, field)
		if err != nil {
			return nil, err
		}
		out = append(out, assignment{column: column, literal: lit, audit: audit})
	}
	return out, nil
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+6)
	for k, v := range data {
		out[k] = v
	}
	return out
}
