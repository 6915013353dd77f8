package engine

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/spf13/cast"

	"metatable/internal/apperr"
	"metatable/internal/metadata"
	"metatable/internal/sqlfmt"
	"metatable/internal/store"
)

// Condition is one filter of a QuerySpec. Value2 is the upper bound of
// between. Op is accepted as a short alias of Operator.
type Condition struct {
	Field    string `json:"field"`
	Operator string `json:"operator,omitempty"`
	Op       string `json:"op,omitempty"`
	Value    any    `json:"value"`
	Value2   any    `json:"value2,omitempty"`
}

func (c Condition) operator() string {
	op := c.Operator
	if op == "" {
		op = c.Op
	}
	return strings.ToLower(strings.TrimSpace(op))
}

// QuerySpec describes a page of a table. PageSize <= 0 means unpaged.
type QuerySpec struct {
	PageNum    int         `json:"pageNum"`
	PageSize   int         `json:"pageSize"`
	SortField  string      `json:"sortField"`
	SortOrder  string      `json:"sortOrder"`
	Conditions []Condition `json:"conditions"`
}

type QueryResult struct {
	Rows     []map[string]any `json:"rows"`
	Total    int64            `json:"total"`
	PageNum  int              `json:"pageNum"`
	PageSize int              `json:"pageSize"`
}

// Query returns one page of rows matching spec plus the total match count.
func (e *Engine) Query(ctx context.Context, req Request, tableCode string, spec QuerySpec) (result *QueryResult, err error) {
	ctx, span := startSpan(ctx, "query", tableCode)
	defer func() { endSpan(span, err) }()

	tv, err := e.resolve(ctx, req, tableCode)
	if err != nil {
		return nil, err
	}
	where, err := e.whereClause(tv.eff, spec.Conditions)
	if err != nil {
		return nil, err
	}
	view, err := sqlfmt.Identifier(tv.eff.ReadView())
	if err != nil {
		return nil, err
	}

	page := spec.PageNum
	if page < 1 {
		page = 1
	}
	// The offset must fit the dialects' integer LIMIT/OFFSET.
	if spec.PageSize > 0 && page-1 > math.MaxInt32/spec.PageSize {
		return nil, apperr.InvalidArgumentf("page %d is out of range", spec.PageNum)
	}

	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s%s", view, where)
	total, err := store.QueryScalar(ctx, req.Q, countSQL)
	if err != nil {
		return nil, apperr.ExecutionFailuref(err, "count %s", tableCode)
	}

	order, err := e.orderClause(tv.eff, spec.SortField, spec.SortOrder)
	if err != nil {
		return nil, err
	}
	dataSQL := fmt.Sprintf("SELECT * FROM %s%s%s", view, where, order)
	if spec.PageSize > 0 {
		dataSQL += " " + e.dialect.PageClause((page-1)*spec.PageSize, spec.PageSize)
	}

	rows, err := store.QueryRows(ctx, req.Q, dataSQL)
	if err != nil {
		return nil, apperr.ExecutionFailuref(err, "query %s", tableCode)
	}
	span.SetMetadata("rows", len(rows))

	return &QueryResult{
		Rows:     e.convertRows(tv, rows),
		Total:    cast.ToInt64(total),
		PageNum:  page,
		PageSize: spec.PageSize,
	}, nil
}

// QueryAll returns every live row, ordered when sortField is sortable.
func (e *Engine) QueryAll(ctx context.Context, req Request, tableCode, sortField, sortOrder string) (rows []map[string]any, err error) {
	ctx, span := startSpan(ctx, "query_all", tableCode)
	defer func() { endSpan(span, err) }()

	tv, err := e.resolve(ctx, req, tableCode)
	if err != nil {
		return nil, err
	}
	view, err := sqlfmt.Identifier(tv.eff.ReadView())
	if err != nil {
		return nil, err
	}
	where, err := e.whereClause(tv.eff, nil)
	if err != nil {
		return nil, err
	}
	order, err := e.orderClause(tv.eff, sortField, sortOrder)
	if err != nil {
		return nil, err
	}

	raw, err := store.QueryRows(ctx, req.Q, fmt.Sprintf("SELECT * FROM %s%s%s", view, where, order))
	if err != nil {
		return nil, apperr.ExecutionFailuref(err, "query %s", tableCode)
	}
	return e.convertRows(tv, raw), nil
}

// GetByID returns the live row with the given key.
func (e *Engine) GetByID(ctx context.Context, req Request, tableCode string, id any) (row map[string]any, err error) {
	ctx, span := startSpan(ctx, "get", tableCode)
	defer func() { endSpan(span, err) }()

	if isBlank(id) {
		return nil, apperr.InvalidArgumentf("id is required")
	}
	tv, err := e.resolve(ctx, req, tableCode)
	if err != nil {
		return nil, err
	}
	view, err := sqlfmt.Identifier(tv.eff.ReadView())
	if err != nil {
		return nil, err
	}
	pk, idLit, err := e.keyPredicate(tv.eff, id)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf("SELECT * FROM %s WHERE %s = %s AND %s = 0", view, pk, idLit, deletedColumn(tv.eff))
	raw, err := store.QueryRows(ctx, req.Q, sql)
	if err != nil {
		return nil, apperr.ExecutionFailuref(err, "get %s", tableCode)
	}
	if len(raw) == 0 {
		return nil, apperr.NotFoundf("%s record %v not found", tableCode, id)
	}
	return e.convertRows(tv, raw)[0], nil
}

// whereClause ANDs the soft-delete filter with every usable condition.
// Conditions on unknown or non-searchable fields, unsupported operators and
// empty values are logged and skipped.
func (e *Engine) whereClause(td *metadata.TableDescriptor, conds []Condition) (string, error) {
	parts := []string{deletedColumn(td) + " = 0"}

	for _, c := range conds {
		column, dataType, ok := queryColumn(td, c.Field, func(col *metadata.ColumnDescriptor) bool { return col.Searchable })
		if !ok {
			log.Printf("WARN: %s: condition on %q skipped, field is not searchable", td.Code, c.Field)
			continue
		}
		if _, err := sqlfmt.Identifier(column); err != nil {
			return "", err
		}
		clause, err := e.predicate(column, dataType, c)
		if err != nil {
			return "", err
		}
		if clause != "" {
			parts = append(parts, clause)
		}
	}
	return " WHERE " + strings.Join(parts, " AND "), nil
}

func (e *Engine) predicate(column, dataType string, c Condition) (string, error) {
	f := e.formatter
	op := c.operator()

	if c.Value == nil {
		switch op {
		case "eq":
			return column + " IS NULL", nil
		case "ne":
			return column + " IS NOT NULL", nil
		}
		return "", nil
	}

	switch op {
	case "eq", "ne", "gt", "ge", "lt", "le":
		lit, err := f.Literal(c.Value, dataType, c.Field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s %s %s", column, comparisons[op], lit), nil
	case "like":
		return fmt.Sprintf("%s LIKE %s", column, sqlfmt.Quote("%"+cast.ToString(c.Value)+"%")), nil
	case "between":
		if c.Value2 == nil {
			log.Printf("WARN: between on %q skipped, upper bound missing", c.Field)
			return "", nil
		}
		lo, err := f.Literal(c.Value, dataType, c.Field)
		if err != nil {
			return "", err
		}
		hi, err := f.Literal(c.Value2, dataType, c.Field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s BETWEEN %s AND %s", column, lo, hi), nil
	case "in":
		list, err := f.List(c.Value, dataType, c.Field)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s IN (%s)", column, list), nil
	default:
		log.Printf("WARN: unsupported operator %q on %q skipped", op, c.Field)
		return "", nil
	}
}

var comparisons = map[string]string{
	"eq": "=",
	"ne": "<>",
	"gt": ">",
	"ge": ">=",
	"lt": "<",
	"le": "<=",
}

func (e *Engine) orderClause(td *metadata.TableDescriptor, field, order string) (string, error) {
	if strings.TrimSpace(field) == "" {
		return "", nil
	}
	column, _, ok := queryColumn(td, field, func(col *metadata.ColumnDescriptor) bool { return col.Sortable })
	if !ok {
		log.Printf("WARN: %s: sort on %q ignored, field is not sortable", td.Code, field)
		return "", nil
	}
	if _, err := sqlfmt.Identifier(column); err != nil {
		return "", err
	}
	dir := "ASC"
	if strings.EqualFold(strings.TrimSpace(order), "desc") {
		dir = "DESC"
	}
	return fmt.Sprintf(" ORDER BY %s %s", column, dir), nil
}

// queryColumn maps field to the view column it reads from. Audit fields are
// always allowed; declared columns must pass allowed and must not be virtual.
func queryColumn(td *metadata.TableDescriptor, field string, allowed func(*metadata.ColumnDescriptor) bool) (column, dataType string, ok bool) {
	col := td.Column(field)
	if metadata.IsAuditField(field) {
		if col != nil && !col.Virtual {
			return col.ReadName(), metadata.AuditDataType(field), true
		}
		return td.AuditColumn(field), metadata.AuditDataType(field), true
	}
	if col == nil || col.Virtual || !allowed(col) {
		return "", "", false
	}
	return col.ReadName(), col.DataType, true
}

func (e *Engine) keyPredicate(td *metadata.TableDescriptor, id any) (pk, lit string, err error) {
	pk, err = sqlfmt.Identifier(td.PrimaryKey())
	if err != nil {
		return "", "", err
	}
	lit, err = e.formatter.Literal(id, "number", metadata.FieldID)
	if err != nil {
		return "", "", err
	}
	return pk, lit, nil
}

func deletedColumn(td *metadata.TableDescriptor) string {
	return td.AuditColumn(metadata.FieldDeleted)
}

func isBlank(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}
