package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metatable/internal/apperr"
	"metatable/internal/metadata"
	"metatable/internal/permission"
	"metatable/internal/store"
	"metatable/internal/store/storetest"
)

func orderTables() []*metadata.TableDescriptor {
	return []*metadata.TableDescriptor{
		{
			Code:         "ORDER",
			QueryView:    "V_ORDER",
			TargetTable:  "T_ORDER",
			SequenceName: "SEQ_ORDER",
			Columns: []*metadata.ColumnDescriptor{
				{FieldName: "amount", ColumnName: "AMOUNT", DataType: "number", Searchable: true, Sortable: true, Editable: true, Visible: true},
				{FieldName: "orderDate", ColumnName: "ORDER_DATE", DataType: "date", Searchable: true, Sortable: true, Editable: true, Visible: true},
				{FieldName: "note", ColumnName: "NOTE", DataType: "string", Searchable: true, Editable: true, Visible: true},
				{FieldName: "secret", ColumnName: "SECRET", DataType: "string", Editable: true, Visible: true},
				{FieldName: "calc", DataType: "number", Virtual: true, Searchable: true, Sortable: true},
			},
		},
		{
			Code:            "ORDER_LINE",
			TargetTable:     "T_ORDER_LINE",
			SequenceName:    "SEQ_ORDER_LINE",
			ParentTableCode: "ORDER",
			ParentFKColumn:  "ORDER_ID",
			Columns: []*metadata.ColumnDescriptor{
				{FieldName: "orderId", ColumnName: "ORDER_ID", DataType: "int", Searchable: true, Editable: true, Visible: true},
				{FieldName: "qty", ColumnName: "QTY", DataType: "int", Editable: true, Visible: true},
			},
		},
		{
			Code:            "ORDER_NOTE",
			TargetTable:     "T_ORDER_NOTE",
			SequenceName:    "SEQ_ORDER_NOTE",
			ParentTableCode: "ORDER",
			Columns: []*metadata.ColumnDescriptor{
				{FieldName: "text", ColumnName: "TEXT_VALUE", Editable: true, Visible: true},
			},
		},
	}
}

type fixture struct {
	store  *store.Store
	engine *Engine
	req    Request
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	s := storetest.NewSQLite(t)
	storetest.Install(t, s, orderTables()...)
	catalog := metadata.NewCatalog(store.NewSchemaStore(s))
	return &fixture{
		store:  s,
		engine: New(catalog, s.Dialect, opts...),
		req:    Request{Q: s.DB, User: &metadata.UserContext{ID: 7, Username: "ann"}},
	}
}

func (f *fixture) insert(t *testing.T, code string, data map[string]any) int64 {
	t.Helper()
	id, err := f.engine.Insert(context.Background(), f.req, code, data)
	require.NoError(t, err)
	return id
}

func TestInsertThenGetByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	id := f.insert(t, "ORDER", map[string]any{
		"amount":    100.5,
		"orderDate": "2024-01-01",
		"note":      "hello",
		"calc":      9,
		"bogus":     "dropped",
		"deleted":   1,
	})
	assert.Equal(t, int64(1), id)

	row, err := f.engine.GetByID(ctx, f.req, "ORDER", id)
	require.NoError(t, err)
	assert.Equal(t, 100.5, row["amount"])
	assert.Equal(t, "2024-01-01", row["orderDate"])
	assert.Equal(t, "hello", row["note"])
	assert.Equal(t, id, row["id"])
	assert.Equal(t, int64(0), row["deleted"])
	assert.Equal(t, "ann", row["createBy"])
	assert.Equal(t, "ann", row["updateBy"])
	assert.NotNil(t, row["createTime"])
	assert.NotNil(t, row["updateTime"])
	assert.NotContains(t, row, "bogus")
	assert.NotContains(t, row, "calc")

	_, err = f.engine.GetByID(ctx, f.req, "ORDER", 999)
	assert.True(t, apperr.Is(err, apperr.NotFound))

	_, err = f.engine.GetByID(ctx, f.req, "ORDER", "1 OR 1=1")
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
}

func TestInsert_DefaultActor(t *testing.T) {
	f := newFixture(t, WithDefaultActor("batch"))
	f.req.User = nil
	id := f.insert(t, "ORDER", map[string]any{"note": "x"})

	row, err := f.engine.GetByID(context.Background(), f.req, "ORDER", id)
	require.NoError(t, err)
	assert.Equal(t, "batch", row["createBy"])
}

func TestQuery_OrderExample(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "ORDER", map[string]any{"amount": 100.5, "orderDate": "2024-01-01"})
	f.insert(t, "ORDER", map[string]any{"amount": 10, "orderDate": "2024-02-01"})

	res, err := f.engine.Query(context.Background(), f.req, "ORDER", QuerySpec{
		PageNum:    1,
		PageSize:   10,
		Conditions: []Condition{{Field: "amount", Op: "ge", Value: 50}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Total)
	require.Len(t, res.Rows, 1)
	assert.Equal(t, 100.5, res.Rows[0]["amount"])
	assert.Equal(t, "2024-01-01", res.Rows[0]["orderDate"])
}

func TestQuery_PagingAndSort(t *testing.T) {
	f := newFixture(t)
	for _, a := range []int{1, 2, 3} {
		f.insert(t, "ORDER", map[string]any{"amount": a})
	}
	ctx := context.Background()

	res, err := f.engine.Query(ctx, f.req, "ORDER", QuerySpec{PageNum: 2, PageSize: 1, SortField: "amount", SortOrder: "desc"})
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Total)
	assert.Equal(t, 2, res.PageNum)
	require.Len(t, res.Rows, 1)
	assert.EqualValues(t, 2, res.Rows[0]["amount"])

	res, err = f.engine.Query(ctx, f.req, "ORDER", QuerySpec{PageSize: 0, SortField: "id", SortOrder: "desc"})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 3)
	assert.Equal(t, 1, res.PageNum)
	assert.Equal(t, int64(3), res.Rows[0]["id"])

	rows, err := f.engine.QueryAll(ctx, f.req, "ORDER", "amount", "asc")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.EqualValues(t, 1, rows[0]["amount"])

	// secret is not sortable; the request degrades to unordered
	_, err = f.engine.QueryAll(ctx, f.req, "ORDER", "secret", "asc")
	assert.NoError(t, err)
}

func TestQuery_Operators(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "ORDER", map[string]any{"amount": 5, "note": "apple pie", "orderDate": "2024-01-10"})
	f.insert(t, "ORDER", map[string]any{"amount": 15, "note": "banana", "orderDate": "2024-03-10"})
	f.insert(t, "ORDER", map[string]any{"amount": 25})

	tests := []struct {
		name  string
		conds []Condition
		want  int64
	}{
		{"eq", []Condition{{Field: "amount", Operator: "eq", Value: 15}}, 1},
		{"ne", []Condition{{Field: "amount", Operator: "ne", Value: 15}}, 2},
		{"gt lt", []Condition{{Field: "amount", Operator: "gt", Value: 5}, {Field: "amount", Operator: "lt", Value: 25}}, 1},
		{"le", []Condition{{Field: "amount", Operator: "le", Value: "15"}}, 2},
		{"like", []Condition{{Field: "note", Operator: "like", Value: "pie"}}, 1},
		{"between", []Condition{{Field: "orderDate", Operator: "between", Value: "2024-01-01", Value2: "2024-02-01"}}, 1},
		{"between without upper bound", []Condition{{Field: "amount", Operator: "between", Value: 1}}, 3},
		{"in list", []Condition{{Field: "amount", Operator: "in", Value: []any{5, 25}}}, 2},
		{"in csv", []Condition{{Field: "amount", Operator: "in", Value: "5,15"}}, 2},
		{"eq null", []Condition{{Field: "note", Operator: "eq"}}, 1},
		{"ne null", []Condition{{Field: "note", Operator: "ne"}}, 2},
		{"nil value skipped", []Condition{{Field: "amount", Operator: "gt"}}, 3},
		{"not searchable", []Condition{{Field: "secret", Operator: "eq", Value: "x"}}, 3},
		{"virtual", []Condition{{Field: "calc", Operator: "eq", Value: 1}}, 3},
		{"unknown field", []Condition{{Field: "nope", Operator: "eq", Value: 1}}, 3},
		{"unsupported operator", []Condition{{Field: "amount", Operator: "regex", Value: 1}}, 3},
		{"audit field", []Condition{{Field: "id", Operator: "eq", Value: 2}}, 1},
		{"audit actor", []Condition{{Field: "createBy", Operator: "eq", Value: "ann"}}, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.engine.Query(context.Background(), f.req, "ORDER", QuerySpec{Conditions: tc.conds})
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Total)
			assert.Len(t, res.Rows, int(tc.want))
		})
	}
}

func TestQuery_RejectsBadValues(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Query(ctx, f.req, "ORDER", QuerySpec{Conditions: []Condition{{Field: "amount", Operator: "eq", Value: "1; DROP TABLE T_ORDER"}}})
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))

	_, err = f.engine.Query(ctx, f.req, "ORDER", QuerySpec{Conditions: []Condition{{Field: "amount", Operator: "in", Value: []any{}}}})
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))

	_, err = f.engine.Query(ctx, f.req, "ORDER", QuerySpec{Conditions: []Condition{{Field: "orderDate", Operator: "eq", Value: "yesterday"}}})
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))

	_, err = f.engine.Query(ctx, f.req, "MISSING", QuerySpec{})
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestQuery_HugePageNumber(t *testing.T) {
	f := newFixture(t)
	f.insert(t, "ORDER", map[string]any{"amount": 1})

	_, err := f.engine.Query(context.Background(), f.req, "ORDER", QuerySpec{PageNum: math.MaxInt, PageSize: 50})
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))

	res, err := f.engine.Query(context.Background(), f.req, "ORDER", QuerySpec{PageNum: math.MaxInt, PageSize: 0})
	require.NoError(t, err)
	assert.Len(t, res.Rows, 1)
}

func TestUpdate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.insert(t, "ORDER", map[string]any{"amount": 1, "note": "old"})

	f.req.User = &metadata.UserContext{ID: 8, Username: "bob"}
	require.NoError(t, f.engine.Update(ctx, f.req, "ORDER", id, map[string]any{
		"note":     "new",
		"id":       500,
		"createBy": "mallory",
		"deleted":  1,
	}))

	row, err := f.engine.GetByID(ctx, f.req, "ORDER", id)
	require.NoError(t, err)
	assert.Equal(t, "new", row["note"])
	assert.Equal(t, "ann", row["createBy"])
	assert.Equal(t, "bob", row["updateBy"])
	assert.Equal(t, int64(0), row["deleted"])

	err = f.engine.Update(ctx, f.req, "ORDER", 404, map[string]any{"note": "x"})
	assert.True(t, apperr.Is(err, apperr.NotFound))

	err = f.engine.Update(ctx, f.req, "ORDER", id, map[string]any{"bogus": "x", "calc": 1})
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))

	err = f.engine.Update(ctx, f.req, "ORDER", id, nil)
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))

	err = f.engine.Update(ctx, f.req, "ORDER", nil, map[string]any{"note": "x"})
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
}

func TestDelete_Cascades(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orderID := f.insert(t, "ORDER", map[string]any{"amount": 1})
	otherID := f.insert(t, "ORDER", map[string]any{"amount": 2})
	f.insert(t, "ORDER_LINE", map[string]any{"orderId": orderID, "qty": 1})
	f.insert(t, "ORDER_LINE", map[string]any{"orderId": orderID, "qty": 2})
	f.insert(t, "ORDER_LINE", map[string]any{"orderId": otherID, "qty": 3})

	require.NoError(t, f.engine.Delete(ctx, f.req, "ORDER", orderID))

	_, err := f.engine.GetByID(ctx, f.req, "ORDER", orderID)
	assert.True(t, apperr.Is(err, apperr.NotFound))

	lines, err := f.engine.QueryAll(ctx, f.req, "ORDER_LINE", "", "")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, otherID, lines[0]["orderId"])

	stamped, err := store.QueryScalar(ctx, f.store.DB, "SELECT COUNT(*) FROM T_ORDER_LINE WHERE DELETED = 1 AND UPDATE_BY = 'ann'")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stamped)

	err = f.engine.Delete(ctx, f.req, "ORDER", orderID)
	assert.True(t, apperr.Is(err, apperr.NotFound))

	err = f.engine.Update(ctx, f.req, "ORDER", orderID, map[string]any{"note": "x"})
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestPermission_NarrowsReadsAndWrites(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.insert(t, "ORDER", map[string]any{"amount": 1, "note": "n", "secret": "s"})

	req := f.req
	req.Permission = &permission.PagePermission{
		PageCode: "ORDER",
		Columns: map[string]permission.ColumnPermission{
			"secret": {Visible: false, Editable: true},
			"amount": {Visible: true, Editable: false},
		},
	}

	row, err := f.engine.GetByID(ctx, req, "ORDER", id)
	require.NoError(t, err)
	assert.NotContains(t, row, "secret")
	assert.Contains(t, row, "amount")

	require.NoError(t, f.engine.Update(ctx, req, "ORDER", id, map[string]any{"amount": 99, "secret": "leak", "note": "ok"}))

	row, err = f.engine.GetByID(ctx, f.req, "ORDER", id)
	require.NoError(t, err)
	assert.EqualValues(t, 1, row["amount"])
	assert.Equal(t, "s", row["secret"])
	assert.Equal(t, "ok", row["note"])

	err = f.engine.Update(ctx, req, "ORDER", id, map[string]any{"amount": 5})
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
}

type stubValidator struct {
	calls  []string
	groups []string
	fail   string
}

func (v *stubValidator) ValidateRow(_ context.Context, _ store.Querier, tableCode, group string, data map[string]any) error {
	v.calls = append(v.calls, tableCode)
	v.groups = append(v.groups, group)
	if note, _ := data["note"].(string); note != "" && note == v.fail {
		return apperr.RuleFailed("NOTE", "note rejected")
	}
	return nil
}

func TestSave_MasterAndDetails(t *testing.T) {
	v := &stubValidator{fail: "bad"}
	f := newFixture(t, WithValidator(v))
	ctx := context.Background()

	masterID, err := f.engine.Save(ctx, f.req, SaveRequest{
		Master: &RecordItem{Status: StatusAdded, Data: map[string]any{"_tableCode": "ORDER", "amount": 10}},
		Details: map[string][]RecordItem{
			"ORDER_LINE": {
				{Status: StatusAdded, Data: map[string]any{"qty": 1}},
				{Status: StatusAdded, Data: map[string]any{"qty": 2}},
				{Status: StatusUnchanged, Data: map[string]any{"qty": 3}},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ORDER", "ORDER_LINE", "ORDER_LINE"}, v.calls)
	// blank group: every validation rule of the table applies
	assert.Equal(t, []string{"", "", ""}, v.groups)

	lines, err := f.engine.Query(ctx, f.req, "ORDER_LINE", QuerySpec{
		Conditions: []Condition{{Field: "orderId", Operator: "eq", Value: masterID}},
		SortField:  "id",
	})
	require.NoError(t, err)
	require.Equal(t, int64(2), lines.Total)
	firstLine := lines.Rows[0]["id"]

	_, err = f.engine.Save(ctx, f.req, SaveRequest{
		TableCode: "ORDER",
		Master:    &RecordItem{ID: masterID, Status: StatusModified, Data: map[string]any{"note": "edited"}},
		Details: map[string][]RecordItem{
			"ORDER_LINE": {
				{ID: firstLine, Status: StatusDeleted},
				{Status: StatusAdded, Data: map[string]any{"qty": 9}},
			},
		},
	})
	require.NoError(t, err)

	master, err := f.engine.GetByID(ctx, f.req, "ORDER", masterID)
	require.NoError(t, err)
	assert.Equal(t, "edited", master["note"])

	lines, err = f.engine.Query(ctx, f.req, "ORDER_LINE", QuerySpec{
		Conditions: []Condition{{Field: "orderId", Operator: "eq", Value: masterID}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), lines.Total)

	_, err = f.engine.Save(ctx, f.req, SaveRequest{
		TableCode: "ORDER",
		Master:    &RecordItem{Status: StatusAdded, Data: map[string]any{"note": "bad"}},
	})
	assert.True(t, apperr.Is(err, apperr.RuleFailure))

	_, err = f.engine.Save(ctx, f.req, SaveRequest{TableCode: "ORDER", Master: &RecordItem{Status: "weird"}})
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))

	_, err = f.engine.Save(ctx, f.req, SaveRequest{Master: &RecordItem{Status: StatusAdded}})
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
}

func TestSaveMasterDetail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ids, err := f.engine.SaveMasterDetail(ctx, f.req, MasterDetailRequest{
		MasterTableCode: "ORDER",
		Master:          map[string]any{"tempId": "m1", "amount": 3},
		Details: []MasterDetailSet{{
			TableCode: "ORDER_LINE",
			Rows: []map[string]any{
				{"tempId": "d1", "masterTempId": "m1", "qty": 1},
				{"tempId": "d2", "masterTempId": "other", "qty": 2},
			},
		}},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotContains(t, ids, "d2")

	lines, err := f.engine.QueryAll(ctx, f.req, "ORDER_LINE", "", "")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, ids["m1"], lines[0]["orderId"])
	assert.Equal(t, ids["d1"], lines[0]["id"])
	assert.Equal(t, int64(1), lines[0]["qty"])

	_, err = f.engine.SaveMasterDetail(ctx, f.req, MasterDetailRequest{
		MasterTableCode: "ORDER",
		Master:          map[string]any{"tempId": "m2"},
		Details:         []MasterDetailSet{{TableCode: "ORDER_NOTE", Rows: []map[string]any{{"masterTempId": "m2"}}}},
	})
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))
}
