package rules

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metatable/internal/apperr"
	"metatable/internal/metadata"
	"metatable/internal/sqlfmt"
	"metatable/internal/store"
	"metatable/internal/store/storetest"
)

func intp(i int) *int    { return &i }
func boolp(b bool) *bool { return &b }

type countingQuerier struct {
	store.Querier
	queries int
}

func (c *countingQuerier) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	c.queries++
	return c.Querier.QueryContext(ctx, query, args...)
}

func orderTable(t *testing.T, validation []metadata.ValidationRule, actions []metadata.ActionRule) *metadata.TableDescriptor {
	t.Helper()
	td := &metadata.TableDescriptor{
		Code:         "ORDER",
		TargetTable:  "T_ORDER",
		SequenceName: "SEQ_ORDER",
		Columns: []*metadata.ColumnDescriptor{
			{FieldName: "amount", ColumnName: "AMOUNT", DataType: "number"},
			{FieldName: "note", ColumnName: "NOTE", DataType: "string"},
		},
	}
	if validation != nil {
		doc, err := metadata.EncodeRules(validation)
		require.NoError(t, err)
		td.ValidationRules = doc
	}
	if actions != nil {
		doc, err := metadata.EncodeRules(actions)
		require.NoError(t, err)
		td.ActionRules = doc
	}
	return td
}

func setup(t *testing.T, td *metadata.TableDescriptor) (*store.Store, *Engine, *NativeExecutor) {
	t.Helper()
	s := storetest.NewSQLite(t)
	storetest.Install(t, s, td)
	catalog := metadata.NewCatalog(store.NewSchemaStore(s))
	f := sqlfmt.New(s.Dialect.TimestampExpr)
	native := NewNativeExecutor()
	return s, New(catalog, f, NewDefaultRegistry(s.Dialect, f, native)), native
}

func TestValidate_StopsAtFirstFailure(t *testing.T) {
	td := orderTable(t, []metadata.ValidationRule{
		{Order: intp(3), Code: "EMPTY", SQL: "SELECT COUNT(*) FROM T_ORDER", Condition: "== 0"},
		{Order: intp(1), Code: "NON_NEGATIVE", SQL: "SELECT :amount", Condition: "result >= 0", Message: "amount must not be negative"},
		{Order: intp(2), Code: "DOC_ONLY", Message: "documentation only"},
		{Order: intp(2), Code: "SMALL", SQL: "SELECT :amount", Condition: "< 1000"},
	}, nil)
	s, eng, _ := setup(t, td)
	ctx := context.Background()

	counter := &countingQuerier{Querier: s.DB}
	report, err := eng.Validate(ctx, counter, "ORDER", "", map[string]any{"amount": -5})
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Equal(t, "amount must not be negative", report.Message)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "NON_NEGATIVE", report.Results[0].Code)
	assert.Equal(t, 1, counter.queries)

	counter = &countingQuerier{Querier: s.DB}
	report, err = eng.Validate(ctx, counter, "ORDER", "", map[string]any{"amount": 5})
	require.NoError(t, err)
	assert.True(t, report.Passed)
	codes := make([]string, len(report.Results))
	for i, r := range report.Results {
		codes[i] = r.Code
	}
	assert.Equal(t, []string{"NON_NEGATIVE", "DOC_ONLY", "SMALL", "EMPTY"}, codes)
	assert.Equal(t, 3, counter.queries)
}

func TestValidate_GroupFilter(t *testing.T) {
	td := orderTable(t, []metadata.ValidationRule{
		{Code: "SUBMIT_ONLY", Group: "submit", SQL: "SELECT 1", Condition: "== 0", Message: "no submit"},
		{Code: "ALWAYS", SQL: "SELECT 0", Condition: "== 0"},
	}, nil)
	s, eng, _ := setup(t, td)
	ctx := context.Background()

	report, err := eng.Validate(ctx, s.DB, "ORDER", "save", nil)
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Len(t, report.Results, 1)

	report, err = eng.Validate(ctx, s.DB, "ORDER", "", nil)
	require.NoError(t, err)
	assert.False(t, report.Passed)
	assert.Equal(t, "no submit", report.Message)
}

func TestValidate_MalformedDocumentPasses(t *testing.T) {
	td := orderTable(t, nil, nil)
	td.ValidationRules = `[{"code": "broken"`
	s, eng, _ := setup(t, td)

	report, err := eng.Validate(context.Background(), s.DB, "ORDER", "", nil)
	require.NoError(t, err)
	assert.True(t, report.Passed)
	assert.Empty(t, report.Results)
}

func TestValidate_UnknownTable(t *testing.T) {
	s, eng, _ := setup(t, orderTable(t, nil, nil))
	_, err := eng.Validate(context.Background(), s.DB, "NOPE", "", nil)
	assert.True(t, apperr.Is(err, apperr.NotFound))
}

func TestValidateRow_ReturnsRuleFailure(t *testing.T) {
	td := orderTable(t, []metadata.ValidationRule{
		{Code: "POSITIVE", SQL: "SELECT :amount", Condition: "> 0", Message: "amount must be positive"},
	}, nil)
	s, eng, _ := setup(t, td)

	err := eng.ValidateRow(context.Background(), s.DB, "ORDER", "", map[string]any{"amount": 0})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.RuleFailure))
	assert.Equal(t, "amount must be positive", err.Error())

	assert.NoError(t, eng.ValidateRow(context.Background(), s.DB, "ORDER", "", map[string]any{"amount": 3}))
}

func TestEvaluate_ConditionForms(t *testing.T) {
	eng := &Engine{}
	cases := []struct {
		cond  string
		count int64
		want  bool
	}{
		{"== 0", 0, true},
		{"== 0", 2, false},
		{"!= 0", 2, true},
		{"result > 1", 2, true},
		{">= 3", 2, false},
		{"<= 2", 2, true},
		{"< 2", 2, false},
		{"result >= 1 && result < 5", 3, true},
	}
	for _, tc := range cases {
		got, ok := eng.evaluate(tc.cond, tc.count)
		require.True(t, ok, tc.cond)
		assert.Equal(t, tc.want, got, "%s with %d", tc.cond, tc.count)
	}

	_, ok := eng.evaluate("result ~ 3", 1)
	assert.False(t, ok)
}

func TestExecuteActions_OrderAndVars(t *testing.T) {
	td := orderTable(t, nil, []metadata.ActionRule{
		{Order: intp(2), Code: "B", Type: "native", Handler: "second"},
		{Order: intp(1), Code: "A", Type: "java", Handler: "first"},
		{Order: intp(0), Code: "OFF", Type: "native", Handler: "first", Enabled: boolp(false)},
	})
	s, eng, native := setup(t, td)

	native.RegisterHandler("first", func(_ context.Context, ac *ActionContext) (*ActionResult, error) {
		return &ActionResult{Vars: map[string]any{"total": 42}}, nil
	})
	var seen any
	native.RegisterHandler("second", func(_ context.Context, ac *ActionContext) (*ActionResult, error) {
		seen = ac.Vars["total"]
		assert.Equal(t, "B", ac.ActionCode)
		return nil, nil
	})

	report, err := eng.ExecuteActions(context.Background(), s.DB, "ORDER", "", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, report.ExecutedActions)
	assert.Equal(t, 42, seen)
	assert.Equal(t, 42, report.Vars["total"])
}

func TestExecuteActions_ExplicitCodesBypassGroup(t *testing.T) {
	var ran []string
	td := orderTable(t, nil, []metadata.ActionRule{
		{Code: "APPROVE", Group: "approve", Type: "native", Handler: "h"},
		{Name: "notify", Group: "other", Type: "native", Handler: "h"},
		{Code: "SKIP", Group: "approve", Type: "native", Handler: "h"},
	})
	s, eng, native := setup(t, td)
	native.RegisterHandler("h", func(_ context.Context, ac *ActionContext) (*ActionResult, error) {
		ran = append(ran, ac.ActionCode)
		return nil, nil
	})

	report, err := eng.ExecuteActions(context.Background(), s.DB, "ORDER", "approve", []string{"notify", " "}, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"notify"}, report.ExecutedActions)
	assert.Equal(t, []string{"notify"}, ran)

	ran = nil
	report, err = eng.ExecuteActions(context.Background(), s.DB, "ORDER", "approve", nil, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"APPROVE", "SKIP"}, report.ExecutedActions)
}

func TestExecuteActions_SQL(t *testing.T) {
	td := orderTable(t, nil, []metadata.ActionRule{
		{Code: "TOUCH", Type: "sql", SQL: "UPDATE T_ORDER SET NOTE = :note WHERE ID = :id"},
	})
	s, eng, _ := setup(t, td)
	ctx := context.Background()
	_, err := s.DB.ExecContext(ctx, "INSERT INTO T_ORDER (ID, DELETED, AMOUNT, NOTE) VALUES (1, 0, 10, 'old')")
	require.NoError(t, err)

	_, err = eng.ExecuteActions(ctx, s.DB, "ORDER", "", nil, map[string]any{"id": 1, "note": "it's new"}, nil)
	require.NoError(t, err)

	note, err := store.QueryScalar(ctx, s.DB, "SELECT NOTE FROM T_ORDER WHERE ID = 1")
	require.NoError(t, err)
	assert.Equal(t, "it's new", note)
}

func TestExecuteActions_Failures(t *testing.T) {
	tests := []struct {
		name string
		rule metadata.ActionRule
		kind apperr.Kind
	}{
		{"unknown type", metadata.ActionRule{Code: "X", Type: "groovy"}, apperr.InvalidArgument},
		{"blank type", metadata.ActionRule{Code: "X"}, apperr.InvalidArgument},
		{"sql without sql", metadata.ActionRule{Code: "X", Type: "sql"}, apperr.InvalidArgument},
		{"native without target", metadata.ActionRule{Code: "X", Type: "java"}, apperr.InvalidArgument},
		{"missing handler", metadata.ActionRule{Code: "X", Type: "java", Handler: "nope"}, apperr.InvalidArgument},
		{"malformed method", metadata.ActionRule{Code: "X", Type: "java", Method: "bean."}, apperr.InvalidArgument},
		{"missing method", metadata.ActionRule{Code: "X", Type: "java", Method: "orders.recalc"}, apperr.InvalidArgument},
		{"failing method", metadata.ActionRule{Code: "X", Type: "java", Method: "orders.fail"}, apperr.ExecutionFailure},
		{"proc without name", metadata.ActionRule{Code: "X", Type: "proc"}, apperr.InvalidArgument},
		{"proc bad type", metadata.ActionRule{Code: "X", Type: "proc", Procedure: "p_x",
			Params: []metadata.ProcedureParam{{Name: "a", JdbcType: "BLOBBY"}}}, apperr.InvalidArgument},
		{"proc unsupported by dialect", metadata.ActionRule{Code: "X", Type: "proc", Procedure: "p_x"}, apperr.ExecutionFailure},
		{"bad sql", metadata.ActionRule{Code: "X", Type: "sql", SQL: "UPDATE NOPE SET A = 1"}, apperr.ExecutionFailure},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, eng, native := setup(t, orderTable(t, nil, []metadata.ActionRule{tc.rule}))
			native.RegisterMethod("orders", "fail", func(context.Context, *ActionContext) (*ActionResult, error) {
				return nil, errors.New("boom")
			})
			_, err := eng.ExecuteActions(context.Background(), s.DB, "ORDER", "", nil, nil, nil)
			require.Error(t, err)
			assert.Equal(t, tc.kind, apperr.KindOf(err), err.Error())
		})
	}
}

func TestNativeExecutor_Method(t *testing.T) {
	native := NewNativeExecutor()
	native.RegisterMethod("orders", "recalc", func(_ context.Context, ac *ActionContext) (*ActionResult, error) {
		ac.Data["amount"] = 1
		return &ActionResult{Message: "done"}, nil
	})
	ac := &ActionContext{Data: map[string]any{}, Vars: map[string]any{}}
	res, err := native.Execute(context.Background(), metadata.ActionRule{Code: "R", Method: "orders.recalc"}, ac)
	require.NoError(t, err)
	assert.Equal(t, "done", res.Message)
	assert.Equal(t, 1, ac.Data["amount"])
}

func TestProcBindingPaths(t *testing.T) {
	ac := &ActionContext{
		Data: map[string]any{"amount": 10, "code": "A"},
		Vars: map[string]any{"rate": 0.5},
	}
	assert.Equal(t, 10, resolveSource("data.amount", ac))
	assert.Equal(t, 0.5, resolveSource("vars.rate", ac))
	assert.Equal(t, "A", resolveSource("code", ac))
	assert.Nil(t, resolveSource("", ac))

	assert.Equal(t, "total", applyTarget("data.total", 99, ac))
	assert.Equal(t, 99, ac.Data["total"])
	assert.Equal(t, "flag", applyTarget("vars.flag", true, ac))
	assert.Equal(t, true, ac.Vars["flag"])
	assert.Equal(t, "bare", applyTarget("bare", "x", ac))
	assert.Equal(t, "x", ac.Vars["bare"])
	assert.Equal(t, "", applyTarget(" ", "x", ac))
}

func TestExecuteFlow(t *testing.T) {
	var ran int
	td := orderTable(t,
		[]metadata.ValidationRule{{Code: "POSITIVE", Group: "submit", SQL: "SELECT :amount", Condition: "> 0", Message: "amount must be positive"}},
		[]metadata.ActionRule{{Code: "SUBMIT", Group: "submit", Type: "native", Handler: "submit"}},
	)
	s, eng, native := setup(t, td)
	native.RegisterHandler("submit", func(context.Context, *ActionContext) (*ActionResult, error) {
		ran++
		return nil, nil
	})
	ctx := context.Background()

	_, err := eng.ExecuteFlow(ctx, s.DB, "ORDER", FlowRequest{})
	assert.True(t, apperr.Is(err, apperr.InvalidArgument))

	_, err = eng.ExecuteFlow(ctx, s.DB, "ORDER", FlowRequest{Group: "submit", ValidateGroup: "submit", Data: map[string]any{"amount": -1}})
	assert.True(t, apperr.Is(err, apperr.RuleFailure))
	assert.Equal(t, 0, ran)

	report, err := eng.ExecuteFlow(ctx, s.DB, "ORDER", FlowRequest{Group: "submit", Validate: true, Data: map[string]any{"amount": 1}})
	require.NoError(t, err)
	assert.Equal(t, []string{"SUBMIT"}, report.ExecutedActions)
	assert.Equal(t, 1, ran)
}
