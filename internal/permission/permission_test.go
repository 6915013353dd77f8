package permission

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metatable/internal/metadata"
	"metatable/internal/store"
	"metatable/internal/store/storetest"
)

func salaryAssignments() []Assignment {
	return []Assignment{
		{
			RoleCode:     "HR",
			PageCode:     "EMP",
			ButtonPolicy: `["view","edit"]`,
			ColumnPolicy: `{"salary":{"visible":true,"editable":false}}`,
			DataRules:    []metadata.DataRule{{FieldName: "dept", Operator: "eq", Value: "HR"}},
		},
		{
			RoleCode:     "AUDIT",
			PageCode:     "EMP",
			ButtonPolicy: `["view","export"]`,
			ColumnPolicy: `{"salary":{"visible":false,"editable":true}}`,
			DataRules:    []metadata.DataRule{{FieldName: "createBy", Operator: "eq", Value: "${username}", ValueType: "placeholder"}},
		},
	}
}

func TestMerge_OrsColumnFlags(t *testing.T) {
	m := NewMerger("ADMIN")
	ctx := m.Merge(1, []string{"HR", "AUDIT"}, salaryAssignments())

	page := ctx.Page("EMP")
	assert.Equal(t, ColumnPermission{Visible: true, Editable: true}, page.Column("salary"))
	assert.Equal(t, []string{"edit", "export", "view"}, page.Buttons)
	assert.Len(t, page.DataRules, 2)
}

func TestMerge_CommutativeAndIdempotent(t *testing.T) {
	m := NewMerger("ADMIN")
	as := salaryAssignments()
	reversed := []Assignment{as[1], as[0]}

	ab := m.Merge(1, []string{"HR", "AUDIT"}, as)
	ba := m.Merge(1, []string{"AUDIT", "HR"}, reversed)
	assert.Equal(t, ab.Page("EMP"), ba.Page("EMP"))

	once := m.Merge(1, []string{"HR"}, as[:1])
	twice := m.Merge(1, []string{"HR", "HR"}, []Assignment{as[0], as[0]})
	assert.Equal(t, once.Page("EMP"), twice.Page("EMP"))
}

func TestMerge_IgnoresRolesNotHeld(t *testing.T) {
	ctx := NewMerger("ADMIN").Merge(1, []string{"hr"}, salaryAssignments())
	page := ctx.Page("EMP")
	assert.Equal(t, []string{"edit", "view"}, page.Buttons)
	assert.Equal(t, ColumnPermission{Visible: true, Editable: false}, page.Column("salary"))
}

func TestMerge_SuperAdminBypass(t *testing.T) {
	ctx := NewMerger("ADMIN").Merge(1, []string{"HR", "admin"}, salaryAssignments())
	require.True(t, ctx.SuperAdmin)

	page := ctx.Page("ANY")
	assert.Equal(t, []string{AllButtons}, page.Buttons)
	assert.Empty(t, page.Columns)
	assert.Empty(t, page.DataRules)
}

func TestMerge_MalformedPolicyFallsBackToEmpty(t *testing.T) {
	ctx := NewMerger("").Merge(1, []string{"R"}, []Assignment{{
		RoleCode:     "R",
		PageCode:     "P",
		ButtonPolicy: `[not json`,
		ColumnPolicy: `{"a":`,
	}})
	page := ctx.Page("P")
	assert.Empty(t, page.Buttons)
	assert.Equal(t, ColumnPermission{Visible: true, Editable: true}, page.Column("a"))
}

func TestParseButtonPolicy(t *testing.T) {
	p, err := ParseButtonPolicy("*")
	require.NoError(t, err)
	assert.Equal(t, ButtonPolicy{"*"}, p)

	p, err = ParseButtonPolicy(`"*"`)
	require.NoError(t, err)
	assert.Equal(t, ButtonPolicy{"*"}, p)

	p, err = ParseButtonPolicy(`["add", " ", "edit"]`)
	require.NoError(t, err)
	assert.Equal(t, ButtonPolicy{"add", "edit"}, p)

	_, err = ParseButtonPolicy(`{}`)
	assert.Error(t, err)
}

func TestParseColumnPolicy_MissingFlagsGrant(t *testing.T) {
	p, err := ParseColumnPolicy(`{"amount":{"editable":false}}`)
	require.NoError(t, err)
	assert.Equal(t, ColumnPermission{Visible: true, Editable: false}, p["amount"])
}

func TestApply(t *testing.T) {
	cols := []*metadata.ColumnDescriptor{
		{FieldName: "name", Editable: true},
		{FieldName: "salary", Editable: true},
		{FieldName: "code", Editable: false},
	}
	perm := &PagePermission{Columns: map[string]ColumnPermission{
		"salary": {Visible: false, Editable: true},
		"name":   {Visible: true, Editable: false},
		"code":   {Visible: true, Editable: true},
	}}

	out := Apply(cols, perm)
	require.Len(t, out, 2)
	assert.Equal(t, "name", out[0].FieldName)
	assert.False(t, out[0].Editable)
	assert.Equal(t, "code", out[1].FieldName)
	assert.False(t, out[1].Editable, "permission cannot grant beyond the column")
	assert.True(t, cols[0].Editable, "input must not change")

	assert.Equal(t, cols, Apply(cols, nil))
}

func TestResolveDataRules(t *testing.T) {
	rules := []metadata.DataRule{
		{FieldName: "createBy", Operator: "eq", Value: "${username}", ValueType: "placeholder"},
		{FieldName: "ownerId", Operator: "eq", Value: "${userId}", ValueType: "placeholder"},
		{FieldName: "note", Operator: "eq", Value: "${username}", ValueType: "literal"},
	}
	out := ResolveDataRules(rules, &metadata.UserContext{ID: 7, Username: "ann"})
	assert.Equal(t, "ann", out[0].Value)
	assert.Equal(t, "7", out[1].Value)
	assert.Equal(t, "${username}", out[2].Value)
	assert.Equal(t, "${username}", rules[0].Value)
}

func TestService_Build(t *testing.T) {
	s := storetest.NewSQLite(t)
	ctx := context.Background()
	ss := store.NewSchemaStore(s)

	visible := false
	require.NoError(t, ss.SaveRole(ctx, s.DB, &metadata.RoleSeed{
		Code:  "CLERK",
		Users: []int64{7},
		Pages: []*metadata.PageSeed{{
			Page:      "ORDER",
			Buttons:   []string{"add"},
			Columns:   map[string]metadata.ColumnAccess{"amount": {Visible: &visible}},
			DataRules: []metadata.DataRule{{FieldName: "createBy", Operator: "eq", Value: "${username}", ValueType: "placeholder"}},
		}},
	}))
	require.NoError(t, ss.SaveRole(ctx, s.DB, &metadata.RoleSeed{
		Code:  "VIEWER",
		Pages: []*metadata.PageSeed{{Page: "ORDER", Buttons: []string{"view"}}},
	}))

	svc := NewService(s.Dialect, NewMerger("ADMIN"))

	pc, err := svc.Build(ctx, s.DB, &metadata.UserContext{ID: 7, Username: "ann", Roles: []string{"viewer"}})
	require.NoError(t, err)
	page := pc.Page("ORDER")
	assert.Equal(t, []string{"add", "view"}, page.Buttons)
	assert.False(t, page.Column("amount").Visible)
	require.Len(t, page.DataRules, 1)
	assert.Equal(t, "createBy", page.DataRules[0].FieldName)

	admin, err := svc.Build(ctx, s.DB, &metadata.UserContext{ID: 99, Roles: []string{"ADMIN"}})
	require.NoError(t, err)
	assert.True(t, admin.SuperAdmin)

	nobody, err := svc.Build(ctx, s.DB, &metadata.UserContext{ID: 100})
	require.NoError(t, err)
	assert.Empty(t, nobody.Page("ORDER").Buttons)
}
