package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metatable/internal/metadata"
	"metatable/internal/store"
	"metatable/internal/store/storetest"
)

func TestSchemaStore_DictItems(t *testing.T) {
	s := storetest.NewSQLite(t)
	ctx := context.Background()
	schema := store.NewSchemaStore(s)

	require.NoError(t, schema.SaveDict(ctx, s.DB, &metadata.DictSeed{
		Code: "ORDER_STATUS",
		Items: []metadata.DictItem{
			{Code: "DONE", Name: "Done", Value: "2", SortOrder: 20},
			{Code: "NEW", Name: "New", Value: "1", SortOrder: 10, ExtraConfig: `{"color":"blue"}`},
		},
	}))
	_, err := s.DB.ExecContext(ctx, "INSERT INTO _dict_items (dict_code, item_code, sort_order, deleted) VALUES ('ORDER_STATUS', 'GONE', 1, 1)")
	require.NoError(t, err)

	items, err := schema.DictItems(ctx, "ORDER_STATUS")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "NEW", items[0].Code)
	assert.Equal(t, `{"color":"blue"}`, items[0].ExtraConfig)
	assert.Equal(t, "DONE", items[1].Code)

	unknown, err := schema.DictItems(ctx, "NOPE")
	require.NoError(t, err)
	assert.NotNil(t, unknown)
	assert.Empty(t, unknown)
}

func TestSchemaStore_LookupConfig(t *testing.T) {
	s := storetest.NewSQLite(t)
	ctx := context.Background()
	schema := store.NewSchemaStore(s)
	width := 120

	require.NoError(t, schema.SaveLookup(ctx, s.DB, &metadata.LookupConfig{
		Code:           "CUSTOMER",
		Name:           "Customers",
		DataSource:     "V_CUSTOMER",
		DisplayColumns: []metadata.LookupColumn{{Field: "name", Header: "Name", Width: &width}, {Field: "city"}},
		SearchColumns:  []string{"name", "city"},
		ValueField:     "id",
		LabelField:     "name",
	}))

	lc, err := schema.LookupConfig(ctx, "CUSTOMER")
	require.NoError(t, err)
	require.NotNil(t, lc)
	assert.Equal(t, "V_CUSTOMER", lc.DataSource)
	require.Len(t, lc.DisplayColumns, 2)
	assert.Equal(t, 120, *lc.DisplayColumns[0].Width)
	assert.Nil(t, lc.DisplayColumns[1].Width)
	assert.Equal(t, []string{"name", "city"}, lc.SearchColumns)

	missing, err := schema.LookupConfig(ctx, "NOPE")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestSchemaStore_LookupConfigMalformedColumns(t *testing.T) {
	s := storetest.NewSQLite(t)
	ctx := context.Background()
	_, err := s.DB.ExecContext(ctx, `INSERT INTO _lookup_configs (lookup_code, data_source, display_columns, search_columns)
		VALUES ('BROKEN', 'V_X', '[{"field":', 'not json')`)
	require.NoError(t, err)

	lc, err := store.NewSchemaStore(s).LookupConfig(ctx, "BROKEN")
	require.NoError(t, err)
	require.NotNil(t, lc)
	assert.Empty(t, lc.DisplayColumns)
	assert.Empty(t, lc.SearchColumns)
}

func TestSchemaStore_PageRules(t *testing.T) {
	s := storetest.NewSQLite(t)
	ctx := context.Background()
	schema := store.NewSchemaStore(s)

	for _, pr := range []*metadata.PageRule{
		{PageCode: "ORDER", ComponentKey: "grid", RuleType: metadata.RuleTypeContextMenu, Rules: `{"items":[]}`, SortOrder: 2},
		{PageCode: "ORDER", ComponentKey: "toolbar", RuleType: metadata.RuleTypeToolbar, Rules: `{"items":[]}`, SortOrder: 1},
		{PageCode: "ORDER", ComponentKey: "form", RuleType: "VALIDATION", Rules: `{}`},
		{PageCode: "OTHER", ComponentKey: "toolbar", RuleType: metadata.RuleTypeToolbar},
	} {
		require.NoError(t, schema.SavePageRule(ctx, s.DB, pr))
	}

	all, err := schema.PageRules(ctx, s.DB, "ORDER", "")
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "toolbar", all[0].ComponentKey)
	assert.Equal(t, "grid", all[1].ComponentKey)

	grid, err := schema.PageRules(ctx, s.DB, "ORDER", "grid")
	require.NoError(t, err)
	require.Len(t, grid, 1)
	assert.Equal(t, metadata.RuleTypeContextMenu, grid[0].RuleType)

	// Saving again replaces the component's rule.
	require.NoError(t, schema.SavePageRule(ctx, s.DB, &metadata.PageRule{PageCode: "ORDER", ComponentKey: "grid", RuleType: metadata.RuleTypeContextMenu}))
	grid, err = schema.PageRules(ctx, s.DB, "ORDER", "grid")
	require.NoError(t, err)
	assert.Len(t, grid, 1)
}
