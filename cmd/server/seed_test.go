package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"metatable/internal/metadata"
	"metatable/internal/store"
	"metatable/internal/store/storetest"
)

const seedDoc = `
tables:
  - code: CUSTOMER
    targetTable: T_CUSTOMER
    sequence: SEQ_CUSTOMER
    columns:
      - field: name
        column: NAME
        type: string
    validationRules:
      - code: NAME_SET
        sql: SELECT 1
        condition: "> 0"
roles:
  - code: SALES
    users: [3]
    pages:
      - page: CUSTOMER
        buttons: [add, edit]
dicts:
  - code: REGION
    items:
      - {code: N, name: North, value: "1"}
      - {code: S, name: South, value: "2"}
lookups:
  - code: CUSTOMER
    dataSource: T_CUSTOMER
    searchColumns: [name]
pageRules:
  - page: CUSTOMER
    component: toolbar
    type: TOOLBAR
    items:
      - action: rename
        sql: "UPDATE T_CUSTOMER SET NAME = :name WHERE ID = :id"
`

func TestImportSeed(t *testing.T) {
	ctx := context.Background()
	s := storetest.NewSQLite(t)

	seed, err := metadata.ParseSeed([]byte(seedDoc))
	require.NoError(t, err)
	require.NoError(t, importSeed(ctx, s, seed))

	td, err := store.NewSchemaStore(s).LoadTable(ctx, "CUSTOMER")
	require.NoError(t, err)
	require.NotNil(t, td)
	assert.Equal(t, "T_CUSTOMER", td.TargetTable)
	require.Len(t, td.ValidationRuleList(), 1)
	assert.Equal(t, "NAME_SET", td.ValidationRuleList()[0].Code)

	n, err := store.QueryScalar(ctx, s.DB, "SELECT COUNT(*) FROM _user_roles WHERE user_id = 3")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	schema := store.NewSchemaStore(s)
	items, err := schema.DictItems(ctx, "REGION")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "S", items[1].Code)
	assert.Equal(t, 2, items[1].SortOrder)

	lc, err := schema.LookupConfig(ctx, "CUSTOMER")
	require.NoError(t, err)
	require.NotNil(t, lc)
	assert.Equal(t, []string{"name"}, lc.SearchColumns)

	pageRules, err := schema.PageRules(ctx, s.DB, "CUSTOMER", "")
	require.NoError(t, err)
	require.Len(t, pageRules, 1)
	_, ok, err := pageRules[0].FindAction("rename")
	require.NoError(t, err)
	assert.True(t, ok)

	// a second import replaces rather than duplicates
	require.NoError(t, importSeed(ctx, s, seed))
	items, err = schema.DictItems(ctx, "REGION")
	require.NoError(t, err)
	assert.Len(t, items, 2)
}
