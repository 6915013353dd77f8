// Package storetest opens throwaway SQLite stores for tests.
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"metatable/internal/config"
	"metatable/internal/metadata"
	"metatable/internal/store"
)

// NewSQLite returns a bootstrapped store backed by a file in t.TempDir().
func NewSQLite(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "test"})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	require.NoError(t, s.Bootstrap(ctx, "ADMIN"))
	return s
}

// Install saves each table to the schema store and migrates its physical objects.
func Install(t *testing.T, s *store.Store, tables ...*metadata.TableDescriptor) {
	t.Helper()
	ctx := context.Background()
	schema := store.NewSchemaStore(s)
	migrator := store.NewMigrator(s)
	for _, td := range tables {
		require.NoError(t, schema.SaveTable(ctx, s.DB, td))
		require.NoError(t, migrator.Migrate(ctx, td))
	}
}
