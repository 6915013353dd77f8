package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"metatable/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate TABLE_CODE...",
	Short: "Create the physical table, view and ID source of registered tables",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		db, err := openStore(ctx)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()

		schema := store.NewSchemaStore(db)
		migrator := store.NewMigrator(db)
		for _, code := range args {
			td, err := schema.LoadTable(ctx, code)
			if err != nil {
				return err
			}
			if td == nil {
				return fmt.Errorf("table %s is not registered", code)
			}
			if err := migrator.Migrate(ctx, td); err != nil {
				return fmt.Errorf("migrate %s: %w", code, err)
			}
			log.Printf("Migrated %s (%s)", code, td.WriteTable())
		}
		return nil
	},
}
