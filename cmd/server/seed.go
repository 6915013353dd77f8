package main

import (
	"context"
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"metatable/internal/metadata"
	"metatable/internal/store"
)

var skipMigrate bool

var seedCmd = &cobra.Command{
	Use:   "seed FILE",
	Short: "Import tables, rules, roles and reference data from a YAML seed file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		seed, err := metadata.LoadSeedFile(args[0])
		if err != nil {
			return err
		}

		db, err := openStore(ctx)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()

		if err := importSeed(ctx, db, seed); err != nil {
			return err
		}
		log.Printf("Seeded %d tables and %d roles from %s", len(seed.Tables), len(seed.Roles), args[0])

		if skipMigrate {
			return nil
		}
		migrator := store.NewMigrator(db)
		for _, ts := range seed.Tables {
			if err := migrator.Migrate(ctx, &ts.TableDescriptor); err != nil {
				return fmt.Errorf("migrate %s: %w", ts.Code, err)
			}
		}
		return nil
	},
}

func init() {
	seedCmd.Flags().BoolVar(&skipMigrate, "skip-migrate", false, "Only register metadata, do not create physical tables")
}

// importSeed writes every entry of seed in one transaction.
func importSeed(ctx context.Context, db *store.Store, seed *metadata.Seed) error {
	tx, err := db.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	schema := store.NewSchemaStore(db)
	for _, ts := range seed.Tables {
		if err := schema.SaveTable(ctx, tx, &ts.TableDescriptor); err != nil {
			return err
		}
	}
	for _, rs := range seed.Roles {
		if err := schema.SaveRole(ctx, tx, rs); err != nil {
			return err
		}
	}
	for _, ds := range seed.Dicts {
		if err := schema.SaveDict(ctx, tx, ds); err != nil {
			return err
		}
	}
	for _, lc := range seed.Lookups {
		if err := schema.SaveLookup(ctx, tx, lc); err != nil {
			return err
		}
	}
	for _, pr := range seed.PageRules {
		if err := schema.SavePageRule(ctx, tx, pr); err != nil {
			return err
		}
	}
	return tx.Commit()
}
