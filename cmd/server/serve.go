package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/spf13/cobra"

	"metatable/internal/api"
	"metatable/internal/engine"
	"metatable/internal/instrument"
	"metatable/internal/metadata"
	"metatable/internal/permission"
	"metatable/internal/rules"
	"metatable/internal/sqlfmt"
	"metatable/internal/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		// 1. Connect and bootstrap system tables
		db, err := openStore(ctx)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer db.Close()
		log.Printf("Database connected (driver: %s, db: %s)", db.Dialect.Name(), cfg.Database.Name)

		// 2. Metadata catalog
		schema := store.NewSchemaStore(db)
		catalog := metadata.NewCatalog(schema)

		// 3. Rule engine and data engine
		formatter := sqlfmt.New(db.Dialect.TimestampExpr)
		re := rules.New(catalog, formatter, rules.NewDefaultRegistry(db.Dialect, formatter, rules.NewNativeExecutor()),
			rules.WithPageRules(schema))
		data := engine.New(catalog, db.Dialect,
			engine.WithDefaultActor(cfg.Engine.DefaultActor),
			engine.WithValidator(re))

		// 4. Permissions
		perms := permission.NewService(db.Dialect, permission.NewMerger(cfg.Engine.SuperAdminRole))

		// 5. Fiber app
		app := api.NewApp(api.NewHandler(db, data, re, perms),
			recover.New(recover.Config{EnableStackTrace: true}),
			logger.New(logger.Config{Format: "${time} ${status} ${method} ${path} ${latency}\n"}),
			instrument.Middleware(cfg.Instrumentation),
		)

		go func() {
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
			<-quit
			log.Println("Shutting down")
			if err := app.Shutdown(); err != nil {
				log.Printf("ERROR: shutdown: %v", err)
			}
		}()

		// 6. Start server
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		log.Printf("Starting server on %s", addr)
		return app.Listen(addr)
	},
}
