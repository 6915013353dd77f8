package main

import (
	"context"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"metatable/internal/config"
	"metatable/internal/store"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "metatable",
	Short:         "Metadata-driven table service",
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		if cfg, err = config.Load(); err != nil {
			return err
		}
		setupLogging(cfg.Log)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd, migrateCmd, seedCmd)
}

// setupLogging sends the standard logger to stderr and, when a file is
// configured, to a rotated log file as well.
func setupLogging(lc config.LogConfig) {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if lc.File == "" {
		return
	}
	log.SetOutput(io.MultiWriter(os.Stderr, &lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSizeMB, // megabytes
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAgeDays, // days
	}))
}

// openStore connects and makes sure the system tables exist.
func openStore(ctx context.Context) (*store.Store, error) {
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := db.Bootstrap(ctx, cfg.Engine.SuperAdminRole); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}
