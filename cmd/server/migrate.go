package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iliyamo/campus-shuttle/internal/config"
	"github.com/iliyamo/campus-shuttle/internal/database"
	"github.com/iliyamo/campus-shuttle/internal/logger"
	"github.com/iliyamo/campus-shuttle/internal/store/mysqlstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the account and document tables when missing",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := config.Load()
		logger.Setup(os.Stdout, cfg.Env, "campus-shuttle")
		ctx := cmd.Context()

		db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer db.Close()
		if err := database.EnsureSchema(ctx, db); err != nil {
			return err
		}
		if err := mysqlstore.New(db, nil).EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure documents schema: %w", err)
		}
		logger.Info(ctx, "schema ready")
		return nil
	},
}
