package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/config"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/repository"
	"github.com/egannguyen/go-kafka-ecommerce/storefront/internal/repository/sqlstore"
)

// initDB opens the configured database and applies the schema.
func initDB(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, repository.Store, error) {
	db, err := sqlstore.Open(ctx, cfg.Driver, cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	if err := sqlstore.Migrate(ctx, db, cfg.Driver); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	slog.Info("Database ready", "driver", cfg.Driver)
	return db, sqlstore.NewStore(db), nil
}

func migrateCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			db, _, err := initDB(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			return db.Close()
		},
	}
}

func seedCmd(load loadFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the demo catalog and address",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			db, store, err := initDB(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer db.Close()
			return sqlstore.Seed(cmd.Context(), store)
		},
	}
}
