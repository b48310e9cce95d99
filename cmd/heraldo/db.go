package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zulandar/heraldo/internal/config"
	"github.com/zulandar/heraldo/internal/db"
	"github.com/zulandar/heraldo/internal/store"
	"gorm.io/gorm"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long:  "Connects to the configured database and migrates the tenant, send history and job tables.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBMigrate(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to heraldo config file")
	return cmd
}

func runDBMigrate(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables (%s)\n", len(db.AllModels()), cfg.Database.Driver)
	return nil
}

// connectFromConfig loads the config and opens the database it names.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to %s database: %w", cfg.Database.Driver, err)
	}
	return cfg, gormDB, nil
}

// storeFromConfig opens the store with the configured quota policy.
func storeFromConfig(cfg *config.Config, gormDB *gorm.DB) (*store.Store, error) {
	return store.New(gormDB, store.Options{
		DefaultDailyLimit: cfg.Quota.DefaultDailyLimit,
		CountFailures:     cfg.Quota.CountFailures == nil || *cfg.Quota.CountFailures,
		Location:          cfg.Quota.LoadLocation(),
	})
}
