package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/chatmancer/chatmancer/internal/config"
	"github.com/chatmancer/chatmancer/internal/db"
)

func newMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the backend database tables",
		Long: `Prepares the reference backend's database.

For MySQL the database is created first if it does not exist. SQLite
creates its file on first use. Safe to run multiple times.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}
			_, err = runMigrate(cmd.OutOrStdout(), cfg)
			return err
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

// runMigrate connects to the configured database and migrates every table.
func runMigrate(out io.Writer, cfg *config.Config) (*gorm.DB, error) {
	dbCfg := cfg.Backend.Database
	if err := db.EnsureDatabase(dbCfg); err != nil {
		return nil, err
	}
	gormDB, err := db.Connect(dbCfg)
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return nil, err
	}
	fmt.Fprintf(out, "Migrated %d tables (%s)\n", len(db.AllModels()), dbCfg.Driver)
	return gormDB, nil
}
