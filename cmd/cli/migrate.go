package cli

import (
	"fmt"

	"logitrack/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the kv_entries table",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := bootstrap()
		if cfg.Storage.Backend != "" && cfg.Storage.Backend != "database" {
			logrus.Infof("storage backend %s needs no migration", cfg.Storage.Backend)
			return nil
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		if sqlDB, err := db.DB(); err == nil {
			defer sqlDB.Close()
		}

		logrus.Info("Starting database migration...")
		if err := db.AutoMigrate(&models.KVEntry{}); err != nil {
			return fmt.Errorf("migrate kv_entries: %w", err)
		}
		logrus.Info("Database migration completed successfully!")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
