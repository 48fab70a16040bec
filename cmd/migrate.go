/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"fmt"

	"github.com/bookloan/apiserver/config"
	"github.com/bookloan/apiserver/internal/db"
	"github.com/bookloan/apiserver/internal/logging"
	"github.com/spf13/cobra"
)

var migrateDownSteps int

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all up migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.Setup(cfg)

		conn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := db.MigrateUp(conn, cfg.Database.Driver); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		logger.Info().Str("driver", cfg.Database.Driver).Msg("migrations applied")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back migrations",
	Long: `Roll back the last --steps migrations. With --steps 0 every
migration is rolled back and all data is lost.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig()
		logger := logging.Setup(cfg)

		conn, err := db.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err := db.MigrateDown(conn, cfg.Database.Driver, migrateDownSteps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		logger.Info().Str("driver", cfg.Database.Driver).Int("steps", migrateDownSteps).Msg("migrations rolled back")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)

	migrateDownCmd.Flags().IntVar(&migrateDownSteps, "steps", 1, "number of migrations to roll back (0 for all)")
}
