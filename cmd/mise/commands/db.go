package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the mise database",
	Long: `Manage the SQLite database holding jobs, registries and wake-ups.

Examples:
  mise db migrate                      # Apply pending migrations
  mise db migrate --path /tmp/jobs.db  # Migrate a specific file`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("path")
		database, err := openDatabase(path)
		if err != nil {
			return err
		}
		defer database.Close()

		var applied int
		if err := database.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied); err != nil {
			return fmt.Errorf("failed to count migrations: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Database up to date (%d migrations applied)\n", applied)
		return nil
	},
}

func init() {
	dbMigrateCmd.Flags().String("path", "", "Database file (default: database.path from config)")
	DbCmd.AddCommand(dbMigrateCmd)
}
