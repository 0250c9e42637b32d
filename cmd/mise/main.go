package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/teranos/mise/cmd/mise/commands"
	"github.com/teranos/mise/logger"
)

var rootCmd = &cobra.Command{
	Use:   "mise",
	Short: "mise - durable job scheduler",
	Long: `mise - durable per-job scheduling with one actor per job and
one registry per organization.

Available commands:
  pulse     - Run the scheduler daemon
  job       - Schedule and manage jobs
  registry  - Inspect an organization's job registry
  am        - Show configuration
  db        - Manage the database
  version   - Show build information

Examples:
  mise pulse start
  mise job schedule every --org acme --name "publish menu" --interval 15m \
      --target-type menu --target-key store-7 --method publish
  mise registry ls --org acme`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Machine-readable output stays clean
		if cmd.Name() == "show" || cmd.Name() == "version" {
			return nil
		}
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		verbosity, _ := cmd.Flags().GetCount("verbose")
		logger.SetLevel(logger.VerbosityToLevel(verbosity))
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.JobCmd)
	rootCmd.AddCommand(commands.RegistryCmd)
	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
