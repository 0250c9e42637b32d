package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teranos/mise/errors"
	"github.com/teranos/mise/pulse"
	"github.com/teranos/mise/pulse/schedule"
)

// RegistryCmd represents the registry command
var RegistryCmd = &cobra.Command{
	Use:   "registry",
	Short: "Inspect an organization's job registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var registryLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List an organization's jobs, latest next run first",
	RunE: func(cmd *cobra.Command, args []string) error {
		org, _ := cmd.Flags().GetString("org")
		statusFlag, _ := cmd.Flags().GetString("status")

		var status *schedule.Status
		if statusFlag != "" {
			s, ok := schedule.ParseStatus(statusFlag)
			if !ok {
				return errors.WithHintf(
					errors.NewInvalidRequestError("unknown status %q", statusFlag),
					"valid statuses: %v", schedule.Statuses)
			}
			status = &s
		}

		return withHost(cmd.Context(), func(h *pulse.Host) error {
			entries, err := h.Registries.GetJobs(cmd.Context(), org, status)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), entries)
			}
			if len(entries) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No jobs registered for %s\n", org)
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "JOB\tNAME\tTRIGGER\tSTATUS\tNEXT RUN\tLAST RUN")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.JobID, e.Name, e.TriggerType, e.Status,
					formatOptionalTime(e.NextRunAt), formatOptionalTime(e.LastRunAt))
			}
			return w.Flush()
		})
	},
}

var registryUnregisterCmd = &cobra.Command{
	Use:   "unregister <job-id>",
	Short: "Remove a job from an organization's registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		org, _ := cmd.Flags().GetString("org")
		return withHost(cmd.Context(), func(h *pulse.Host) error {
			if err := h.Registries.UnregisterJob(cmd.Context(), org, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unregistered %s from %s\n", args[0], org)
			return nil
		})
	},
}

func init() {
	registryLsCmd.Flags().String("org", "", "Organization id")
	registryLsCmd.Flags().String("status", "", "Only show jobs with this status")
	registryLsCmd.Flags().Bool("json", false, "Output as JSON")
	_ = registryLsCmd.MarkFlagRequired("org")

	registryUnregisterCmd.Flags().String("org", "", "Organization id")
	_ = registryUnregisterCmd.MarkFlagRequired("org")

	RegistryCmd.AddCommand(registryLsCmd)
	RegistryCmd.AddCommand(registryUnregisterCmd)
}
