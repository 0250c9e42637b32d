package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/teranos/mise/errors"
	"github.com/teranos/mise/pulse"
	"github.com/teranos/mise/pulse/invoke"
	"github.com/teranos/mise/pulse/schedule"
)

// JobCmd represents the job command
var JobCmd = &cobra.Command{
	Use:   "job",
	Short: "Schedule and manage jobs",
	Long: `Schedule and manage jobs.

Examples:
  mise job schedule once  --org acme --name "stock count" --at 2026-03-14T22:00:00Z ...
  mise job schedule every --org acme --name "publish menu" --interval 15m ...
  mise job schedule cron  --org acme --name "close till" --cron "30 23 * * *" ...
  mise job get <job-id>
  mise job executions <job-id> --limit 5
  mise job pause <job-id>
  mise job resume <job-id>
  mise job trigger <job-id>
  mise job cancel <job-id> --reason "menu retired"
  mise job update <job-id> --interval 30m`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var jobScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Create a job",
}

var jobScheduleOnceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a target once at a given time",
	RunE: func(cmd *cobra.Command, args []string) error {
		at, _ := cmd.Flags().GetString("at")
		runAt, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return errors.WithHint(
				errors.NewInvalidRequestError("invalid --at %q", at),
				"use RFC 3339, e.g. 2026-03-14T22:00:00Z")
		}
		return scheduleJob(cmd, func(ctx context.Context, h *pulse.Host, id string, req schedule.ScheduleRequest) (*schedule.Job, error) {
			return h.Jobs.ScheduleOneTime(ctx, id, req, runAt)
		})
	},
}

var jobScheduleEveryCmd = &cobra.Command{
	Use:   "every",
	Short: "Run a target at a fixed interval",
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		return scheduleJob(cmd, func(ctx context.Context, h *pulse.Host, id string, req schedule.ScheduleRequest) (*schedule.Job, error) {
			return h.Jobs.ScheduleRecurring(ctx, id, req, interval)
		})
	},
}

var jobScheduleCronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Run a target on a cron expression (minute and hour fields only)",
	RunE: func(cmd *cobra.Command, args []string) error {
		expr, _ := cmd.Flags().GetString("cron")
		return scheduleJob(cmd, func(ctx context.Context, h *pulse.Host, id string, req schedule.ScheduleRequest) (*schedule.Job, error) {
			return h.Jobs.ScheduleCron(ctx, id, req, expr)
		})
	},
}

var jobGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHost(cmd.Context(), func(h *pulse.Host) error {
			job, err := h.Jobs.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJob(cmd, job)
		})
	},
}

var jobExecutionsCmd = &cobra.Command{
	Use:   "executions <job-id>",
	Short: "Show recent executions, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withHost(cmd.Context(), func(h *pulse.Host) error {
			execs, err := h.Jobs.GetExecutions(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), execs)
			}
			if len(execs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No executions yet")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "EXECUTION\tSTARTED\tDURATION\tRESULT")
			for _, e := range execs {
				result := "ok"
				if !e.Success && e.ErrorMessage != nil {
					result = "failed: " + *e.ErrorMessage
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					e.ExecutionID, e.StartedAt.Format(time.RFC3339), e.Duration(), result)
			}
			return w.Flush()
		})
	},
}

var jobPauseCmd = &cobra.Command{
	Use:   "pause <job-id>",
	Short: "Stop future runs until resumed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHost(cmd.Context(), func(h *pulse.Host) error {
			if err := h.Jobs.Pause(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Paused %s\n", args[0])
			return nil
		})
	},
}

var jobResumeCmd = &cobra.Command{
	Use:   "resume <job-id>",
	Short: "Resume a paused job at its retained next run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHost(cmd.Context(), func(h *pulse.Host) error {
			if err := h.Jobs.Resume(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resumed %s\n", args[0])
			return nil
		})
	},
}

var jobCancelCmd = &cobra.Command{
	Use:   "cancel <job-id>",
	Short: "Cancel a job for good",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		return withHost(cmd.Context(), func(h *pulse.Host) error {
			if err := h.Jobs.Cancel(cmd.Context(), args[0], reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s\n", args[0])
			return nil
		})
	},
}

var jobTriggerCmd = &cobra.Command{
	Use:   "trigger <job-id>",
	Short: "Run a job now without changing its schedule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withHost(cmd.Context(), func(h *pulse.Host) error {
			exec, err := h.Jobs.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOutput(cmd) {
				return writeJSON(cmd.OutOrStdout(), exec)
			}
			if exec.Success {
				fmt.Fprintf(cmd.OutOrStdout(), "Execution %s succeeded in %s\n", exec.ExecutionID, exec.Duration())
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Execution %s failed: %s\n", exec.ExecutionID, *exec.ErrorMessage)
			}
			return nil
		})
	},
}

var jobUpdateCmd = &cobra.Command{
	Use:   "update <job-id>",
	Short: "Change a job's interval or cron expression",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var update schedule.ScheduleUpdate
		if cmd.Flags().Changed("interval") {
			interval, _ := cmd.Flags().GetDuration("interval")
			update.Interval = &interval
		}
		if cmd.Flags().Changed("cron") {
			expr, _ := cmd.Flags().GetString("cron")
			update.CronExpression = &expr
		}
		return withHost(cmd.Context(), func(h *pulse.Host) error {
			job, err := h.Jobs.UpdateSchedule(cmd.Context(), args[0], update)
			if err != nil {
				return err
			}
			return printJob(cmd, job)
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{jobScheduleOnceCmd, jobScheduleEveryCmd, jobScheduleCronCmd} {
		c.Flags().String("id", "", "Job id (default: random UUID)")
		c.Flags().String("org", "", "Organization id")
		c.Flags().String("name", "", "Job name")
		c.Flags().String("description", "", "Job description")
		c.Flags().String("target-type", "", "Target type")
		c.Flags().String("target-key", "", "Target key")
		c.Flags().String("method", "", "Target method")
		c.Flags().StringToString("param", nil, "Target parameter (repeatable, k=v)")
		c.Flags().Int("max-retries", 0, "Stored with the job; failures are not retried")
		_ = c.MarkFlagRequired("org")
		_ = c.MarkFlagRequired("name")
		_ = c.MarkFlagRequired("target-type")
		_ = c.MarkFlagRequired("method")
		jobScheduleCmd.AddCommand(c)
	}
	jobScheduleOnceCmd.Flags().String("at", "", "Run time (RFC 3339)")
	_ = jobScheduleOnceCmd.MarkFlagRequired("at")
	jobScheduleEveryCmd.Flags().Duration("interval", 0, "Interval between runs")
	_ = jobScheduleEveryCmd.MarkFlagRequired("interval")
	jobScheduleCronCmd.Flags().String("cron", "", "Five-field cron expression")
	_ = jobScheduleCronCmd.MarkFlagRequired("cron")

	jobExecutionsCmd.Flags().Int("limit", schedule.DefaultExecutionLimit, "Maximum executions to show")
	jobCancelCmd.Flags().String("reason", "", "Why the job was cancelled")
	jobUpdateCmd.Flags().Duration("interval", 0, "New interval (recurring jobs)")
	jobUpdateCmd.Flags().String("cron", "", "New cron expression (cron jobs)")
	JobCmd.PersistentFlags().Bool("json", false, "Output as JSON")

	JobCmd.AddCommand(jobScheduleCmd)
	JobCmd.AddCommand(jobGetCmd)
	JobCmd.AddCommand(jobExecutionsCmd)
	JobCmd.AddCommand(jobPauseCmd)
	JobCmd.AddCommand(jobResumeCmd)
	JobCmd.AddCommand(jobCancelCmd)
	JobCmd.AddCommand(jobTriggerCmd)
	JobCmd.AddCommand(jobUpdateCmd)
}

type scheduleFunc func(ctx context.Context, h *pulse.Host, id string, req schedule.ScheduleRequest) (*schedule.Job, error)

func scheduleJob(cmd *cobra.Command, fn scheduleFunc) error {
	req, err := scheduleRequestFromFlags(cmd)
	if err != nil {
		return err
	}
	id, _ := cmd.Flags().GetString("id")
	if id == "" {
		id = uuid.NewString()
	}
	return withHost(cmd.Context(), func(h *pulse.Host) error {
		job, err := fn(cmd.Context(), h, id, req)
		if err != nil {
			return err
		}
		return printJob(cmd, job)
	})
}

func scheduleRequestFromFlags(cmd *cobra.Command) (schedule.ScheduleRequest, error) {
	flags := cmd.Flags()
	org, _ := flags.GetString("org")
	name, _ := flags.GetString("name")
	description, _ := flags.GetString("description")
	targetType, _ := flags.GetString("target-type")
	targetKey, _ := flags.GetString("target-key")
	method, _ := flags.GetString("method")
	params, err := flags.GetStringToString("param")
	if err != nil {
		return schedule.ScheduleRequest{}, errors.Wrap(err, "invalid --param")
	}
	maxRetries, _ := flags.GetInt("max-retries")

	return schedule.ScheduleRequest{
		OrgID:       org,
		Name:        name,
		Description: description,
		Target: invoke.Target{
			Type:       targetType,
			Key:        targetKey,
			Method:     method,
			Parameters: params,
		},
		MaxRetries: maxRetries,
	}, nil
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to encode output")
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printJob(cmd *cobra.Command, job *schedule.Job) error {
	out := cmd.OutOrStdout()
	if jsonOutput(cmd) {
		return writeJSON(out, job)
	}

	fmt.Fprintf(out, "Job ID: %s\n", job.JobID)
	fmt.Fprintf(out, "  Org: %s\n", job.OrgID)
	fmt.Fprintf(out, "  Name: %s\n", job.Name)
	if job.Description != "" {
		fmt.Fprintf(out, "  Description: %s\n", job.Description)
	}
	fmt.Fprintf(out, "  Trigger: %s\n", describeTrigger(job))
	fmt.Fprintf(out, "  Target: %s\n", job.Target.String())
	fmt.Fprintf(out, "  Status: %s\n", job.Status)
	fmt.Fprintf(out, "  Next run: %s\n", formatOptionalTime(job.NextRunAt))
	fmt.Fprintf(out, "  Last run: %s\n", formatOptionalTime(job.LastRunAt))
	fmt.Fprintf(out, "  Executions: %d ok, %d failed\n", job.ExecutionCount, job.FailureCount)
	fmt.Fprintf(out, "  Created: %s\n", job.CreatedAt.Format(time.RFC3339))
	return nil
}

func describeTrigger(job *schedule.Job) string {
	switch {
	case job.RunAt != nil:
		return fmt.Sprintf("%s at %s", job.TriggerType, job.RunAt.Format(time.RFC3339))
	case job.Interval > 0:
		return fmt.Sprintf("%s every %s", job.TriggerType, job.Interval)
	case strings.TrimSpace(job.CronExpression) != "":
		return fmt.Sprintf("%s %q", job.TriggerType, job.CronExpression)
	default:
		return string(job.TriggerType)
	}
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
