package main

import (
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mission-control/internal/models"
	"mission-control/internal/service"
)

func newJobCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(
		newJobAddCmd(c),
		newJobListCmd(c),
		newJobEnabledCmd(c, "enable", true),
		newJobEnabledCmd(c, "disable", false),
		newJobRunCmd(c),
		newJobRunsCmd(c),
	)
	return cmd
}

func newJobAddCmd(c *client) *cobra.Command {
	var in service.CreateJobInput
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a job",
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := post[models.Job](c, basePath+"/jobs", in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created job: %s (next run %s)\n", job.JobID, formatTime(job.NextRunAt))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Name, "name", "", "Job name (required)")
	f.StringVar((*string)(&in.ScheduleKind), "kind", string(models.ScheduleRecurring), "Schedule kind (one_shot, recurring)")
	f.StringVar(&in.ScheduleExpr, "schedule", "", "Cron expression or timestamp (required)")
	f.StringVar(&in.Timezone, "tz", "UTC", "IANA timezone")
	f.StringVar(&in.PayloadKind, "payload-kind", "noop", "Payload kind")
	f.StringVar(&in.PayloadJSON, "payload", "{}", "Payload JSON")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("schedule")
	return cmd
}

func newJobListCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List jobs with their latest run",
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := get[[]models.JobWithLatestRun](c, basePath+"/jobs")
			if err != nil {
				return err
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs found")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tENABLED\tNEXT RUN\tLAST STATUS")
			for _, j := range jobs {
				last := "-"
				if j.LatestRun != nil {
					last = string(j.LatestRun.Status)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					j.JobID, truncate(j.Name, 32), j.ScheduleExpr, strconv.FormatBool(j.Enabled), formatTime(j.NextRunAt), last)
			}
			return w.Flush()
		},
	}
}

func newJobEnabledCmd(c *client, use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " [job-id]",
		Short: "Set a job's enabled flag to " + strconv.FormatBool(enabled),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := post[models.Job](c, basePath+"/jobs/"+url.PathEscape(args[0])+"/enabled", map[string]bool{"enabled": enabled})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s enabled=%t\n", job.JobID, job.Enabled)
			return nil
		},
	}
}

func newJobRunCmd(c *client) *cobra.Command {
	var in service.RunNowInput
	cmd := &cobra.Command{
		Use:   "run [job-id]",
		Short: "Run a job now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := post[models.JobRun](c, basePath+"/jobs/"+url.PathEscape(args[0])+"/run-now", in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Run %s attempt=%d status=%s key=%s\n", run.RunID, run.Attempt, run.Status, run.IdempotencyKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.IdempotencyKey, "key", "", "Idempotency key (derived from job, tick and attempt when empty)")
	cmd.Flags().StringVar(&in.ScheduledForISO, "scheduled-for", "", "Schedule tick as an ISO timestamp (default now)")
	return cmd
}

func newJobRunsCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "runs [job-id]",
		Short: "List a job's runs, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := get[[]models.JobRun](c, basePath+"/jobs/"+url.PathEscape(args[0])+"/runs")
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "RUN\tATTEMPT\tSTATUS\tSTARTED\tKEY")
			for _, r := range runs {
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n", r.RunID, r.Attempt, r.Status, formatTime(&r.StartedAt), r.IdempotencyKey)
			}
			return w.Flush()
		},
	}
}
