package main

import (
	"fmt"
	"net/url"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mission-control/internal/models"
	"mission-control/internal/service"
)

func newTaskCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
	}
	cmd.AddCommand(newTaskAddCmd(c), newTaskListCmd(c), newTaskMoveCmd(c), newTaskEventsCmd(c))
	return cmd
}

func newTaskAddCmd(c *client) *cobra.Command {
	var (
		in   service.CreateTaskInput
		desc string
		due  string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			if desc != "" {
				in.Description = &desc
			}
			if due != "" {
				t, err := time.Parse(time.RFC3339, due)
				if err != nil {
					return fmt.Errorf("--due: %w", err)
				}
				in.DueAt = &t
			}
			task, err := post[models.Task](c, basePath+"/tasks", in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created task: %s (%s)\n", task.TaskID, task.Status)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&in.Title, "title", "", "Task title (required)")
	f.StringVar(&desc, "desc", "", "Task description")
	f.StringVar((*string)(&in.OwnerType), "owner-type", string(models.OwnerUser), "Owner type (user, agent, system)")
	f.StringVar(&in.OwnerID, "owner", "local_operator", "Owner id")
	f.StringVar((*string)(&in.Priority), "priority", string(models.PriorityMedium), "Priority (low, medium, high)")
	f.StringVar((*string)(&in.Status), "status", "", "Initial status (default backlog)")
	f.StringVar(&due, "due", "", "Due time, RFC 3339")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newTaskListCmd(c *client) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := basePath + "/tasks"
			if status != "" {
				path += "?status=" + url.QueryEscape(status)
			}
			tasks, err := get[[]models.Task](c, path)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No tasks found")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTITLE\tSTATUS\tPRIORITY\tOWNER\tUPDATED")
			for _, t := range tasks {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s:%s\t%s\n",
					t.TaskID, truncate(t.Title, 40), t.Status, t.Priority, t.OwnerType, t.OwnerID, formatTime(&t.UpdatedAt))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (backlog, ready, in_progress, blocked, done, archived)")
	return cmd
}

func newTaskMoveCmd(c *client) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "move [task-id] [status]",
		Short: "Transition a task to another status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := service.TransitionInput{
				NextStatus:     models.TaskStatus(args[1]),
				ReopenedReason: reason,
			}
			task, err := post[models.Task](c, basePath+"/tasks/"+url.PathEscape(args[0])+"/transition", body)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Task %s is now %s\n", task.TaskID, task.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason, required when reopening a done task")
	return cmd
}

func newTaskEventsCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "events [task-id]",
		Short: "Show a task's event history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := get[[]models.TaskEvent](c, basePath+"/tasks/"+url.PathEscape(args[0])+"/events")
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tEVENT\tACTOR\tAFTER")
			for _, e := range events {
				after := "-"
				if e.AfterJSON != nil {
					after = truncate(*e.AfterJSON, 60)
				}
				fmt.Fprintf(w, "%s\t%s\t%s:%s\t%s\n", formatTime(&e.CreatedAt), e.EventType, e.ActorType, e.ActorID, after)
			}
			return w.Flush()
		},
	}
}
