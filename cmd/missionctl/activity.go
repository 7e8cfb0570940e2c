package main

import (
	"fmt"
	"net/url"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mission-control/internal/models"
)

func newActivityCmd(c *client) *cobra.Command {
	var (
		entityType string
		entityID   string
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "activity",
		Short: "Show the activity log, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if entityType != "" {
				q.Set("entityType", entityType)
			}
			if entityID != "" {
				q.Set("entityId", entityID)
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			path := basePath + "/activity"
			if len(q) > 0 {
				path += "?" + q.Encode()
			}
			items, err := get[[]models.ActivityItem](c, path)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tENTITY\tACTION\tACTOR\tMETADATA")
			for _, it := range items {
				meta := "-"
				if it.MetadataJSON != nil {
					meta = truncate(*it.MetadataJSON, 60)
				}
				fmt.Fprintf(w, "%s\t%s:%s\t%s\t%s:%s\t%s\n",
					formatTime(&it.CreatedAt), it.EntityType, it.EntityID, it.Action, it.ActorType, it.ActorID, meta)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&entityType, "entity-type", "", "Filter by entity type (task, job, memory)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "Filter by entity id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum items (1-500)")
	return cmd
}
