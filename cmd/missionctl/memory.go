package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"mission-control/internal/models"
	"mission-control/internal/service"
)

func newMemoryCmd(c *client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Ingest and search memory documents",
	}
	cmd.AddCommand(newMemoryIngestCmd(c), newMemoryIngestS3Cmd(c), newMemorySearchCmd(c))
	return cmd
}

func newMemoryIngestCmd(c *client) *cobra.Command {
	var title, sourceType, sourcePath string
	cmd := &cobra.Command{
		Use:   "ingest [file]",
		Short: "Ingest a local file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			in := service.IngestInput{
				SourcePath: sourcePath,
				SourceType: sourceType,
				Title:      title,
				Body:       string(body),
			}
			if in.SourcePath == "" {
				in.SourcePath = filepath.ToSlash(args[0])
			}
			if in.Title == "" {
				in.Title = filepath.Base(args[0])
			}
			if in.SourceType == "" {
				in.SourceType = "text"
				if ext := strings.ToLower(filepath.Ext(args[0])); ext == ".md" || ext == ".markdown" {
					in.SourceType = "markdown"
				}
			}
			doc, err := post[models.MemoryDoc](c, basePath+"/memory/ingest", in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %s as %s\n", doc.SourcePath, doc.DocID)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Document title (default file name)")
	cmd.Flags().StringVar(&sourceType, "type", "", "Source type (default from extension)")
	cmd.Flags().StringVar(&sourcePath, "source", "", "Source path recorded on the document (default file path)")
	return cmd
}

func newMemoryIngestS3Cmd(c *client) *cobra.Command {
	var in service.ObjectIngestInput
	cmd := &cobra.Command{
		Use:   "ingest-s3 [bucket] [key]",
		Short: "Ingest an object from the server's object store",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Bucket, in.Key = args[0], args[1]
			doc, err := post[models.MemoryDoc](c, basePath+"/memory/ingest-object", in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ingested %s as %s\n", doc.SourcePath, doc.DocID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "Document title (default object name)")
	cmd.Flags().StringVar(&in.SourceType, "type", "", "Source type (default from extension)")
	return cmd
}

func newMemorySearchCmd(c *client) *cobra.Command {
	return &cobra.Command{
		Use:   "search [query]",
		Short: "Search memory chunks",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := ""
			if len(args) == 1 {
				q = args[0]
			}
			results, err := get[[]models.MemorySearchResult](c, basePath+"/memory/search?q="+url.QueryEscape(q))
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No matches")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SCORE\tSOURCE\tSNIPPET")
			for _, r := range results {
				fmt.Fprintf(w, "%d\t%s\t%s\n", r.Score, r.SourcePath, truncate(strings.Join(strings.Fields(r.Snippet), " "), 80))
			}
			return w.Flush()
		},
	}
}
