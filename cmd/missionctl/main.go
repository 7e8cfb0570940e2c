// Command missionctl is a command-line client for the mission-control API.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	c := &client{}
	root := &cobra.Command{
		Use:           "missionctl",
		Short:         "Mission control CLI",
		Long:          `missionctl manages tasks, scheduled jobs, memory documents and the activity log of a mission-control server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&c.addr, "api", envOr("MISSIONCTL_API", "http://127.0.0.1:8080"), "API server address")
	root.PersistentFlags().StringVar(&c.actorID, "actor", envOr("MISSIONCTL_ACTOR", ""), "Actor id sent as X-Actor-Id")
	root.PersistentFlags().StringVar(&c.actorType, "actor-type", "user", "Actor type (user, agent, system)")

	root.AddCommand(
		newTaskCmd(c),
		newJobCmd(c),
		newMemoryCmd(c),
		newActivityCmd(c),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
