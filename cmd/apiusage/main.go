package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/apiusage/internal/daemon"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var port int

	root := &cobra.Command{
		Use:          "apiusage",
		Short:        "apiusage tracks quota usage of Claude, Firecrawl and SerpAPI accounts.",
		SilenceUsage: true,
	}
	root.PersistentFlags().IntVar(&port, "port", daemon.DefaultPort, "daemon port on 127.0.0.1")

	client := func() *daemon.Client { return daemon.NewClient(port) }

	root.AddCommand(newDaemonCommand(&port))
	root.AddCommand(newStatusCommand(client))
	root.AddCommand(newRefreshCommand(client))
	root.AddCommand(newHistoryCommand(client))
	root.AddCommand(newVelocityCommand(client))
	root.AddCommand(newConfigCommand(client))
	root.AddCommand(newVersionCommand())
	return root
}
