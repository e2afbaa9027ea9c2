package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/apiusage/internal/daemon"
)

func newDaemonCommand(port *int) *cobra.Command {
	var cfg daemon.Config

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the usage daemon in the foreground",
		Long:  "Poll every enabled service on the configured interval and serve usage, history and velocity on 127.0.0.1.",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg.Port = *port
			cfg.ConfigPath = strings.TrimSpace(cfg.ConfigPath)
			cfg.HistoryPath = strings.TrimSpace(cfg.HistoryPath)
			cfg.LegacyHistoryPath = strings.TrimSpace(cfg.LegacyHistoryPath)
			return daemon.RunServer(cfg)
		},
	}

	cmd.Flags().BoolVarP(&cfg.Verbose, "verbose", "v", false, "log at debug level")
	cmd.Flags().StringVar(&cfg.ConfigPath, "config", "", "config file path (default $XDG_CONFIG_HOME/apiusage/config.json)")
	cmd.Flags().StringVar(&cfg.HistoryPath, "history-db", "", "history database path (default $XDG_STATE_HOME/apiusage/history.db)")
	cmd.Flags().StringVar(&cfg.LegacyHistoryPath, "import-history", "", "legacy history.json to import into an empty database")
	return cmd
}
