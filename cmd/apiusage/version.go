package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/apiusage/internal/appupdate"
	"github.com/janekbaraniewski/apiusage/internal/version"
)

func newVersionCommand() *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, version.String())
			if !check {
				return nil
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()
			res, err := appupdate.Check(ctx, appupdate.Options{CurrentVersion: version.Version})
			if err != nil {
				return fmt.Errorf("checking for updates: %w", err)
			}
			switch {
			case res.Current == "":
				fmt.Fprintln(out, "development build; update check skipped")
			case res.UpdateAvailable:
				fmt.Fprintf(out, "update available: %s -> %s\n  %s\n", res.Current, res.Latest, res.Hint)
			default:
				fmt.Fprintf(out, "up to date (%s)\n", res.Current)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "look up the latest published release")
	return cmd
}
