package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/janekbaraniewski/apiusage/internal/config"
	"github.com/janekbaraniewski/apiusage/internal/core"
	"github.com/janekbaraniewski/apiusage/internal/credentials"
	"github.com/janekbaraniewski/apiusage/internal/daemon"
	"github.com/janekbaraniewski/apiusage/internal/detect"
)

func newConfigCommand(client func() *daemon.Client) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect, validate and push daemon configuration",
	}
	cmd.AddCommand(newConfigPathCommand())
	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigValidateCommand())
	cmd.AddCommand(newConfigPushCommand(client))
	return cmd
}

func newConfigPathCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the default config file location",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), config.ConfigPath())
		},
	}
}

func newConfigInitCommand() *cobra.Command {
	var (
		path      string
		force     bool
		storeKeys bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starting config from credentials found on this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if path == "" {
				path = config.ConfigPath()
			}
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}

			vault := credentials.NewKeyringVault()
			res := detect.Scan(detect.Options{Vault: vault})
			out := cmd.OutOrStdout()
			fmt.Fprint(out, res.Summary())

			if storeKeys {
				for kind, key := range res.EnvKeys {
					if err := vault.Set(kind, key); err != nil {
						return fmt.Errorf("storing %s key in keychain: %w", kind, err)
					}
					fmt.Fprintf(out, "stored %s key in keychain\n", kind)
				}
			} else if len(res.EnvKeys) > 0 {
				fmt.Fprintln(out, "API keys from the environment are not saved; rerun with --store-keys to keep them in the keychain.")
			}

			if _, err := config.SaveTo(path, res.Config); err != nil {
				return err
			}
			fmt.Fprintf(out, "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "", "config file to write (default: the standard location)")
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.Flags().BoolVar(&storeKeys, "store-keys", false, "copy API keys found in the environment into the OS keychain")
	return cmd
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Check a config file without contacting the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfigFile(args[0])
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				printFieldErrors(cmd.ErrOrStderr(), err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d services enabled)\n", args[0], len(cfg.EnabledServices()))
			return nil
		},
	}
}

func newConfigPushCommand(client func() *daemon.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "push <file>",
		Short: "Replace the running daemon's configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := readConfigFile(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), clientWait)
			defer cancel()
			applied, err := client().PushConfig(ctx, cfg)
			if err != nil {
				printFieldErrors(cmd.ErrOrStderr(), err)
				return err
			}
			return printJSON(cmd.OutOrStdout(), applied)
		},
	}
}

func readConfigFile(path string) (config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Decode(data, config.FormatForPath(path))
	if err != nil {
		return config.Config{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

func printFieldErrors(w io.Writer, err error) {
	var fields []core.FieldError
	var verr *core.ValidationError
	var apiErr *daemon.APIError
	switch {
	case errors.As(err, &verr):
		fields = verr.Fields
	case errors.As(err, &apiErr):
		fields = apiErr.Fields
	}
	for _, f := range fields {
		fmt.Fprintf(w, "  %s: %s\n", f.Field, f.Message)
	}
}
