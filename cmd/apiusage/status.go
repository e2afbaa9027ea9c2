package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/janekbaraniewski/apiusage/internal/core"
	"github.com/janekbaraniewski/apiusage/internal/daemon"
)

const (
	barWidth    = 20
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorGreen  = "\033[32m"
	colorDim    = "\033[2m"

	clientWait    = 20 * time.Second
	healthTimeout = 2 * time.Second
)

func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func newStatusCommand(client func() *daemon.Client) *cobra.Command {
	var jsonMode, plainMode bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show current usage for every enabled service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), clientWait)
			defer cancel()
			c := client()

			health, err := daemon.WaitForHealthInfo(ctx, c, healthTimeout)
			if err != nil {
				return fmt.Errorf("daemon not reachable (start it with `apiusage daemon`): %w", err)
			}
			if warning := daemon.CompatFor(health).Warning(); warning != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", warning)
			}

			items, err := c.Usage(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			switch {
			case jsonMode:
				return printJSON(out, items)
			case plainMode || !isTTY():
				return renderStatus(out, items, false)
			default:
				return renderStatus(out, items, true)
			}
		},
	}
	cmd.Flags().BoolVar(&jsonMode, "json", false, "print the raw JSON response")
	cmd.Flags().BoolVar(&plainMode, "plain", false, "disable colors")
	return cmd
}

func newRefreshCommand(client func() *daemon.Client) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Poll every enabled service now and show the result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), clientWait)
			defer cancel()
			resp, err := client().Refresh(ctx)
			if err != nil {
				return err
			}
			note := ""
			if resp.Throttled {
				note = " (refresh rate limited, showing the latest cycle)"
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "cycle %s finished %s%s\n", resp.CycleID, resp.Finished.Local().Format(time.Kitchen), note)
			return renderStatus(cmd.OutOrStdout(), resp.Services, isTTY())
		},
	}
}

func newHistoryCommand(client func() *daemon.Client) *cobra.Command {
	var period string

	cmd := &cobra.Command{
		Use:   "history <service>",
		Short: "Print recorded usage points for a service as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := core.ParseServiceKind(args[0])
			if err != nil {
				return err
			}
			window, err := core.ParseTimeWindow(period)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), clientWait)
			defer cancel()
			resp, err := client().History(ctx, kind, window)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&period, "period", string(core.TimeWindow24h), "24h, 7d or 28d")
	return cmd
}

func newVelocityCommand(client func() *daemon.Client) *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "velocity <service>",
		Short: "Show consumption rate and projected exhaustion for a service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := core.ParseServiceKind(args[0])
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), clientWait)
			defer cancel()
			resp, err := client().Velocity(ctx, kind, model)
			if err != nil {
				return err
			}
			return renderVelocity(cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&model, "model", "", "linear (default) or history")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func renderStatus(w io.Writer, items []daemon.UsageItem, color bool) error {
	if len(items) == 0 {
		_, err := fmt.Fprintln(w, "no services enabled")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SERVICE\tPLAN\tUSAGE\t\tRESETS\tSTATUS")
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			item.Name,
			dash(item.PlanName),
			usageBar(item, color),
			usageAmount(item),
			dash(item.ResetInfo),
			statusText(item, color),
		)
	}
	return tw.Flush()
}

func usageBar(item daemon.UsageItem, color bool) string {
	if item.Percentage == nil {
		return strings.Repeat("·", barWidth) + "    -"
	}
	pct := core.ClampPercent(*item.Percentage)
	filled := min(barWidth, int(math.Round(pct/100*barWidth)))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	if color {
		bar = levelColor(item.Level) + bar + colorReset
	}
	return fmt.Sprintf("%s %4.0f%%", bar, pct)
}

func usageAmount(item daemon.UsageItem) string {
	if item.Percentage == nil || item.Total <= 0 || item.Unit == "%" {
		return ""
	}
	return fmt.Sprintf("%s/%s %s", formatAmount(item.Used), formatAmount(item.Total), item.Unit)
}

func formatAmount(v float64) string {
	if v == math.Trunc(v) {
		return fmt.Sprintf("%.0f", v)
	}
	return fmt.Sprintf("%.1f", v)
}

func statusText(item daemon.UsageItem, color bool) string {
	var parts []string
	if item.Error != "" {
		parts = append(parts, item.Error)
	}
	if item.Stale && item.Percentage != nil {
		parts = append(parts, fmt.Sprintf("stale %s", (time.Duration(item.AgeSeconds)*time.Second).Round(time.Second)))
	}
	if len(parts) == 0 {
		return string(item.Level)
	}
	text := strings.Join(parts, "; ")
	if color {
		return colorDim + text + colorReset
	}
	return text
}

func levelColor(level core.Level) string {
	switch level {
	case core.LevelCritical:
		return colorRed
	case core.LevelWarning:
		return colorYellow
	default:
		return colorGreen
	}
}

func renderVelocity(w io.Writer, resp daemon.VelocityResponse) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s (%s model)\n", resp.ServiceID, resp.Model)
	fmt.Fprintln(tw, "WINDOW\tCURRENT\tRATE\tEXHAUSTS")
	rows := resp.Windows
	if len(rows) == 0 {
		rows = append(rows, resp.Primary)
	}
	for _, est := range rows {
		name := est.Window
		if name == "" {
			name = "overall"
		}
		if est.Window == resp.Primary.Window && len(resp.Windows) > 1 {
			name += " *"
		}
		fmt.Fprintf(tw, "%s\t%.1f%%\t%s\t%s\n", name, est.CurrentPercent, rateText(est), exhaustText(est))
	}
	return tw.Flush()
}

func rateText(est core.VelocityEstimate) string {
	if !est.Applicable {
		return "-"
	}
	return fmt.Sprintf("%.2f%%/h", est.RatePerMinute*60)
}

func exhaustText(est core.VelocityEstimate) string {
	if !est.Applicable || est.ExhaustsAt == nil {
		return est.Reason
	}
	return fmt.Sprintf("in %s (%s)",
		(time.Duration(est.RemainingMinutes) * time.Minute).Round(time.Minute),
		est.ExhaustsAt.Local().Format("Mon 15:04"))
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
