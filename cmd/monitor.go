package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/product-patterns/internal/config"
	"github.com/sells-group/product-patterns/internal/monitoring"
	"github.com/sells-group/product-patterns/internal/review"
)

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize recent runs and evaluate alert thresholds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		hours, _ := cmd.Flags().GetInt("hours")
		if hours <= 0 {
			hours = cfg.Monitoring.LookbackWindowHours
		}
		asJSON, _ := cmd.Flags().GetBool("json")

		snap, err := monitoring.NewCollector(st).Collect(ctx, hours)
		if err != nil {
			return err
		}
		alerts := monitoring.NewAlerter(cfg.Monitoring, nil).Evaluate(snap)

		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(struct {
				Snapshot *monitoring.Snapshot `json:"snapshot"`
				Alerts   []monitoring.Alert   `json:"alerts"`
			}{snap, alerts})
		}
		formatSnapshot(os.Stdout, snap, alerts)
		return nil
	},
}

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Check run health periodically and post alerts",
	Long:  "Runs until interrupted. Every interval it summarizes recent runs and posts an alert to monitoring.webhook_url for each breached threshold.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		newChecker(cfg.Monitoring, st).Run(ctx)
		return nil
	},
}

// newChecker wires the collector and alerter. Without a webhook URL
// alerts are only logged.
func newChecker(mc config.MonitoringConfig, st monitoring.RunLister) *monitoring.Checker {
	var poster monitoring.Poster
	if mc.WebhookURL != "" {
		poster = review.NewWebhook(mc.WebhookURL, cfg.ReviewTimeout())
	}
	return monitoring.NewChecker(monitoring.NewCollector(st), monitoring.NewAlerter(mc, poster), mc)
}

// formatSnapshot writes run counts, rates and triggered alerts.
func formatSnapshot(w io.Writer, snap *monitoring.Snapshot, alerts []monitoring.Alert) {
	_, _ = fmt.Fprintf(w, "Runs in last %dh: %d\n", snap.LookbackHours, snap.Total)
	_, _ = fmt.Fprintf(w, "  accepted:  %d\n", snap.Accepted)
	_, _ = fmt.Fprintf(w, "  exhausted: %d (%.1f%%)\n", snap.Exhausted, snap.ExhaustionRate*100)
	_, _ = fmt.Fprintf(w, "  blocked:   %d (%.1f%%)\n", snap.Blocked, snap.BlockRate*100)
	_, _ = fmt.Fprintf(w, "  failed:    %d (%.1f%%)\n", snap.Failed, snap.FailureRate*100)
	if snap.AvgIterations > 0 {
		_, _ = fmt.Fprintf(w, "  avg iterations: %.1f  avg success rate: %.2f\n", snap.AvgIterations, snap.AvgSuccessRate)
	}
	for _, d := range snap.BlockedDomains {
		_, _ = fmt.Fprintf(w, "  blocked %-30s %d\n", d.Domain, d.Count)
	}
	for _, a := range alerts {
		_, _ = fmt.Fprintf(w, "ALERT [%s] %s\n", a.Severity, a.Message)
	}
}

func init() {
	runsStatsCmd.Flags().Int("hours", 0, "lookback window in hours (default from config)")
	runsStatsCmd.Flags().Bool("json", false, "print the snapshot as JSON")
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(monitorCmd)
}
