package main

import (
	"fmt"

	"github.com/nccevidence/evidencedesk/internal/observability/metrics"
	"github.com/spf13/cobra"
)

func syncCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Retry queued submissions once",
		Long: `sync replays every submission queued after a failed upload. Delivered
submissions are removed; the rest stay queued for the next run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outbox, mgr, err := a.openOutbox()
			if err != nil {
				return err
			}
			defer func() { _ = mgr.Close() }()

			res, err := outbox.Drain(cmd.Context(), a.uploadClient())
			if m := a.batchMetrics(); m != nil {
				m.SyncItemsTotal.WithLabelValues(metrics.ResultSuccess).Add(float64(res.Sent))
				m.SyncItemsTotal.WithLabelValues(metrics.ResultFailed).Add(float64(res.Failed))
				defer a.pushMetrics(cmd.Context(), appName+"_sync")
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %d, failed %d, remaining %d\n",
				res.Sent, res.Failed, res.Remaining)
			if res.Failed > 0 {
				return fmt.Errorf("%d queued submissions still failing", res.Failed)
			}
			return nil
		},
	}
}
