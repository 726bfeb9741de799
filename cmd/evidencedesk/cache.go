package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nccevidence/evidencedesk/internal/offline"
	"github.com/spf13/cobra"
)

const controlTimeout = 10 * time.Second

func cacheCmd(a *app) *cobra.Command {
	var gateway string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the offline gateway cache",
	}
	cmd.PersistentFlags().StringVar(&gateway, "gateway", "", "Gateway base URL (default from worker.listen)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "clear",
			Short: "Delete the active worker's cache bucket",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.postControl(cmd, gateway, offline.MessageClearCache)
			},
		},
		&cobra.Command{
			Use:   "activate",
			Short: "Activate the waiting worker version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return a.postControl(cmd, gateway, offline.MessageSkipWaiting)
			},
		},
	)
	return cmd
}

// postControl sends one control message to a running gateway.
func (a *app) postControl(cmd *cobra.Command, gateway, msgType string) error {
	if gateway == "" {
		gateway = gatewayURL(a.settings.Worker.Listen)
	}
	body, err := json.Marshal(offline.Message{Type: msgType})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPost,
		gateway+"/_worker/message", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := newHTTPClient(controlTimeout).Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()
	reply, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway rejected %s: %s: %s", msgType, resp.Status, bytes.TrimSpace(reply))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s applied\n", msgType)
	return nil
}
