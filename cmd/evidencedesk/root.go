package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nccevidence/evidencedesk/internal/conf"
	"github.com/nccevidence/evidencedesk/internal/datastore"
	"github.com/nccevidence/evidencedesk/internal/datastore/repository"
	"github.com/nccevidence/evidencedesk/internal/errors"
	"github.com/nccevidence/evidencedesk/internal/logger"
	"github.com/nccevidence/evidencedesk/internal/observability/metrics"
	"github.com/nccevidence/evidencedesk/internal/uploader"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/spf13/cobra"
)

const pushTimeout = 10 * time.Second

// app carries what every subcommand needs once settings are loaded.
type app struct {
	settings *conf.Settings
	log      logger.Logger
	metrics  *metrics.Metrics
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		a          app
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Evidence upload client and offline gateway",
		Long: `evidencedesk submits evidence PDFs to the evidence proxy and runs the
offline gateway that caches the upload page so it keeps working without a
network connection.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			s, err := conf.Load(configPath)
			if err != nil {
				return err
			}
			var tz *time.Location
			if s.Log.Timezone != "" {
				// Validate already checked the zone.
				tz, _ = time.LoadLocation(s.Log.Timezone)
			}
			a.settings = s
			a.log = logger.NewSlogLogger(cmd.ErrOrStderr(), logger.ParseLevel(s.Log.Level), tz)
			a.metrics = metrics.Default()

			return errors.InitTelemetry(errors.TelemetryConfig{
				Enabled:     s.Sentry.Enabled,
				DSN:         s.Sentry.DSN,
				Environment: s.Sentry.Environment,
				Release:     appName + "@" + Version,
			})
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			errors.FlushTelemetry()
		},
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")

	cmd.AddCommand(
		serveCmd(&a),
		submitCmd(&a),
		syncCmd(&a),
		cacheCmd(&a),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			// Version needs no configuration.
			PersistentPreRun: func(*cobra.Command, []string) {},
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, Version)
			},
		},
	)
	return cmd
}

// openDatastore opens and migrates the configured database.
func (a *app) openDatastore() (datastore.Manager, error) {
	mgr, err := datastore.NewManager(a.settings.Datastore, a.settings.Log.Level == "debug")
	if err != nil {
		return nil, err
	}
	if err := mgr.Initialize(); err != nil {
		_ = mgr.Close()
		return nil, err
	}
	return mgr, nil
}

// openOutbox opens the datastore and wraps it in an outbox. The caller
// closes the returned manager.
func (a *app) openOutbox() (*uploader.SQLOutbox, datastore.Manager, error) {
	mgr, err := a.openDatastore()
	if err != nil {
		return nil, nil, err
	}
	return a.outboxFor(mgr), mgr, nil
}

func (a *app) outboxFor(mgr datastore.Manager) *uploader.SQLOutbox {
	return uploader.NewSQLOutbox(repository.NewOutboxRepository(mgr.DB()), a.settings.Sync.Rate, a.log)
}

// batchMetrics returns the collectors a one-shot command records into, or nil
// when no Pushgateway is configured to receive them.
func (a *app) batchMetrics() *metrics.Metrics {
	if a.settings.Metrics.PushGateway == "" {
		return nil
	}
	return a.metrics
}

// pushMetrics sends the collectors to the Pushgateway under job. A failed
// push is logged; it never fails the command.
func (a *app) pushMetrics(ctx context.Context, job string) {
	m := a.batchMetrics()
	if m == nil {
		return
	}
	err := push.New(a.settings.Metrics.PushGateway, job).
		Client(newHTTPClient(pushTimeout)).
		Gatherer(m.Registry()).
		PushContext(context.WithoutCancel(ctx))
	if err != nil {
		a.log.Warn("metrics push failed",
			logger.String("job", job),
			logger.Error(err))
	}
}

// uploadClient builds the evidence proxy client from settings.
func (a *app) uploadClient() *uploader.Client {
	return uploader.NewClient(a.settings.Upload.Endpoint,
		uploader.WithFileField(a.settings.Upload.FileField),
		uploader.WithHTTPClient(newHTTPClient(a.settings.Upload.Timeout.Std())),
	)
}

// indicatorsURL resolves upload.indicators_url against the page origin.
func (a *app) indicatorsURL() (string, error) {
	return resolveAgainst(a.settings.Worker.Origin, a.settings.Upload.IndicatorsURL)
}

func resolveAgainst(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return b.ResolveReference(r).String(), nil
}

// gatewayURL is the base URL of a gateway listening on addr.
func gatewayURL(addr string) string {
	host := addr
	if strings.HasPrefix(host, ":") {
		host = "localhost" + host
	}
	if h, ok := strings.CutPrefix(host, "0.0.0.0:"); ok {
		host = "localhost:" + h
	}
	return "http://" + host
}

// newHTTPClient returns a client with timeout; zero means none.
func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}
