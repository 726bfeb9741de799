package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/nccevidence/evidencedesk/internal/api"
	"github.com/nccevidence/evidencedesk/internal/datastore"
	"github.com/nccevidence/evidencedesk/internal/datastore/repository"
	"github.com/nccevidence/evidencedesk/internal/logger"
	"github.com/nccevidence/evidencedesk/internal/notification"
	"github.com/nccevidence/evidencedesk/internal/offline"
	"github.com/spf13/cobra"
)

func serveCmd(a *app) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the offline gateway in front of the upload page",
		Long: `serve installs and activates the offline cache worker for the configured
origin, then answers every request through it: pages network-first with the
cached shell as fallback, assets cache-first. Worker control, background sync
and push notifications are under /_worker.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" {
				a.settings.Worker.Listen = listen
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.runServe(ctx)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides worker.listen)")
	return cmd
}

func (a *app) runServe(ctx context.Context) error {
	s := a.settings
	log := a.log.Module("serve")

	var (
		mgr       datastore.Manager
		cacheRepo repository.CacheRepository
	)
	if s.UsesDatastore() {
		var err error
		if mgr, err = a.openDatastore(); err != nil {
			return err
		}
		defer func() { _ = mgr.Close() }()
		cacheRepo = repository.NewCacheRepository(mgr.DB())
	}

	storage, err := offline.NewStorage(s.Worker.Storage, cacheRepo)
	if err != nil {
		return err
	}

	cfg, err := offline.ConfigFromSettings(s.Worker)
	if err != nil {
		return err
	}
	cfg.Metrics = a.metrics
	cfg.Log = a.log

	worker, err := offline.NewWorker(cfg, storage)
	if err != nil {
		return err
	}
	reg := offline.NewRegistration(offline.NewPassthrough(cfg.Scope, cfg.Client.Transport), a.log)

	// Without an installed worker the gateway still proxies the origin, so a
	// failed install is not fatal.
	if err := reg.Register(ctx, worker, s.Worker.SkipWaiting); err != nil {
		log.Error("offline worker install failed, serving without cache",
			logger.String("cache", worker.CacheName()),
			logger.Error(err))
	}

	opts := []api.Option{api.WithLogger(a.log), api.WithMetrics(a.metrics)}

	if s.Sync.Enabled {
		outbox := a.outboxFor(mgr)
		syncMgr := offline.NewSyncManager(a.log)
		defer syncMgr.Close()
		syncMgr.Register(s.Sync.Tag, outbox.SyncHandler(a.uploadClient(), a.metrics))
		syncMgr.StartPeriodic(s.Sync.Tag, s.Sync.Interval.Std())
		opts = append(opts, api.WithSync(syncMgr))
	}

	if s.Notification.Enabled {
		if err := notification.Initialize(&notification.ServiceConfig{
			URLs:     s.Notification.URLs,
			Title:    s.Notification.Title,
			Body:     s.Notification.Body,
			ClickURL: gatewayURL(s.Worker.Listen) + offline.NotificationClickPath,
			Log:      a.log,
		}); err != nil {
			return err
		}
		opts = append(opts, api.WithPush(offline.NewPushNotifier(notification.GetService(), a.metrics, a.log)))
	}

	startURL, err := resolveAgainst("/", s.Worker.StartURL)
	if err != nil {
		return err
	}
	server := api.NewServer(api.Config{
		Listen:   s.Worker.Listen,
		StartURL: startURL,
		SyncTag:  s.Sync.Tag,
	}, reg, opts...)
	return server.Run(ctx)
}
