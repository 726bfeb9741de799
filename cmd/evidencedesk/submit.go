package main

import (
	"github.com/nccevidence/evidencedesk/internal/logger"
	"github.com/nccevidence/evidencedesk/internal/mqtt"
	"github.com/nccevidence/evidencedesk/internal/uploader"
	"github.com/spf13/cobra"
)

type submitFlags struct {
	officerEmail string
	evidenceName string
	category     string
	indicator    string
	subCounty    string
	files        []string
	indicators   bool
}

func submitCmd(a *app) *cobra.Command {
	var f submitFlags

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Upload evidence PDFs to the evidence proxy",
		Example: `  evidencedesk submit --indicators
  evidencedesk submit --indicators --category Health
  evidencedesk submit --email officer@example.org --name "Q3 Clinic Audit" \
      --category Health --indicator "Clinics inspected" --sub-county Westlands \
      --file report.pdf --file annex.pdf`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.runSubmit(cmd, f)
		},
	}

	fl := cmd.Flags()
	fl.StringVar(&f.officerEmail, "email", "", "Officer email address")
	fl.StringVar(&f.evidenceName, "name", "", "Evidence name")
	fl.StringVar(&f.category, "category", "", "Evidence category")
	fl.StringVar(&f.indicator, "indicator", "", "Indicator within the category")
	fl.StringVar(&f.subCounty, "sub-county", "", "Sub-county")
	fl.StringArrayVarP(&f.files, "file", "f", nil, "PDF file to upload (repeatable)")
	fl.BoolVar(&f.indicators, "indicators", false, "List categories, or the indicators of --category, and exit")
	return cmd
}

func (a *app) runSubmit(cmd *cobra.Command, f submitFlags) error {
	ctx := cmd.Context()
	s := a.settings

	values := uploader.Submission{
		OfficerEmail: f.officerEmail,
		EvidenceName: f.evidenceName,
		Category:     f.category,
		Indicator:    f.indicator,
		SubCounty:    f.subCounty,
	}
	for _, path := range f.files {
		file, err := uploader.FileFromPath(path)
		if err != nil {
			return err
		}
		values.Files = append(values.Files, file)
	}

	view := newTerminalView(cmd.OutOrStdout(), values)
	indicatorsURL, err := a.indicatorsURL()
	if err != nil {
		return err
	}

	opts := []uploader.ControllerOption{
		uploader.WithLogger(a.log),
		uploader.WithLimits(uploader.Limits{MaxFiles: s.Upload.MaxFiles, MaxFileSize: s.Upload.MaxFileSize}),
		uploader.WithCatalog(uploader.NewCatalogLoader(indicatorsURL, newHTTPClient(s.Worker.FetchTimeout.Std()))),
	}
	if m := a.batchMetrics(); m != nil && !f.indicators {
		opts = append(opts, uploader.WithObserver(uploader.NewMetricsObserver(m)))
		defer a.pushMetrics(ctx, appName+"_submit")
	}

	if s.Sync.Enabled && !f.indicators {
		outbox, mgr, err := a.openOutbox()
		if err != nil {
			return err
		}
		defer func() { _ = mgr.Close() }()
		opts = append(opts, uploader.WithOutbox(outbox))
	}

	if s.MQTT.Enabled && !f.indicators {
		client, err := mqtt.NewClient(mqtt.ConfigFromSettings(s.MQTT), a.log)
		if err != nil {
			return err
		}
		defer client.Disconnect()
		opts = append(opts, uploader.WithObserver(mqtt.NewPublisher(client, s.MQTT.Topic, a.log)))
	}

	ctrl := uploader.NewController(view, a.uploadClient(), opts...)

	if f.indicators {
		if err := ctrl.LoadIndicatorOptions(ctx); err != nil {
			return err
		}
		if f.category != "" {
			ctrl.OnCategoryChange(f.category)
		}
		return nil
	}

	// Failures are already on the terminal; the error sets the exit code.
	if err := ctrl.Submit(ctx); err != nil {
		a.log.Debug("submit finished with error", logger.Error(err))
		return err
	}
	return nil
}
