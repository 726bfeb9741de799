package errors

import (
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
)

const sentryFlushTimeout = 2 * time.Second

// TelemetryConfig controls Sentry reporting.
type TelemetryConfig struct {
	Enabled     bool
	DSN         string
	Environment string
	Release     string
}

var (
	telemetryMu      sync.RWMutex
	telemetryEnabled bool
	// reporter is swapped in tests.
	reporter = captureWithSentry
)

// InitTelemetry initializes the Sentry client. A disabled config, or an
// empty DSN, leaves reporting off.
func InitTelemetry(cfg TelemetryConfig) error {
	telemetryMu.Lock()
	defer telemetryMu.Unlock()

	if !cfg.Enabled || cfg.DSN == "" {
		telemetryEnabled = false
		return nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		Release:          cfg.Release,
		AttachStacktrace: true,
	}); err != nil {
		return err
	}
	telemetryEnabled = true
	return nil
}

// FlushTelemetry waits for queued events to be delivered.
func FlushTelemetry() {
	telemetryMu.RLock()
	enabled := telemetryEnabled
	telemetryMu.RUnlock()
	if enabled {
		sentry.Flush(sentryFlushTimeout)
	}
}

// report forwards an error to telemetry. Validation errors are user input
// problems and are never reported.
func report(e *EnhancedError) {
	if e.category == CategoryValidation {
		return
	}
	telemetryMu.RLock()
	enabled := telemetryEnabled
	fn := reporter
	telemetryMu.RUnlock()
	if !enabled {
		return
	}
	fn(e)
}

func captureWithSentry(e *EnhancedError) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", e.component)
		scope.SetTag("category", string(e.category))
		if ctx := e.contextString(); ctx != "" {
			scope.SetExtra("context", ctx)
		}
		for k, v := range e.context {
			scope.SetExtra(k, v)
		}
		sentry.CaptureException(e.Err)
	})
}
