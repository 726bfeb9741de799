// Package api is the HTTP surface of the offline gateway: worker control
// endpoints, metrics, and everything else routed through the offline worker.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nccevidence/evidencedesk/internal/logger"
	"github.com/nccevidence/evidencedesk/internal/observability/metrics"
	"github.com/nccevidence/evidencedesk/internal/offline"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
)

// Config holds the listener settings.
type Config struct {
	Listen string
	// StartURL is where a clicked notification sends the user.
	StartURL string
	// SyncTag is the tag whose last run /_worker/status reports.
	SyncTag string
}

// Server serves the gateway.
type Server struct {
	cfg          Config
	echo         *echo.Echo
	registration *offline.Registration
	sync         *offline.SyncManager
	push         *offline.PushNotifier
	metrics      *metrics.Metrics
	log          logger.Logger
}

// Option configures optional server dependencies.
type Option func(*Server)

// WithSync enables the background sync trigger endpoint.
func WithSync(m *offline.SyncManager) Option {
	return func(s *Server) { s.sync = m }
}

// WithPush enables the push notification endpoint.
func WithPush(p *offline.PushNotifier) Option {
	return func(s *Server) { s.push = p }
}

// WithMetrics exposes m on /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) { s.log = l }
}

// NewServer builds the echo instance and registers every route.
func NewServer(cfg Config, reg *offline.Registration, opts ...Option) *Server {
	s := &Server{
		cfg:          cfg,
		echo:         echo.New(),
		registration: reg,
		log:          logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Module("api")
	if s.cfg.StartURL == "" {
		s.cfg.StartURL = "/"
	}

	s.echo.HideBanner = true
	s.echo.HidePort = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			fields := []logger.Field{
				logger.String("method", v.Method),
				logger.String("uri", v.URI),
				logger.Int("status", v.Status),
				logger.Duration("latency", v.Latency),
			}
			if v.Error != nil {
				fields = append(fields, logger.Error(v.Error))
			}
			s.log.Debug("request", fields...)
			return nil
		},
	}))

	s.registerPWARoutes()
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{})))
	}
	// Everything else is a fetch intercepted by the offline worker.
	s.echo.Any("/*", echo.WrapHandler(reg))
	return s
}

// Echo returns the underlying echo instance.
func (s *Server) Echo() *echo.Echo { return s.echo }

// ServeHTTP lets the server be used as a plain handler in tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.echo.Server.ReadHeaderTimeout = readHeaderTimeout

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("offline gateway listening", logger.String("addr", s.cfg.Listen))
		errCh <- s.echo.Start(s.cfg.Listen)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
