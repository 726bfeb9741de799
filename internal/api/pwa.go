package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nccevidence/evidencedesk/internal/logger"
	"github.com/nccevidence/evidencedesk/internal/offline"
	"golang.org/x/time/rate"
)

// Push rate limits per client IP.
const (
	pushRateLimit  = rate.Limit(1.0 / 10) // one push every 10 seconds
	pushRateBurst  = 3
	pushRateExpiry = 5 * time.Minute
)

// messageBodyLimit bounds control message bodies.
const messageBodyLimit = "4K"

// registerPWARoutes registers the worker control endpoints. They live under
// /_worker so they never collide with paths of the fronted origin.
func (s *Server) registerPWARoutes() {
	g := s.echo.Group("/_worker")

	g.POST("/message", s.handleMessage, middleware.BodyLimit(messageBodyLimit))
	g.POST("/sync/:tag", s.handleSync)
	g.POST("/push", s.handlePush, middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: middleware.DefaultSkipper,
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(
			middleware.RateLimiterMemoryStoreConfig{
				Rate:      pushRateLimit,
				Burst:     pushRateBurst,
				ExpiresIn: pushRateExpiry,
			},
		),
		IdentifierExtractor: func(ctx echo.Context) (string, error) {
			return ctx.RealIP(), nil
		},
		ErrorHandler: func(ctx echo.Context, _ error) error {
			return ctx.JSON(http.StatusForbidden, map[string]string{
				"error": "Could not identify client",
			})
		},
		DenyHandler: func(ctx echo.Context, _ string, _ error) error {
			return ctx.JSON(http.StatusTooManyRequests, map[string]string{
				"error": "Too many push requests, please wait before trying again",
			})
		},
	}))
	g.GET("/notification-click", s.handleNotificationClick)
	g.GET("/status", s.handleStatus)
}

func (s *Server) handleMessage(ctx echo.Context) error {
	msg, err := offline.DecodeMessage(ctx.Request().Body)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{
			"error": "Invalid control message",
		})
	}

	if err := s.registration.HandleMessage(ctx.Request().Context(), msg); err != nil {
		if errors.Is(err, offline.ErrUnknownMessage) {
			return ctx.JSON(http.StatusBadRequest, map[string]string{
				"error": "Unknown message type: " + msg.Type,
			})
		}
		s.log.Error("control message failed",
			logger.String("type", msg.Type),
			logger.Error(err))
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to apply control message",
		})
	}
	return ctx.JSON(http.StatusOK, map[string]string{
		"status": "ok",
		"type":   msg.Type,
	})
}

func (s *Server) handleSync(ctx echo.Context) error {
	if s.sync == nil {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "Background sync is disabled",
		})
	}
	tag := ctx.Param("tag")
	if err := s.sync.Trigger(tag); err != nil {
		if errors.Is(err, offline.ErrUnknownSyncTag) {
			return ctx.JSON(http.StatusNotFound, map[string]string{
				"error": "Unknown sync tag: " + tag,
			})
		}
		return ctx.JSON(http.StatusInternalServerError, map[string]string{
			"error": "Failed to trigger sync",
		})
	}
	return ctx.JSON(http.StatusAccepted, map[string]string{
		"status": "queued",
		"tag":    tag,
	})
}

func (s *Server) handlePush(ctx echo.Context) error {
	if s.push == nil {
		return ctx.JSON(http.StatusServiceUnavailable, map[string]string{
			"error": "Push notifications are disabled",
		})
	}
	note, err := s.push.Push(ctx.Request().Context())
	if err != nil {
		return ctx.JSON(http.StatusBadGateway, map[string]string{
			"error": "Failed to deliver push notification",
		})
	}
	return ctx.JSON(http.StatusOK, note)
}

// handleNotificationClick focuses the app: the browser follows the redirect
// to the start URL in whichever window opened the notification link.
func (s *Server) handleNotificationClick(ctx echo.Context) error {
	ctx.Response().Header().Set("Cache-Control", "no-store")
	return ctx.Redirect(http.StatusFound, s.cfg.StartURL)
}

type workerStatus struct {
	State      string `json:"state"`
	CacheName  string `json:"cache_name"`
	CachedKeys int    `json:"cached_keys"`
}

type statusResponse struct {
	Active  *workerStatus       `json:"active"`
	Waiting *workerStatus       `json:"waiting,omitempty"`
	Buckets []string            `json:"buckets"`
	Sync    *offline.SyncStatus `json:"sync,omitempty"`
}

func (s *Server) handleStatus(ctx echo.Context) error {
	rctx := ctx.Request().Context()
	resp := statusResponse{Buckets: []string{}}

	describe := func(w *offline.Worker) *workerStatus {
		if w == nil {
			return nil
		}
		ws := &workerStatus{State: string(w.State()), CacheName: w.CacheName()}
		if has, err := w.Storage().Has(rctx, w.CacheName()); err == nil && has {
			if c, err := w.Storage().Open(rctx, w.CacheName()); err == nil {
				if keys, err := c.Keys(rctx); err == nil {
					ws.CachedKeys = len(keys)
				}
			}
		}
		return ws
	}

	active := s.registration.Active()
	resp.Active = describe(active)
	resp.Waiting = describe(s.registration.Waiting())

	if active != nil {
		names, err := active.Storage().Keys(rctx)
		if err != nil {
			s.log.Warn("failed to list cache buckets", logger.Error(err))
		} else {
			resp.Buckets = names
		}
	}
	if s.sync != nil && s.cfg.SyncTag != "" {
		if st, ok := s.sync.Status(s.cfg.SyncTag); ok {
			resp.Sync = &st
		}
	}
	return ctx.JSON(http.StatusOK, resp)
}
