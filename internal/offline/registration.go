package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/nccevidence/evidencedesk/internal/errors"
	"github.com/nccevidence/evidencedesk/internal/logger"
)

// Control message types accepted from the page.
const (
	MessageSkipWaiting = "SKIP_WAITING"
	MessageClearCache  = "CLEAR_CACHE"
)

// ErrUnknownMessage is returned for control messages with an unknown type.
var ErrUnknownMessage = errors.NewStd("unknown control message")

// Message is a control message posted to the worker.
type Message struct {
	Type string `json:"type"`
}

// DecodeMessage reads one JSON control message.
func DecodeMessage(r io.Reader) (Message, error) {
	var m Message
	dec := json.NewDecoder(io.LimitReader(r, 4096))
	if err := dec.Decode(&m); err != nil {
		return Message{}, fmt.Errorf("decode control message: %w", err)
	}
	return m, nil
}

// Registration routes intercepted requests to the active worker and manages
// the hand-over between worker versions.
type Registration struct {
	network http.Handler
	log     logger.Logger

	mu      sync.RWMutex
	active  *Worker
	waiting *Worker
}

// NewRegistration creates an empty registration. Until a worker is active,
// requests go straight to network.
func NewRegistration(network http.Handler, log logger.Logger) *Registration {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Registration{network: network, log: log.Module("offline")}
}

// Active returns the worker controlling requests, or nil.
func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Waiting returns the installed worker waiting to take over, or nil.
func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// Register installs w. It activates at once when nothing is active yet or
// when skipWaiting is set; otherwise w waits for SkipWaiting. A failed
// install leaves the registration unchanged.
func (r *Registration) Register(ctx context.Context, w *Worker, skipWaiting bool) error {
	if err := w.Install(ctx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil || skipWaiting {
		return r.activateLocked(ctx, w)
	}
	if r.waiting != nil && r.waiting != w {
		r.waiting.terminate()
	}
	r.waiting = w
	r.log.Info("worker installed and waiting", logger.String("cache", w.CacheName()))
	return nil
}

// SkipWaiting activates the waiting worker, if any.
func (r *Registration) SkipWaiting(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.waiting == nil {
		return nil
	}
	return r.activateLocked(ctx, r.waiting)
}

func (r *Registration) activateLocked(ctx context.Context, w *Worker) error {
	if err := w.Activate(ctx); err != nil {
		return err
	}
	old := r.active
	r.active = w
	if r.waiting == w {
		r.waiting = nil
	}
	if old != nil && old != w {
		old.terminate()
	}
	r.log.Info("worker activated and claimed clients", logger.String("cache", w.CacheName()))
	return nil
}

// HandleMessage applies a control message.
func (r *Registration) HandleMessage(ctx context.Context, m Message) error {
	switch m.Type {
	case MessageSkipWaiting:
		return r.SkipWaiting(ctx)
	case MessageClearCache:
		w := r.Active()
		if w == nil {
			return nil
		}
		deleted, err := w.ClearCache(ctx)
		if err != nil {
			return errors.New(err).
				Component("offline").
				Category(errors.CategoryCache).
				Context("cache", w.CacheName()).
				Build()
		}
		r.log.Info("cache cleared",
			logger.String("cache", w.CacheName()),
			logger.Bool("existed", deleted))
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownMessage, m.Type)
	}
}

// ServeHTTP hands the request to the active worker, or to the network when
// no worker controls the scope yet.
func (r *Registration) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	if w := r.Active(); w != nil {
		w.ServeHTTP(rw, req)
		return
	}
	r.network.ServeHTTP(rw, req)
}
