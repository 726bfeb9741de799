package offline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nccevidence/evidencedesk/internal/errors"
	"github.com/nccevidence/evidencedesk/internal/logger"
)

// ErrUnknownSyncTag is returned by Trigger for tags without a handler.
var ErrUnknownSyncTag = errors.NewStd("no handler registered for sync tag")

// SyncHandler processes one sync event. A returned error leaves the work for
// the next trigger.
type SyncHandler func(ctx context.Context, tag string) error

// SyncStatus is the outcome of the last run for a tag.
type SyncStatus struct {
	Tag     string    `json:"tag"`
	Runs    int       `json:"runs"`
	LastRun time.Time `json:"last_run,omitzero"`
	LastErr string    `json:"last_error,omitempty"`
}

// syncQueueSize is the capacity of the trigger channel. Triggers for a tag
// that is already queued are coalesced, so this only needs one slot per tag.
const syncQueueSize = 64

// SyncManager runs background sync handlers on a single worker goroutine.
// Trigger never blocks: a tag already waiting to run is not queued twice.
type SyncManager struct {
	log logger.Logger

	mu       sync.Mutex
	handlers map[string]SyncHandler
	pending  map[string]bool
	status   map[string]*SyncStatus

	eventCh  chan string
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSyncManager creates a manager and starts its worker.
func NewSyncManager(log logger.Logger) *SyncManager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	m := &SyncManager{
		log:      log.Module("sync"),
		handlers: make(map[string]SyncHandler),
		pending:  make(map[string]bool),
		status:   make(map[string]*SyncStatus),
		eventCh:  make(chan string, syncQueueSize),
		stopCh:   make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
	m.wg.Add(1)
	go m.processLoop()
	return m
}

// Register sets the handler for tag, replacing any previous one.
func (m *SyncManager) Register(tag string, h SyncHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[tag] = h
	if _, ok := m.status[tag]; !ok {
		m.status[tag] = &SyncStatus{Tag: tag}
	}
}

// Trigger queues a sync event for tag. It returns ErrUnknownSyncTag when no
// handler is registered and silently drops the event after Close.
func (m *SyncManager) Trigger(tag string) error {
	select {
	case <-m.stopCh:
		return nil
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.handlers[tag]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownSyncTag, tag)
	}
	if m.pending[tag] {
		return nil
	}

	select {
	case m.eventCh <- tag:
		m.pending[tag] = true
	default:
		m.log.Warn("sync queue full, dropping trigger", logger.String("tag", tag))
	}
	return nil
}

// StartPeriodic triggers tag every interval until Close. A non-positive
// interval does nothing.
func (m *SyncManager) StartPeriodic(tag string, interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := m.Trigger(tag); err != nil {
					m.log.Warn("periodic sync trigger failed", logger.String("tag", tag), logger.Error(err))
				}
			case <-m.stopCh:
				return
			}
		}
	}()
}

// Status returns a copy of the last-run status for tag.
func (m *SyncManager) Status(tag string) (SyncStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.status[tag]
	if !ok {
		return SyncStatus{}, false
	}
	return *s, true
}

// Close stops the worker, cancels a running handler and waits for every
// goroutine to exit. Safe to call multiple times.
func (m *SyncManager) Close() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.cancel()
	})
	m.wg.Wait()
}

func (m *SyncManager) processLoop() {
	defer m.wg.Done()
	for {
		select {
		case tag := <-m.eventCh:
			m.dispatch(tag)
		case <-m.stopCh:
			return
		}
	}
}

func (m *SyncManager) dispatch(tag string) {
	m.mu.Lock()
	h := m.handlers[tag]
	m.pending[tag] = false
	m.mu.Unlock()
	if h == nil {
		return
	}

	start := time.Now()
	err := m.safeCall(h, tag)

	m.mu.Lock()
	s := m.status[tag]
	s.Runs++
	s.LastRun = start
	s.LastErr = ""
	if err != nil {
		s.LastErr = err.Error()
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Warn("background sync failed",
			logger.String("tag", tag),
			logger.Duration("duration", time.Since(start)),
			logger.Error(err))
		return
	}
	m.log.Debug("background sync finished",
		logger.String("tag", tag),
		logger.Duration("duration", time.Since(start)))
}

// safeCall turns a handler panic into an error so one bad handler cannot
// kill the worker goroutine.
func (m *SyncManager) safeCall(h SyncHandler, tag string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync handler panicked: %v", r)
		}
	}()
	return h(m.ctx, tag)
}
