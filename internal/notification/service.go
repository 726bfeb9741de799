// Package notification shows push notifications through shoutrrr services
// (ntfy, gotify, telegram, ...).
package notification

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/nccevidence/evidencedesk/internal/errors"
	"github.com/nccevidence/evidencedesk/internal/logger"
	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"
)

// Sender delivers a message to one shoutrrr service.
type Sender interface {
	Send(message string, params *types.Params) []error
}

// Notification is one push message.
type Notification struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Body     string    `json:"body"`
	ClickURL string    `json:"click_url,omitempty"`
	SentAt   time.Time `json:"sent_at"`
}

type target struct {
	scheme string
	sender Sender
}

// ServiceConfig configures the push service.
type ServiceConfig struct {
	URLs []string
	// Title and Body are the static notification texts.
	Title string
	Body  string
	// ClickURL opens the app when the notification is clicked.
	ClickURL string
	Log      logger.Logger
}

// Service sends static push notifications to every configured target.
type Service struct {
	targets  []target
	title    string
	body     string
	clickURL string
	log      logger.Logger

	mu   sync.Mutex
	last *Notification
}

// NewService creates a Service, building one shoutrrr sender per URL.
func NewService(cfg *ServiceConfig) (*Service, error) {
	s := newService(cfg)
	for _, raw := range cfg.URLs {
		sender, err := shoutrrr.CreateSender(raw)
		if err != nil {
			return nil, errors.New(fmt.Errorf("invalid notification url: %w", err)).
				Component("notification").
				Category(errors.CategoryConfiguration).
				Context("scheme", schemeOf(raw)).
				Build()
		}
		s.targets = append(s.targets, target{scheme: schemeOf(raw), sender: sender})
	}
	return s, nil
}

// NewServiceWithSenders builds a Service around prepared senders, keyed by
// URL scheme. Used by tests and by callers that own their senders.
func NewServiceWithSenders(cfg *ServiceConfig, senders map[string]Sender) *Service {
	s := newService(cfg)
	for scheme, sender := range senders {
		s.targets = append(s.targets, target{scheme: scheme, sender: sender})
	}
	return s
}

func newService(cfg *ServiceConfig) *Service {
	log := cfg.Log
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Service{
		title:    cfg.Title,
		body:     cfg.Body,
		clickURL: cfg.ClickURL,
		log:      log.Module("notification"),
	}
}

// Push shows the static notification on every target. Delivery failures
// are collected; the notification counts as shown if any target accepted it.
func (s *Service) Push(ctx context.Context) (*Notification, error) {
	n := &Notification{
		ID:       fmt.Sprintf("push-%d", time.Now().UnixNano()),
		Title:    s.title,
		Body:     s.body,
		ClickURL: s.clickURL,
		SentAt:   time.Now(),
	}
	if len(s.targets) == 0 {
		s.log.Debug("no notification targets configured")
		s.remember(n)
		return n, nil
	}

	var (
		failures      []error
		failedTargets int
	)
	for _, t := range s.targets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		params := types.Params{}
		params.SetTitle(n.Title)
		if t.scheme == "ntfy" && n.ClickURL != "" {
			params["click"] = n.ClickURL
		}
		failed := false
		for _, err := range t.sender.Send(n.Body, &params) {
			if err != nil {
				failures = append(failures, fmt.Errorf("%s: %w", t.scheme, err))
				failed = true
			}
		}
		if failed {
			failedTargets++
		}
	}

	if failedTargets == len(s.targets) {
		return nil, errors.New(errors.Join(failures...)).
			Component("notification").
			Category(errors.CategoryNotification).
			Context("targets", len(s.targets)).
			Build()
	}
	for _, err := range failures {
		s.log.Warn("notification target failed", logger.Error(err))
	}
	s.remember(n)
	return n, nil
}

// Last returns the most recent notification shown, or nil.
func (s *Service) Last() *Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// ClickURL is where a notification click leads.
func (s *Service) ClickURL() string { return s.clickURL }

func (s *Service) remember(n *Notification) {
	s.mu.Lock()
	s.last = n
	s.mu.Unlock()
}

func schemeOf(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Scheme != "" {
		return strings.ToLower(u.Scheme)
	}
	return "unknown"
}
