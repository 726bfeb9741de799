package uploader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/nccevidence/evidencedesk/internal/errors"
	"github.com/nccevidence/evidencedesk/internal/logger"
)

// User-facing failure messages.
const (
	MsgNetworkError = "Network error. Try again."
	MsgUploadFailed = "Upload failed. Try again."
)

// SuccessMessage is the status text after an accepted upload.
func SuccessMessage(sub Submission) string {
	return fmt.Sprintf("%s_%s.pdf submitted successfully. You will receive an email confirmation.",
		sub.EvidenceName, sub.SubCounty)
}

// Controller drives one upload form: it loads the dropdown data, validates
// the current values and uploads them while reporting progress to the view.
type Controller struct {
	view    View
	sender  Sender
	catalog *CatalogLoader
	outbox  Outbox
	limits  Limits
	log     logger.Logger

	observers []Observer
}

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithCatalog sets the loader used for the category and indicator selectors.
func WithCatalog(l *CatalogLoader) ControllerOption {
	return func(c *Controller) { c.catalog = l }
}

// WithOutbox keeps failed submissions for background sync.
func WithOutbox(o Outbox) ControllerOption {
	return func(c *Controller) { c.outbox = o }
}

// WithObserver adds an outcome observer.
func WithObserver(o Observer) ControllerOption {
	return func(c *Controller) { c.observers = append(c.observers, o) }
}

// WithLimits overrides the default file limits.
func WithLimits(l Limits) ControllerOption {
	return func(c *Controller) { c.limits = l }
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) ControllerOption {
	return func(c *Controller) { c.log = l }
}

// NewController binds a view to an upload sender.
func NewController(view View, sender Sender, opts ...ControllerOption) *Controller {
	c := &Controller{
		view:   view,
		sender: sender,
		limits: DefaultLimits(),
		log:    logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Module("uploader")
	return c
}

// LoadIndicatorOptions fetches the catalog (once per controller lifetime) and
// fills the category selector in document order. A failure is logged and
// returned; the form status is left alone so the user can still type.
func (c *Controller) LoadIndicatorOptions(ctx context.Context) error {
	if c.catalog == nil {
		return apperrors.Newf("no indicator catalog configured").
			Component("uploader").
			Category(apperrors.CategoryConfiguration).
			Build()
	}
	catalog, err := c.catalog.Load(ctx)
	if err != nil {
		c.log.Warn("failed to load indicator options",
			logger.String("url", c.catalog.url),
			logger.Error(err))
		return err
	}
	c.view.SetCategoryOptions(catalog.Categories())
	return nil
}

// OnCategoryChange repopulates the indicator selector for category. An
// unknown or empty category, or a catalog that is not loaded yet, empties it.
func (c *Controller) OnCategoryChange(category string) {
	var indicators []string
	if c.catalog != nil {
		if catalog := c.catalog.Cached(); catalog != nil && category != "" {
			indicators = catalog.Indicators(category)
		}
	}
	c.view.SetIndicatorOptions(indicators)
}

// Submit validates the current form values and uploads them. The returned
// error is nil on success, a *ValidationError, a *ServerError or a
// *TransportError; the view has already been updated in every case.
func (c *Controller) Submit(ctx context.Context) error {
	c.view.SetStatus(Validating())

	sub := c.view.FieldValues().Normalized()
	if err := c.limits.Validate(sub); err != nil {
		c.view.SetStatus(Failed(err.Error()))
		c.notify(ctx, Outcome{Result: ResultInvalid, EvidenceName: sub.EvidenceName,
			SubCounty: sub.SubCounty, Files: len(sub.Files), Err: err})
		return err
	}

	gate := &statusGate{view: c.view}
	gate.set(Uploading(0))

	c.log.Info("uploading evidence",
		logger.String("evidence_name", sub.EvidenceName),
		logger.String("sub_county", sub.SubCounty),
		logger.Int("files", len(sub.Files)),
		logger.Int64("bytes", sub.TotalSize()))

	start := time.Now()
	receipt, err := c.sender.Send(ctx, sub, gate.progress)
	out := Outcome{
		Result:       classify(err),
		EvidenceName: sub.EvidenceName,
		SubCounty:    sub.SubCounty,
		Files:        len(sub.Files),
		Duration:     time.Since(start),
		Err:          err,
	}

	if err != nil {
		msg := MsgNetworkError
		var serr *ServerError
		if errors.As(err, &serr) {
			msg = MsgUploadFailed
		}
		c.log.Warn("evidence upload failed",
			logger.String("evidence_name", sub.EvidenceName),
			logger.String("result", string(out.Result)),
			logger.Error(err))
		out.QueuedID = c.enqueue(ctx, sub, err)
		gate.finish(Failed(msg))
		c.notify(ctx, out)
		return err
	}

	out.Bytes = receipt.Bytes
	c.log.Info("evidence uploaded",
		logger.String("evidence_name", sub.EvidenceName),
		logger.Int("status", receipt.StatusCode),
		logger.Duration("duration", receipt.Duration))
	gate.finish(Succeeded(SuccessMessage(sub)))
	c.view.ResetFields()
	c.notify(ctx, out)
	return nil
}

func (c *Controller) enqueue(ctx context.Context, sub Submission, cause error) string {
	if c.outbox == nil || !Retryable(cause) {
		return ""
	}
	id, err := c.outbox.Enqueue(context.WithoutCancel(ctx), sub, cause)
	if err != nil {
		c.log.Error("failed to queue submission for background sync",
			logger.Error(apperrors.New(err).
				Component("uploader").
				Category(apperrors.CategoryDatabase).
				Context("evidence_name", sub.EvidenceName).
				Build()))
		return ""
	}
	return id
}

func (c *Controller) notify(ctx context.Context, o Outcome) {
	o.At = time.Now()
	for _, obs := range c.observers {
		obs.ObserveOutcome(ctx, o)
	}
}

// statusGate drops progress ticks that arrive after the final status, since
// the transport may still be reading the body when the response lands.
type statusGate struct {
	mu       sync.Mutex
	view     View
	finished bool
}

func (g *statusGate) set(s Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.finished {
		g.view.SetStatus(s)
	}
}

func (g *statusGate) progress(fraction float64) { g.set(Uploading(fraction)) }

func (g *statusGate) finish(s Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.finished = true
	g.view.SetStatus(s)
}
