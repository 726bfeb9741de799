package uploader

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/nccevidence/evidencedesk/internal/datastore/entities"
	"github.com/nccevidence/evidencedesk/internal/datastore/repository"
	"github.com/nccevidence/evidencedesk/internal/logger"
	"github.com/nccevidence/evidencedesk/internal/observability/metrics"
	"golang.org/x/time/rate"
)

// Outbox keeps failed submissions for background sync.
type Outbox interface {
	Enqueue(ctx context.Context, sub Submission, cause error) (string, error)
}

// DrainResult summarizes one background-sync pass.
type DrainResult struct {
	Sent      int
	Failed    int
	Remaining int64
}

// SQLOutbox is an Outbox persisted through the outbox repository.
type SQLOutbox struct {
	repo    repository.OutboxRepository
	limiter *rate.Limiter
	log     logger.Logger
}

// NewSQLOutbox creates an outbox. perSecond paces replayed uploads during a
// drain; zero means no pacing.
func NewSQLOutbox(repo repository.OutboxRepository, perSecond float64, log logger.Logger) *SQLOutbox {
	if log == nil {
		log = logger.NewNopLogger()
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &SQLOutbox{
		repo:    repo,
		limiter: rate.NewLimiter(limit, 1),
		log:     log.Module("outbox"),
	}
}

// Enqueue copies the submission, file contents included, into the outbox.
func (o *SQLOutbox) Enqueue(ctx context.Context, sub Submission, cause error) (string, error) {
	queued := &entities.QueuedSubmission{
		ID:           uuid.NewString(),
		OfficerEmail: sub.OfficerEmail,
		EvidenceName: sub.EvidenceName,
		Category:     sub.Category,
		Indicator:    sub.Indicator,
		SubCounty:    sub.SubCounty,
	}
	if cause != nil {
		queued.LastError = cause.Error()
	}
	for i, f := range sub.Files {
		data, err := readAll(f)
		if err != nil {
			return "", err
		}
		queued.Files = append(queued.Files, entities.QueuedFile{
			Name:        f.Name,
			ContentType: f.ContentType,
			Size:        int64(len(data)),
			Data:        data,
			SortOrder:   i,
		})
	}
	if err := o.repo.Enqueue(ctx, queued); err != nil {
		return "", err
	}
	o.log.Info("submission queued for background sync",
		logger.String("id", queued.ID),
		logger.String("evidence_name", queued.EvidenceName),
		logger.Int("files", len(queued.Files)))
	return queued.ID, nil
}

// Pending returns the number of queued submissions.
func (o *SQLOutbox) Pending(ctx context.Context) (int64, error) {
	return o.repo.Count(ctx)
}

// Drain replays every queued submission through sender. An item is removed
// only after the sender confirms success; failures stay queued with their
// attempt count incremented. Only store errors and ctx cancellation abort
// the pass.
func (o *SQLOutbox) Drain(ctx context.Context, sender Sender) (DrainResult, error) {
	var res DrainResult

	queued, err := o.repo.List(ctx, 0)
	if err != nil {
		return res, err
	}

	for i := range queued {
		item := &queued[i]
		if err := o.limiter.Wait(ctx); err != nil {
			return res, err
		}

		if _, err := sender.Send(ctx, fromQueued(item), nil); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			o.log.Warn("queued submission still failing",
				logger.String("id", item.ID),
				logger.Int("attempts", item.Attempts+1),
				logger.Error(err))
			if rerr := o.repo.RecordFailure(ctx, item.ID, err.Error()); rerr != nil {
				return res, rerr
			}
			continue
		}

		if err := o.repo.Delete(ctx, item.ID); err != nil {
			return res, err
		}
		res.Sent++
		o.log.Info("queued submission delivered",
			logger.String("id", item.ID),
			logger.String("evidence_name", item.EvidenceName))
	}

	remaining, err := o.repo.Count(ctx)
	if err != nil {
		return res, err
	}
	res.Remaining = remaining
	return res, nil
}

// SyncHandler returns a background-sync handler that drains the outbox
// through sender. It fails while any item is still queued so the next trigger
// retries. m may be nil.
func (o *SQLOutbox) SyncHandler(sender Sender, m *metrics.Metrics) func(ctx context.Context, tag string) error {
	return func(ctx context.Context, tag string) error {
		res, err := o.Drain(ctx, sender)
		if m != nil {
			m.SyncItemsTotal.WithLabelValues(metrics.ResultSuccess).Add(float64(res.Sent))
			m.SyncItemsTotal.WithLabelValues(metrics.ResultFailed).Add(float64(res.Failed))
			if err == nil {
				m.OutboxDepth.Set(float64(res.Remaining))
			}
		}
		if err != nil {
			return err
		}
		o.log.Info("background sync drained outbox",
			logger.String("tag", tag),
			logger.Int("sent", res.Sent),
			logger.Int("failed", res.Failed),
			logger.Int64("remaining", res.Remaining))
		if res.Failed > 0 {
			return fmt.Errorf("%d queued submissions still failing", res.Failed)
		}
		return nil
	}
}

func fromQueued(q *entities.QueuedSubmission) Submission {
	sub := Submission{
		OfficerEmail: q.OfficerEmail,
		EvidenceName: q.EvidenceName,
		Category:     q.Category,
		Indicator:    q.Indicator,
		SubCounty:    q.SubCounty,
	}
	for _, f := range q.Files {
		sub.Files = append(sub.Files, FileFromBytes(f.Name, f.ContentType, f.Data))
	}
	return sub
}

func readAll(f File) ([]byte, error) {
	if f.Source == nil {
		return nil, fmt.Errorf("%s has no content", f.Name)
	}
	rc, err := f.Source.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
