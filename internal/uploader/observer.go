package uploader

import (
	"context"
	"errors"
	"time"

	"github.com/nccevidence/evidencedesk/internal/observability/metrics"
)

// Result classifies the final outcome of a submit.
type Result string

const (
	ResultSuccess   Result = metrics.ResultSuccess
	ResultInvalid   Result = metrics.ResultInvalid
	ResultServer    Result = metrics.ResultServer
	ResultTransport Result = metrics.ResultTransport
)

// Outcome is delivered to observers once per submit.
type Outcome struct {
	Result       Result
	EvidenceName string
	SubCounty    string
	Files        int
	Bytes        int64
	Duration     time.Duration
	// QueuedID is the outbox id when a failed submission was kept for sync.
	QueuedID string
	Err      error
	At       time.Time
}

// Observer receives submit outcomes. Implementations must not block for long;
// they run on the submitting goroutine.
type Observer interface {
	ObserveOutcome(ctx context.Context, o Outcome)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, o Outcome)

func (f ObserverFunc) ObserveOutcome(ctx context.Context, o Outcome) { f(ctx, o) }

func classify(err error) Result {
	var (
		verr *ValidationError
		serr *ServerError
	)
	switch {
	case err == nil:
		return ResultSuccess
	case errors.As(err, &verr):
		return ResultInvalid
	case errors.As(err, &serr):
		return ResultServer
	default:
		return ResultTransport
	}
}

// metricsObserver records outcomes on prometheus collectors.
type metricsObserver struct {
	m *metrics.Metrics
}

// NewMetricsObserver returns an Observer that counts uploads by result.
func NewMetricsObserver(m *metrics.Metrics) Observer {
	return metricsObserver{m: m}
}

func (o metricsObserver) ObserveOutcome(_ context.Context, out Outcome) {
	o.m.UploadsTotal.WithLabelValues(string(out.Result)).Inc()
	if out.QueuedID != "" {
		o.m.UploadsTotal.WithLabelValues(metrics.ResultQueued).Inc()
	}
	if out.Result == ResultInvalid {
		return
	}
	o.m.UploadBytes.Add(float64(out.Bytes))
	o.m.UploadDuration.Observe(out.Duration.Seconds())
}
