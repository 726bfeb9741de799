package mqtt

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nccevidence/evidencedesk/internal/logger"
	"github.com/nccevidence/evidencedesk/internal/uploader"
)

const publishTimeout = 5 * time.Second

// Event is the JSON payload published for each submit outcome.
type Event struct {
	ID           string    `json:"id"`
	Result       string    `json:"result"`
	EvidenceName string    `json:"evidence_name"`
	SubCounty    string    `json:"sub_county"`
	Files        int       `json:"files"`
	Bytes        int64     `json:"bytes"`
	DurationMs   int64     `json:"duration_ms"`
	QueuedID     string    `json:"queued_id,omitempty"`
	Error        string    `json:"error,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewEvent converts an upload outcome.
func NewEvent(o uploader.Outcome) Event {
	e := Event{
		ID:           uuid.NewString(),
		Result:       string(o.Result),
		EvidenceName: o.EvidenceName,
		SubCounty:    o.SubCounty,
		Files:        o.Files,
		Bytes:        o.Bytes,
		DurationMs:   o.Duration.Milliseconds(),
		QueuedID:     o.QueuedID,
		Timestamp:    o.At,
	}
	if o.Err != nil {
		e.Error = o.Err.Error()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	return e
}

// Publisher is an uploader.Observer that publishes outcomes to a topic.
// Publishing is best effort: failures are logged and never affect the upload.
type Publisher struct {
	client Client
	topic  string
	log    logger.Logger
}

var _ uploader.Observer = (*Publisher)(nil)

// NewPublisher creates a publisher for topic.
func NewPublisher(client Client, topic string, log logger.Logger) *Publisher {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Publisher{client: client, topic: topic, log: log.Module("mqtt")}
}

// ObserveOutcome publishes one event.
func (p *Publisher) ObserveOutcome(ctx context.Context, o uploader.Outcome) {
	payload, err := json.Marshal(NewEvent(o))
	if err != nil {
		p.log.Error("failed to encode outcome event", logger.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if !p.client.IsConnected() {
		if err := p.client.Connect(ctx); err != nil {
			p.log.Warn("outcome event not published", logger.Error(err))
			return
		}
	}
	if err := p.client.Publish(ctx, p.topic, string(payload)); err != nil {
		p.log.Warn("outcome event not published",
			logger.String("topic", p.topic),
			logger.Error(err))
		return
	}
	p.log.Debug("outcome event published",
		logger.String("topic", p.topic),
		logger.String("result", string(o.Result)))
}
