package offline

import (
	"context"

	"github.com/nccevidence/evidencedesk/internal/errors"
	"github.com/nccevidence/evidencedesk/internal/logger"
	"github.com/nccevidence/evidencedesk/internal/notification"
	"github.com/nccevidence/evidencedesk/internal/observability/metrics"
)

// NotificationClickPath is where a clicked notification lands before it is
// redirected to the app.
const NotificationClickPath = "/_worker/notification-click"

// Pusher shows the static push notification.
type Pusher interface {
	Push(ctx context.Context) (*notification.Notification, error)
}

// PushNotifier shows push notifications and counts them.
type PushNotifier struct {
	pusher  Pusher
	metrics *metrics.Metrics
	log     logger.Logger
}

// NewPushNotifier wraps a Pusher. m may be nil.
func NewPushNotifier(p Pusher, m *metrics.Metrics, log logger.Logger) *PushNotifier {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &PushNotifier{pusher: p, metrics: m, log: log.Module("push")}
}

// Push shows the notification.
func (n *PushNotifier) Push(ctx context.Context) (*notification.Notification, error) {
	if n.pusher == nil {
		return nil, errors.Newf("push notifications are not configured").
			Component("offline").
			Category(errors.CategoryConfiguration).
			Build()
	}
	note, err := n.pusher.Push(ctx)
	if err != nil {
		n.count(metrics.ResultFailed)
		n.log.Warn("push notification failed", logger.Error(err))
		return nil, err
	}
	n.count(metrics.ResultSuccess)
	n.log.Info("push notification shown", logger.String("id", note.ID))
	return note, nil
}

func (n *PushNotifier) count(result string) {
	if n.metrics != nil {
		n.metrics.NotificationsSent.WithLabelValues(result).Inc()
	}
}
