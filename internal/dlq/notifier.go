package dlq

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel/trace"

	"eventpipe/internal/broker"
	"eventpipe/internal/config"
	"eventpipe/internal/constants"
	"eventpipe/internal/logger"
	"eventpipe/pkg/metrics"
	"eventpipe/pkg/models"
)

// ErrNotifyQueueFull is returned when a notification is dropped because the
// publisher is behind.
var ErrNotifyQueueFull = errors.New("dead-letter notification queue is full")

// Notifier announces newly dead-lettered events to other systems.
type Notifier interface {
	NotifyDeadLetter(ctx context.Context, entry models.DeadLetterEvent) error
}

type Notification struct {
	ID             string          `json:"id"`
	EventID        string          `json:"eventId"`
	Service        string          `json:"service"`
	FailureReason  string          `json:"failureReason"`
	RetryCount     int             `json:"retryCount"`
	OriginalEvent  json.RawMessage `json:"originalEvent"`
	DeadLetteredAt time.Time       `json:"deadLetteredAt"`
}

type pendingNotification struct {
	span trace.SpanContext
	msg  Notification
}

// KafkaNotifier queues notifications and publishes them from Run, so a slow
// or unreachable broker never holds up the caller.
type KafkaNotifier struct {
	producer broker.Producer
	topic    string
	timeout  time.Duration
	queue    chan pendingNotification
	logger   logger.Logger
}

func NewKafkaNotifier(producer broker.Producer, topic string, cfg config.DLQConfig, log logger.Logger) *KafkaNotifier {
	size := cfg.NotifyQueueSize
	if size <= 0 {
		size = constants.NotifyQueueSize
	}
	timeout := cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = constants.NotifyTimeout
	}
	return &KafkaNotifier{
		producer: producer,
		topic:    topic,
		timeout:  timeout,
		queue:    make(chan pendingNotification, size),
		logger:   log,
	}
}

// NotifyDeadLetter enqueues the notification without blocking.
func (n *KafkaNotifier) NotifyDeadLetter(ctx context.Context, entry models.DeadLetterEvent) error {
	if n.producer == nil || n.topic == "" {
		return nil
	}

	pending := pendingNotification{
		span: trace.SpanContextFromContext(ctx),
		msg: Notification{
			ID:             entry.ID,
			EventID:        entry.EventID,
			Service:        entry.Service,
			FailureReason:  entry.FailureReason,
			RetryCount:     entry.RetryCount,
			OriginalEvent:  entry.OriginalEvent,
			DeadLetteredAt: entry.LastAttemptAt,
		},
	}

	select {
	case n.queue <- pending:
		return nil
	default:
		metrics.IncDLQMessage("notify_dropped")
		return ErrNotifyQueueFull
	}
}

// Pending reports how many notifications are waiting to be published.
func (n *KafkaNotifier) Pending() int {
	return len(n.queue)
}

// Run publishes queued notifications until ctx is cancelled.
func (n *KafkaNotifier) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-n.queue:
			n.publish(ctx, p)
		}
	}
}

// Flush publishes whatever is still queued, giving up when ctx ends. It is
// called on shutdown after the worker has stopped adding entries.
func (n *KafkaNotifier) Flush(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			if left := len(n.queue); left > 0 {
				n.logger.Warnw("Dropping unpublished dead-letter notifications", "count", left)
			}
			return
		}
		select {
		case p := <-n.queue:
			n.publish(ctx, p)
		default:
			return
		}
	}
}

func (n *KafkaNotifier) publish(ctx context.Context, p pendingNotification) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if p.span.IsValid() {
		ctx = trace.ContextWithRemoteSpanContext(ctx, p.span)
	}

	if err := n.producer.Publish(ctx, n.topic, p.msg.EventID, p.msg); err != nil {
		metrics.IncDLQMessage("notify_error")
		n.logger.WarnwCtx(ctx, "Failed to publish dead-letter notification",
			"event_id", p.msg.EventID,
			"error", err,
		)
		return
	}
	metrics.IncDLQMessage("notified")
}
