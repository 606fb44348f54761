// Package outbound carries events out of the process as watermill messages.
//
// The Notifier is an ordinary listener: registered async, it turns each
// event into a JSON message on a topic and retries transient publish errors
// itself. The dispatcher core never retries.
package outbound

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	eferrors "github.com/randalmurphal/eventfan/pkg/eventfan/errors"
	"github.com/randalmurphal/eventfan/pkg/eventfan/event"
	"github.com/randalmurphal/eventfan/pkg/eventfan/listener"
)

// DefaultTopic receives external notifications.
const DefaultTopic = "eventfan.external"

// Message metadata keys.
const (
	MetadataKind          = "event_kind"
	MetadataEventID       = "event_id"
	MetadataCorrelationID = "correlation_id"
	MetadataCausationID   = "causation_id"
	MetadataTarget        = "target"
)

// Config configures a Notifier.
type Config struct {
	// Topic defaults to DefaultTopic.
	Topic string

	// Retry governs publish retries. Zero MaxAttempts uses eferrors.DefaultRetry.
	Retry eferrors.RetryConfig

	Logger *slog.Logger
}

// Notifier publishes events to a watermill topic.
type Notifier struct {
	publisher message.Publisher
	topic     string
	retry     eferrors.RetryConfig
	logger    *slog.Logger
}

var _ listener.Listener = (*Notifier)(nil)

// NewNotifier creates a Notifier over publisher.
func NewNotifier(publisher message.Publisher, cfg Config) *Notifier {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = eferrors.DefaultRetry
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	n := &Notifier{
		publisher: publisher,
		topic:     cfg.Topic,
		retry:     cfg.Retry,
		logger:    cfg.Logger.With(slog.String("component", "outbound")),
	}
	if n.retry.OnRetry == nil {
		n.retry.OnRetry = func(attempt int, err error) {
			n.logger.Warn("outbound publish failed, retrying",
				slog.String("topic", n.topic),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
		}
	}
	return n
}

// Topic returns the topic messages are published to.
func (n *Notifier) Topic() string {
	return n.topic
}

// Handle publishes evt. Transient publish errors are retried per the
// notifier's RetryConfig; the final error is returned.
func (n *Notifier) Handle(ctx context.Context, evt event.Event) error {
	msg, err := Encode(evt)
	if err != nil {
		return eferrors.Permanent(err, "encode event")
	}
	msg.SetContext(ctx)

	attempts, err := eferrors.Do(ctx, n.retry, func(context.Context) error {
		return n.publisher.Publish(n.topic, msg)
	})
	if err != nil {
		return fmt.Errorf("publish %s to %s after %d attempt(s): %w", evt.ID(), n.topic, attempts, err)
	}

	n.logger.Debug("event published",
		slog.String("topic", n.topic),
		slog.String("event_id", evt.ID()),
		slog.String("event_kind", evt.Kind().String()),
		slog.Int("attempts", attempts),
	)
	return nil
}

// Encode turns evt into a message whose payload is the event's JSON form.
func Encode(evt event.Event) (*message.Message, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataKind, evt.Kind().String())
	msg.Metadata.Set(MetadataEventID, evt.ID())
	msg.Metadata.Set(MetadataCorrelationID, evt.CorrelationID())
	if id := evt.CausationID(); id != "" {
		msg.Metadata.Set(MetadataCausationID, id)
	}
	if target := evt.String(event.KeyTarget, ""); target != "" {
		msg.Metadata.Set(MetadataTarget, target)
	}
	return msg, nil
}

// Decode restores the event carried by msg.
func Decode(msg *message.Message) (event.Event, error) {
	var evt event.Event
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		return event.Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return evt, nil
}

// Consume subscribes to topic and hands each decoded event to handle until
// ctx is done. Messages that fail to decode or handle are logged and acked,
// so a bad message is not redelivered forever.
func Consume(ctx context.Context, sub message.Subscriber, topic string, logger *slog.Logger, handle func(context.Context, event.Event) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	messages, err := sub.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}

	go func() {
		for msg := range messages {
			evt, err := Decode(msg)
			if err == nil {
				err = handle(msg.Context(), evt)
			}
			if err != nil {
				logger.Error("outbound message rejected",
					slog.String("topic", topic),
					slog.String("message_uuid", msg.UUID),
					slog.String("error", err.Error()),
				)
			}
			msg.Ack()
		}
	}()
	return nil
}

// NewGoChannel creates an in-memory pub/sub for single-process deployments
// and tests.
func NewGoChannel(logger *slog.Logger) *gochannel.GoChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer: 256,
		},
		watermill.NewSlogLogger(logger),
	)
}
