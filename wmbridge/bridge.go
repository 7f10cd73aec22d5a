// Package wmbridge feeds messages from any watermill subscriber through a
// callback.Router, so the same topic handlers serve sidecar deliveries and
// direct broker consumption.
package wmbridge

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/bjaus/callback"
)

// ContentTypeKey is the message metadata key read as the payload content
// type.
const ContentTypeKey = "content-type"

// ErrRedeliver is returned to watermill when a handler asked for the message
// to be redelivered.
var ErrRedeliver = errors.New("redelivery requested")

// Bridge dispatches watermill messages for one pub/sub component.
type Bridge struct {
	router     *callback.Router
	pubsubName string
	logger     *slog.Logger
}

// New creates a Bridge dispatching to r. pubsubName selects which of the
// router's subscriptions the bridge serves.
func New(r *callback.Router, pubsubName string, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{router: r, pubsubName: pubsubName, logger: logger}
}

// Handler returns a watermill handler for topic. Success and Drop ack the
// message; Retry nacks it so the subscriber redelivers. Messages that
// cannot be decoded or that nothing subscribes to are acked and logged.
func (b *Bridge) Handler(topic string) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		env := callback.TopicEnvelope{
			PubsubName:  b.pubsubName,
			Topic:       topic,
			ContentType: msg.Metadata.Get(ContentTypeKey),
			Metadata:    msg.Metadata,
		}
		e, err := callback.ParseTopicEvent(env, msg.Payload)
		if err != nil {
			b.logger.WarnContext(msg.Context(), "undecodable message, acking",
				"msg_id", msg.UUID, "topic", topic, "err", err)
			return nil
		}

		status, err := b.router.OnTopicEvent(msg.Context(), e)
		switch {
		case errors.Is(err, callback.ErrNotFound):
			return nil
		case err != nil:
			return err
		case status == callback.StatusRetry:
			return fmt.Errorf("message %s: %w", msg.UUID, ErrRedeliver)
		}
		return nil
	}
}

// Register adds a consumer handler on mr for every router subscription of
// the bridge's pub/sub component, reading from sub. It returns the number of
// handlers added.
func (b *Bridge) Register(mr *message.Router, sub message.Subscriber, middlewares ...message.HandlerMiddleware) int {
	n := 0
	for _, s := range b.router.Subscriptions() {
		if s.PubsubName != b.pubsubName {
			continue
		}
		name := fmt.Sprintf("callback.%s.%s", s.PubsubName, s.Topic)
		h := mr.AddConsumerHandler(name, s.Topic, sub, b.Handler(s.Topic))
		h.AddMiddleware(middlewares...)
		n++
	}
	b.logger.Info("watermill bridge ready", "pubsub", b.pubsubName, "handlers", n)
	return n
}
