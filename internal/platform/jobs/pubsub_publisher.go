package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/pubsub"

	"github.com/SimelweN/ReBookedSolutions-sub005/internal/notifications"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/services"
)

// PubSubNotificationTransport publishes rendered notifications to a Pub/Sub topic consumed by
// the email/SMS/push senders.
type PubSubNotificationTransport struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ notifications.Transport = (*PubSubNotificationTransport)(nil)

// NewPubSubNotificationTransport constructs a Pub/Sub backed notification transport.
func NewPubSubNotificationTransport(topic *pubsub.Topic) (*PubSubNotificationTransport, error) {
	if topic == nil {
		return nil, errors.New("pubsub notification transport: topic is required")
	}
	return &PubSubNotificationTransport{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// Send publishes the message and waits for the server acknowledgement.
func (p *PubSubNotificationTransport) Send(ctx context.Context, msg notifications.Message) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub notification transport: not initialised")
	}

	data, err := p.marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "messageId", msg.ID)
	setAttr(attrs, "template", msg.Template)
	setAttr(attrs, "channel", string(msg.Channel))
	setAttr(attrs, "recipient", msg.Recipient)
	setAttr(attrs, "orderId", msg.OrderID)

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// PubSubOrderEventPublisher publishes order status events to a Pub/Sub topic.
type PubSubOrderEventPublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.OrderEventPublisher = (*PubSubOrderEventPublisher)(nil)

// NewPubSubOrderEventPublisher constructs a Pub/Sub backed order event publisher.
func NewPubSubOrderEventPublisher(topic *pubsub.Topic) (*PubSubOrderEventPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub order event publisher: topic is required")
	}
	return &PubSubOrderEventPublisher{
		topic:   topic,
		marshal: json.Marshal,
	}, nil
}

// PublishOrderEvent publishes the event ordered by order id so consumers see transitions of an
// order in sequence. The topic must have message ordering enabled for the key to take effect.
func (p *PubSubOrderEventPublisher) PublishOrderEvent(ctx context.Context, event services.OrderEvent) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub order event publisher: not initialised")
	}

	data, err := p.marshal(event)
	if err != nil {
		return fmt.Errorf("marshal order event: %w", err)
	}

	attrs := make(map[string]string)
	setAttr(attrs, "type", event.Type)
	setAttr(attrs, "orderId", event.OrderID)
	setAttr(attrs, "previousStatus", string(event.PreviousStatus))
	setAttr(attrs, "currentStatus", string(event.CurrentStatus))

	msg := &pubsub.Message{
		Data:       data,
		Attributes: attrs,
	}
	if p.topic.EnableMessageOrdering {
		msg.OrderingKey = strings.TrimSpace(event.OrderID)
	}
	result := p.topic.Publish(ctx, msg)
	if _, err := result.Get(ctx); err != nil {
		if msg.OrderingKey != "" {
			p.topic.ResumePublish(msg.OrderingKey)
		}
		return fmt.Errorf("publish order event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
