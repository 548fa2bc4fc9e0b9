package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/SimelweN/ReBookedSolutions-sub005/internal/notifications"
)

// amqpChannel is the subset of *amqp.Channel used by the transport.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// AMQPNotificationTransport publishes rendered notifications to a topic exchange, routed by
// channel (notifications.email, notifications.sms, ...).
type AMQPNotificationTransport struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  amqpChannel
	exchange string
}

var _ notifications.Transport = (*AMQPNotificationTransport)(nil)

// DialAMQPNotificationTransport connects to the broker and declares the durable exchange.
func DialAMQPNotificationTransport(url, exchange string) (*AMQPNotificationTransport, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp notification transport: url is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp notification transport: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("amqp notification transport: open channel: %w", err)
	}
	transport, err := newAMQPNotificationTransport(ch, exchange)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	transport.conn = conn
	return transport, nil
}

func newAMQPNotificationTransport(ch amqpChannel, exchange string) (*AMQPNotificationTransport, error) {
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		return nil, errors.New("amqp notification transport: exchange is required")
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("amqp notification transport: declare exchange: %w", err)
	}
	return &AMQPNotificationTransport{channel: ch, exchange: exchange}, nil
}

// Send publishes a persistent JSON message. Channels are not safe for concurrent publishing,
// so sends are serialised.
func (t *AMQPNotificationTransport) Send(ctx context.Context, msg notifications.Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	err = t.channel.PublishWithContext(ctx, t.exchange, "notifications."+string(msg.Channel), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    msg.CreatedAt,
		Type:         msg.Template,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (t *AMQPNotificationTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var errs []error
	if t.channel != nil {
		errs = append(errs, t.channel.Close())
	}
	if t.conn != nil {
		errs = append(errs, t.conn.Close())
	}
	return errors.Join(errs...)
}
