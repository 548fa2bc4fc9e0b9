package jobs

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	domain "github.com/SimelweN/ReBookedSolutions-sub005/internal/domain"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/notifications"
	"github.com/SimelweN/ReBookedSolutions-sub005/internal/services"
)

func newTestTopic(t *testing.T, name string) (*pstest.Server, *pubsub.Topic) {
	t.Helper()
	ctx := context.Background()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	topic, err := client.CreateTopic(ctx, name)
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}
	t.Cleanup(topic.Stop)
	return srv, topic
}

func TestPubSubNotificationTransportPublishesMessage(t *testing.T) {
	srv, topic := newTestTopic(t, "notifications")
	transport, err := NewPubSubNotificationTransport(topic)
	if err != nil {
		t.Fatalf("NewPubSubNotificationTransport: %v", err)
	}

	msg := notifications.Message{
		ID:        "msg_1",
		Template:  services.TemplateOrderPaidSeller,
		Channel:   services.NotificationChannelEmail,
		Recipient: "seller-1",
		OrderID:   "ord_1",
		Subject:   "New sale",
		Body:      "Your book sold",
		CreatedAt: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := transport.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload notifications.Message
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.ID != msg.ID || payload.Subject != msg.Subject {
		t.Fatalf("unexpected payload %#v", payload)
	}
	attrs := messages[0].Attributes
	if attrs["template"] != msg.Template || attrs["channel"] != "email" || attrs["orderId"] != "ord_1" {
		t.Fatalf("unexpected attributes %#v", attrs)
	}
}

func TestPubSubOrderEventPublisherPublishesEvent(t *testing.T) {
	srv, topic := newTestTopic(t, "order-events")
	publisher, err := NewPubSubOrderEventPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderEventPublisher: %v", err)
	}

	event := services.OrderEvent{
		Type:           "order.status.changed",
		OrderID:        "ord_1",
		BuyerID:        "buyer-1",
		SellerID:       "seller-1",
		PreviousStatus: domain.OrderStatusPaid,
		CurrentStatus:  domain.OrderStatusCommitted,
		OccurredAt:     time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if err := publisher.PublishOrderEvent(context.Background(), event); err != nil {
		t.Fatalf("PublishOrderEvent: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}
	var payload services.OrderEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != "ord_1" || payload.CurrentStatus != domain.OrderStatusCommitted {
		t.Fatalf("unexpected payload %#v", payload)
	}
	if messages[0].Attributes["currentStatus"] != "committed" || messages[0].Attributes["previousStatus"] != "paid" {
		t.Fatalf("unexpected attributes %#v", messages[0].Attributes)
	}
}

func TestPublishersRequireTopic(t *testing.T) {
	if _, err := NewPubSubNotificationTransport(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
	if _, err := NewPubSubOrderEventPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
