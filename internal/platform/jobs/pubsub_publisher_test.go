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

	"github.com/mysterybooks/storefront/internal/services"
)

func TestPubSubOrderPublisherPublishesMessage(t *testing.T) {
	ctx := context.Background()
	srv := pstest.NewServer()
	defer srv.Close()

	client, err := pubsub.NewClient(ctx, "test-project",
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	)
	if err != nil {
		t.Fatalf("pubsub.NewClient: %v", err)
	}
	defer func() {
		_ = client.Close()
	}()

	topic, err := client.CreateTopic(ctx, "orders")
	if err != nil {
		t.Fatalf("CreateTopic: %v", err)
	}

	publisher, err := NewPubSubOrderPublisher(topic)
	if err != nil {
		t.Fatalf("NewPubSubOrderPublisher: %v", err)
	}
	defer publisher.Stop()

	event := services.OrderConfirmedEvent{
		EventID:       "evt_01",
		OrderID:       "a1b2c3d4",
		SessionID:     "cs_test_a1b2c3d4",
		BookTitle:     "Dune",
		Genre:         "sci-fi",
		Mystery:       true,
		CustomerEmail: "reader@example.com",
		CustomerName:  "Reader",
		Amount:        "5.00",
		Currency:      "GBP",
		PaymentStatus: "paid",
		ConfirmedAt:   time.Date(2025, 5, 6, 9, 0, 0, 0, time.UTC),
	}

	if _, err := publisher.PublishOrderConfirmed(ctx, event); err != nil {
		t.Fatalf("PublishOrderConfirmed: %v", err)
	}

	messages := srv.Messages()
	if len(messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(messages))
	}

	var payload services.OrderConfirmedEvent
	if err := json.Unmarshal(messages[0].Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.OrderID != event.OrderID || payload.BookTitle != event.BookTitle {
		t.Fatalf("unexpected payload %#v", payload)
	}
	attrs := messages[0].Attributes
	if attrs["eventType"] != "order.confirmed" || attrs["orderId"] != "a1b2c3d4" || attrs["mystery"] != "true" {
		t.Fatalf("unexpected attributes %#v", attrs)
	}
	if _, ok := attrs["customerEmail"]; ok {
		t.Fatalf("customer email must not be exposed as an attribute")
	}
}

func TestNewPubSubOrderPublisherRequiresTopic(t *testing.T) {
	if _, err := NewPubSubOrderPublisher(nil); err == nil {
		t.Fatalf("expected error for nil topic")
	}
}
