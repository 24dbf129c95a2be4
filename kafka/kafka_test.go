package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap/zaptest"

	"storefront-svc/models"
)

func TestPublisherPublish(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "purchase_events" {
			return fmt.Errorf("unexpected topic %q", msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "cs_test_1" {
			return fmt.Errorf("unexpected key %q", key)
		}
		value, err := msg.Value.Encode()
		if err != nil {
			return err
		}
		var event models.PurchaseEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		if event.EventType != models.EventPurchaseCompleted || event.AmountTotal != 2900 {
			return fmt.Errorf("unexpected event %+v", event)
		}
		return nil
	})

	pub := NewPublisher(producer, "purchase_events", zaptest.NewLogger(t))
	err := pub.Publish(context.Background(), models.PurchaseEvent{
		EventType:       models.EventPurchaseCompleted,
		PurchaseID:      "01HZX",
		StripeSessionID: "cs_test_1",
		AmountTotal:     2900,
		Currency:        "usd",
	})
	if err != nil {
		t.Errorf("Publish() error = %v", err)
	}
	if err := pub.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestPublisherPublishFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := NewPublisher(producer, "purchase_events", zaptest.NewLogger(t))
	err := pub.Publish(context.Background(), models.PurchaseEvent{EventType: models.EventPaymentFailed, PaymentIntentID: "pi_1"})
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Errorf("expected broker error, got %v", err)
	}
	pub.Close()
}

func TestHeaderCarrier(t *testing.T) {
	var c saramaHeaderCarrier
	c.Set("traceparent", "00-abc-def-01")
	if got := c.Get("traceparent"); got != "00-abc-def-01" {
		t.Errorf("Get() = %q", got)
	}
	if keys := c.Keys(); len(keys) != 1 || keys[0] != "traceparent" {
		t.Errorf("Keys() = %v", keys)
	}

	kc := kafkaGoHeaderCarrier([]kafkago.Header{{Key: "traceparent", Value: []byte("x")}})
	if kc.Get("traceparent") != "x" || kc.Get("missing") != "" {
		t.Errorf("unexpected kafka-go carrier values")
	}
}

type fakeReader struct {
	messages  []kafkago.Message
	committed []int64
	cancel    context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	if len(r.messages) == 0 {
		r.cancel()
		<-ctx.Done()
		return kafkago.Message{}, ctx.Err()
	}
	msg := r.messages[0]
	r.messages = r.messages[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

type fakeInvalidator struct {
	users []string
	err   error
}

func (f *fakeInvalidator) Invalidate(_ context.Context, userID string) error {
	f.users = append(f.users, userID)
	return f.err
}

func eventMessage(t *testing.T, offset int64, event models.PurchaseEvent) kafkago.Message {
	t.Helper()
	data, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return kafkago.Message{Offset: offset, Value: data}
}

func TestConsumerInvalidatesHistory(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: cancel, messages: []kafkago.Message{
		eventMessage(t, 1, models.PurchaseEvent{EventType: models.EventPurchaseCompleted, UserID: "user-1"}),
		eventMessage(t, 2, models.PurchaseEvent{EventType: models.EventPurchaseCompleted}),
		eventMessage(t, 3, models.PurchaseEvent{EventType: models.EventPaymentFailed, PaymentIntentID: "pi_1"}),
		{Offset: 4, Value: []byte("not json")},
	}}
	history := &fakeInvalidator{}

	c := newConsumer(reader, history, zaptest.NewLogger(t))
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(history.users) != 1 || history.users[0] != "user-1" {
		t.Errorf("expected one invalidation for user-1, got %v", history.users)
	}
	if len(reader.committed) != 4 {
		t.Errorf("expected every message committed, got %v", reader.committed)
	}
}

func TestConsumerRetriesInvalidation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{cancel: cancel, messages: []kafkago.Message{
		eventMessage(t, 1, models.PurchaseEvent{EventType: models.EventPurchaseCompleted, UserID: "user-1"}),
	}}
	history := &fakeInvalidator{err: errors.New("redis down")}

	c := newConsumer(reader, history, zaptest.NewLogger(t))
	c.backoff = 0
	if err := c.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(history.users) != 3 {
		t.Errorf("expected 3 attempts, got %d", len(history.users))
	}
}
