package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"storefront-svc/config"
	"storefront-svc/models"
)

// Invalidator drops cached purchase history for a user.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Consumer reads purchase events as part of a consumer group and keeps the
// purchase history cache from serving a list that misses a new purchase.
type Consumer struct {
	reader     messageReader
	history    Invalidator
	logger     *zap.Logger
	maxRetries int
	backoff    time.Duration
}

func NewConsumer(cfg config.KafkaConfig, history Invalidator, logger *zap.Logger) *Consumer {
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:        cfg.Brokers,
		GroupID:        cfg.GroupID,
		Topic:          cfg.Topic,
		MinBytes:       1,
		MaxBytes:       1 << 20,
		MaxWait:        time.Second,
		CommitInterval: 0,
	})
	return newConsumer(reader, history, logger)
}

func newConsumer(reader messageReader, history Invalidator, logger *zap.Logger) *Consumer {
	return &Consumer{
		reader:     reader,
		history:    history,
		logger:     logger,
		maxRetries: 3,
		backoff:    time.Second,
	}
}

// Run blocks until ctx is cancelled. A message is committed once handled, or
// once its retries are exhausted so a poison message cannot stall the group.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Info("Kafka consumer started")
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to fetch message: %w", err)
		}

		if err := c.handleMessageWithRetry(ctx, msg); err != nil {
			c.logger.Error("Failed to handle message after retries",
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.logger.Error("Failed to commit message", zap.Int64("offset", msg.Offset), zap.Error(err))
		}
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func (c *Consumer) handleMessageWithRetry(ctx context.Context, msg kafkago.Message) error {
	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		err := c.handleMessage(ctx, msg)
		if err == nil {
			return nil
		}
		lastErr = err
		var perm permanentError
		if errors.As(err, &perm) {
			return err
		}
		if attempt < c.maxRetries {
			backoff := time.Duration(attempt) * c.backoff
			c.logger.Warn("Retrying message handling",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", c.maxRetries, lastErr)
}

type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func (c *Consumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, kafkaGoHeaderCarrier(msg.Headers))
	ctx, span := otel.Tracer("storefront").Start(ctx, "ConsumePurchaseEvent")
	defer span.End()

	var event models.PurchaseEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		span.RecordError(err)
		return permanentError{fmt.Errorf("failed to unmarshal event: %w", err)}
	}
	span.SetAttributes(attribute.String("event.type", event.EventType))

	switch event.EventType {
	case models.EventPurchaseCompleted:
		if event.UserID == "" {
			return nil
		}
		if err := c.history.Invalidate(ctx, event.UserID); err != nil {
			span.RecordError(err)
			return fmt.Errorf("failed to invalidate purchase history: %w", err)
		}
		c.logger.Info("Purchase history invalidated",
			zap.String("trace_id", span.SpanContext().TraceID().String()),
			zap.String("user_id", event.UserID),
			zap.String("purchase_id", event.PurchaseID),
		)
	case models.EventPaymentFailed:
		c.logger.Info("Payment failure observed",
			zap.String("payment_intent_id", event.PaymentIntentID),
		)
	default:
		c.logger.Debug("Unknown event type", zap.String("event_type", event.EventType))
	}
	return nil
}

// kafkaGoHeaderCarrier implements propagation.TextMapCarrier over kafka-go headers.
type kafkaGoHeaderCarrier []kafkago.Header

func (c kafkaGoHeaderCarrier) Get(key string) string {
	for _, h := range c {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c kafkaGoHeaderCarrier) Set(key, value string) {}

func (c kafkaGoHeaderCarrier) Keys() []string {
	keys := make([]string, len(c))
	for i, h := range c {
		keys[i] = h.Key
	}
	return keys
}
