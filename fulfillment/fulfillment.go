// Package fulfillment turns verified payment events into purchase records,
// cart cleanup, purchase events and confirmation emails.
//
// The purchase insert is the idempotency guard: a checkout session that has
// already been recorded produces no further side effects, so redelivered
// webhooks never send a second email.
package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stripe/stripe-go/v78"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"storefront-svc/catalog"
	"storefront-svc/middleware"
	"storefront-svc/models"
	"storefront-svc/notifier"
	"storefront-svc/payments"
)

// Outcome describes what Dispatch did with an event.
type Outcome string

const (
	OutcomeRecorded      Outcome = "recorded"
	OutcomeDuplicate     Outcome = "duplicate"
	OutcomePaymentFailed Outcome = "payment_failed"
	OutcomeIgnored       Outcome = "ignored"
)

type PurchaseStore interface {
	Record(ctx context.Context, p *models.Purchase) (bool, error)
	MarkNotified(ctx context.Context, sessionID string) error
	ListUnnotified(ctx context.Context, olderThan time.Duration, limit int) ([]models.Purchase, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event models.PurchaseEvent) error
}

type CartStore interface {
	Delete(ctx context.Context, sessionID string) error
}

type Config struct {
	Store         PurchaseStore
	Notifier      notifier.Notifier
	Publisher     EventPublisher
	Carts         CartStore
	Catalog       *catalog.Catalog
	NotifyTimeout time.Duration
	Logger        *zap.Logger
}

type Service struct {
	store         PurchaseStore
	notifier      notifier.Notifier
	publisher     EventPublisher
	carts         CartStore
	catalog       *catalog.Catalog
	notifyTimeout time.Duration
	logger        *zap.Logger
	now           func() time.Time
	newID         func() string
}

// NewService wires the dispatcher. Publisher, Carts and Catalog are optional.
func NewService(cfg Config) *Service {
	timeout := cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:         cfg.Store,
		notifier:      cfg.Notifier,
		publisher:     cfg.Publisher,
		carts:         cfg.Carts,
		catalog:       cfg.Catalog,
		notifyTimeout: timeout,
		logger:        logger,
		now:           time.Now,
		newID:         func() string { return ulid.Make().String() },
	}
}

// Dispatch routes a verified event. A returned error means the event could
// not be durably recorded and the processor should redeliver it.
func (s *Service) Dispatch(ctx context.Context, event stripe.Event) (Outcome, error) {
	ctx, span := otel.Tracer("storefront").Start(ctx, "DispatchWebhookEvent")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", event.ID),
		attribute.String("event.type", string(event.Type)),
	)

	var (
		outcome Outcome
		err     error
	)
	switch string(event.Type) {
	case payments.EventCheckoutCompleted:
		outcome, err = s.handleCheckoutCompleted(ctx, event)
	case payments.EventPaymentIntentFailed:
		outcome, err = s.handlePaymentFailed(ctx, event)
	default:
		s.logger.Info("Unhandled event type",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
		)
		outcome = OutcomeIgnored
	}
	if err != nil {
		span.RecordError(err)
	}
	return outcome, err
}

func (s *Service) handleCheckoutCompleted(ctx context.Context, event stripe.Event) (Outcome, error) {
	traceID := middleware.GetTraceID(ctx)

	if event.Data == nil {
		return "", errors.New("checkout event has no data")
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return "", fmt.Errorf("failed to decode checkout session: %w", err)
	}
	if session.ID == "" {
		return "", errors.New("checkout session has no id")
	}

	items, err := payments.ParseItemSummary(session.Metadata[payments.MetadataItems])
	if err != nil {
		s.logger.Warn("Unreadable item metadata",
			zap.String("trace_id", traceID),
			zap.String("session_id", session.ID),
			zap.Error(err),
		)
	}
	items = s.fillTitles(items)
	itemsJSON, _ := json.Marshal(items)

	purchase := &models.Purchase{
		ID:              s.newID(),
		StripeSessionID: session.ID,
		StripeEventID:   event.ID,
		CustomerEmail:   customerEmail(&session),
		CustomerName:    customerName(&session),
		Items:           string(itemsJSON),
		AmountTotal:     session.AmountTotal,
		Currency:        strings.ToLower(string(session.Currency)),
		Status:          models.PurchaseStatusPaid,
		CreatedAt:       s.now().UTC(),
	}
	if ref := strings.TrimSpace(session.ClientReferenceID); ref != "" {
		purchase.UserID = &ref
	}

	inserted, err := s.store.Record(ctx, purchase)
	if err != nil {
		return "", err
	}
	if !inserted {
		s.logger.Info("Duplicate checkout event skipped",
			zap.String("trace_id", traceID),
			zap.String("event_id", event.ID),
			zap.String("session_id", session.ID),
		)
		return OutcomeDuplicate, nil
	}

	s.logger.Info("Purchase recorded",
		zap.String("trace_id", traceID),
		zap.String("purchase_id", purchase.ID),
		zap.String("session_id", session.ID),
		zap.Int64("amount_total", purchase.AmountTotal),
		zap.String("items", payments.DescribeItems(items)),
	)

	// The row is committed; from here on a dropped delivery connection must
	// not abort the cleanup, the event or the email.
	ctx = context.WithoutCancel(ctx)

	if sid := session.Metadata[payments.MetadataCartSession]; sid != "" && s.carts != nil {
		cartCtx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
		err := s.carts.Delete(cartCtx, sid)
		cancel()
		if err != nil {
			s.logger.Error("Failed to clear cart", zap.String("trace_id", traceID), zap.Error(err))
		}
	}

	s.publish(ctx, models.PurchaseEvent{
		EventType:       models.EventPurchaseCompleted,
		PurchaseID:      purchase.ID,
		UserID:          derefString(purchase.UserID),
		StripeSessionID: session.ID,
		AmountTotal:     purchase.AmountTotal,
		Currency:        purchase.Currency,
		OccurredAt:      purchase.CreatedAt.Unix(),
	})

	if purchase.CustomerEmail == "" {
		s.logger.Warn("No customer email on completed checkout, confirmation not sent",
			zap.String("trace_id", traceID),
			zap.String("session_id", session.ID),
		)
		return OutcomeRecorded, nil
	}

	s.notify(ctx, purchase, items)
	return OutcomeRecorded, nil
}

// notify sends the confirmation within the configured deadline. The deadline
// is the only thing that can cut the send short; cancellation of ctx is not.
// Failures are logged; the purchase stays unnotified and can be retried later.
func (s *Service) notify(ctx context.Context, purchase *models.Purchase, items []models.PurchaseItem) bool {
	traceID := middleware.GetTraceID(ctx)
	ctx = context.WithoutCancel(ctx)
	notifyCtx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancel()

	err := s.notifier.SendConfirmation(notifyCtx, notifier.Confirmation{
		Email:       purchase.CustomerEmail,
		Name:        purchase.CustomerName,
		Items:       items,
		AmountTotal: purchase.AmountTotal,
		Currency:    purchase.Currency,
	})
	if err != nil {
		status := "failed"
		if errors.Is(err, notifier.ErrNotConfigured) {
			status = "not_configured"
		}
		middleware.RecordNotification(status)
		s.logger.Error("Failed to send confirmation email",
			zap.String("trace_id", traceID),
			zap.String("purchase_id", purchase.ID),
			zap.Error(err),
		)
		return false
	}
	middleware.RecordNotification("sent")

	markCtx, cancelMark := context.WithTimeout(ctx, s.notifyTimeout)
	defer cancelMark()
	if err := s.store.MarkNotified(markCtx, purchase.StripeSessionID); err != nil {
		s.logger.Error("Failed to mark purchase notified",
			zap.String("trace_id", traceID),
			zap.String("purchase_id", purchase.ID),
			zap.Error(err),
		)
	}
	return true
}

func (s *Service) handlePaymentFailed(ctx context.Context, event stripe.Event) (Outcome, error) {
	var intent stripe.PaymentIntent
	if event.Data != nil {
		if err := json.Unmarshal(event.Data.Raw, &intent); err != nil {
			s.logger.Warn("Failed to decode payment intent", zap.String("event_id", event.ID), zap.Error(err))
		}
	}

	reason := ""
	if intent.LastPaymentError != nil {
		reason = intent.LastPaymentError.Msg
	}
	s.logger.Warn("Payment failed",
		zap.String("trace_id", middleware.GetTraceID(ctx)),
		zap.String("payment_intent_id", intent.ID),
		zap.String("reason", reason),
	)

	s.publish(ctx, models.PurchaseEvent{
		EventType:       models.EventPaymentFailed,
		PaymentIntentID: intent.ID,
		AmountTotal:     intent.Amount,
		Currency:        strings.ToLower(string(intent.Currency)),
		OccurredAt:      s.now().Unix(),
	})
	return OutcomePaymentFailed, nil
}

// publish waits at most notifyTimeout for the broker. The producer does not
// observe ctx, so a send that outlives the wait finishes in the background.
func (s *Service) publish(ctx context.Context, event models.PurchaseEvent) {
	if s.publisher == nil {
		return
	}

	done := make(chan error, 1)
	go func() {
		done <- s.publisher.Publish(context.WithoutCancel(ctx), event)
	}()

	timer := time.NewTimer(s.notifyTimeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-done:
	case <-timer.C:
		s.logger.Warn("Purchase event publish still pending, not waiting for it",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("event_type", event.EventType),
			zap.Duration("timeout", s.notifyTimeout),
		)
		return
	}
	if err != nil {
		// Don't fail the webhook, but log the error
		s.logger.Error("Failed to publish purchase event",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.String("event_type", event.EventType),
			zap.Error(err),
		)
	}
}

// ResendPending retries confirmations for purchases recorded at least
// olderThan ago whose email never went out. It returns how many were sent.
func (s *Service) ResendPending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	pending, err := s.store.ListUnnotified(ctx, olderThan, limit)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range pending {
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
		p := &pending[i]
		items, err := payments.ParseItemSummary(p.Items)
		if err != nil {
			s.logger.Warn("Unreadable stored items", zap.String("purchase_id", p.ID), zap.Error(err))
		}
		if s.notify(ctx, p, s.fillTitles(items)) {
			sent++
		}
	}

	s.logger.Info("Pending confirmations processed",
		zap.Int("pending", len(pending)),
		zap.Int("sent", sent),
	)
	return sent, nil
}

// fillTitles restores titles dropped from oversized metadata.
func (s *Service) fillTitles(items []models.PurchaseItem) []models.PurchaseItem {
	if items == nil {
		return []models.PurchaseItem{}
	}
	if s.catalog == nil {
		return items
	}
	for i := range items {
		if items[i].Title != "" {
			continue
		}
		if p, ok := s.catalog.Product(items[i].ID); ok {
			items[i].Title = p.Title
		} else if b, ok := s.catalog.Bundle(items[i].ID); ok {
			items[i].Title = b.Title
		}
	}
	return items
}

func customerEmail(session *stripe.CheckoutSession) string {
	if session.CustomerDetails != nil && session.CustomerDetails.Email != "" {
		return session.CustomerDetails.Email
	}
	return session.CustomerEmail
}

func customerName(session *stripe.CheckoutSession) string {
	if session.CustomerDetails != nil {
		return session.CustomerDetails.Name
	}
	return ""
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
