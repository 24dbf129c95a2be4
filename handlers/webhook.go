package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v78"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"storefront-svc/fulfillment"
	"storefront-svc/middleware"
	"storefront-svc/payments"
)

// maxWebhookBody matches the processor's documented payload ceiling.
const maxWebhookBody = 65536

type EventVerifier interface {
	Verify(payload []byte, header string) (stripe.Event, error)
}

type EventDispatcher interface {
	Dispatch(ctx context.Context, event stripe.Event) (fulfillment.Outcome, error)
}

type WebhookHandler struct {
	verifier   EventVerifier
	dispatcher EventDispatcher
	logger     *zap.Logger
}

// NewWebhookHandler takes a nil verifier when no signing secret is configured;
// every delivery is then refused with 500.
func NewWebhookHandler(verifier EventVerifier, dispatcher EventDispatcher, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{verifier: verifier, dispatcher: dispatcher, logger: logger}
}

// HandleWebhook verifies the raw body before anything parses it, dispatches
// the event and acknowledges. Only verification and storage failures produce
// a non-2xx response.
func (h *WebhookHandler) HandleWebhook(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "HandleWebhook")
	defer span.End()
	traceID := middleware.GetTraceID(ctx)

	if h.verifier == nil {
		h.logger.Error("Webhook received but signing secret is not configured", zap.String("trace_id", traceID))
		respondError(c, http.StatusInternalServerError, codeWebhookNotConfigured, "Webhook secret not configured")
		return
	}

	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBody))
	if err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidRequest, "Could not read request body")
		return
	}

	event, err := h.verifier.Verify(payload, c.GetHeader(payments.SignatureHeader))
	if err != nil {
		code := codeInvalidSignature
		if errors.Is(err, payments.ErrMissingSignature) {
			code = codeMissingSignature
		}
		h.logger.Warn("Webhook signature verification failed",
			zap.String("trace_id", traceID),
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
		middleware.RecordWebhookEvent("unverified", code)
		respondError(c, http.StatusBadRequest, code, "Webhook signature verification failed")
		return
	}

	span.SetAttributes(
		attribute.String("event.id", event.ID),
		attribute.String("event.type", string(event.Type)),
	)

	outcome, err := h.dispatcher.Dispatch(ctx, event)
	if err != nil {
		span.RecordError(err)
		middleware.RecordWebhookEvent(string(event.Type), "error")
		h.logger.Error("Failed to process webhook event",
			zap.String("trace_id", traceID),
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Error(err),
		)
		respondError(c, http.StatusInternalServerError, codeInternalError, "Event could not be recorded")
		return
	}

	middleware.RecordWebhookEvent(string(event.Type), string(outcome))
	c.JSON(http.StatusOK, gin.H{"received": true})
}
