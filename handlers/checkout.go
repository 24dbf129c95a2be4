package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"storefront-svc/cart"
	"storefront-svc/catalog"
	"storefront-svc/circuitbreaker"
	"storefront-svc/middleware"
	"storefront-svc/models"
	"storefront-svc/payments"
)

type CheckoutHandler struct {
	catalog  *catalog.Catalog
	provider payments.Provider
	baseURL  string
	currency string
	timeout  time.Duration
	logger   *zap.Logger
}

// NewCheckoutHandler takes a nil provider when payments are not configured;
// checkout then answers 500 payment_not_configured.
func NewCheckoutHandler(cat *catalog.Catalog, provider payments.Provider, baseURL, currency string, timeout time.Duration, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		catalog:  cat,
		provider: provider,
		baseURL:  baseURL,
		currency: currency,
		timeout:  timeout,
		logger:   logger,
	}
}

type rawCheckoutRequest struct {
	Items         json.RawMessage `json:"items"`
	CustomerEmail string          `json:"customerEmail"`
}

func (h *CheckoutHandler) CreateCheckoutSession(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "CreateCheckoutSession")
	defer span.End()
	traceID := middleware.GetTraceID(ctx)

	var raw rawCheckoutRequest
	if err := c.ShouldBindJSON(&raw); err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidRequest, "Request body must be a JSON object")
		return
	}

	var req models.CreateCheckoutSessionRequest
	if err := json.Unmarshal(raw.Items, &req.Items); err != nil || len(req.Items) == 0 {
		middleware.RecordCheckoutSession("invalid")
		respondError(c, http.StatusBadRequest, codeInvalidItems, "items must be a non-empty list")
		return
	}
	for _, item := range req.Items {
		if err := binding.Validator.ValidateStruct(&item); err != nil {
			middleware.RecordCheckoutSession("invalid")
			respondError(c, http.StatusBadRequest, codeInvalidItems, "every item needs an id and a positive quantity")
			return
		}
	}
	req.CustomerEmail = raw.CustomerEmail
	if err := binding.Validator.ValidateStruct(&req); err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidRequest, "customerEmail is not a valid email address")
		return
	}

	lineItems := make([]payments.CheckoutLineItem, 0, len(req.Items))
	for _, requested := range req.Items {
		item, err := cart.Resolve(h.catalog, requested.ID)
		if err != nil {
			middleware.RecordCheckoutSession("invalid")
			respondError(c, http.StatusBadRequest, codeUnknownItem, "Unknown product or bundle: "+requested.ID)
			return
		}
		if requested.Price != 0 && catalog.FromMajor(requested.Price) != item.UnitPrice {
			h.logger.Warn("Client price differs from catalog",
				zap.String("trace_id", traceID),
				zap.String("item_id", item.ID),
				zap.Float64("client_price", requested.Price),
				zap.String("catalog_price", catalog.FormatMinor(item.UnitPrice)),
			)
		}
		lineItems = append(lineItems, payments.CheckoutLineItem{
			ID:          item.ID,
			Name:        item.Title,
			Description: item.Description,
			Image:       item.Image,
			UnitAmount:  item.UnitPrice,
			Quantity:    int64(requested.Quantity),
		})
	}
	span.SetAttributes(attribute.Int("checkout.line_items", len(lineItems)))

	if h.provider == nil {
		middleware.RecordCheckoutSession("not_configured")
		h.logger.Error("Checkout requested but payments are not configured", zap.String("trace_id", traceID))
		respondError(c, http.StatusInternalServerError, codePaymentNotConfigured, "Payment processing is not configured")
		return
	}

	email := req.CustomerEmail
	if email == "" {
		email = c.GetString(middleware.ContextEmail)
	}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	session, err := h.provider.CreateCheckoutSession(callCtx, payments.CheckoutSessionRequest{
		Items:             lineItems,
		Currency:          h.currency,
		CustomerEmail:     email,
		ClientReferenceID: c.GetString(middleware.ContextUserID),
		CartSessionID:     c.GetString(middleware.ContextCartSession),
		SuccessURL:        payments.SuccessURL(h.baseURL),
		CancelURL:         payments.CancelURL(h.baseURL),
	})
	if err != nil {
		span.RecordError(err)
		switch {
		case errors.Is(err, circuitbreaker.ErrCircuitOpen):
			middleware.RecordCheckoutSession("unavailable")
			respondError(c, http.StatusServiceUnavailable, codeServiceUnavailable, "Payment service temporarily unavailable")
		case errors.Is(err, payments.ErrEmptyCheckout):
			middleware.RecordCheckoutSession("invalid")
			respondError(c, http.StatusBadRequest, codeInvalidItems, "items must be a non-empty list")
		case errors.Is(err, payments.ErrTooManyItems):
			middleware.RecordCheckoutSession("invalid")
			respondError(c, http.StatusBadRequest, codeInvalidItems, "Too many different items for one checkout")
		default:
			middleware.RecordCheckoutSession("failed")
			h.logger.Error("Failed to create checkout session", zap.String("trace_id", traceID), zap.Error(err))
			respondError(c, http.StatusBadGateway, codeCheckoutFailed, "Could not start checkout, please try again")
		}
		return
	}

	middleware.RecordCheckoutSession("created")
	h.logger.Info("Checkout session started",
		zap.String("trace_id", traceID),
		zap.String("session_id", session.ID),
		zap.Int("line_items", len(lineItems)),
	)
	c.JSON(http.StatusOK, models.CreateCheckoutSessionResponse{
		SessionID: session.ID,
		URL:       session.URL,
	})
}
