package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"storefront-svc/middleware"
	"storefront-svc/models"
)

type PurchaseLister interface {
	ListByUser(ctx context.Context, userID string) ([]models.Purchase, error)
}

type PurchaseCache interface {
	Get(ctx context.Context, userID string) ([]models.Purchase, bool, error)
	Set(ctx context.Context, userID string, purchases []models.Purchase) error
}

type PurchaseHandler struct {
	store  PurchaseLister
	cache  PurchaseCache
	logger *zap.Logger
}

// NewPurchaseHandler accepts a nil cache.
func NewPurchaseHandler(store PurchaseLister, cache PurchaseCache, logger *zap.Logger) *PurchaseHandler {
	return &PurchaseHandler{store: store, cache: cache, logger: logger}
}

// ListPurchases returns the signed-in user's purchases, newest first. The
// list may briefly lag a payment that has just completed.
func (h *PurchaseHandler) ListPurchases(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "ListPurchases")
	defer span.End()
	traceID := middleware.GetTraceID(ctx)

	userID := c.GetString(middleware.ContextUserID)
	span.SetAttributes(attribute.String("user.id", userID))

	if h.cache != nil {
		purchases, ok, err := h.cache.Get(ctx, userID)
		if err != nil {
			h.logger.Warn("Purchase cache read failed", zap.String("trace_id", traceID), zap.Error(err))
		}
		if ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			c.JSON(http.StatusOK, purchases)
			return
		}
	}
	span.SetAttributes(attribute.Bool("cache.hit", false))

	purchases, err := h.store.ListByUser(ctx, userID)
	if err != nil {
		span.RecordError(err)
		h.logger.Error("Failed to list purchases", zap.String("trace_id", traceID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, codeInternalError, "Internal server error")
		return
	}

	if h.cache != nil {
		if err := h.cache.Set(ctx, userID, purchases); err != nil {
			h.logger.Warn("Purchase cache write failed", zap.String("trace_id", traceID), zap.Error(err))
		}
	}

	span.SetAttributes(attribute.Int("purchases.count", len(purchases)))
	c.JSON(http.StatusOK, purchases)
}
