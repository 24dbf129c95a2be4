package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"storefront-svc/cart"
	"storefront-svc/catalog"
	"storefront-svc/middleware"
	"storefront-svc/models"
)

// CartRepository persists session carts.
type CartRepository interface {
	Load(ctx context.Context, sessionID string) (*cart.Store, error)
	Save(ctx context.Context, sessionID string, store *cart.Store) error
	Delete(ctx context.Context, sessionID string) error
}

type CartHandler struct {
	catalog *catalog.Catalog
	carts   CartRepository
	logger  *zap.Logger
}

func NewCartHandler(cat *catalog.Catalog, carts CartRepository, logger *zap.Logger) *CartHandler {
	return &CartHandler{catalog: cat, carts: carts, logger: logger}
}

func cartResponse(store *cart.Store) models.CartResponse {
	return models.CartResponse{
		Items:           store.Items(),
		Count:           store.Count(),
		Subtotal:        store.Subtotal(),
		SubtotalDisplay: catalog.FormatMinor(store.Subtotal()),
	}
}

func (h *CartHandler) load(ctx context.Context, c *gin.Context) (string, *cart.Store, bool) {
	sid := c.GetString(middleware.ContextCartSession)
	store, err := h.carts.Load(ctx, sid)
	if err != nil {
		h.logger.Error("Failed to load cart",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.Error(err),
		)
		respondError(c, http.StatusInternalServerError, codeInternalError, "Cart is temporarily unavailable")
		return "", nil, false
	}
	return sid, store, true
}

func (h *CartHandler) save(ctx context.Context, c *gin.Context, sid string, store *cart.Store) bool {
	if err := h.carts.Save(ctx, sid, store); err != nil {
		h.logger.Error("Failed to save cart",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.Error(err),
		)
		respondError(c, http.StatusInternalServerError, codeInternalError, "Cart is temporarily unavailable")
		return false
	}
	return true
}

func (h *CartHandler) GetCart(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "GetCart")
	defer span.End()

	_, store, ok := h.load(ctx, c)
	if !ok {
		return
	}
	span.SetAttributes(attribute.Int("cart.count", store.Count()))
	c.JSON(http.StatusOK, cartResponse(store))
}

func (h *CartHandler) AddItem(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "AddCartItem")
	defer span.End()

	var req models.AddCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	span.SetAttributes(attribute.String("item.id", req.ID))

	item, err := cart.Resolve(h.catalog, req.ID)
	if errors.Is(err, cart.ErrUnknownItem) {
		respondError(c, http.StatusBadRequest, codeUnknownItem, "Unknown product or bundle: "+req.ID)
		return
	}

	sid, store, ok := h.load(ctx, c)
	if !ok {
		return
	}
	store.Add(item)
	if !h.save(ctx, c, sid, store) {
		return
	}
	c.JSON(http.StatusOK, cartResponse(store))
}

// UpdateItem applies a quantity delta. A delta that would take the quantity
// to zero or below leaves the row as it is and reports updated=false.
func (h *CartHandler) UpdateItem(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "UpdateCartItem")
	defer span.End()

	id := c.Param("id")
	var req models.UpdateCartItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, codeInvalidRequest, err.Error())
		return
	}
	span.SetAttributes(attribute.String("item.id", id), attribute.Int("item.delta", req.Delta))

	sid, store, ok := h.load(ctx, c)
	if !ok {
		return
	}
	if !containsItem(store, id) {
		respondError(c, http.StatusNotFound, codeNotFound, "Item is not in the cart")
		return
	}

	updated := store.UpdateQuantity(id, req.Delta)
	if updated && !h.save(ctx, c, sid, store) {
		return
	}
	resp := cartResponse(store)
	resp.Updated = &updated
	c.JSON(http.StatusOK, resp)
}

func (h *CartHandler) RemoveItem(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "RemoveCartItem")
	defer span.End()

	sid, store, ok := h.load(ctx, c)
	if !ok {
		return
	}
	store.Remove(c.Param("id"))
	if !h.save(ctx, c, sid, store) {
		return
	}
	c.JSON(http.StatusOK, cartResponse(store))
}

func (h *CartHandler) ClearCart(c *gin.Context) {
	ctx, span := otel.Tracer("storefront").Start(c.Request.Context(), "ClearCart")
	defer span.End()

	sid := c.GetString(middleware.ContextCartSession)
	if err := h.carts.Delete(ctx, sid); err != nil {
		h.logger.Error("Failed to clear cart",
			zap.String("trace_id", middleware.GetTraceID(ctx)),
			zap.Error(err),
		)
		respondError(c, http.StatusInternalServerError, codeInternalError, "Cart is temporarily unavailable")
		return
	}
	c.JSON(http.StatusOK, cartResponse(cart.New()))
}

func containsItem(store *cart.Store, id string) bool {
	for _, it := range store.Items() {
		if it.ID == id {
			return true
		}
	}
	return false
}
