package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-svc/models"
)

// Machine-readable error codes returned in the "error" field.
const (
	codeMethodNotAllowed     = "method_not_allowed"
	codeInvalidItems         = "invalid_items"
	codeUnknownItem          = "unknown_item"
	codeInvalidRequest       = "invalid_request"
	codePaymentNotConfigured = "payment_not_configured"
	codeWebhookNotConfigured = "webhook_not_configured"
	codeMissingSignature     = "missing_signature"
	codeInvalidSignature     = "invalid_signature"
	codeCheckoutFailed       = "checkout_failed"
	codeServiceUnavailable   = "service_unavailable"
	codeNotFound             = "not_found"
	codeInternalError        = "internal_error"
)

func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.ErrorResponse{Error: code, Message: message})
}

// MethodNotAllowed is installed as the router's NoMethod handler.
func MethodNotAllowed(c *gin.Context) {
	respondError(c, http.StatusMethodNotAllowed, codeMethodNotAllowed, "This endpoint does not accept "+c.Request.Method+" requests")
}

func NotFound(c *gin.Context) {
	respondError(c, http.StatusNotFound, codeNotFound, "Resource not found")
}
