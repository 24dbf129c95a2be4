package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"storefront-svc/config"
)

const serviceName = "storefront"

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"service": serviceName, "status": "healthy"})
}

// ConfigHandler exposes the browser-safe parts of the configuration.
type ConfigHandler struct {
	publishableKey string
	capabilities   config.Capabilities
	issues         []string
}

func NewConfigHandler(cfg config.Config) *ConfigHandler {
	issues := cfg.Diagnose()
	if issues == nil {
		issues = []string{}
	}
	return &ConfigHandler{
		publishableKey: cfg.Stripe.PublishableKey,
		capabilities:   cfg.Capabilities(),
		issues:         issues,
	}
}

func (h *ConfigHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"publishableKey": h.publishableKey,
		"capabilities":   h.capabilities,
	})
}

// GetDiagnostics reports which integrations are configured. It never echoes
// key material.
func (h *ConfigHandler) GetDiagnostics(c *gin.Context) {
	status := "ok"
	if len(h.issues) > 0 {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"capabilities": h.capabilities,
		"issues":       h.issues,
	})
}
