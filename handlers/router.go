package handlers

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"storefront-svc/middleware"
)

// RouterConfig carries the handlers and the settings the middleware chain needs.
type RouterConfig struct {
	ServiceName       string
	CORSAllowedOrigin string
	JWTSecret         string
	CartCookieMaxAge  int
	SecureCookies     bool

	Config    *ConfigHandler
	Catalog   *CatalogHandler
	Cart      *CartHandler
	Checkout  *CheckoutHandler
	Webhook   *WebhookHandler
	Purchases *PurchaseHandler
	Assistant *AssistantHandler

	Logger *zap.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.HandleMethodNotAllowed = true
	router.NoMethod(MethodNotAllowed)
	router.NoRoute(NotFound)

	router.Use(gin.Recovery())
	// OpenTelemetry middleware must be first to extract trace context
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.LoggerMiddleware(cfg.Logger))
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.CORSMiddleware(cfg.CORSAllowedOrigin))

	router.GET("/health", HealthCheck)
	router.GET("/metrics", middleware.PrometheusHandler())

	api := router.Group("/api")

	// The processor calls this endpoint directly; no cookies or user auth.
	api.POST("/webhook", cfg.Webhook.HandleWebhook)

	api.GET("/config", cfg.Config.GetConfig)
	api.GET("/diagnostics", cfg.Config.GetDiagnostics)

	api.GET("/products", cfg.Catalog.ListProducts)
	api.GET("/products/:id", cfg.Catalog.GetProduct)
	api.GET("/bundles", cfg.Catalog.ListBundles)

	session := api.Group("", middleware.CartSession(cfg.CartCookieMaxAge, cfg.SecureCookies))
	session.GET("/cart", cfg.Cart.GetCart)
	session.DELETE("/cart", cfg.Cart.ClearCart)
	session.POST("/cart/items", cfg.Cart.AddItem)
	session.PATCH("/cart/items/:id", cfg.Cart.UpdateItem)
	session.DELETE("/cart/items/:id", cfg.Cart.RemoveItem)
	session.POST("/create-checkout-session", middleware.OptionalAuth(cfg.JWTSecret), cfg.Checkout.CreateCheckoutSession)

	api.GET("/purchases", middleware.AuthMiddleware(cfg.JWTSecret), cfg.Purchases.ListPurchases)
	api.POST("/assistant/chat", cfg.Assistant.Chat)

	return router
}
