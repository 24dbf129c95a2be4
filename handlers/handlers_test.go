package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"storefront-svc/assistant"
	"storefront-svc/cart"
	"storefront-svc/catalog"
	"storefront-svc/config"
	"storefront-svc/models"
	"storefront-svc/notifier"
	"storefront-svc/payments"
)

const testJWTSecret = "handlers-test-secret"

type memCarts struct {
	mu    sync.Mutex
	carts map[string][]cart.Item
}

func newMemCarts() *memCarts {
	return &memCarts{carts: map[string][]cart.Item{}}
}

func (m *memCarts) Load(_ context.Context, sid string) (*cart.Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cart.New(m.carts[sid]...), nil
}

func (m *memCarts) Save(_ context.Context, sid string, store *cart.Store) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.carts[sid] = store.Items()
	return nil
}

func (m *memCarts) Delete(_ context.Context, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.carts, sid)
	return nil
}

type fakeProvider struct {
	calls int
	req   payments.CheckoutSessionRequest
	err   error
}

func (f *fakeProvider) CreateCheckoutSession(_ context.Context, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	f.calls++
	f.req = req
	if f.err != nil {
		return payments.CheckoutSession{}, f.err
	}
	return payments.CheckoutSession{ID: "cs_test_123", URL: "https://checkout.stripe.test/pay/cs_test_123"}, nil
}

type countingNotifier struct {
	mu   sync.Mutex
	sent []notifier.Confirmation
	err  error
}

func (n *countingNotifier) SendConfirmation(_ context.Context, c notifier.Confirmation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, c)
	return n.err
}

type fakeReplier struct{}

func (fakeReplier) Reply(_ context.Context, _ []models.ChatTurn, message string) assistant.Reply {
	return assistant.Reply{Text: "echo: " + message, HTML: "<p>echo</p>", Available: true}
}

type testEnv struct {
	router   *gin.Engine
	carts    *memCarts
	provider *fakeProvider
	catalog  *catalog.Catalog
	logger   *zap.Logger
}

type envOptions struct {
	provider   payments.Provider
	verifier   EventVerifier
	dispatcher EventDispatcher
	purchases  PurchaseLister
	cache      PurchaseCache
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cat, err := catalog.Load()
	if err != nil {
		t.Fatalf("Failed to load catalog: %v", err)
	}
	logger := zaptest.NewLogger(t, zaptest.Level(zap.InfoLevel))
	env := &testEnv{carts: newMemCarts(), catalog: cat, logger: logger}

	if fp, ok := opts.provider.(*fakeProvider); ok {
		env.provider = fp
	}

	cfg := config.Config{NotifyTimeout: time.Second}
	cfg.Stripe.PublishableKey = "pk_test_123"

	env.router = NewRouter(RouterConfig{
		ServiceName:       "storefront-test",
		CORSAllowedOrigin: "*",
		JWTSecret:         testJWTSecret,
		CartCookieMaxAge:  3600,
		Config:            NewConfigHandler(cfg),
		Catalog:           NewCatalogHandler(cat),
		Cart:              NewCartHandler(cat, env.carts, logger),
		Checkout:          NewCheckoutHandler(cat, opts.provider, "http://localhost:5173", "usd", 5*time.Second, logger),
		Webhook:           NewWebhookHandler(opts.verifier, opts.dispatcher, logger),
		Purchases:         NewPurchaseHandler(opts.purchases, opts.cache, logger),
		Assistant:         NewAssistantHandler(fakeReplier{}),
		Logger:            logger,
	})
	return env
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func TestHealthCheck(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/health", HealthCheck)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status %d, got %d", http.StatusOK, w.Code)
	}

	expectedBody := `{"service":"storefront","status":"healthy"}`
	if w.Body.String() != expectedBody {
		t.Errorf("Expected body %s, got %s", expectedBody, w.Body.String())
	}
}

func TestNotFoundRoute(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	w := env.do(httptest.NewRequest(http.MethodGet, "/api/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
}
