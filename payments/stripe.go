package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"go.uber.org/zap"

	"storefront-svc/circuitbreaker"
)

type stripeSessionAPI interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeProviderConfig configures the StripeProvider. Sessions overrides the
// live client and is only set by tests.
type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Sessions stripeSessionAPI
	Breaker  *circuitbreaker.CircuitBreaker
	Logger   *zap.Logger
}

// StripeProvider implements Provider using Stripe Checkout.
type StripeProvider struct {
	sessions stripeSessionAPI
	breaker  *circuitbreaker.CircuitBreaker
	logger   *zap.Logger
}

// NewStripeProvider returns ErrNotConfigured when there is no secret key.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	sessions := cfg.Sessions
	if sessions == nil {
		if apiKey == "" {
			return nil, ErrNotConfigured
		}
		sessions = client.New(apiKey, cfg.Backends).CheckoutSessions
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StripeProvider{
		sessions: sessions,
		breaker:  cfg.Breaker,
		logger:   logger,
	}, nil
}

// CreateCheckoutSession creates a one-off payment session for the given items.
func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("stripe: provider is nil")
	}
	if len(req.Items) == 0 {
		return CheckoutSession{}, ErrEmptyCheckout
	}

	summary, err := ItemSummary(req.Items)
	if err != nil {
		return CheckoutSession{}, err
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
	}
	params.Context = ctx

	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if req.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(req.ClientReferenceID)
	}

	params.AddMetadata(MetadataItems, summary)
	if req.CartSessionID != "" {
		params.AddMetadata(MetadataCartSession, req.CartSessionID)
	}

	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(req.Items))
	for _, item := range req.Items {
		line := &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(max(item.Quantity, 1)),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(item.UnitAmount),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		}
		if item.Description != "" {
			line.PriceData.ProductData.Description = stripe.String(item.Description)
		}
		if item.Image != "" {
			line.PriceData.ProductData.Images = stripe.StringSlice([]string{item.Image})
		}
		lineItems = append(lineItems, line)
	}
	params.LineItems = lineItems

	var session *stripe.CheckoutSession
	create := func() error {
		var err error
		session, err = p.sessions.New(params)
		return err
	}
	if p.breaker != nil {
		err = p.breaker.Execute(ctx, create)
	} else {
		err = create()
	}
	if err != nil {
		return CheckoutSession{}, fmt.Errorf("stripe: create checkout session: %w", err)
	}

	p.logger.Info("Checkout session created",
		zap.String("session_id", session.ID),
		zap.Int("line_items", len(lineItems)),
		zap.String("currency", currency),
	)

	return CheckoutSession{
		ID:  session.ID,
		URL: session.URL,
	}, nil
}
