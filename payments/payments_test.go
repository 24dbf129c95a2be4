package payments

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap/zaptest"

	"storefront-svc/circuitbreaker"
)

type fakeSessions struct {
	calls  int
	params *stripe.CheckoutSessionParams
	err    error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.calls++
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return &stripe.CheckoutSession{ID: "cs_test_123", URL: "https://checkout.stripe.test/cs_test_123"}, nil
}

func newTestProvider(t *testing.T, sessions *fakeSessions) *StripeProvider {
	t.Helper()
	p, err := NewStripeProvider(StripeProviderConfig{
		Sessions: sessions,
		Breaker:  circuitbreaker.NewCircuitBreaker("stripe", 2, time.Minute),
		Logger:   zaptest.NewLogger(t),
	})
	if err != nil {
		t.Fatalf("NewStripeProvider() error = %v", err)
	}
	return p
}

func TestNewStripeProviderRequiresKey(t *testing.T) {
	_, err := NewStripeProvider(StripeProviderConfig{APIKey: "  "})
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestCreateCheckoutSession(t *testing.T) {
	sessions := &fakeSessions{}
	p := newTestProvider(t, sessions)

	req := CheckoutSessionRequest{
		Items: []CheckoutLineItem{
			{ID: "p2", Name: "Focus Framework 2.0", Description: "Deep work system", Image: "https://img.test/p2.jpg", UnitAmount: 2900, Quantity: 2},
			{ID: "b1", Name: "Deep Work Stack", UnitAmount: 4900, Quantity: 1},
		},
		Currency:          "USD",
		CustomerEmail:     "buyer@example.com",
		ClientReferenceID: "user-1",
		CartSessionID:     "cart-abc",
		SuccessURL:        SuccessURL("https://shop.test/"),
		CancelURL:         CancelURL("https://shop.test"),
	}

	session, err := p.CreateCheckoutSession(context.Background(), req)
	if err != nil {
		t.Fatalf("CreateCheckoutSession() error = %v", err)
	}
	if session.ID != "cs_test_123" || session.URL == "" {
		t.Errorf("unexpected session %+v", session)
	}

	params := sessions.params
	if got := stripe.StringValue(params.Mode); got != "payment" {
		t.Errorf("expected payment mode, got %q", got)
	}
	if got := stripe.StringValue(params.SuccessURL); got != "https://shop.test?success=true&session_id={CHECKOUT_SESSION_ID}" {
		t.Errorf("unexpected success url %q", got)
	}
	if got := stripe.StringValue(params.CancelURL); got != "https://shop.test?canceled=true" {
		t.Errorf("unexpected cancel url %q", got)
	}
	if got := stripe.StringValue(params.CustomerEmail); got != "buyer@example.com" {
		t.Errorf("unexpected customer email %q", got)
	}
	if got := stripe.StringValue(params.ClientReferenceID); got != "user-1" {
		t.Errorf("unexpected client reference %q", got)
	}
	if len(params.LineItems) != 2 {
		t.Fatalf("expected 2 line items, got %d", len(params.LineItems))
	}
	first := params.LineItems[0]
	if stripe.Int64Value(first.Quantity) != 2 || stripe.Int64Value(first.PriceData.UnitAmount) != 2900 {
		t.Errorf("unexpected first line %+v", first.PriceData)
	}
	if stripe.StringValue(first.PriceData.Currency) != "usd" {
		t.Errorf("expected lower-case currency, got %q", stripe.StringValue(first.PriceData.Currency))
	}
	if len(first.PriceData.ProductData.Images) != 1 {
		t.Errorf("expected product image to be forwarded")
	}
	if params.LineItems[1].PriceData.ProductData.Description != nil {
		t.Errorf("expected empty description to be omitted")
	}
	if params.Metadata[MetadataCartSession] != "cart-abc" {
		t.Errorf("expected cart session metadata, got %v", params.Metadata)
	}
	items, err := ParseItemSummary(params.Metadata[MetadataItems])
	if err != nil {
		t.Fatalf("ParseItemSummary() error = %v", err)
	}
	if len(items) != 2 || items[0].ID != "p2" || items[0].Quantity != 2 {
		t.Errorf("unexpected item summary %+v", items)
	}
}

func TestCreateCheckoutSessionRejectsEmptyCart(t *testing.T) {
	sessions := &fakeSessions{}
	p := newTestProvider(t, sessions)

	_, err := p.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{})
	if !errors.Is(err, ErrEmptyCheckout) {
		t.Errorf("expected ErrEmptyCheckout, got %v", err)
	}
	if sessions.calls != 0 {
		t.Errorf("expected no upstream call, got %d", sessions.calls)
	}
}

func TestCreateCheckoutSessionOpensBreaker(t *testing.T) {
	sessions := &fakeSessions{err: errors.New("stripe down")}
	p := newTestProvider(t, sessions)
	req := CheckoutSessionRequest{Items: []CheckoutLineItem{{ID: "p1", Name: "Habit", UnitAmount: 100, Quantity: 1}}}

	for i := 0; i < 2; i++ {
		if _, err := p.CreateCheckoutSession(context.Background(), req); err == nil {
			t.Fatalf("expected upstream error on attempt %d", i)
		}
	}
	_, err := p.CreateCheckoutSession(context.Background(), req)
	if !errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		t.Errorf("expected open circuit, got %v", err)
	}
	if sessions.calls != 2 {
		t.Errorf("expected 2 upstream calls, got %d", sessions.calls)
	}
}

func TestItemSummaryDropsTitlesWhenTooLong(t *testing.T) {
	var items []CheckoutLineItem
	for i := 0; i < 12; i++ {
		items = append(items, CheckoutLineItem{ID: fmt.Sprintf("p%d", i), Name: strings.Repeat("x", 40), Quantity: 1})
	}

	summary, err := ItemSummary(items)
	if err != nil {
		t.Fatalf("ItemSummary() error = %v", err)
	}
	if len(summary) > maxMetadataValue {
		t.Errorf("summary is %d bytes", len(summary))
	}
	parsed, err := ParseItemSummary(summary)
	if err != nil {
		t.Fatalf("ParseItemSummary() error = %v", err)
	}
	if len(parsed) != 12 || parsed[0].Title != "" {
		t.Errorf("unexpected parsed summary %+v", parsed[0])
	}
	if got := DescribeItems(parsed[:2]); got != "p0, p1" {
		t.Errorf("DescribeItems() = %q", got)
	}
}

func TestCreateCheckoutSessionRejectsOversizedSummary(t *testing.T) {
	sessions := &fakeSessions{}
	p := newTestProvider(t, sessions)

	var items []CheckoutLineItem
	for i := 0; i < 40; i++ {
		items = append(items, CheckoutLineItem{ID: fmt.Sprintf("product-%02d", i), Name: "Item", UnitAmount: 100, Quantity: 1})
	}

	_, err := p.CreateCheckoutSession(context.Background(), CheckoutSessionRequest{Items: items})
	if !errors.Is(err, ErrTooManyItems) {
		t.Errorf("expected ErrTooManyItems, got %v", err)
	}
	if sessions.calls != 0 {
		t.Errorf("expected no upstream call, got %d", sessions.calls)
	}
}

func TestValidBaseURL(t *testing.T) {
	cases := map[string]bool{
		"https://shop.test":     true,
		"http://localhost:3000": true,
		"shop.test":             false,
		"ftp://shop.test":       false,
		"":                      false,
	}
	for in, want := range cases {
		if got := ValidBaseURL(in); got != want {
			t.Errorf("ValidBaseURL(%q) = %v, want %v", in, got, want)
		}
	}
}

const testWebhookSecret = "whsec_test_secret"

func signedHeader(payload []byte, secret string, at time.Time) string {
	sig := webhook.ComputeSignature(at, payload, secret)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(sig))
}

var testEventPayload = []byte(`{"id":"evt_1","object":"event","api_version":"2020-08-27","type":"checkout.session.completed","data":{"object":{"id":"cs_test_1","object":"checkout.session"}}}`)

func TestWebhookVerifier(t *testing.T) {
	v, err := NewWebhookVerifier(testWebhookSecret)
	if err != nil {
		t.Fatalf("NewWebhookVerifier() error = %v", err)
	}

	event, err := v.Verify(testEventPayload, signedHeader(testEventPayload, testWebhookSecret, time.Now()))
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if event.ID != "evt_1" || string(event.Type) != EventCheckoutCompleted {
		t.Errorf("unexpected event %s %s", event.ID, event.Type)
	}
}

func TestWebhookVerifierRejects(t *testing.T) {
	v, _ := NewWebhookVerifier(testWebhookSecret)
	header := signedHeader(testEventPayload, testWebhookSecret, time.Now())

	tampered := []byte(strings.Replace(string(testEventPayload), "cs_test_1", "cs_test_2", 1))

	tests := []struct {
		name    string
		payload []byte
		header  string
		want    error
	}{
		{"missing header", testEventPayload, "", ErrMissingSignature},
		{"tampered body", tampered, header, ErrSignatureInvalid},
		{"wrong secret", testEventPayload, signedHeader(testEventPayload, "whsec_other", time.Now()), ErrSignatureInvalid},
		{"stale timestamp", testEventPayload, signedHeader(testEventPayload, testWebhookSecret, time.Now().Add(-time.Hour)), ErrSignatureInvalid},
		{"garbage header", testEventPayload, "not-a-signature", ErrSignatureInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(tt.payload, tt.header)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewWebhookVerifierRequiresSecret(t *testing.T) {
	if _, err := NewWebhookVerifier(""); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}
