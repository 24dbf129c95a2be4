package payments

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// SignatureHeader carries the processor's HMAC over the raw request body.
const SignatureHeader = "Stripe-Signature"

// Event types the fulfillment pipeline reacts to.
const (
	EventCheckoutCompleted   = "checkout.session.completed"
	EventPaymentIntentFailed = "payment_intent.payment_failed"
)

var (
	ErrMissingSignature = errors.New("payments: missing signature header")
	ErrSignatureInvalid = errors.New("payments: webhook signature verification failed")
)

// WebhookVerifier authenticates webhook deliveries against the endpoint secret.
type WebhookVerifier struct {
	secret string
}

// NewWebhookVerifier returns ErrNotConfigured for an empty secret so callers
// can refuse deliveries instead of accepting them unverified.
func NewWebhookVerifier(secret string) (*WebhookVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, ErrNotConfigured
	}
	return &WebhookVerifier{secret: secret}, nil
}

// Verify checks the signature header against the exact payload bytes and
// decodes the event. The payload must not have been re-encoded.
func (v *WebhookVerifier) Verify(payload []byte, header string) (stripe.Event, error) {
	if strings.TrimSpace(header) == "" {
		return stripe.Event{}, ErrMissingSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return stripe.Event{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	return event, nil
}
