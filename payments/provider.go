// Package payments talks to the hosted payment processor: it creates checkout
// sessions and authenticates the webhook deliveries that report their outcome.
package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"storefront-svc/models"
)

var (
	// ErrNotConfigured means no secret key is available; checkout runs in demo mode.
	ErrNotConfigured = errors.New("payments: processor not configured")
	// ErrEmptyCheckout is returned before any upstream call when there are no line items.
	ErrEmptyCheckout = errors.New("payments: checkout has no line items")
	// ErrTooManyItems means the item ids and quantities alone do not fit in session metadata.
	ErrTooManyItems = errors.New("payments: too many distinct items for one checkout")
)

// Metadata keys attached to every checkout session.
const (
	MetadataItems       = "items"
	MetadataCartSession = "cart_session"

	maxMetadataValue = 500
)

type CheckoutLineItem struct {
	ID          string
	Name        string
	Description string
	Image       string
	UnitAmount  int64
	Quantity    int64
}

type CheckoutSessionRequest struct {
	Items             []CheckoutLineItem
	Currency          string
	CustomerEmail     string
	ClientReferenceID string
	CartSessionID     string
	SuccessURL        string
	CancelURL         string
}

type CheckoutSession struct {
	ID  string
	URL string
}

// Provider creates hosted checkout sessions.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error)
}

// SuccessURL is where the processor sends the browser after payment. The
// placeholder is expanded by the processor.
func SuccessURL(base string) string {
	return strings.TrimRight(base, "/") + "?success=true&session_id={CHECKOUT_SESSION_ID}"
}

func CancelURL(base string) string {
	return strings.TrimRight(base, "/") + "?canceled=true"
}

// ValidBaseURL reports whether s is an absolute http(s) URL usable as a redirect target.
func ValidBaseURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// ItemSummary serialises the line items into the compact form stored in
// session metadata and later copied into the purchase record.
func ItemSummary(items []CheckoutLineItem) (string, error) {
	summary := make([]models.PurchaseItem, 0, len(items))
	for _, it := range items {
		summary = append(summary, models.PurchaseItem{
			ID:       it.ID,
			Title:    it.Name,
			Quantity: int(it.Quantity),
		})
	}
	data, err := json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("failed to marshal item summary: %w", err)
	}
	if len(data) <= maxMetadataValue {
		return string(data), nil
	}

	// Titles can be recovered from the catalog; ids and quantities cannot.
	for i := range summary {
		summary[i].Title = ""
	}
	data, err = json.Marshal(summary)
	if err != nil {
		return "", fmt.Errorf("failed to marshal item summary: %w", err)
	}
	if len(data) > maxMetadataValue {
		return "", fmt.Errorf("%w: item summary exceeds %d bytes", ErrTooManyItems, maxMetadataValue)
	}
	return string(data), nil
}

// ParseItemSummary is the inverse of ItemSummary.
func ParseItemSummary(s string) ([]models.PurchaseItem, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var items []models.PurchaseItem
	if err := json.Unmarshal([]byte(s), &items); err != nil {
		return nil, fmt.Errorf("failed to parse item summary: %w", err)
	}
	return items, nil
}

// DescribeItems renders a summary for humans, e.g. "Habit Architect x2, Focus Framework 2.0".
func DescribeItems(items []models.PurchaseItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		name := it.Title
		if name == "" {
			name = it.ID
		}
		if it.Quantity > 1 {
			parts = append(parts, fmt.Sprintf("%s x%d", name, it.Quantity))
		} else {
			parts = append(parts, name)
		}
	}
	return strings.Join(parts, ", ")
}
