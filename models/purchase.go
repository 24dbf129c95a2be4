package models

import "time"

type PurchaseStatus string

const (
	PurchaseStatusPaid      PurchaseStatus = "paid"
	PurchaseStatusFulfilled PurchaseStatus = "fulfilled"
)

// Purchase is written only by the webhook receiver after a verified
// checkout.session.completed event; clients can read but never create it.
type Purchase struct {
	ID              string         `json:"id" db:"id"`
	UserID          *string        `json:"user_id,omitempty" db:"user_id"`
	StripeSessionID string         `json:"stripe_session_id" db:"stripe_session_id"`
	StripeEventID   string         `json:"-" db:"stripe_event_id"`
	CustomerEmail   string         `json:"customer_email" db:"customer_email"`
	CustomerName    string         `json:"customer_name,omitempty" db:"customer_name"`
	Items           string         `json:"items" db:"items"`
	AmountTotal     int64          `json:"amount_total" db:"amount_total"`
	Currency        string         `json:"currency" db:"currency"`
	Status          PurchaseStatus `json:"status" db:"status"`
	NotifiedAt      *time.Time     `json:"notified_at,omitempty" db:"notified_at"`
	CreatedAt       time.Time      `json:"created_at" db:"created_at"`
}

// PurchaseItem is one entry of the item summary carried in checkout metadata.
type PurchaseItem struct {
	ID       string `json:"id"`
	Title    string `json:"title,omitempty"`
	Quantity int    `json:"quantity"`
}

const (
	EventPurchaseCompleted = "purchase_completed"
	EventPaymentFailed     = "payment_failed"
)

type PurchaseEvent struct {
	EventType       string `json:"event_type"`
	PurchaseID      string `json:"purchase_id,omitempty"`
	UserID          string `json:"user_id,omitempty"`
	StripeSessionID string `json:"stripe_session_id,omitempty"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	AmountTotal     int64  `json:"amount_total"`
	Currency        string `json:"currency,omitempty"`
	OccurredAt      int64  `json:"occurred_at"`
}
