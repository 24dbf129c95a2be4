package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"storefront-svc/models"
)

const purchaseColumns = `id, user_id, stripe_session_id, stripe_event_id, customer_email,
	customer_name, items, amount_total, currency, status, notified_at, created_at`

// PurchaseStore persists purchase records. The unique stripe_session_id column
// is what makes webhook redelivery safe.
type PurchaseStore struct {
	db *sqlx.DB
}

func NewPurchaseStore(db *sqlx.DB) *PurchaseStore {
	return &PurchaseStore{db: db}
}

// Record inserts p unless a purchase for the same checkout session already
// exists. inserted is false for a redelivered event.
func (s *PurchaseStore) Record(ctx context.Context, p *models.Purchase) (bool, error) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.Status == "" {
		p.Status = models.PurchaseStatusPaid
	}

	query := `
		INSERT INTO purchases (id, user_id, stripe_session_id, stripe_event_id, customer_email,
			customer_name, items, amount_total, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (stripe_session_id) DO NOTHING
		RETURNING id
	`

	var id string
	err := s.db.QueryRowxContext(ctx, query,
		p.ID, p.UserID, p.StripeSessionID, p.StripeEventID, p.CustomerEmail,
		p.CustomerName, p.Items, p.AmountTotal, p.Currency, p.Status, p.CreatedAt,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to record purchase: %w", err)
	}
	return true, nil
}

// MarkNotified records that the confirmation email was accepted by the provider.
func (s *PurchaseStore) MarkNotified(ctx context.Context, sessionID string) error {
	query := `
		UPDATE purchases
		SET notified_at = NOW(), status = $2
		WHERE stripe_session_id = $1
	`
	if _, err := s.db.ExecContext(ctx, query, sessionID, models.PurchaseStatusFulfilled); err != nil {
		return fmt.Errorf("failed to mark purchase notified: %w", err)
	}
	return nil
}

// ListByUser returns the user's purchases, newest first. The result is never nil.
func (s *PurchaseStore) ListByUser(ctx context.Context, userID string) ([]models.Purchase, error) {
	query := `SELECT ` + purchaseColumns + `
		FROM purchases
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	purchases := []models.Purchase{}
	if err := s.db.SelectContext(ctx, &purchases, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	return purchases, nil
}

// ListUnnotified returns purchases with an email address whose confirmation
// never went out and that are older than the given age, oldest first.
func (s *PurchaseStore) ListUnnotified(ctx context.Context, olderThan time.Duration, limit int) ([]models.Purchase, error) {
	query := `SELECT ` + purchaseColumns + `
		FROM purchases
		WHERE notified_at IS NULL
		  AND customer_email <> ''
		  AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`

	cutoff := time.Now().UTC().Add(-olderThan)
	purchases := []models.Purchase{}
	if err := s.db.SelectContext(ctx, &purchases, query, cutoff, limit); err != nil {
		return nil, fmt.Errorf("failed to list unnotified purchases: %w", err)
	}
	return purchases, nil
}
