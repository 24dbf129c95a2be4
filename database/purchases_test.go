package database

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"storefront-svc/models"
)

func setupStoreTest(t *testing.T) (*PurchaseStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewPurchaseStore(sqlx.NewDb(db, "postgres")), mock
}

func testPurchase() *models.Purchase {
	userID := "user-1"
	return &models.Purchase{
		ID:              "01HZX3K0S4M6Q8W9Y2B5C7D9F1",
		UserID:          &userID,
		StripeSessionID: "cs_test_1",
		StripeEventID:   "evt_1",
		CustomerEmail:   "buyer@example.com",
		CustomerName:    "Ada",
		Items:           `[{"id":"p2","title":"Focus Framework 2.0","quantity":1}]`,
		AmountTotal:     2900,
		Currency:        "usd",
	}
}

func TestRecordInsertsNewPurchase(t *testing.T) {
	store, mock := setupStoreTest(t)
	p := testPurchase()

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (stripe_session_id) DO NOTHING")).
		WithArgs(p.ID, "user-1", "cs_test_1", "evt_1", "buyer@example.com", "Ada", p.Items, int64(2900), "usd", "paid", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(p.ID))

	inserted, err := store.Record(context.Background(), p)
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if !inserted {
		t.Errorf("expected first delivery to insert")
	}
	if p.Status != models.PurchaseStatusPaid {
		t.Errorf("expected status to default to paid, got %s", p.Status)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

func TestRecordDuplicateSession(t *testing.T) {
	store, mock := setupStoreTest(t)

	mock.ExpectQuery(regexp.QuoteMeta("ON CONFLICT (stripe_session_id) DO NOTHING")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	inserted, err := store.Record(context.Background(), testPurchase())
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if inserted {
		t.Errorf("expected redelivery not to insert")
	}
}

func TestRecordDatabaseError(t *testing.T) {
	store, mock := setupStoreTest(t)

	mock.ExpectQuery("INSERT INTO purchases").WillReturnError(errors.New("connection reset"))

	if _, err := store.Record(context.Background(), testPurchase()); err == nil {
		t.Errorf("expected error")
	}
}

func TestMarkNotified(t *testing.T) {
	store, mock := setupStoreTest(t)

	mock.ExpectExec("UPDATE purchases").
		WithArgs("cs_test_1", "fulfilled").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.MarkNotified(context.Background(), "cs_test_1"); err != nil {
		t.Fatalf("MarkNotified() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unfulfilled expectations: %v", err)
	}
}

var purchaseRowColumns = []string{"id", "user_id", "stripe_session_id", "stripe_event_id", "customer_email",
	"customer_name", "items", "amount_total", "currency", "status", "notified_at", "created_at"}

func TestListByUser(t *testing.T) {
	store, mock := setupStoreTest(t)
	newer := time.Date(2025, 3, 2, 10, 0, 0, 0, time.UTC)
	older := newer.Add(-24 * time.Hour)

	rows := sqlmock.NewRows(purchaseRowColumns).
		AddRow("b", "user-1", "cs_2", "evt_2", "buyer@example.com", "", "[]", int64(4900), "usd", "fulfilled", newer, newer).
		AddRow("a", "user-1", "cs_1", "evt_1", "buyer@example.com", "", "[]", int64(2900), "usd", "paid", nil, older)
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs("user-1").
		WillReturnRows(rows)

	purchases, err := store.ListByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if len(purchases) != 2 {
		t.Fatalf("expected 2 purchases, got %d", len(purchases))
	}
	if purchases[0].ID != "b" || purchases[1].ID != "a" {
		t.Errorf("expected newest first, got %s, %s", purchases[0].ID, purchases[1].ID)
	}
	if purchases[0].NotifiedAt == nil || purchases[1].NotifiedAt != nil {
		t.Errorf("unexpected notified_at values")
	}
	if purchases[0].UserID == nil || *purchases[0].UserID != "user-1" {
		t.Errorf("expected user id to be scanned")
	}
}

func TestListByUserEmpty(t *testing.T) {
	store, mock := setupStoreTest(t)

	mock.ExpectQuery("SELECT").WithArgs("user-2").WillReturnRows(sqlmock.NewRows(purchaseRowColumns))

	purchases, err := store.ListByUser(context.Background(), "user-2")
	if err != nil {
		t.Fatalf("ListByUser() error = %v", err)
	}
	if purchases == nil || len(purchases) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", purchases)
	}
}

func TestListUnnotified(t *testing.T) {
	store, mock := setupStoreTest(t)
	created := time.Now().Add(-time.Hour)

	rows := sqlmock.NewRows(purchaseRowColumns).
		AddRow("a", nil, "cs_1", "evt_1", "buyer@example.com", "", "[]", int64(2900), "usd", "paid", nil, created)
	mock.ExpectQuery(regexp.QuoteMeta("notified_at IS NULL")).
		WithArgs(sqlmock.AnyArg(), 50).
		WillReturnRows(rows)

	purchases, err := store.ListUnnotified(context.Background(), 10*time.Minute, 50)
	if err != nil {
		t.Fatalf("ListUnnotified() error = %v", err)
	}
	if len(purchases) != 1 || purchases[0].UserID != nil {
		t.Errorf("unexpected purchases %#v", purchases)
	}
}
