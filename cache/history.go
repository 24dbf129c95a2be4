package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront-svc/models"
)

// HistoryCache holds each user's purchase list for a short time. Entries are
// invalidated when a purchase_completed event for the user is consumed.
type HistoryCache struct {
	rdb Store
	ttl time.Duration
}

func NewHistoryCache(rdb Store, ttl time.Duration) *HistoryCache {
	return &HistoryCache{rdb: rdb, ttl: ttl}
}

func historyKey(userID string) string {
	return fmt.Sprintf("purchases:%s", userID)
}

// Get reports a miss with ok=false and a nil error.
func (c *HistoryCache) Get(ctx context.Context, userID string) ([]models.Purchase, bool, error) {
	data, err := c.rdb.Get(ctx, historyKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	purchases := []models.Purchase{}
	if err := json.Unmarshal(data, &purchases); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached purchases: %w", err)
	}
	return purchases, true, nil
}

func (c *HistoryCache) Set(ctx context.Context, userID string, purchases []models.Purchase) error {
	data, err := json.Marshal(purchases)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, historyKey(userID), data, c.ttl).Err()
}

func (c *HistoryCache) Invalidate(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, historyKey(userID)).Err()
}
