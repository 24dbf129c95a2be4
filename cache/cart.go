package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"storefront-svc/cart"
)

// CartRepository keeps each session cart as a JSON row list. Every read and
// write pushes the expiry out by ttl.
type CartRepository struct {
	rdb Store
	ttl time.Duration
}

func NewCartRepository(rdb Store, ttl time.Duration) *CartRepository {
	return &CartRepository{rdb: rdb, ttl: ttl}
}

func cartKey(sessionID string) string {
	return fmt.Sprintf("cart:%s", sessionID)
}

// Load returns the session's cart, or an empty one when nothing is stored.
func (r *CartRepository) Load(ctx context.Context, sessionID string) (*cart.Store, error) {
	key := cartKey(sessionID)
	data, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return cart.New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}

	var items []cart.Item
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("failed to decode cart: %w", err)
	}
	if err := r.rdb.Expire(ctx, key, r.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to refresh cart expiry: %w", err)
	}
	return cart.New(items...), nil
}

// Save stores the cart. An empty cart deletes the key.
func (r *CartRepository) Save(ctx context.Context, sessionID string, store *cart.Store) error {
	if store.Len() == 0 {
		return r.Delete(ctx, sessionID)
	}
	data, err := json.Marshal(store.Items())
	if err != nil {
		return fmt.Errorf("failed to encode cart: %w", err)
	}
	if err := r.rdb.Set(ctx, cartKey(sessionID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	return nil
}

func (r *CartRepository) Delete(ctx context.Context, sessionID string) error {
	if err := r.rdb.Del(ctx, cartKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}
