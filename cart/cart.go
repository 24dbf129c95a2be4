// Package cart implements the session cart as a plain state container.
//
// A Store is owned by exactly one browser session and is not safe for
// concurrent use. Products and bundles are normalised into a single Item
// shape when they enter the cart, so totals and rendering never branch on
// where a row came from.
package cart

import (
	"errors"

	"storefront-svc/catalog"
)

// ErrUnknownItem is returned when an id matches neither a product nor a bundle.
var ErrUnknownItem = errors.New("cart: unknown item")

// Item is one cart row. Quantity is always >= 1.
type Item struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Image       string `json:"image"`
	UnitPrice   int64  `json:"price"`
	Quantity    int    `json:"quantity"`
	IsBundle    bool   `json:"isBundle,omitempty"`
	BundleID    string `json:"bundleId,omitempty"`
}

// LineTotal is UnitPrice * Quantity in minor units.
func (i Item) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

func FromProduct(p catalog.Product) Item {
	return Item{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Image:       p.Image,
		UnitPrice:   p.Price,
	}
}

func FromBundle(b catalog.Bundle) Item {
	return Item{
		ID:          b.ID,
		Title:       b.Title,
		Description: b.Description,
		Image:       b.Image,
		UnitPrice:   b.Price,
		IsBundle:    true,
		BundleID:    b.ID,
	}
}

// Resolve looks id up as a product first, then as a bundle.
func Resolve(c *catalog.Catalog, id string) (Item, error) {
	if p, ok := c.Product(id); ok {
		return FromProduct(p), nil
	}
	if b, ok := c.Bundle(id); ok {
		return FromBundle(b), nil
	}
	return Item{}, ErrUnknownItem
}

type Store struct {
	items []Item
}

// New rebuilds a store from persisted rows. Rows with a non-positive quantity
// or a repeated id are dropped.
func New(items ...Item) *Store {
	s := &Store{}
	seen := make(map[string]bool, len(items))
	for _, it := range items {
		if it.Quantity < 1 || seen[it.ID] {
			continue
		}
		seen[it.ID] = true
		s.items = append(s.items, it)
	}
	return s
}

// Add increments the quantity of an existing row by one, or appends the item
// with quantity 1. Existing order is preserved.
func (s *Store) Add(item Item) []Item {
	for i := range s.items {
		if s.items[i].ID == item.ID {
			s.items[i].Quantity++
			return s.Items()
		}
	}
	item.Quantity = 1
	s.items = append(s.items, item)
	return s.Items()
}

// Remove deletes the row with id. Missing ids are a no-op.
func (s *Store) Remove(id string) {
	for i := range s.items {
		if s.items[i].ID == id {
			s.items = append(s.items[:i], s.items[i+1:]...)
			return
		}
	}
}

// UpdateQuantity applies delta to the row's quantity when the result stays
// positive. A result <= 0 leaves the row untouched; callers wanting removal
// must call Remove. It reports whether the row changed.
func (s *Store) UpdateQuantity(id string, delta int) bool {
	for i := range s.items {
		if s.items[i].ID != id {
			continue
		}
		next := s.items[i].Quantity + delta
		if next <= 0 || delta == 0 {
			return false
		}
		s.items[i].Quantity = next
		return true
	}
	return false
}

func (s *Store) Clear() {
	s.items = nil
}

// Count is the sum of quantities, not the number of rows.
func (s *Store) Count() int {
	n := 0
	for _, it := range s.items {
		n += it.Quantity
	}
	return n
}

// Subtotal is computed on every call from the current rows.
func (s *Store) Subtotal() int64 {
	var total int64
	for _, it := range s.items {
		total += it.LineTotal()
	}
	return total
}

// Items returns a copy of the rows in insertion order.
func (s *Store) Items() []Item {
	out := make([]Item, len(s.items))
	copy(out, s.items)
	return out
}

func (s *Store) Len() int {
	return len(s.items)
}
