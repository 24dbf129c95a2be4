// Package catalog holds the storefront's immutable reference data: products and bundles.
// The catalog is loaded once at startup from an embedded YAML file and never mutated.
package catalog

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var catalogYAML []byte

type Category string

const (
	CategorySystem   Category = "System"
	CategoryTemplate Category = "Template"
	CategoryGuide    Category = "Guide"
)

func (c Category) Valid() bool {
	switch c {
	case CategorySystem, CategoryTemplate, CategoryGuide:
		return true
	}
	return false
}

// Product is a single purchasable item. Price is in minor currency units.
type Product struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Price       int64    `json:"price"`
	Category    Category `json:"category"`
	Image       string   `json:"image"`
	Features    []string `json:"features"`
}

// Bundle groups several products at a reduced price.
type Bundle struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	ProductIDs    []string `json:"productIds"`
	Price         int64    `json:"price"`
	OriginalPrice int64    `json:"originalPrice"`
	Image         string   `json:"image"`
	Features      []string `json:"features"`
}

// Savings is OriginalPrice - Price; Load rejects bundles where this would be negative.
func (b Bundle) Savings() int64 {
	return b.OriginalPrice - b.Price
}

// Catalog is safe for concurrent reads.
type Catalog struct {
	products []Product
	bundles  []Bundle
	byID     map[string]int
	bundleID map[string]int
}

type rawCatalog struct {
	Products []struct {
		ID          string   `yaml:"id"`
		Title       string   `yaml:"title"`
		Description string   `yaml:"description"`
		Price       string   `yaml:"price"`
		Category    string   `yaml:"category"`
		Image       string   `yaml:"image"`
		Features    []string `yaml:"features"`
	} `yaml:"products"`
	Bundles []struct {
		ID            string   `yaml:"id"`
		Title         string   `yaml:"title"`
		Description   string   `yaml:"description"`
		ProductIDs    []string `yaml:"product_ids"`
		Price         string   `yaml:"price"`
		OriginalPrice string   `yaml:"original_price"`
		Image         string   `yaml:"image"`
		Features      []string `yaml:"features"`
	} `yaml:"bundles"`
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(catalogYAML)
}

// Parse builds a catalog from YAML and validates it.
func Parse(data []byte) (*Catalog, error) {
	var raw rawCatalog
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}

	c := &Catalog{
		byID:     make(map[string]int, len(raw.Products)),
		bundleID: make(map[string]int, len(raw.Bundles)),
	}

	for _, rp := range raw.Products {
		id := strings.TrimSpace(rp.ID)
		if id == "" {
			return nil, errors.New("catalog: product without id")
		}
		if _, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("catalog: duplicate product id %q", id)
		}
		price, err := ParseAmount(rp.Price)
		if err != nil {
			return nil, fmt.Errorf("catalog: product %q: %w", id, err)
		}
		if price <= 0 {
			return nil, fmt.Errorf("catalog: product %q: price must be positive", id)
		}
		category := Category(rp.Category)
		if !category.Valid() {
			return nil, fmt.Errorf("catalog: product %q: unknown category %q", id, rp.Category)
		}
		c.byID[id] = len(c.products)
		c.products = append(c.products, Product{
			ID:          id,
			Title:       rp.Title,
			Description: rp.Description,
			Price:       price,
			Category:    category,
			Image:       rp.Image,
			Features:    rp.Features,
		})
	}

	for _, rb := range raw.Bundles {
		id := strings.TrimSpace(rb.ID)
		if id == "" {
			return nil, errors.New("catalog: bundle without id")
		}
		if _, dup := c.bundleID[id]; dup {
			return nil, fmt.Errorf("catalog: duplicate bundle id %q", id)
		}
		if _, clash := c.byID[id]; clash {
			return nil, fmt.Errorf("catalog: bundle id %q collides with a product", id)
		}
		for _, pid := range rb.ProductIDs {
			if _, ok := c.byID[pid]; !ok {
				return nil, fmt.Errorf("catalog: bundle %q references unknown product %q", id, pid)
			}
		}
		price, err := ParseAmount(rb.Price)
		if err != nil {
			return nil, fmt.Errorf("catalog: bundle %q: %w", id, err)
		}
		original, err := ParseAmount(rb.OriginalPrice)
		if err != nil {
			return nil, fmt.Errorf("catalog: bundle %q: %w", id, err)
		}
		b := Bundle{
			ID:            id,
			Title:         rb.Title,
			Description:   rb.Description,
			ProductIDs:    rb.ProductIDs,
			Price:         price,
			OriginalPrice: original,
			Image:         rb.Image,
			Features:      rb.Features,
		}
		if b.Price <= 0 {
			return nil, fmt.Errorf("catalog: bundle %q: price must be positive", id)
		}
		if b.Savings() < 0 {
			return nil, fmt.Errorf("catalog: bundle %q: price exceeds original price", id)
		}
		c.bundleID[id] = len(c.bundles)
		c.bundles = append(c.bundles, b)
	}

	return c, nil
}

func (c *Catalog) Products() []Product {
	out := make([]Product, len(c.products))
	copy(out, c.products)
	return out
}

func (c *Catalog) Bundles() []Bundle {
	out := make([]Bundle, len(c.bundles))
	copy(out, c.bundles)
	return out
}

func (c *Catalog) Product(id string) (Product, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Product{}, false
	}
	return c.products[i], true
}

func (c *Catalog) Bundle(id string) (Bundle, bool) {
	i, ok := c.bundleID[id]
	if !ok {
		return Bundle{}, false
	}
	return c.bundles[i], true
}

// PromptContext lists the products one per line for the assistant's system instruction.
func (c *Catalog) PromptContext() string {
	var sb strings.Builder
	for _, p := range c.products {
		fmt.Fprintf(&sb, "ID: %s, Name: %s, Price: $%s, Category: %s, Description: %s\n",
			p.ID, p.Title, FormatMinor(p.Price), p.Category, p.Description)
	}
	for _, b := range c.bundles {
		fmt.Fprintf(&sb, "ID: %s, Bundle: %s, Price: $%s (save $%s), Includes: %s\n",
			b.ID, b.Title, FormatMinor(b.Price), FormatMinor(b.Savings()), strings.Join(b.ProductIDs, ", "))
	}
	return sb.String()
}
