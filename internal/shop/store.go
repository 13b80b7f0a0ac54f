// Package shop is a small web shop built on the dispatcher: a public product list, admin
// pages to add products, and a few markdown guides.
package shop

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidProduct is returned when a product fails validation.
var ErrInvalidProduct = errors.New("invalid product")

// Product is an item for sale.
type Product struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Price       float64   `json:"price"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store keeps products.
type Store interface {
	// Add stores p, assigning its ID and creation time, and returns the stored product.
	Add(ctx context.Context, p Product) (Product, error)

	// List returns all products, oldest first.
	List(ctx context.Context) ([]Product, error)
}

// MemoryStore is an in-memory Store. It is safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	products []Product
	now      func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// Add implements Store.
func (s *MemoryStore) Add(ctx context.Context, p Product) (Product, error) {
	if err := ctx.Err(); err != nil {
		return Product{}, err
	}
	if p.Title == "" || p.Price < 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
		return Product{}, ErrInvalidProduct
	}

	p.ID = uuid.New().String()
	p.CreatedAt = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.products = append(s.products, p)
	return p, nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context) ([]Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]Product, len(s.products))
	copy(out, s.products)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
