// Package memory keeps the whole store in process memory. It backs tests and
// the demo mode of pos-server; nothing survives a restart.
//
// All catalog writes, restocks and checkouts serialize on a single mutex, so
// work on unrelated products does not run in parallel. Only the postgres
// driver locks per product row.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/xenking/mall-pos/internal/domain/auth"
	"github.com/xenking/mall-pos/internal/domain/order"
	"github.com/xenking/mall-pos/internal/domain/product"
	"github.com/xenking/mall-pos/internal/domain/promo"
)

var (
	_ product.Repository = (*Store)(nil)
	_ order.History      = (*Orders)(nil)
	_ order.TxRunner     = (*Store)(nil)
	_ promo.Repository   = (*Promos)(nil)
	_ auth.Repository    = (*APIKeys)(nil)
)

// Store holds products and orders behind one mutex. Checkout transactions
// hold the mutex until they commit or roll back.
type Store struct {
	mu       sync.Mutex
	nextID   int64
	products map[int64]product.Product
	orders   []order.Order
	byKey    map[string]int
}

func New() *Store {
	return &Store{
		products: make(map[int64]product.Product),
		byKey:    make(map[string]int),
	}
}

// Orders returns the history view of the store.
func (s *Store) Orders() *Orders {
	return &Orders{s: s}
}

func (s *Store) List(_ context.Context, f product.Filter) ([]product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := strings.ToLower(strings.TrimSpace(f.Query))
	var out []product.Product
	for _, p := range s.products {
		if f.LowStockOnly && !p.LowStock {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(p.Name), q) && !strings.Contains(strings.ToLower(p.Barcode), q) {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b product.Product) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.ID, b.ID))
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) GetByID(_ context.Context, id int64) (*product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return nil, &product.NotFoundError{ID: id}
	}
	return &p, nil
}

func (s *Store) FindByBarcode(_ context.Context, barcode string) (*product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.findBarcode(barcode); ok {
		return &p, nil
	}
	return nil, &product.NotFoundError{Barcode: barcode}
}

func (s *Store) findBarcode(barcode string) (product.Product, bool) {
	for _, p := range s.products {
		if p.Barcode == barcode {
			return p, true
		}
	}
	return product.Product{}, false
}

func (s *Store) Create(_ context.Context, p *product.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.findBarcode(p.Barcode); ok {
		return product.ErrDuplicateBarcode
	}
	s.nextID++
	p.ID = s.nextID
	s.products[p.ID] = *p
	return nil
}

func (s *Store) Update(_ context.Context, p *product.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[p.ID]
	if !ok {
		return &product.NotFoundError{ID: p.ID}
	}
	if other, ok := s.findBarcode(p.Barcode); ok && other.ID != p.ID {
		return product.ErrDuplicateBarcode
	}
	p.Quantity = current.Quantity
	s.products[p.ID] = *p
	return nil
}

func (s *Store) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.products[id]; !ok {
		return &product.NotFoundError{ID: id}
	}
	delete(s.products, id)
	return nil
}

func (s *Store) SetLowStock(_ context.Context, id int64, low bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return &product.NotFoundError{ID: id}
	}
	p.LowStock = low
	s.products[id] = p
	return nil
}

func (s *Store) AdjustStock(_ context.Context, id int64, delta int) (*product.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := adjust(s.products, id, delta)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func adjust(products map[int64]product.Product, id int64, delta int) (product.Product, error) {
	p, ok := products[id]
	if !ok {
		return product.Product{}, &product.NotFoundError{ID: id}
	}
	if p.Quantity+delta < 0 {
		return product.Product{}, &product.InsufficientStockError{Shortages: []product.Shortage{{
			ProductID: id,
			Name:      p.Name,
			Requested: -delta,
			Available: p.Quantity,
		}}}
	}
	p.Quantity += delta
	products[id] = p
	return p, nil
}

// InTx runs fn against a staged copy of the catalog. The copy and any created
// orders replace the live state only when fn returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx order.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s, products: maps.Clone(s.products)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.products = tx.products
	for _, o := range tx.orders {
		s.appendOrder(o)
	}
	return nil
}

func (s *Store) appendOrder(o order.Order) {
	o.Lines = slices.Clone(o.Lines)
	s.orders = append(s.orders, o)
	if o.IdempotencyKey != "" {
		s.byKey[o.IdempotencyKey] = len(s.orders) - 1
	}
}

type memTx struct {
	s        *Store
	products map[int64]product.Product
	orders   []order.Order
}

func (t *memTx) LockProducts(_ context.Context, ids []int64) ([]product.Product, error) {
	out := make([]product.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := t.products[id]; ok {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b product.Product) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (t *memTx) AdjustStock(_ context.Context, id int64, delta int) error {
	_, err := adjust(t.products, id, delta)
	return err
}

func (t *memTx) CreateOrder(_ context.Context, o *order.Order) error {
	if o.IdempotencyKey != "" {
		if _, ok := t.s.byKey[o.IdempotencyKey]; ok {
			return fmt.Errorf("order with key %q: %w", o.IdempotencyKey, order.ErrDuplicateSubmission)
		}
		for _, pending := range t.orders {
			if pending.IdempotencyKey == o.IdempotencyKey {
				return fmt.Errorf("order with key %q: %w", o.IdempotencyKey, order.ErrDuplicateSubmission)
			}
		}
	}
	t.orders = append(t.orders, *o)
	return nil
}

// Orders is the history view of a Store.
type Orders struct {
	s *Store
}

func (h *Orders) List(_ context.Context, f order.Filter) ([]order.Order, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	var out []order.Order
	for _, o := range h.s.orders {
		if f.Cashier != "" && o.Cashier != f.Cashier {
			continue
		}
		if f.PaymentMethod != "" && o.Payment.Method != f.PaymentMethod {
			continue
		}
		if !f.From.IsZero() && o.CreatedAt.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && !o.CreatedAt.Before(f.To) {
			continue
		}
		o.Lines = slices.Clone(o.Lines)
		out = append(out, o)
	}
	slices.SortStableFunc(out, func(a, b order.Order) int {
		return cmp.Or(b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (h *Orders) Get(_ context.Context, id string) (*order.Order, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	for _, o := range h.s.orders {
		if o.ID == id {
			o.Lines = slices.Clone(o.Lines)
			return &o, nil
		}
	}
	return nil, order.ErrNotFound
}

func (h *Orders) FindByIdempotencyKey(_ context.Context, key string) (*order.Order, error) {
	h.s.mu.Lock()
	defer h.s.mu.Unlock()

	i, ok := h.s.byKey[key]
	if !ok {
		return nil, order.ErrNotFound
	}
	o := h.s.orders[i]
	o.Lines = slices.Clone(o.Lines)
	return &o, nil
}
