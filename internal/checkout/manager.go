package checkout

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront/shopclient/internal/payment"
	"storefront/shopclient/internal/shop"
)

// DefaultRetention is how long a finished checkout stays readable.
const DefaultRetention = time.Minute

type ProductSource interface {
	Product(ctx context.Context, id int64) (shop.Product, error)
}

// Manager owns the open checkout attempts of this process, keyed by id.
type Manager struct {
	deps      Deps
	products  ProductSource
	retention time.Duration
	afterFunc payment.AfterFunc

	mu    sync.Mutex
	items map[string]*Controller
}

type ManagerOption func(*Manager)

// WithRetention sets how long a confirmed, failed or auth-required checkout
// stays readable before it is released. Zero releases it at once.
func WithRetention(d time.Duration) ManagerOption {
	return func(m *Manager) { m.retention = d }
}

// WithRetentionTimer replaces the timer source for retention, mainly for tests.
func WithRetentionTimer(fn payment.AfterFunc) ManagerOption {
	return func(m *Manager) { m.afterFunc = fn }
}

func NewManager(deps Deps, products ProductSource, opts ...ManagerOption) (*Manager, error) {
	if products == nil {
		return nil, fmt.Errorf("product source is required")
	}
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	m := &Manager{
		deps:      deps,
		products:  products,
		retention: DefaultRetention,
		afterFunc: func(d time.Duration, f func()) payment.Timer { return time.AfterFunc(d, f) },
		items:     make(map[string]*Controller),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.retention < 0 {
		return nil, fmt.Errorf("checkout retention must be >= 0")
	}
	return m, nil
}

// Open starts a checkout for the product handed off from product selection.
func (m *Manager) Open(ctx context.Context, ownerID, productID int64, size string) (*Controller, error) {
	if productID <= 0 {
		return nil, &shop.ValidationError{Fields: []string{"product_id"}, Message: "product is required"}
	}
	product, err := m.products.Product(ctx, productID)
	if err != nil {
		return nil, fmt.Errorf("load product %d: %w", productID, err)
	}
	if !product.HasSize(size) {
		return nil, &shop.ValidationError{Fields: []string{"selected_size"}, Message: "size is not available for this product"}
	}

	c, err := NewController(uuid.NewString(), ownerID, product, size, m.deps)
	if err != nil {
		return nil, err
	}
	c.onTerminal = m.finished
	m.mu.Lock()
	m.items[c.ID()] = c
	m.mu.Unlock()
	m.deps.Logger.Info("checkout opened", "checkout_id", c.ID(), "product_id", productID, "user_id", ownerID)
	return c, nil
}

// finished schedules the release of a checkout that reached a terminal stage.
func (m *Manager) finished(c *Controller) {
	if m.retention == 0 {
		m.release(c)
		return
	}
	m.afterFunc(m.retention, func() { m.release(c) })
}

func (m *Manager) release(c *Controller) {
	m.mu.Lock()
	cur, ok := m.items[c.ID()]
	if ok && cur == c {
		delete(m.items, c.ID())
	}
	m.mu.Unlock()
	if ok && cur == c {
		c.Close()
		m.deps.Logger.Info("finished checkout released", "checkout_id", c.ID(), "stage", string(c.Snapshot().Stage))
	}
}

// Get returns the checkout id owned by ownerID.
func (m *Manager) Get(id string, ownerID int64) (*Controller, error) {
	m.mu.Lock()
	c, ok := m.items[id]
	m.mu.Unlock()
	if !ok || c.OwnerID() != ownerID {
		return nil, ErrNotFound
	}
	return c, nil
}

// Discard closes and forgets a checkout, as when its view unmounts.
func (m *Manager) Discard(id string, ownerID int64) error {
	m.mu.Lock()
	c, ok := m.items[id]
	if !ok || c.OwnerID() != ownerID {
		m.mu.Unlock()
		return ErrNotFound
	}
	delete(m.items, id)
	m.mu.Unlock()

	c.Close()
	return nil
}

// DiscardOwner closes every checkout of ownerID, used on logout.
func (m *Manager) DiscardOwner(ownerID int64) int {
	m.mu.Lock()
	var doomed []*Controller
	for id, c := range m.items {
		if c.OwnerID() == ownerID {
			doomed = append(doomed, c)
			delete(m.items, id)
		}
	}
	m.mu.Unlock()

	for _, c := range doomed {
		c.Close()
	}
	return len(doomed)
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close tears down every open checkout.
func (m *Manager) Close() {
	m.mu.Lock()
	items := m.items
	m.items = make(map[string]*Controller)
	m.mu.Unlock()

	for _, c := range items {
		c.Close()
	}
}
