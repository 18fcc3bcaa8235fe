// Package tracker implements the storefront analytics pipeline: cart
// tracking, network interception, selector-driven interaction capture and
// event normalization onto a shared data layer.
//
// A page load is modeled explicitly. NewPage constructs one TrackerContext,
// installs one Interceptor, attaches one Binder and shares a single
// Normalizer between them. Nothing is kept in package-level state.
package tracker

import (
	"sync"

	"gtm-datalayer/internal/model"
)

// TrackerContext is the per-page state: the last known cart snapshot and
// the most recently quick-viewed product. It is created once per page load
// and discarded on navigation.
type TrackerContext struct {
	mu            sync.RWMutex
	cart          model.Cart
	quickItem     *RawItem
	quickVariants []ProductVariant
}

// NewTrackerContext creates page state holding the given cart snapshot.
// A cart without items is normalized to an empty, non-nil item list.
func NewTrackerContext(cart model.Cart) *TrackerContext {
	if cart.Items == nil {
		cart = model.EmptyCart(cart.Currency)
	}
	return &TrackerContext{cart: cart.Clone()}
}

// Cart returns a copy of the held snapshot.
func (c *TrackerContext) Cart() model.Cart {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cart.Clone()
}

// SetCart replaces the held snapshot wholesale.
func (c *TrackerContext) SetCart(cart model.Cart) {
	if cart.Items == nil {
		cart = model.EmptyCart(cart.Currency)
	}
	c.mu.Lock()
	c.cart = cart.Clone()
	c.mu.Unlock()
}

// Currency returns the currency of the held snapshot.
func (c *TrackerContext) Currency() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cart.Currency
}

// QuickView returns the last quick-viewed item and its variants.
// ok is false when nothing was quick-viewed on this page yet.
func (c *TrackerContext) QuickView() (item RawItem, variants []ProductVariant, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.quickItem == nil {
		return RawItem{}, nil, false
	}
	variants = make([]ProductVariant, len(c.quickVariants))
	copy(variants, c.quickVariants)
	return *c.quickItem, variants, true
}

// SetQuickView overwrites the quick-view state. Previous state is dropped,
// never merged.
func (c *TrackerContext) SetQuickView(item RawItem, variants []ProductVariant) {
	vs := make([]ProductVariant, len(variants))
	copy(vs, variants)

	c.mu.Lock()
	c.quickItem = &item
	c.quickVariants = vs
	c.mu.Unlock()
}
