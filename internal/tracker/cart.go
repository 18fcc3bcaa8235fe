package tracker

import (
	"context"
	"fmt"
	"log/slog"

	"gtm-datalayer/internal/model"
)

// ChangeKind is the direction of a cart quantity change.
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeRemove ChangeKind = "remove"
)

// CartChange is one entry of a cart diff. Item carries the line as it was
// in the old snapshot; Delta is always positive.
type CartChange struct {
	Kind  ChangeKind
	Item  model.CartItem
	Delta int
}

// EventName returns the data layer event for the change.
func (c CartChange) EventName() string {
	if c.Kind == ChangeAdd {
		return "add_to_cart"
	}
	return "remove_from_cart"
}

// RawItem returns the changed line with its quantity set to the delta.
func (c CartChange) RawItem() RawItem {
	item := ItemFromCart(c.Item)
	item.Quantity = c.Delta
	return item
}

// Diff compares two cart snapshots line by line, in old-cart order.
// Lines are matched by identity key:
//   - quantity increased → add with the positive delta
//   - quantity decreased → remove with the absolute delta
//   - line missing from newCart → remove with the full old quantity
//
// Lines that exist only in newCart produce nothing. Additions are reported
// by whoever observed the mutating call.
func Diff(oldCart, newCart model.Cart) []CartChange {
	newByKey := make(map[string]model.CartItem, len(newCart.Items))
	for _, item := range newCart.Items {
		newByKey[item.Key] = item
	}

	var changes []CartChange
	for _, old := range oldCart.Items {
		current, exists := newByKey[old.Key]
		switch {
		case !exists:
			changes = append(changes, CartChange{Kind: ChangeRemove, Item: old, Delta: old.Quantity})
		case current.Quantity > old.Quantity:
			changes = append(changes, CartChange{Kind: ChangeAdd, Item: old, Delta: current.Quantity - old.Quantity})
		case current.Quantity < old.Quantity:
			changes = append(changes, CartChange{Kind: ChangeRemove, Item: old, Delta: old.Quantity - current.Quantity})
		}
	}
	return changes
}

// CartFetcher retrieves the current cart from the storefront.
type CartFetcher interface {
	Cart(ctx context.Context) (model.Cart, error)
}

// CartTracker keeps the page's cart snapshot in sync with the storefront.
// A re-fetched cart always wins over anything computed locally.
type CartTracker struct {
	state  *TrackerContext
	fetch  CartFetcher
	logger *slog.Logger
}

// NewCartTracker creates a tracker writing snapshots into state.
func NewCartTracker(state *TrackerContext, fetch CartFetcher, logger *slog.Logger) *CartTracker {
	return &CartTracker{state: state, fetch: fetch, logger: logger}
}

// Refresh replaces the held snapshot with a freshly fetched cart.
// On failure the previous snapshot is kept.
func (t *CartTracker) Refresh(ctx context.Context) error {
	cart, err := t.fetch.Cart(ctx)
	if err != nil {
		t.logger.Warn("cart refresh failed", slog.String("error", err.Error()))
		return fmt.Errorf("refreshing cart: %w", err)
	}
	t.state.SetCart(cart)
	return nil
}

// Snapshot returns the held cart.
func (t *CartTracker) Snapshot() model.Cart {
	return t.state.Cart()
}
