package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"gtm-datalayer/internal/model"
)

// ItemIDFormat selects how canonical item ids are built. It is fixed per
// deployment so every event of a session correlates.
type ItemIDFormat string

const (
	// ItemIDFormatted builds "<scope>_<country>_<productId>_<variantId>".
	ItemIDFormatted ItemIDFormat = "formatted"
	// ItemIDUnformatted uses the bare product id.
	ItemIDUnformatted ItemIDFormat = "unformatted"
)

// DefaultScope prefixes formatted item ids.
const DefaultScope = "shopify"

// NormalizerConfig holds the per-deployment settings of the normalizer.
type NormalizerConfig struct {
	Scope       string       // defaults to DefaultScope
	CountryCode string       // e.g. "US"
	Format      ItemIDFormat // defaults to ItemIDFormatted
	EventPrefix string       // optional, prepended to every event name
	Currency    string       // used when a payload carries none
}

// RawItem is an item as observed, before normalization. Prices are in
// minor units.
type RawItem struct {
	ProductID    int64
	VariantID    int64
	Title        string
	VariantTitle string
	SKU          string
	Vendor       string
	ProductType  string
	Price        int64
	Quantity     int
	Discount     int64
	ListID       string
	ListName     string
}

// ItemFromCart converts a cart line into a raw item.
func ItemFromCart(ci model.CartItem) RawItem {
	return RawItem{
		ProductID:    ci.ProductID,
		VariantID:    ci.VariantID,
		Title:        ci.Title,
		VariantTitle: ci.VariantTitle,
		SKU:          ci.SKU,
		Vendor:       ci.Vendor,
		ProductType:  ci.ProductType,
		Price:        ci.Price,
		Quantity:     ci.Quantity,
		Discount:     ci.Discount,
	}
}

// ItemsFromCart converts every line of a cart.
func ItemsFromCart(c model.Cart) []RawItem {
	items := make([]RawItem, 0, len(c.Items))
	for _, ci := range c.Items {
		items = append(items, ItemFromCart(ci))
	}
	return items
}

// Payload is the raw input of one emit call. Money fields are minor units.
type Payload struct {
	Currency      string
	Items         []RawItem
	Total         *int64 // explicit total; when nil the value is summed from items
	ListID        string
	ListName      string
	SearchTerm    string
	TransactionID string
	Tax           *int64
	Shipping      *int64
	Coupon        string
	UserData      *model.UserData
}

// Normalizer is the single funnel from detected actions to the channel.
type Normalizer struct {
	cfg     NormalizerConfig
	channel Channel
	logger  *slog.Logger

	// emitMu keeps the clearing record and its event adjacent when several
	// goroutines emit at once.
	emitMu sync.Mutex
}

// NewNormalizer creates a normalizer publishing to channel.
func NewNormalizer(cfg NormalizerConfig, channel Channel, logger *slog.Logger) *Normalizer {
	if cfg.Scope == "" {
		cfg.Scope = DefaultScope
	}
	if cfg.Format == "" {
		cfg.Format = ItemIDFormatted
	}
	return &Normalizer{cfg: cfg, channel: channel, logger: logger}
}

// Emit normalizes payload into an event named name (plus the configured
// prefix) and publishes it, preceded by the clearing record.
func (n *Normalizer) Emit(name string, p Payload) model.NormalizedEvent {
	n.emitMu.Lock()
	defer n.emitMu.Unlock()

	n.channel.Push(model.ClearRecord())

	ev := n.Build(name, p)
	n.channel.Push(model.Record{Event: &ev})

	n.logger.LogAttrs(context.Background(), slog.LevelDebug, "datalayer push",
		slog.String("event", ev.Name),
		slog.String("currency", ev.Currency),
		slog.Float64("value", ev.Value),
		slog.Int("items", len(ev.Items)),
		slog.Any("payload", ev),
	)
	return ev
}

// Build maps a payload into an event without publishing it.
func (n *Normalizer) Build(name string, p Payload) model.NormalizedEvent {
	currency := p.Currency
	if currency == "" {
		currency = n.cfg.Currency
	}

	items := make([]model.EcommerceItem, 0, len(p.Items))
	for i, raw := range p.Items {
		items = append(items, n.item(i, raw))
	}

	ev := model.NormalizedEvent{
		Name:          n.cfg.EventPrefix + name,
		Currency:      currency,
		Items:         items,
		Value:         Value(p.Total, items),
		ListID:        p.ListID,
		ListName:      p.ListName,
		SearchTerm:    p.SearchTerm,
		TransactionID: p.TransactionID,
		Coupon:        p.Coupon,
		UserData:      p.UserData,
	}
	if p.Tax != nil {
		tax := model.MinorToMajor(*p.Tax)
		ev.Tax = &tax
	}
	if p.Shipping != nil {
		shipping := model.MinorToMajor(*p.Shipping)
		ev.Shipping = &shipping
	}
	return ev
}

// ItemID returns the canonical item id for a product/variant pair.
func (n *Normalizer) ItemID(productID, variantID int64) string {
	if n.cfg.Format == ItemIDUnformatted {
		return strconv.FormatInt(productID, 10)
	}
	return fmt.Sprintf("%s_%s_%d_%d", n.cfg.Scope, n.cfg.CountryCode, productID, variantID)
}

func (n *Normalizer) item(index int, raw RawItem) model.EcommerceItem {
	return model.EcommerceItem{
		Index:     index,
		ItemID:    n.ItemID(raw.ProductID, raw.VariantID),
		ProductID: strconv.FormatInt(raw.ProductID, 10),
		VariantID: strconv.FormatInt(raw.VariantID, 10),
		ItemName:  raw.Title,
		Quantity:  raw.Quantity,
		Price:     model.MinorToMajor(raw.Price),
		Discount:  model.MinorToMajor(raw.Discount),
		Category:  raw.ProductType,
		Brand:     raw.Vendor,
		Variant:   variantLabel(raw.VariantTitle),
		SKU:       raw.SKU,
		ListID:    raw.ListID,
		ListName:  raw.ListName,
	}
}

// Value returns the event value: the explicit total when supplied, otherwise
// the sum of price × quantity, rounded to two decimals.
func Value(total *int64, items []model.EcommerceItem) float64 {
	if total != nil {
		return model.MinorToMajor(*total)
	}
	var sum float64
	for _, it := range items {
		sum += it.Price * float64(it.Quantity)
	}
	return model.RoundMajor(sum)
}

// variantLabel drops the placeholder title the platform gives products
// without options.
func variantLabel(title string) string {
	if title == defaultVariantTitle {
		return ""
	}
	return title
}

const defaultVariantTitle = "Default Title"
