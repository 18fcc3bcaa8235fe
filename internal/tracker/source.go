package tracker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gtm-datalayer/internal/model"
)

// Platform notifications the checkout pixel subscribes to.
const (
	SourcePageViewed         = "page_viewed"
	SourceCollectionViewed   = "collection_viewed"
	SourceProductViewed      = "product_viewed"
	SourceSearchSubmitted    = "search_submitted"
	SourceCartViewed         = "cart_viewed"
	SourceCartUpdated        = "cart_updated"
	SourceProductAddedToCart = "product_added_to_cart"
	SourceCheckoutStarted    = "checkout_started"
	SourceContactSubmitted   = "checkout_contact_info_submitted"
	SourceShippingSubmitted  = "checkout_shipping_info_submitted"
	SourcePaymentSubmitted   = "payment_info_submitted"
	SourceCheckoutCompleted  = "checkout_completed"
)

// SourceEvents lists every subscribed notification in subscription order.
var SourceEvents = []string{
	SourcePageViewed,
	SourceCollectionViewed,
	SourceProductViewed,
	SourceSearchSubmitted,
	SourceCartViewed,
	SourceCartUpdated,
	SourceProductAddedToCart,
	SourceCheckoutStarted,
	SourceContactSubmitted,
	SourceShippingSubmitted,
	SourcePaymentSubmitted,
	SourceCheckoutCompleted,
}

var checkoutEventNames = map[string]string{
	SourceCheckoutStarted:   "begin_checkout",
	SourceContactSubmitted:  "add_contact_info",
	SourceShippingSubmitted: "add_shipping_info",
	SourcePaymentSubmitted:  "add_payment_info",
	SourceCheckoutCompleted: "purchase",
}

var storefrontEventNames = map[string]string{
	SourcePageViewed:         "page_view",
	SourceCollectionViewed:   "view_item_list",
	SourceProductViewed:      "view_item",
	SourceSearchSubmitted:    "search",
	SourceCartViewed:         "view_cart",
	SourceProductAddedToCart: "add_to_cart",
}

// SourceEventName returns the data layer event a notification maps to.
// cart_updated maps to one add_to_cart or remove_from_cart per changed line
// and returns "". Unknown notifications return "" as well.
func SourceEventName(source string) string {
	if name, ok := storefrontEventNames[source]; ok {
		return name
	}
	return checkoutEventNames[source]
}

// IsCheckoutSource reports whether source carries a checkout payload.
func IsCheckoutSource(source string) bool {
	_, ok := checkoutEventNames[source]
	return ok
}

// Mapped is one data layer event produced from a notification.
type Mapped struct {
	Name    string
	Payload Payload
}

// SourceMapper maps platform notifications to data layer events. It holds
// the last cart seen so cart_updated can be diffed.
type SourceMapper struct {
	mu   sync.Mutex
	cart *model.Cart
}

// NewSourceMapper creates a mapper with no held cart.
func NewSourceMapper() *SourceMapper {
	return &SourceMapper{}
}

// Map converts one notification. cart_updated may yield zero or several
// events; every other notification yields exactly one.
func (m *SourceMapper) Map(name string, data json.RawMessage) ([]Mapped, error) {
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	switch name {
	case SourcePageViewed:
		return []Mapped{{Name: "page_view", Payload: Payload{Currency: m.currency()}}}, nil

	case SourceCollectionViewed:
		var d struct {
			Collection struct {
				ID              string         `json:"id"`
				Title           string         `json:"title"`
				ProductVariants []pixelVariant `json:"productVariants"`
			} `json:"collection"`
		}
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		listID := strconv.FormatInt(ParseGID(d.Collection.ID), 10)
		items := variantItems(d.Collection.ProductVariants, listID, d.Collection.Title)
		return []Mapped{{Name: "view_item_list", Payload: Payload{
			Currency: variantsCurrency(d.Collection.ProductVariants),
			Items:    items,
			ListID:   listID,
			ListName: d.Collection.Title,
		}}}, nil

	case SourceProductViewed:
		var d struct {
			ProductVariant pixelVariant `json:"productVariant"`
		}
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		return []Mapped{{Name: "view_item", Payload: Payload{
			Currency: d.ProductVariant.Price.CurrencyCode,
			Items:    []RawItem{d.ProductVariant.item(1)},
		}}}, nil

	case SourceSearchSubmitted:
		var d struct {
			SearchResult struct {
				Query           string         `json:"query"`
				ProductVariants []pixelVariant `json:"productVariants"`
			} `json:"searchResult"`
		}
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		return []Mapped{{Name: "search", Payload: Payload{
			Currency:   variantsCurrency(d.SearchResult.ProductVariants),
			Items:      variantItems(d.SearchResult.ProductVariants, "search_results", "Search results"),
			SearchTerm: d.SearchResult.Query,
			ListID:     "search_results",
			ListName:   "Search results",
		}}}, nil

	case SourceCartViewed:
		cart, total, err := decodePixelCart(data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		m.setCart(cart)
		return []Mapped{{Name: "view_cart", Payload: Payload{
			Currency: cart.Currency,
			Items:    ItemsFromCart(cart),
			Total:    &total,
		}}}, nil

	case SourceCartUpdated:
		cart, _, err := decodePixelCart(data)
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		previous := m.swapCart(cart)
		var out []Mapped
		for _, change := range Diff(previous, cart) {
			out = append(out, Mapped{Name: change.EventName(), Payload: Payload{
				Currency: cart.Currency,
				Items:    []RawItem{change.RawItem()},
			}})
		}
		return out, nil

	case SourceProductAddedToCart:
		var d struct {
			CartLine *pixelLine `json:"cartLine"`
		}
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		if d.CartLine == nil {
			return nil, fmt.Errorf("decoding %s: missing cartLine", name)
		}
		total := model.MajorToMinor(d.CartLine.Cost.TotalAmount.Amount)
		return []Mapped{{Name: "add_to_cart", Payload: Payload{
			Currency: d.CartLine.Merchandise.Price.CurrencyCode,
			Items:    []RawItem{d.CartLine.Merchandise.item(d.CartLine.Quantity)},
			Total:    &total,
		}}}, nil
	}

	if event, ok := checkoutEventNames[name]; ok {
		var d struct {
			Checkout pixelCheckout `json:"checkout"`
		}
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", name, err)
		}
		return []Mapped{{Name: event, Payload: d.Checkout.payload(name == SourceCheckoutCompleted)}}, nil
	}

	return nil, fmt.Errorf("unsupported source event %q", name)
}

func (m *SourceMapper) currency() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cart == nil {
		return ""
	}
	return m.cart.Currency
}

func (m *SourceMapper) setCart(c model.Cart) {
	m.mu.Lock()
	m.cart = &c
	m.mu.Unlock()
}

func (m *SourceMapper) swapCart(c model.Cart) model.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	previous := model.EmptyCart(c.Currency)
	if m.cart != nil {
		previous = *m.cart
	}
	m.cart = &c
	return previous
}

// ParseGID extracts the numeric id from "gid://shopify/Type/123" or "123".
// Unparseable ids yield 0.
func ParseGID(id string) int64 {
	if i := strings.LastIndexByte(id, '/'); i >= 0 {
		id = id[i+1:]
	}
	if i := strings.IndexByte(id, '?'); i >= 0 {
		id = id[:i]
	}
	n, _ := strconv.ParseInt(id, 10, 64)
	return n
}

type pixelMoney struct {
	Amount       float64 `json:"amount"`
	CurrencyCode string  `json:"currencyCode"`
}

type pixelVariant struct {
	ID      string     `json:"id"`
	Title   string     `json:"title"`
	SKU     string     `json:"sku"`
	Price   pixelMoney `json:"price"`
	Product struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Vendor string `json:"vendor"`
		Type   string `json:"type"`
	} `json:"product"`
}

func (v pixelVariant) item(quantity int) RawItem {
	return RawItem{
		ProductID:    ParseGID(v.Product.ID),
		VariantID:    ParseGID(v.ID),
		Title:        v.Product.Title,
		VariantTitle: v.Title,
		SKU:          v.SKU,
		Vendor:       v.Product.Vendor,
		ProductType:  v.Product.Type,
		Price:        model.MajorToMinor(v.Price.Amount),
		Quantity:     quantity,
	}
}

func variantItems(variants []pixelVariant, listID, listName string) []RawItem {
	items := make([]RawItem, 0, len(variants))
	for _, v := range variants {
		item := v.item(1)
		item.ListID, item.ListName = listID, listName
		items = append(items, item)
	}
	return items
}

func variantsCurrency(variants []pixelVariant) string {
	for _, v := range variants {
		if v.Price.CurrencyCode != "" {
			return v.Price.CurrencyCode
		}
	}
	return ""
}

type pixelLine struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
	Cost     struct {
		TotalAmount pixelMoney `json:"totalAmount"`
	} `json:"cost"`
	Merchandise pixelVariant `json:"merchandise"`
}

// decodePixelCart converts the pixel cart into a cart snapshot. Lines are
// keyed by line id, falling back to the variant id.
func decodePixelCart(data json.RawMessage) (model.Cart, int64, error) {
	var d struct {
		Cart *struct {
			Cost struct {
				TotalAmount pixelMoney `json:"totalAmount"`
			} `json:"cost"`
			Lines []pixelLine `json:"lines"`
		} `json:"cart"`
	}
	if err := json.Unmarshal(data, &d); err != nil {
		return model.Cart{}, 0, err
	}
	if d.Cart == nil {
		return model.EmptyCart(""), 0, nil
	}

	cart := model.EmptyCart(d.Cart.Cost.TotalAmount.CurrencyCode)
	for _, line := range d.Cart.Lines {
		raw := line.Merchandise.item(line.Quantity)
		key := line.ID
		if key == "" {
			key = line.Merchandise.ID
		}
		if cart.Currency == "" {
			cart.Currency = line.Merchandise.Price.CurrencyCode
		}
		cart.Items = append(cart.Items, model.CartItem{
			Key:          key,
			ProductID:    raw.ProductID,
			VariantID:    raw.VariantID,
			Title:        raw.Title,
			VariantTitle: raw.VariantTitle,
			SKU:          raw.SKU,
			Vendor:       raw.Vendor,
			ProductType:  raw.ProductType,
			Price:        raw.Price,
			Quantity:     raw.Quantity,
		})
	}
	return cart, model.MajorToMinor(d.Cart.Cost.TotalAmount.Amount), nil
}

type pixelCheckout struct {
	Token        string      `json:"token"`
	CurrencyCode string      `json:"currencyCode"`
	Email        string      `json:"email"`
	Phone        string      `json:"phone"`
	TotalPrice   pixelMoney  `json:"totalPrice"`
	TotalTax     *pixelMoney `json:"totalTax"`
	ShippingLine *struct {
		Price pixelMoney `json:"price"`
	} `json:"shippingLine"`
	Order *struct {
		ID string `json:"id"`
	} `json:"order"`
	LineItems []struct {
		Quantity            int          `json:"quantity"`
		Title               string       `json:"title"`
		Variant             pixelVariant `json:"variant"`
		DiscountAllocations []struct {
			Amount pixelMoney `json:"amount"`
		} `json:"discountAllocations"`
	} `json:"lineItems"`
	DiscountApplications []struct {
		Title string `json:"title"`
		Type  string `json:"type"`
	} `json:"discountApplications"`
}

func (c pixelCheckout) payload(completed bool) Payload {
	currency := c.CurrencyCode
	if currency == "" {
		currency = c.TotalPrice.CurrencyCode
	}

	items := make([]RawItem, 0, len(c.LineItems))
	for _, li := range c.LineItems {
		item := li.Variant.item(li.Quantity)
		if item.Title == "" {
			item.Title = li.Title
		}
		for _, d := range li.DiscountAllocations {
			item.Discount += model.MajorToMinor(d.Amount.Amount)
		}
		items = append(items, item)
	}

	total := model.MajorToMinor(c.TotalPrice.Amount)
	p := Payload{
		Currency: currency,
		Items:    items,
		Total:    &total,
		UserData: HashUserData(c.Email, c.Phone),
	}
	if !completed {
		return p
	}

	p.TransactionID = c.Token
	if c.Order != nil && c.Order.ID != "" {
		p.TransactionID = c.Order.ID
		if id := ParseGID(c.Order.ID); id != 0 {
			p.TransactionID = strconv.FormatInt(id, 10)
		}
	}
	if c.TotalTax != nil {
		tax := model.MajorToMinor(c.TotalTax.Amount)
		p.Tax = &tax
	}
	if c.ShippingLine != nil {
		shipping := model.MajorToMinor(c.ShippingLine.Price.Amount)
		p.Shipping = &shipping
	}
	var codes []string
	for _, d := range c.DiscountApplications {
		if d.Type == "DISCOUNT_CODE" && d.Title != "" {
			codes = append(codes, d.Title)
		}
	}
	p.Coupon = strings.Join(codes, ",")
	return p
}
