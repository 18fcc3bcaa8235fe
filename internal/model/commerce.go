// Package model holds the shared data model of the analytics pipeline and
// the error taxonomy used by the operator-facing surface.
package model

import (
	"encoding/json"
)

// Cart is a point-in-time snapshot of the storefront cart.
// Field names follow the storefront cart endpoint (/cart.js) so a response
// body decodes directly. Snapshots are replaced wholesale, never merged.
type Cart struct {
	Currency string     `json:"currency"`
	Items    []CartItem `json:"items"`

	// TotalPrice is the cart total after discounts in minor units, when the
	// storefront reported one.
	TotalPrice *int64 `json:"total_price,omitempty"`
}

// CartItem is one cart line. Lines are identified by Key, not by
// product/variant, since the same variant may appear on two lines
// (e.g. with different line properties).
type CartItem struct {
	Key          string `json:"key"`
	ProductID    int64  `json:"product_id"`
	VariantID    int64  `json:"variant_id"`
	Title        string `json:"product_title"`
	VariantTitle string `json:"variant_title,omitempty"`
	SKU          string `json:"sku,omitempty"`
	Vendor       string `json:"vendor,omitempty"`
	ProductType  string `json:"product_type,omitempty"`
	Price        int64  `json:"price"` // minor units
	Quantity     int    `json:"quantity"`
	Discount     int64  `json:"total_discount"` // minor units
}

// EmptyCart returns a well-typed cart with no lines.
// Used whenever cart or session data is missing.
func EmptyCart(currency string) Cart {
	return Cart{Currency: currency, Items: []CartItem{}}
}

// Clone returns a deep copy so a held snapshot can't be mutated through
// a slice shared with the caller.
func (c Cart) Clone() Cart {
	items := make([]CartItem, len(c.Items))
	copy(items, c.Items)
	return Cart{Currency: c.Currency, Items: items}
}

// EcommerceItem is a normalized item as published on the data layer.
// Optional fields are omitted when empty, never emitted as null.
type EcommerceItem struct {
	Index     int     `json:"index"`
	ItemID    string  `json:"item_id"`
	ProductID string  `json:"item_product_id"`
	VariantID string  `json:"item_variant_id"`
	ItemName  string  `json:"item_name"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price"`
	Discount  float64 `json:"discount"`
	Category  string  `json:"item_category,omitempty"`
	Brand     string  `json:"item_brand,omitempty"`
	Variant   string  `json:"item_variant,omitempty"`
	SKU       string  `json:"item_sku,omitempty"`
	ListID    string  `json:"item_list_id,omitempty"`
	ListName  string  `json:"item_list_name,omitempty"`
}

// UserData carries hashed identifiers. Raw values never reach this type.
type UserData struct {
	EmailSHA256 string `json:"sha256_email_address,omitempty"`
	PhoneSHA256 string `json:"sha256_phone_number,omitempty"`
}

// IsEmpty reports whether no digest is present.
func (u *UserData) IsEmpty() bool {
	return u == nil || (u.EmailSHA256 == "" && u.PhoneSHA256 == "")
}

// NormalizedEvent is the canonical event record. It is built once by the
// normalizer and not modified afterwards.
type NormalizedEvent struct {
	Name          string
	Currency      string
	Items         []EcommerceItem
	Value         float64
	ListID        string
	ListName      string
	SearchTerm    string
	TransactionID string
	Tax           *float64
	Shipping      *float64
	Coupon        string
	UserData      *UserData
}

// ecommerceWire is the nested "ecommerce" object consumers read.
type ecommerceWire struct {
	Currency      string          `json:"currency"`
	Value         float64         `json:"value"`
	TransactionID string          `json:"transaction_id,omitempty"`
	Tax           *float64        `json:"tax,omitempty"`
	Shipping      *float64        `json:"shipping,omitempty"`
	Coupon        string          `json:"coupon,omitempty"`
	ListID        string          `json:"item_list_id,omitempty"`
	ListName      string          `json:"item_list_name,omitempty"`
	Items         []EcommerceItem `json:"items"`
}

type eventWire struct {
	Event      string        `json:"event"`
	SearchTerm string        `json:"search_term,omitempty"`
	UserData   *UserData     `json:"user_data,omitempty"`
	Ecommerce  ecommerceWire `json:"ecommerce"`
}

// MarshalJSON renders the data layer shape:
// {"event": ..., "ecommerce": {"currency": ..., "value": ..., "items": [...]}}
func (e NormalizedEvent) MarshalJSON() ([]byte, error) {
	items := e.Items
	if items == nil {
		items = []EcommerceItem{}
	}
	var user *UserData
	if !e.UserData.IsEmpty() {
		user = e.UserData
	}
	return json.Marshal(eventWire{
		Event:      e.Name,
		SearchTerm: e.SearchTerm,
		UserData:   user,
		Ecommerce: ecommerceWire{
			Currency:      e.Currency,
			Value:         e.Value,
			TransactionID: e.TransactionID,
			Tax:           e.Tax,
			Shipping:      e.Shipping,
			Coupon:        e.Coupon,
			ListID:        e.ListID,
			ListName:      e.ListName,
			Items:         items,
		},
	})
}

// Record is one entry of the shared event channel: either the clearing
// record or a complete event.
type Record struct {
	Event *NormalizedEvent
}

// ClearRecord resets the nested ecommerce object for consumers that
// shallow-merge successive pushes.
func ClearRecord() Record {
	return Record{}
}

// IsClear reports whether r is the clearing record.
func (r Record) IsClear() bool {
	return r.Event == nil
}

// MarshalJSON renders {"ecommerce":null} for the clearing record.
func (r Record) MarshalJSON() ([]byte, error) {
	if r.Event == nil {
		return []byte(`{"ecommerce":null}`), nil
	}
	return json.Marshal(r.Event)
}
