package tracker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"gtm-datalayer/internal/model"
)

// fakeStore serves the storefront AJAX endpoints from memory.
type fakeStore struct {
	mu       sync.Mutex
	cart     model.Cart
	products map[string]Product

	suggests     atomic.Int32
	internalHits atomic.Int32
	failSuggest  bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		cart: model.Cart{Currency: "USD", Items: []model.CartItem{
			{Key: "222:a", ProductID: 111, VariantID: 222, Title: "Tee", Price: 1299, Quantity: 2},
		}},
		products: map[string]Product{
			"tee": {ID: 111, Title: "Tee", Handle: "tee", Vendor: "Acme", Variants: []ProductVariant{
				{ID: 222, Title: "Small", Price: 1299},
				{ID: 223, Title: "Large", Price: 1499},
			}},
			"mug": {ID: 333, Title: "Mug", Handle: "mug", Variants: []ProductVariant{{ID: 444, Title: "Default Title", Price: 800}}},
		},
	}
}

func (f *fakeStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if IsInternal(r) {
		f.internalHits.Add(1)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Store", "fake")

	switch {
	case r.URL.Path == "/cart.js":
		json.NewEncoder(w).Encode(f.cart)

	case r.URL.Path == "/cart/add.js":
		var req struct {
			ID       int64 `json:"id"`
			Quantity int   `json:"quantity"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		item := model.CartItem{Key: fmt.Sprintf("%d:b", req.ID), ProductID: 333, VariantID: req.ID, Title: "Mug", Price: 800, Quantity: req.Quantity}
		f.cart.Items = append(f.cart.Items, item)
		json.NewEncoder(w).Encode(item)

	case r.URL.Path == "/cart/change.js":
		var req struct {
			ID       string `json:"id"`
			Quantity int    `json:"quantity"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		items := []model.CartItem{}
		for _, it := range f.cart.Items {
			if it.Key == req.ID {
				it.Quantity = req.Quantity
			}
			if it.Quantity > 0 {
				items = append(items, it)
			}
		}
		f.cart.Items = items
		json.NewEncoder(w).Encode(f.cart)

	case r.URL.Path == "/search/suggest.json":
		f.suggests.Add(1)
		if f.failSuggest {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		var resp suggestResponse
		for handle, p := range f.products {
			if strings.Contains(handle, r.URL.Query().Get("q")) {
				resp.Resources.Results.Products = append(resp.Resources.Results.Products,
					SuggestedProduct{ID: p.ID, Title: p.Title, Handle: handle, URL: "/products/" + handle + "?_pos=1"})
			}
		}
		json.NewEncoder(w).Encode(resp)

	case strings.HasPrefix(r.URL.Path, "/products/") && strings.HasSuffix(r.URL.Path, ".js"):
		handle := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/products/"), ".js")
		p, ok := f.products[handle]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(p)

	case r.URL.Path == "/search":
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>results</body></html>")

	default:
		http.NotFound(w, r)
	}
}

func TestCanonicalProductPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"/products/tee", "/products/tee", true},
		{"/collections/shirts/products/tee?variant=1", "/products/tee", true},
		{"https://shop.example/fr/products/tee.js#top", "/products/tee", true},
		{"/collections/shirts", "", false},
		{"/products/", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := CanonicalProductPath(tt.in)
			if got != tt.want || ok != tt.ok {
				t.Errorf("CanonicalProductPath(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestStorefront_MarksRequestsInternal(t *testing.T) {
	fake := newFakeStore()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	sf, err := NewStorefront(srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewStorefront() error = %v", err)
	}
	cart, err := sf.Cart(t.Context())
	if err != nil {
		t.Fatalf("Cart() error = %v", err)
	}
	if len(cart.Items) != 1 {
		t.Errorf("Cart() items = %d, want 1", len(cart.Items))
	}
	p, err := sf.Product(t.Context(), "/collections/all/products/tee")
	if err != nil {
		t.Fatalf("Product() error = %v", err)
	}
	if item := p.Item(223); item.Price != 1499 || item.VariantTitle != "Large" {
		t.Errorf("Item(223) = %+v", item)
	}
	if fake.internalHits.Load() != 2 {
		t.Errorf("internal hits = %d, want 2", fake.internalHits.Load())
	}
}

func TestNewStorefront_RejectsRelative(t *testing.T) {
	if _, err := NewStorefront("/shop", http.DefaultClient); err == nil {
		t.Error("NewStorefront(relative) expected error")
	}
}
