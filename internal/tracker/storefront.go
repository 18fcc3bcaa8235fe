package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"gtm-datalayer/internal/model"
)

// Storefront fetches cart, product and search data from the storefront's
// AJAX endpoints. Every request it issues carries the internal marker.
type Storefront struct {
	baseURL *url.URL
	client  *http.Client
}

// NewStorefront creates a client for the store at baseURL.
func NewStorefront(baseURL string, client *http.Client) (*Storefront, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing storefront URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("storefront URL must be absolute: %q", baseURL)
	}
	return &Storefront{baseURL: u, client: client}, nil
}

// Product is the storefront JSON representation of a product (/products/<handle>.js).
type Product struct {
	ID       int64            `json:"id"`
	Title    string           `json:"title"`
	Handle   string           `json:"handle"`
	Vendor   string           `json:"vendor"`
	Type     string           `json:"type"`
	URL      string           `json:"url"`
	Variants []ProductVariant `json:"variants"`
}

// ProductVariant is one purchasable option of a product.
type ProductVariant struct {
	ID        int64  `json:"id"`
	Title     string `json:"title"`
	SKU       string `json:"sku"`
	Price     int64  `json:"price"` // minor units
	Available bool   `json:"available"`
}

// Item maps the product to a raw item for the given variant. When the
// variant is unknown the first variant is used.
func (p *Product) Item(variantID int64) RawItem {
	item := RawItem{
		ProductID:   p.ID,
		Title:       p.Title,
		Vendor:      p.Vendor,
		ProductType: p.Type,
		Quantity:    1,
	}
	if len(p.Variants) == 0 {
		return item
	}
	v := p.Variants[0]
	for _, candidate := range p.Variants {
		if candidate.ID == variantID {
			v = candidate
			break
		}
	}
	return WithVariant(item, v)
}

// WithVariant returns item re-pointed at variant v.
func WithVariant(item RawItem, v ProductVariant) RawItem {
	item.VariantID = v.ID
	item.VariantTitle = v.Title
	item.SKU = v.SKU
	item.Price = v.Price
	return item
}

// SuggestedProduct is a product entry of the predictive search response.
type SuggestedProduct struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Handle string `json:"handle"`
	URL    string `json:"url"`
}

type suggestResponse struct {
	Resources struct {
		Results struct {
			Products []SuggestedProduct `json:"products"`
		} `json:"results"`
	} `json:"resources"`
}

// Cart fetches the current cart. A missing cart is returned as an empty cart.
func (s *Storefront) Cart(ctx context.Context) (model.Cart, error) {
	var cart model.Cart
	if err := s.getJSON(ctx, "/cart.js", &cart); err != nil {
		return model.Cart{}, err
	}
	if cart.Items == nil {
		cart.Items = []model.CartItem{}
	}
	return cart, nil
}

// Product fetches the product behind productURL. Any URL pointing at a
// product page is accepted; it is canonicalized first.
func (s *Storefront) Product(ctx context.Context, productURL string) (*Product, error) {
	path, ok := CanonicalProductPath(productURL)
	if !ok {
		return nil, fmt.Errorf("not a product URL: %q", productURL)
	}
	var p Product
	if err := s.getJSON(ctx, path+".js", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Suggest queries predictive search for products matching term.
func (s *Storefront) Suggest(ctx context.Context, term string) ([]SuggestedProduct, error) {
	q := url.Values{}
	q.Set("q", term)
	q.Set("resources[type]", "product")

	var resp suggestResponse
	if err := s.getJSON(ctx, "/search/suggest.json?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Resources.Results.Products, nil
}

// ResolveURL makes a storefront-relative reference absolute.
func (s *Storefront) ResolveURL(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return s.baseURL.ResolveReference(u).String(), nil
}

func (s *Storefront) getJSON(ctx context.Context, ref string, out any) error {
	target, err := s.ResolveURL(ref)
	if err != nil {
		return fmt.Errorf("resolving %s: %w", ref, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	MarkInternal(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", ref, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s: %w", ref, err)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("fetching %s: status %d", ref, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("parsing %s: %w", ref, err)
	}
	return nil
}

// CanonicalProductPath reduces any product link to "/products/<handle>".
// Collection-scoped links ("/collections/x/products/h"), locale prefixes,
// query strings and fragments are dropped.
func CanonicalProductPath(raw string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i < len(segments)-1; i++ {
		if segments[i] != "products" {
			continue
		}
		handle := strings.TrimSuffix(segments[i+1], ".js")
		if handle == "" {
			return "", false
		}
		return "/products/" + handle, true
	}
	return "", false
}
