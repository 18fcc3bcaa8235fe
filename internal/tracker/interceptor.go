package tracker

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gtm-datalayer/internal/model"
)

// DefaultSearchDebounce is the quiet period before a search event fires.
const DefaultSearchDebounce = 800 * time.Millisecond

// maxDetailFetches bounds the parallel product fetches of one search.
const maxDetailFetches = 6

// Doer is the second request-issuing capability of a page, next to
// http.RoundTripper. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DoerFunc adapts a function to Doer.
type DoerFunc func(req *http.Request) (*http.Response, error)

// Do calls f(req).
func (f DoerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

type roundTripperFunc func(req *http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }

type requestKind int

const (
	kindNone requestKind = iota
	kindSearch
	kindCartAdd
	kindCartChange
)

// Paths may carry a locale prefix such as /fr or /en-ca.
var (
	searchPath     = regexp.MustCompile(`^(?:/[a-z]{2}(?:-[a-z]{2})?)?/search(?:/suggest)?(?:\.json)?/?$`)
	cartAddPath    = regexp.MustCompile(`^(?:/[a-z]{2}(?:-[a-z]{2})?)?/cart/add(?:\.js)?/?$`)
	cartChangePath = regexp.MustCompile(`^(?:/[a-z]{2}(?:-[a-z]{2})?)?/cart/(?:change|update)(?:\.js)?/?$`)
)

// classify maps a request to the action it represents. For searches the
// query term is returned as well.
func classify(req *http.Request) (requestKind, string) {
	if IsInternal(req) {
		return kindNone, ""
	}
	path := strings.ToLower(req.URL.Path)
	switch {
	case searchPath.MatchString(path):
		term := strings.TrimSpace(req.URL.Query().Get("q"))
		if term == "" {
			return kindNone, ""
		}
		return kindSearch, term
	case cartAddPath.MatchString(path):
		return kindCartAdd, ""
	case cartChangePath.MatchString(path):
		return kindCartChange, ""
	}
	return kindNone, ""
}

// Interceptor observes every outbound call a page makes and turns cart and
// search traffic into events. Responses pass through untouched: callers get
// the same *http.Response with the same status, headers and body bytes.
type Interceptor struct {
	base     context.Context
	state    *TrackerContext
	cart     *CartTracker
	norm     *Normalizer
	store    *Storefront
	logger   *slog.Logger
	debounce time.Duration

	mu          sync.Mutex
	timer       *time.Timer
	pendingTerm string

	wg sync.WaitGroup
}

// WrapTransport wraps the page's RoundTripper capability.
func (i *Interceptor) WrapTransport(next http.RoundTripper) http.RoundTripper {
	return roundTripperFunc(func(req *http.Request) (*http.Response, error) {
		return i.intercept(req, next.RoundTrip)
	})
}

// WrapDoer wraps the page's Doer capability. Both wrappers share one
// classification path.
func (i *Interceptor) WrapDoer(next Doer) Doer {
	return DoerFunc(func(req *http.Request) (*http.Response, error) {
		return i.intercept(req, next.Do)
	})
}

// Wait blocks until in-flight observations, including a pending debounced
// search, have completed.
func (i *Interceptor) Wait() {
	i.wg.Wait()
}

func (i *Interceptor) intercept(req *http.Request, call func(*http.Request) (*http.Response, error)) (*http.Response, error) {
	kind, term := classify(req)

	resp, err := call(req)
	if err != nil || resp == nil || kind == kindNone {
		return resp, err
	}

	if kind == kindSearch {
		i.scheduleSearch(term)
		return resp, nil
	}

	body, readErr := io.ReadAll(resp.Body)
	resp.Body.Close()
	resp.Body = replayBody(body, readErr)
	if readErr != nil {
		i.logger.Warn("response body unreadable, event dropped",
			slog.String("path", req.URL.Path),
			slog.String("error", readErr.Error()),
		)
		return resp, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp, nil
	}

	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		switch kind {
		case kindCartAdd:
			i.onCartAdd(body)
		case kindCartChange:
			i.onCartChange(body)
		}
	}()
	return resp, nil
}

// replayBody hands the caller the bytes that were read, followed by the
// original read error if there was one.
func replayBody(body []byte, readErr error) io.ReadCloser {
	if readErr == nil {
		return io.NopCloser(bytes.NewReader(body))
	}
	return io.NopCloser(io.MultiReader(bytes.NewReader(body), errReader{readErr}))
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }

func (i *Interceptor) onCartAdd(body []byte) {
	var envelope struct {
		Items []model.CartItem `json:"items"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		i.logger.Warn("cart add response malformed", slog.String("error", err.Error()))
		return
	}

	items := envelope.Items
	if items == nil {
		var single model.CartItem
		if err := json.Unmarshal(body, &single); err != nil {
			i.logger.Warn("cart add response malformed", slog.String("error", err.Error()))
			return
		}
		items = []model.CartItem{single}
	}

	currency := i.state.Currency()
	for _, it := range items {
		i.norm.Emit("add_to_cart", Payload{
			Currency: currency,
			Items:    []RawItem{ItemFromCart(it)},
		})
	}
	i.refresh()
}

func (i *Interceptor) onCartChange(body []byte) {
	var updated model.Cart
	if err := json.Unmarshal(body, &updated); err != nil {
		i.logger.Warn("cart change response malformed", slog.String("error", err.Error()))
		return
	}

	currency := updated.Currency
	if currency == "" {
		currency = i.state.Currency()
	}
	for _, change := range Diff(i.state.Cart(), updated) {
		i.norm.Emit(change.EventName(), Payload{
			Currency: currency,
			Items:    []RawItem{change.RawItem()},
		})
	}
	i.refresh()
}

func (i *Interceptor) refresh() {
	ctx, cancel := context.WithTimeout(i.base, 10*time.Second)
	defer cancel()
	// Refresh logs its own failures; the held snapshot stays as it was.
	_ = i.cart.Refresh(ctx)
}

// scheduleSearch (re)arms the debounce timer. Only the last term of a burst
// is searched, once traffic has been quiet for the debounce period.
func (i *Interceptor) scheduleSearch(term string) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.pendingTerm = term
	if i.timer != nil && i.timer.Stop() {
		// Stopped before firing: the pending callback is still counted.
		i.timer.Reset(i.debounce)
		return
	}

	i.wg.Add(1)
	i.timer = time.AfterFunc(i.debounce, func() {
		defer i.wg.Done()
		i.mu.Lock()
		term := i.pendingTerm
		i.pendingTerm = ""
		i.mu.Unlock()
		if term == "" {
			// A later timer already took this burst.
			return
		}
		i.runSearch(term)
	})
}

func (i *Interceptor) runSearch(term string) {
	ctx, cancel := context.WithTimeout(i.base, 15*time.Second)
	defer cancel()

	suggestions, err := i.store.Suggest(ctx, term)
	if err != nil {
		i.logger.Warn("search suggestions failed",
			slog.String("term", term),
			slog.String("error", err.Error()),
		)
	}

	products := make([]*Product, len(suggestions))
	var g errgroup.Group
	g.SetLimit(maxDetailFetches)
	for idx, s := range suggestions {
		ref := s.URL
		if ref == "" {
			ref = "/products/" + s.Handle
		}
		g.Go(func() error {
			p, err := i.store.Product(ctx, ref)
			if err != nil {
				i.logger.Warn("search product fetch failed",
					slog.String("product", ref),
					slog.String("error", err.Error()),
				)
				return nil
			}
			products[idx] = p
			return nil
		})
	}
	_ = g.Wait()

	items := make([]RawItem, 0, len(products))
	for _, p := range products {
		if p == nil {
			continue
		}
		item := p.Item(0)
		item.ListID = "search_results"
		item.ListName = "Search results"
		items = append(items, item)
	}

	i.norm.Emit("search", Payload{
		Currency:   i.state.Currency(),
		Items:      items,
		SearchTerm: term,
		ListID:     "search_results",
		ListName:   "Search results",
	})
}
