package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"gtm-datalayer/internal/model"
)

// PageConfig configures one page runtime.
type PageConfig struct {
	StoreURL   string
	Normalizer NormalizerConfig
	Binder     BinderConfig
	Debounce   time.Duration // search debounce; defaults to DefaultSearchDebounce

	// Transport issues the page's requests; http.DefaultTransport when nil.
	Transport http.RoundTripper
	// Channel receives events; a fresh DataLayer when nil.
	Channel Channel
	Logger  *slog.Logger
}

// Page is the runtime of one page load: a single TrackerContext shared by
// one interceptor, one binder and one normalizer.
type Page struct {
	State       *TrackerContext
	Normalizer  *Normalizer
	Interceptor *Interceptor
	Binder      *Binder
	Cart        *CartTracker
	Storefront  *Storefront
	Channel     Channel

	// Client issues requests through the intercepted RoundTripper.
	Client *http.Client
	// Fetch issues requests through the intercepted Doer.
	Fetch Doer

	cancel context.CancelFunc
}

// NewPage constructs the page runtime and loads the initial cart. A failed
// initial load leaves an empty cart in place.
func NewPage(ctx context.Context, cfg PageConfig) (*Page, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	channel := cfg.Channel
	if channel == nil {
		channel = NewDataLayer()
	}
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultSearchDebounce
	}
	binderCfg := cfg.Binder
	if binderCfg.Actions == nil {
		binderCfg = DefaultBinderConfig()
	}

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))

	state := NewTrackerContext(model.EmptyCart(cfg.Normalizer.Currency))
	norm := NewNormalizer(cfg.Normalizer, channel, logger)

	interceptor := &Interceptor{
		base:     base,
		state:    state,
		norm:     norm,
		logger:   logger,
		debounce: debounce,
	}
	client := &http.Client{Transport: interceptor.WrapTransport(transport)}

	store, err := NewStorefront(cfg.StoreURL, client)
	if err != nil {
		cancel()
		return nil, err
	}
	cart := NewCartTracker(state, store, logger)
	interceptor.store = store
	interceptor.cart = cart

	binder, err := NewBinder(base, binderCfg, state, norm, store, logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("building binder: %w", err)
	}

	page := &Page{
		State:       state,
		Normalizer:  norm,
		Interceptor: interceptor,
		Binder:      binder,
		Cart:        cart,
		Storefront:  store,
		Channel:     channel,
		Client:      client,
		Fetch:       interceptor.WrapDoer(&http.Client{Transport: transport}),
		cancel:      cancel,
	}

	if err := cart.Refresh(ctx); err != nil {
		logger.Info("starting with empty cart", slog.String("store", cfg.StoreURL))
	}
	return page, nil
}

// Attach binds the page's interaction handling to doc.
func (p *Page) Attach(doc *Document) {
	p.Binder.Attach(doc)
}

// Wait blocks until all in-flight observations and dispatched actions
// have completed.
func (p *Page) Wait() {
	p.Interceptor.Wait()
	p.Binder.Wait()
	// Actions may trigger cart traffic of their own.
	p.Interceptor.Wait()
}

// Close cancels outstanding background work. Call Wait first to let it
// finish instead.
func (p *Page) Close() {
	p.cancel()
}
