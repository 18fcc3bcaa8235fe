package tracker

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"
)

// Action is a user interaction the binder recognizes.
type Action string

const (
	ActionViewCart       Action = "view_cart"
	ActionBeginCheckout  Action = "begin_checkout"
	ActionAddToWishlist  Action = "add_to_wishlist"
	ActionQuickView      Action = "quick_view"
	ActionSelectItem     Action = "select_item"
	ActionSelectVariant  Action = "select_variant"
	ActionDirectCheckout Action = "direct_checkout"
)

var knownActions = map[Action]bool{
	ActionViewCart:       true,
	ActionBeginCheckout:  true,
	ActionAddToWishlist:  true,
	ActionQuickView:      true,
	ActionSelectItem:     true,
	ActionSelectVariant:  true,
	ActionDirectCheckout: true,
}

// ActionBinding is the selector list and interaction type of one action.
type ActionBinding struct {
	Selectors []string `yaml:"selectors" json:"selectors"`
	Trigger   Trigger  `yaml:"trigger" json:"trigger"`
}

// BinderConfig maps actions to bindings. ProductContainer locates the
// element carrying a product's URL around an interaction target.
type BinderConfig struct {
	ProductContainer string                   `yaml:"product_container" json:"product_container"`
	Actions          map[Action]ActionBinding `yaml:"actions" json:"actions"`
}

//go:embed selectors.yaml
var defaultSelectors []byte

// DefaultBinderConfig returns the embedded selector configuration.
func DefaultBinderConfig() BinderConfig {
	cfg, err := decodeBinderConfig(defaultSelectors)
	if err != nil {
		panic(fmt.Sprintf("embedded selectors.yaml: %v", err))
	}
	return cfg
}

// ParseBinderConfig decodes a YAML selector configuration. Actions missing
// from data keep their default binding.
func ParseBinderConfig(data []byte) (BinderConfig, error) {
	override, err := decodeBinderConfig(data)
	if err != nil {
		return BinderConfig{}, err
	}
	cfg := DefaultBinderConfig().merge(override)
	if err := cfg.Validate(); err != nil {
		return BinderConfig{}, err
	}
	return cfg, nil
}

func decodeBinderConfig(data []byte) (BinderConfig, error) {
	var cfg BinderConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return BinderConfig{}, fmt.Errorf("parsing selector config: %w", err)
	}
	return cfg, nil
}

func (c BinderConfig) merge(override BinderConfig) BinderConfig {
	out := BinderConfig{ProductContainer: c.ProductContainer, Actions: make(map[Action]ActionBinding, len(c.Actions))}
	for a, b := range c.Actions {
		out.Actions[a] = b
	}
	if override.ProductContainer != "" {
		out.ProductContainer = override.ProductContainer
	}
	for a, b := range override.Actions {
		out.Actions[a] = b
	}
	return out
}

// Validate checks actions, triggers and selector syntax.
func (c BinderConfig) Validate() error {
	if c.ProductContainer != "" {
		if _, err := cascadia.Compile(c.ProductContainer); err != nil {
			return fmt.Errorf("product_container: %w", err)
		}
	}
	for action, binding := range c.Actions {
		if !knownActions[action] {
			return fmt.Errorf("unknown action %q", action)
		}
		if !binding.Trigger.Valid() {
			return fmt.Errorf("action %s: unknown trigger %q", action, binding.Trigger)
		}
		if len(binding.Selectors) == 0 {
			return fmt.Errorf("action %s: no selectors", action)
		}
		if _, err := cascadia.Compile(strings.Join(binding.Selectors, ", ")); err != nil {
			return fmt.Errorf("action %s: %w", action, err)
		}
	}
	return nil
}

type compiledAction struct {
	action  Action
	trigger Trigger
	sel     cascadia.Selector
}

// Binder turns delegated DOM interactions into events. It holds one
// listener per interaction type at the document root and resolves the
// matching action when an event arrives.
type Binder struct {
	base      context.Context
	actions   []compiledAction
	container cascadia.Selector
	state     *TrackerContext
	norm      *Normalizer
	store     *Storefront
	logger    *slog.Logger

	wg sync.WaitGroup
}

// NewBinder compiles cfg into a binder.
func NewBinder(ctx context.Context, cfg BinderConfig, state *TrackerContext, norm *Normalizer, store *Storefront, logger *slog.Logger) (*Binder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	b := &Binder{base: ctx, state: state, norm: norm, store: store, logger: logger}
	if cfg.ProductContainer != "" {
		b.container, _ = cascadia.Compile(cfg.ProductContainer)
	}

	names := make([]string, 0, len(cfg.Actions))
	for a := range cfg.Actions {
		names = append(names, string(a))
	}
	sort.Strings(names)
	for _, name := range names {
		binding := cfg.Actions[Action(name)]
		sel, _ := cascadia.Compile(strings.Join(binding.Selectors, ", "))
		b.actions = append(b.actions, compiledAction{action: Action(name), trigger: binding.Trigger, sel: sel})
	}
	return b, nil
}

// Attach registers exactly one listener per distinct trigger on doc.
func (b *Binder) Attach(doc *Document) {
	seen := make(map[Trigger]bool)
	for _, ca := range b.actions {
		if seen[ca.trigger] {
			continue
		}
		seen[ca.trigger] = true
		trigger := ca.trigger
		doc.AddEventListener(trigger, func(ev Event) { b.handle(trigger, ev) })
	}
}

// Wait blocks until every dispatched action has completed.
func (b *Binder) Wait() {
	b.wg.Wait()
}

// target is what an action needs from the DOM, captured while the
// document is locked.
type target struct {
	productURL string
	variantID  int64
	listID     string
	listName   string
}

func (b *Binder) handle(trigger Trigger, ev Event) {
	for _, ca := range b.actions {
		if ca.trigger != trigger {
			continue
		}
		match := Closest(ev.Target, ca.sel)
		if match == nil {
			continue
		}
		t := b.capture(match)
		action := ca.action

		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.run(action, t)
		}()
	}
}

func (b *Binder) capture(match *html.Node) target {
	t := target{
		productURL: firstNonEmpty(Attr(match, "data-product-url"), productHref(match)),
	}
	if id := firstNonEmpty(Attr(match, "data-variant-id"), Attr(match, "value")); id != "" {
		t.variantID, _ = strconv.ParseInt(id, 10, 64)
	}
	if b.container != nil {
		if c := Closest(match, b.container); c != nil {
			if t.productURL == "" {
				t.productURL = firstNonEmpty(Attr(c, "data-product-url"), productHref(c))
			}
			t.listID = Attr(c, "data-list-id")
			t.listName = Attr(c, "data-list-name")
		}
	}
	return t
}

func productHref(n *html.Node) string {
	href := Attr(n, "href")
	if _, ok := CanonicalProductPath(href); ok {
		return href
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func (b *Binder) run(action Action, t target) {
	ctx, cancel := context.WithTimeout(b.base, 10*time.Second)
	defer cancel()

	switch action {
	case ActionViewCart, ActionBeginCheckout:
		b.emitCart(string(action))
	case ActionAddToWishlist, ActionQuickView, ActionSelectItem:
		b.productAction(ctx, action, t)
	case ActionSelectVariant:
		b.selectVariant(t)
	case ActionDirectCheckout:
		item, _, ok := b.state.QuickView()
		if !ok {
			b.emitCart("begin_checkout")
			return
		}
		b.norm.Emit("begin_checkout", Payload{Currency: b.state.Currency(), Items: []RawItem{item}})
	}
}

func (b *Binder) emitCart(name string) {
	cart := b.state.Cart()
	b.norm.Emit(name, Payload{Currency: cart.Currency, Items: ItemsFromCart(cart), Total: cart.TotalPrice})
}

func (b *Binder) productAction(ctx context.Context, action Action, t target) {
	if t.productURL == "" {
		b.logger.Debug("no product URL near interaction target", slog.String("action", string(action)))
		return
	}
	p, err := b.store.Product(ctx, t.productURL)
	if err != nil {
		b.logger.Warn("product fetch failed",
			slog.String("action", string(action)),
			slog.String("product", t.productURL),
			slog.String("error", err.Error()),
		)
		return
	}

	item := p.Item(t.variantID)
	payload := Payload{Currency: b.state.Currency(), Items: []RawItem{item}}

	switch action {
	case ActionQuickView:
		b.state.SetQuickView(item, p.Variants)
		b.norm.Emit("view_item", payload)
	case ActionAddToWishlist:
		b.norm.Emit("add_to_wishlist", payload)
	case ActionSelectItem:
		item.ListID, item.ListName = t.listID, t.listName
		payload.Items[0] = item
		payload.ListID, payload.ListName = t.listID, t.listName
		b.norm.Emit("select_item", payload)
	}
}

func (b *Binder) selectVariant(t target) {
	item, variants, ok := b.state.QuickView()
	if !ok {
		b.logger.Debug("variant selected without a quick-viewed product")
		return
	}
	for _, v := range variants {
		if v.ID != t.variantID {
			continue
		}
		item = WithVariant(item, v)
		b.state.SetQuickView(item, variants)
		b.norm.Emit("view_item", Payload{Currency: b.state.Currency(), Items: []RawItem{item}})
		return
	}
	b.logger.Debug("selected variant not among quick-viewed variants", slog.Int64("variant_id", t.variantID))
}
