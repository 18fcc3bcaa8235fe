package tracker

import (
	"strings"
	"testing"
)

const collectionPage = `<!doctype html>
<html><head><title>Shirts</title></head>
<body>
  <a class="header__icon--cart" href="/cart"><span class="count">2</span></a>
  <div id="grid">
    <div class="product-card" data-product-url="/collections/shirts/products/tee" data-list-id="shirts" data-list-name="Shirts">
      <a class="title" href="/collections/shirts/products/tee"><span>Tee</span></a>
      <button class="quick-view"><span class="icon"></span></button>
    </div>
  </div>
</body></html>`

func testDocument(t *testing.T) *Document {
	t.Helper()
	doc, err := ParseDocument(strings.NewReader(collectionPage))
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	return doc
}

func TestBinder_OneListenerPerTrigger(t *testing.T) {
	page, _, _ := testPage(t, newFakeStore())
	doc := testDocument(t)
	page.Attach(doc)

	for _, trigger := range []Trigger{TriggerClick, TriggerPointerDown} {
		if n := doc.ListenerCount(trigger); n != 1 {
			t.Errorf("ListenerCount(%s) = %d, want 1", trigger, n)
		}
	}
	if n := doc.ListenerCount(TriggerHover); n != 0 {
		t.Errorf("ListenerCount(hover) = %d, want 0", n)
	}
}

func TestBinder_ViewCartUsesHeldCart(t *testing.T) {
	page, dl, _ := testPage(t, newFakeStore())
	doc := testDocument(t)
	page.Attach(doc)

	target, _ := doc.Query(".header__icon--cart .count")
	doc.Dispatch(TriggerClick, target)
	page.Wait()

	events := dl.Events()
	if len(events) != 1 || events[0].Name != "view_cart" {
		t.Fatalf("events = %v, want [view_cart]", eventNames(dl))
	}
	if events[0].Value != 25.98 {
		t.Errorf("Value = %v, want 25.98", events[0].Value)
	}
}

func TestBinder_ViewCartPrefersCartTotal(t *testing.T) {
	fake := newFakeStore()
	discounted := int64(2339)
	fake.cart.TotalPrice = &discounted
	page, dl, _ := testPage(t, fake)
	doc := testDocument(t)
	page.Attach(doc)

	target, _ := doc.Query(".header__icon--cart .count")
	doc.Dispatch(TriggerClick, target)
	page.Wait()

	events := dl.Events()
	if len(events) != 1 {
		t.Fatalf("events = %v, want [view_cart]", eventNames(dl))
	}
	if events[0].Value != 23.39 {
		t.Errorf("Value = %v, want the cart total 23.39", events[0].Value)
	}
}

func TestBinder_SelectItemStripsCollection(t *testing.T) {
	page, dl, _ := testPage(t, newFakeStore())
	doc := testDocument(t)
	page.Attach(doc)

	target, _ := doc.Query(".product-card a.title span")
	doc.Dispatch(TriggerPointerDown, target)
	page.Wait()

	events := dl.Events()
	if len(events) != 1 || events[0].Name != "select_item" {
		t.Fatalf("events = %v, want [select_item]", eventNames(dl))
	}
	if events[0].ListID != "shirts" || events[0].Items[0].ListName != "Shirts" {
		t.Errorf("list = %s / %s", events[0].ListID, events[0].Items[0].ListName)
	}
	if events[0].Items[0].ItemID != "shopify_US_111_222" {
		t.Errorf("ItemID = %s", events[0].Items[0].ItemID)
	}
}

func TestBinder_LateInsertedNodes(t *testing.T) {
	page, dl, _ := testPage(t, newFakeStore())
	doc := testDocument(t)
	page.Attach(doc)

	// Markup appended after binding, as infinite scroll would.
	nodes, err := doc.Append("#grid", `<div class="product-card" data-product-url="/products/mug"><button class="quick-view"><i>+</i></button></div>`)
	if err != nil {
		t.Fatalf("Append() error = %v", err)
	}
	if len(nodes) != 1 {
		t.Fatalf("Append() nodes = %d, want 1", len(nodes))
	}

	all, _ := doc.QueryAll(".quick-view i")
	if len(all) != 1 {
		t.Fatalf("QueryAll() = %d, want 1", len(all))
	}
	doc.Dispatch(TriggerClick, all[0])
	page.Wait()

	events := dl.Events()
	if len(events) != 1 || events[0].Name != "view_item" {
		t.Fatalf("events = %v, want [view_item]", eventNames(dl))
	}
	if events[0].Items[0].ProductID != "333" {
		t.Errorf("ProductID = %s, want 333", events[0].Items[0].ProductID)
	}
	if n := doc.ListenerCount(TriggerClick); n != 1 {
		t.Errorf("ListenerCount(click) = %d after insert, want 1", n)
	}
}

func TestBinder_QuickViewThenVariantThenCheckout(t *testing.T) {
	page, dl, _ := testPage(t, newFakeStore())
	doc := testDocument(t)
	page.Attach(doc)

	quick, _ := doc.Query(".product-card .quick-view .icon")
	doc.Dispatch(TriggerClick, quick)
	page.Wait()

	nodes, err := doc.Append("body", `<div class="modal"><button data-variant-id="223">Large</button><button data-direct-checkout>Buy now</button></div>`)
	if err != nil || len(nodes) != 1 {
		t.Fatalf("Append() = %d nodes, %v", len(nodes), err)
	}
	variant, _ := doc.Query("[data-variant-id='223']")
	doc.Dispatch(TriggerClick, variant)
	page.Wait()

	buy, _ := doc.Query("[data-direct-checkout]")
	doc.Dispatch(TriggerClick, buy)
	page.Wait()

	names := eventNames(dl)
	want := []string{"view_item", "view_item", "begin_checkout"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", names, want)
	}
	events := dl.Events()
	if events[1].Items[0].Price != 14.99 {
		t.Errorf("variant Price = %v, want 14.99", events[1].Items[0].Price)
	}
	if events[2].Items[0].VariantID != "223" {
		t.Errorf("checkout VariantID = %s, want 223", events[2].Items[0].VariantID)
	}
}

func TestParseBinderConfig(t *testing.T) {
	cfg, err := ParseBinderConfig([]byte(`
actions:
  view_cart:
    trigger: hover
    selectors: [".mini-cart"]
`))
	if err != nil {
		t.Fatalf("ParseBinderConfig() error = %v", err)
	}
	if cfg.Actions[ActionViewCart].Trigger != TriggerHover {
		t.Errorf("view_cart trigger = %s, want hover", cfg.Actions[ActionViewCart].Trigger)
	}
	if len(cfg.Actions[ActionQuickView].Selectors) == 0 {
		t.Error("quick_view default dropped by override")
	}

	bad := []string{
		"actions:\n  teleport:\n    trigger: click\n    selectors: [a]\n",
		"actions:\n  view_cart:\n    trigger: doubleclick\n    selectors: [a]\n",
		"actions:\n  view_cart:\n    trigger: click\n    selectors: ['[[']\n",
	}
	for _, data := range bad {
		if _, err := ParseBinderConfig([]byte(data)); err == nil {
			t.Errorf("ParseBinderConfig(%q) expected error", data)
		}
	}
}
