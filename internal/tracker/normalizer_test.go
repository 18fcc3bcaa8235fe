package tracker

import (
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"

	"gtm-datalayer/internal/model"
)

func testNormalizer(cfg NormalizerConfig) (*Normalizer, *DataLayer) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	dl := NewDataLayer()
	return NewNormalizer(cfg, dl, logger), dl
}

func TestNormalizer_ItemMapping(t *testing.T) {
	n, _ := testNormalizer(NormalizerConfig{CountryCode: "US"})

	ev := n.Build("view_item", Payload{
		Currency: "USD",
		Items: []RawItem{{
			ProductID: 111, VariantID: 222, Title: "Tee", VariantTitle: "Default Title",
			Price: 1299, Quantity: 1,
		}},
	})

	item := ev.Items[0]
	if item.ItemID != "shopify_US_111_222" {
		t.Errorf("ItemID = %s, want shopify_US_111_222", item.ItemID)
	}
	if item.Price != 12.99 {
		t.Errorf("Price = %v, want 12.99", item.Price)
	}
	if item.Variant != "" {
		t.Errorf("Variant = %q, want placeholder dropped", item.Variant)
	}
	if item.ProductID != "111" || item.VariantID != "222" {
		t.Errorf("ids = %s/%s", item.ProductID, item.VariantID)
	}
}

func TestNormalizer_UnformattedIDs(t *testing.T) {
	n, _ := testNormalizer(NormalizerConfig{CountryCode: "US", Format: ItemIDUnformatted})
	if got := n.ItemID(111, 222); got != "111" {
		t.Errorf("ItemID() = %s, want 111", got)
	}
}

func TestNormalizer_Value(t *testing.T) {
	n, _ := testNormalizer(NormalizerConfig{})

	ev := n.Build("view_cart", Payload{Items: []RawItem{
		{ProductID: 1, Price: 1000, Quantity: 1},
		{ProductID: 2, Price: 550, Quantity: 2},
	}})
	if ev.Value != 21.00 {
		t.Errorf("Value = %v, want 21.00", ev.Value)
	}

	total := int64(1999)
	ev = n.Build("purchase", Payload{Total: &total, Items: []RawItem{{Price: 100, Quantity: 1}}})
	if ev.Value != 19.99 {
		t.Errorf("Value = %v, want explicit total 19.99", ev.Value)
	}
}

func TestNormalizer_EmitClearsFirst(t *testing.T) {
	n, dl := testNormalizer(NormalizerConfig{EventPrefix: "dl_", Currency: "EUR"})

	n.Emit("view_cart", Payload{})

	records := dl.Records()
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if !records[0].IsClear() {
		t.Error("first record is not the clearing record")
	}
	ev := records[1].Event
	if ev.Name != "dl_view_cart" {
		t.Errorf("Name = %s, want dl_view_cart", ev.Name)
	}
	if ev.Currency != "EUR" {
		t.Errorf("Currency = %s, want fallback EUR", ev.Currency)
	}

	data, err := json.Marshal(dl)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var raw []map[string]any
	json.Unmarshal(data, &raw)
	if ecommerce, ok := raw[0]["ecommerce"]; !ok || ecommerce != nil {
		t.Errorf("clearing record = %v, want ecommerce:null", raw[0])
	}
}

func TestNormalizer_ConcurrentEmitsStayPaired(t *testing.T) {
	n, dl := testNormalizer(NormalizerConfig{})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.Emit("add_to_cart", Payload{Items: []RawItem{{Quantity: 1}}})
		}()
	}
	wg.Wait()

	records := dl.Records()
	if len(records) != 100 {
		t.Fatalf("records = %d, want 100", len(records))
	}
	for i := 0; i < len(records); i += 2 {
		if !records[i].IsClear() || records[i+1].IsClear() {
			t.Fatalf("records %d/%d not a clear+event pair", i, i+1)
		}
	}
}

func TestNormalizer_TaxAndShipping(t *testing.T) {
	n, _ := testNormalizer(NormalizerConfig{})
	tax, shipping := int64(105), int64(500)

	ev := n.Build("purchase", Payload{Tax: &tax, Shipping: &shipping, UserData: &model.UserData{EmailSHA256: "x"}})
	if ev.Tax == nil || *ev.Tax != 1.05 {
		t.Errorf("Tax = %v, want 1.05", ev.Tax)
	}
	if ev.Shipping == nil || *ev.Shipping != 5 {
		t.Errorf("Shipping = %v, want 5", ev.Shipping)
	}
	if ev.UserData == nil {
		t.Error("UserData dropped")
	}
}
