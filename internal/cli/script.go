package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gtm-datalayer/internal/tracker"
)

// Script is a scripted storefront session.
//
//	store: https://demo.myshopify.com
//	page: /collections/all
//	steps:
//	  - click: ".card a[href*='/products/']"
//	  - search: tee
//	  - add_to_cart: {variant_id: 42, quantity: 1}
//	  - wait: 500ms
type Script struct {
	Store string `yaml:"store"`
	// Page is the storefront path whose markup the interaction steps run
	// against. Defaults to "/".
	Page  string `yaml:"page"`
	Steps []Step `yaml:"steps"`
}

// Step is one action of a session. Exactly one field is set.
type Step struct {
	Click       string        `yaml:"click"`
	PointerDown string        `yaml:"pointerdown"`
	Hover       string        `yaml:"hover"`
	Append      *AppendStep   `yaml:"append"`
	Search      string        `yaml:"search"`
	AddToCart   *CartStep     `yaml:"add_to_cart"`
	ChangeCart  *CartStep     `yaml:"change_cart"`
	Wait        time.Duration `yaml:"wait"`
}

// AppendStep inserts markup after load, as a theme does for drawers and
// quick views.
type AppendStep struct {
	Parent string `yaml:"parent"`
	HTML   string `yaml:"html"`
}

// CartStep is a cart request. For change_cart, Line is the 1-based cart
// line; VariantID is used when it is zero.
type CartStep struct {
	VariantID int64 `yaml:"variant_id"`
	Line      int   `yaml:"line"`
	Quantity  int   `yaml:"quantity"`
}

// ParseScript decodes and validates a session script.
func ParseScript(data []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing script: %w", err)
	}
	if s.Store == "" {
		return nil, errors.New("script: store is required")
	}
	if u, err := url.Parse(s.Store); err != nil || u.Host == "" {
		return nil, fmt.Errorf("script: invalid store url %q", s.Store)
	}
	if s.Page == "" {
		s.Page = "/"
	}
	for i, step := range s.Steps {
		if err := step.validate(); err != nil {
			return nil, fmt.Errorf("script: step %d: %w", i+1, err)
		}
	}
	return &s, nil
}

func (s Step) validate() error {
	set := 0
	for _, ok := range []bool{
		s.Click != "",
		s.PointerDown != "",
		s.Hover != "",
		s.Append != nil,
		s.Search != "",
		s.AddToCart != nil,
		s.ChangeCart != nil,
		s.Wait > 0,
	} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("exactly one action per step, got %d", set)
	}
	if s.Append != nil && (s.Append.Parent == "" || s.Append.HTML == "") {
		return errors.New("append needs parent and html")
	}
	if s.AddToCart != nil && (s.AddToCart.VariantID <= 0 || s.AddToCart.Quantity <= 0) {
		return errors.New("add_to_cart needs variant_id and a positive quantity")
	}
	if s.ChangeCart != nil && ((s.ChangeCart.Line <= 0 && s.ChangeCart.VariantID <= 0) || s.ChangeCart.Quantity < 0) {
		return errors.New("change_cart needs line or variant_id and a quantity")
	}
	return nil
}

// describe returns a short label for logs.
func (s Step) describe() string {
	switch {
	case s.Click != "":
		return "click " + s.Click
	case s.PointerDown != "":
		return "pointerdown " + s.PointerDown
	case s.Hover != "":
		return "hover " + s.Hover
	case s.Append != nil:
		return "append " + s.Append.Parent
	case s.Search != "":
		return "search " + s.Search
	case s.AddToCart != nil:
		return "add_to_cart " + strconv.FormatInt(s.AddToCart.VariantID, 10)
	case s.ChangeCart != nil:
		return "change_cart"
	default:
		return "wait " + s.Wait.String()
	}
}

// runner executes steps against one page runtime.
type runner struct {
	page *tracker.Page
	doc  *tracker.Document
}

func (r *runner) load(ctx context.Context, path string) error {
	target, err := r.page.Storefront.ResolveURL(path)
	if err != nil {
		return err
	}
	resp, err := r.send(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", target, resp.StatusCode)
	}
	doc, err := tracker.ParseDocument(resp.Body)
	if err != nil {
		return err
	}
	r.doc = doc
	r.page.Attach(doc)
	return nil
}

func (r *runner) run(ctx context.Context, s Step) error {
	switch {
	case s.Click != "":
		return r.dispatch(tracker.TriggerClick, s.Click)
	case s.PointerDown != "":
		return r.dispatch(tracker.TriggerPointerDown, s.PointerDown)
	case s.Hover != "":
		return r.dispatch(tracker.TriggerHover, s.Hover)
	case s.Append != nil:
		_, err := r.doc.Append(s.Append.Parent, s.Append.HTML)
		return err
	case s.Search != "":
		return r.request(ctx, http.MethodGet, "/search/suggest.json?"+url.Values{"q": {s.Search}}.Encode(), nil)
	case s.AddToCart != nil:
		return r.request(ctx, http.MethodPost, "/cart/add.js", url.Values{
			"id":       {strconv.FormatInt(s.AddToCart.VariantID, 10)},
			"quantity": {strconv.Itoa(s.AddToCart.Quantity)},
		})
	case s.ChangeCart != nil:
		form := url.Values{"quantity": {strconv.Itoa(s.ChangeCart.Quantity)}}
		if s.ChangeCart.Line > 0 {
			form.Set("line", strconv.Itoa(s.ChangeCart.Line))
		} else {
			form.Set("id", strconv.FormatInt(s.ChangeCart.VariantID, 10))
		}
		return r.request(ctx, http.MethodPost, "/cart/change.js", form)
	default:
		select {
		case <-time.After(s.Wait):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *runner) dispatch(t tracker.Trigger, selector string) error {
	node, err := r.doc.Query(selector)
	if err != nil {
		return err
	}
	if node == nil {
		return fmt.Errorf("no element matches %q", selector)
	}
	r.doc.Dispatch(t, node)
	return nil
}

func (r *runner) request(ctx context.Context, method, path string, form url.Values) error {
	target, err := r.page.Storefront.ResolveURL(path)
	if err != nil {
		return err
	}
	resp, err := r.send(ctx, method, target, form)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	return nil
}

func (r *runner) send(ctx context.Context, method, target string, form url.Values) (*http.Response, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
	}
	return r.page.Client.Do(req)
}
