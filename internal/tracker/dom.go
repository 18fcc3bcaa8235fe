package tracker

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Trigger is an interaction type a listener can be registered for.
type Trigger string

const (
	TriggerClick       Trigger = "click"
	TriggerPointerDown Trigger = "pointerdown"
	TriggerHover       Trigger = "hover"
)

// Valid reports whether t is a known interaction type.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerClick, TriggerPointerDown, TriggerHover:
		return true
	}
	return false
}

// Event is one user interaction delivered to root listeners.
type Event struct {
	Type   Trigger
	Target *html.Node
}

// Listener handles an event. It runs while the document is read-locked, so
// it must not mutate the document.
type Listener func(Event)

// Document is a parsed page with a single root where listeners are
// registered. Events dispatched on any node, including nodes appended after
// listeners were attached, reach the root listeners.
type Document struct {
	mu        sync.RWMutex
	root      *html.Node
	listeners map[Trigger][]Listener
}

// ParseDocument parses an HTML page.
func ParseDocument(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing document: %w", err)
	}
	return &Document{root: root, listeners: make(map[Trigger][]Listener)}, nil
}

// AddEventListener registers l on the document root for events of type t.
func (d *Document) AddEventListener(t Trigger, l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[t] = append(d.listeners[t], l)
}

// ListenerCount returns how many root listeners exist for t.
func (d *Document) ListenerCount(t Trigger) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[t])
}

// Dispatch delivers an event of type t on target to the root listeners.
func (d *Document) Dispatch(t Trigger, target *html.Node) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, l := range d.listeners[t] {
		l(Event{Type: t, Target: target})
	}
}

// Query returns the first node matching selector, or nil.
func (d *Document) Query(selector string) (*html.Node, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("compiling selector %q: %w", selector, err)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sel.MatchFirst(d.root), nil
}

// QueryAll returns every node matching selector in document order.
func (d *Document) QueryAll(selector string) ([]*html.Node, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("compiling selector %q: %w", selector, err)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return sel.MatchAll(d.root), nil
}

// Append parses fragment and appends it to the first node matching
// parentSelector, the way a theme inserts markup after load. It returns the
// inserted top-level nodes.
func (d *Document) Append(parentSelector, fragment string) ([]*html.Node, error) {
	sel, err := cascadia.Compile(parentSelector)
	if err != nil {
		return nil, fmt.Errorf("compiling selector %q: %w", parentSelector, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	parent := sel.MatchFirst(d.root)
	if parent == nil {
		return nil, fmt.Errorf("no element matches %q", parentSelector)
	}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), &html.Node{
		Type:     html.ElementNode,
		Data:     parent.Data,
		DataAtom: atomOf(parent),
	})
	if err != nil {
		return nil, fmt.Errorf("parsing fragment: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	return nodes, nil
}

// Render writes the document back as HTML.
func (d *Document) Render(w io.Writer) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return html.Render(w, d.root)
}

func atomOf(n *html.Node) atom.Atom {
	if n.DataAtom != 0 {
		return n.DataAtom
	}
	return atom.Lookup([]byte(n.Data))
}

// Closest returns n or its nearest element ancestor matching sel.
func Closest(n *html.Node, sel cascadia.Selector) *html.Node {
	for ; n != nil; n = n.Parent {
		if n.Type == html.ElementNode && sel.Match(n) {
			return n
		}
	}
	return nil
}

// Attr returns the value of attribute key on n, or "".
func Attr(n *html.Node, key string) string {
	if n == nil {
		return ""
	}
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}
