// Package verify loads a storefront in headless Chrome and reports whether
// the installed blocks are active.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"gtm-datalayer/internal/inject"
	"gtm-datalayer/internal/scripts"
)

// Options configures a verification run.
type Options struct {
	// ChromePath overrides Chrome detection. CHROME_PATH is consulted next.
	ChromePath string
	Timeout    time.Duration
	// Settle is how long to wait after load for deferred scripts.
	Settle time.Duration
	// Click lists selectors clicked in order after load, to trigger events.
	Click []string
}

// Report is what a storefront exposes after load.
type Report struct {
	URL string `json:"url"`
	// HeadBlock is true when the installed head block is present.
	HeadBlock bool `json:"head_block"`
	// Version is the version stamped on the head block.
	Version string `json:"version,omitempty"`
	// Current is true when Version equals the version this build installs.
	Current bool `json:"current"`
	// ContainerLoaded is true when the container pushed its start event.
	ContainerLoaded bool `json:"container_loaded"`
	// ContainerRequests lists tag manager script URLs the page fetched.
	ContainerRequests []string `json:"container_requests"`
	// Configured is true when the run-time configuration object is set.
	Configured bool `json:"configured"`
	// Events lists the event names on the data layer, in push order.
	Events []string `json:"events"`
	// DataLayer is the raw data layer.
	DataLayer []json.RawMessage `json:"data_layer"`
}

// OK reports whether the head block is installed and the data layer active.
func (r *Report) OK() bool {
	return r.HeadBlock && r.Configured
}

const pageStateScript = `JSON.stringify({
  head: document.head ? document.head.innerHTML : "",
  configured: typeof window.gtmDatalayerConfig === "object" && window.gtmDatalayerConfig !== null,
  dataLayer: Array.isArray(window.dataLayer) ? window.dataLayer.filter(function (e) {
    try { JSON.stringify(e); return true; } catch (err) { return false; }
  }) : []
})`

type pageState struct {
	Head       string            `json:"head"`
	Configured bool              `json:"configured"`
	DataLayer  []json.RawMessage `json:"dataLayer"`
}

// DataLayer loads pageURL and inspects the data layer.
func DataLayer(ctx context.Context, pageURL string, opts Options) (*Report, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	if opts.Settle <= 0 {
		opts.Settle = 2 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.NoSandbox)
	if path := chromePath(opts.ChromePath); path != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(path))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	var (
		mu       sync.Mutex
		requests []string
	)
	chromedp.ListenTarget(browserCtx, func(ev any) {
		if e, ok := ev.(*network.EventRequestWillBeSent); ok && IsContainerRequest(e.Request.URL) {
			mu.Lock()
			requests = append(requests, e.Request.URL)
			mu.Unlock()
		}
	})

	actions := []chromedp.Action{
		network.Enable(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.Sleep(opts.Settle),
	}
	for _, sel := range opts.Click {
		actions = append(actions,
			chromedp.Click(sel, chromedp.ByQuery, chromedp.NodeVisible),
			chromedp.Sleep(opts.Settle),
		)
	}

	var raw string
	actions = append(actions, chromedp.Evaluate(pageStateScript, &raw))
	if err := chromedp.Run(browserCtx, actions...); err != nil {
		return nil, fmt.Errorf("loading %s: %w", pageURL, err)
	}

	var p pageState
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("decoding page state: %w", err)
	}
	report := Analyze(p.Head, p.Configured, p.DataLayer)
	report.URL = pageURL
	mu.Lock()
	report.ContainerRequests = append(report.ContainerRequests, requests...)
	mu.Unlock()
	return report, nil
}

// IsContainerRequest reports whether rawURL loads a tag manager container.
func IsContainerRequest(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return u.Host == "www.googletagmanager.com" && u.Path == "/gtm.js" && strings.HasPrefix(u.Query().Get("id"), "GTM-")
}

// Analyze builds a report from the head markup and data layer of a page.
func Analyze(head string, configured bool, dataLayer []json.RawMessage) *Report {
	version := inject.InstalledVersion(head)
	r := &Report{
		HeadBlock:  strings.Contains(head, inject.EndMarker(inject.BlockHead)) && version != "",
		Version:    version,
		Current:    version == scripts.Version,
		Configured: configured,
		Events:     []string{},
		DataLayer:  dataLayer,

		ContainerRequests: []string{},
	}

	for _, entry := range dataLayer {
		var e struct {
			Event string `json:"event"`
		}
		if json.Unmarshal(entry, &e) != nil || e.Event == "" {
			continue
		}
		if e.Event == "gtm.js" {
			r.ContainerLoaded = true
		}
		r.Events = append(r.Events, e.Event)
	}
	return r
}

// chromePath returns the first Chrome executable found, or "" to let
// chromedp search the PATH.
func chromePath(override string) string {
	candidates := []string{
		override,
		os.Getenv("CHROME_PATH"),
		"/usr/bin/chromium",
		"/usr/bin/chromium-browser",
		"/usr/bin/google-chrome",
		"/usr/bin/google-chrome-stable",
		"/snap/bin/chromium",
	}
	for _, path := range candidates {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}
