// Package scripts renders every artifact installed into a store: the head
// and body blocks, the render directive, the theme snippet, the run-time
// asset and the checkout pixel source.
//
// Templates are resolved here, at generation time. The theme snippet is the
// only artifact carrying template-engine syntax; the run-time asset reads
// the values the snippet binds from a JSON context element.
package scripts

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"time"

	"gtm-datalayer/internal/tracker"
)

// Version is stamped into block markers and generated artifacts.
const Version = "v1.4.0"

// Theme keys of the installed files.
const (
	SnippetKey = "snippets/gtm-datalayer.liquid"
	AssetKey   = "assets/gtm-datalayer.js"
)

// Directive is the theme line that renders the snippet.
const Directive = "{% render 'gtm-datalayer' %}"

//go:embed templates/*.tmpl
var files embed.FS

var templates = template.Must(template.ParseFS(files, "templates/*.tmpl"))

var containerIDPattern = regexp.MustCompile(`^GTM-[A-Za-z0-9_-]+$`)

// ValidContainerID reports whether id is a tag manager container id.
func ValidContainerID(id string) bool {
	return containerIDPattern.MatchString(id)
}

// Params are the generation-time inputs of every artifact.
type Params struct {
	ContainerID  string
	EventPrefix  string
	ItemIDFormat tracker.ItemIDFormat
	Scope        string
	CountryCode  string
	Selectors    tracker.BinderConfig
	Debounce     time.Duration

	// Debug mirrors every run-time push to the browser console.
	Debug bool
}

func (p Params) withDefaults() Params {
	if p.ItemIDFormat == "" {
		p.ItemIDFormat = tracker.ItemIDFormatted
	}
	if p.Scope == "" {
		p.Scope = tracker.DefaultScope
	}
	if p.Selectors.Actions == nil {
		p.Selectors = tracker.DefaultBinderConfig()
	}
	if p.Debounce <= 0 {
		p.Debounce = tracker.DefaultSearchDebounce
	}
	return p
}

// Validate checks the container id and the selector configuration.
func (p Params) Validate() error {
	if !ValidContainerID(p.ContainerID) {
		return fmt.Errorf("container id %q must match %s", p.ContainerID, containerIDPattern)
	}
	if p.ItemIDFormat != "" && p.ItemIDFormat != tracker.ItemIDFormatted && p.ItemIDFormat != tracker.ItemIDUnformatted {
		return fmt.Errorf("unknown item id format %q", p.ItemIDFormat)
	}
	if p.Selectors.Actions != nil {
		if err := p.Selectors.Validate(); err != nil {
			return fmt.Errorf("selectors: %w", err)
		}
	}
	return nil
}

type runtimeConfig struct {
	Scope            string               `json:"scope"`
	CountryCode      string               `json:"countryCode"`
	ItemIDFormat     tracker.ItemIDFormat `json:"itemIdFormat"`
	EventPrefix      string               `json:"eventPrefix"`
	SearchDebounceMS int64                `json:"searchDebounceMs"`
	Selectors        tracker.BinderConfig `json:"selectors"`
	Debug            bool                 `json:"debug"`
}

type subscription struct {
	Source    string
	Event     string
	Checkout  bool
	Completed bool
	Diff      bool
}

type templateData struct {
	Version       string
	ContainerID   string
	ConfigJSON    string
	Subscriptions []subscription
}

func (p Params) data() (templateData, error) {
	if err := p.Validate(); err != nil {
		return templateData{}, err
	}
	p = p.withDefaults()

	cfg, err := json.Marshal(runtimeConfig{
		Scope:            p.Scope,
		CountryCode:      p.CountryCode,
		ItemIDFormat:     p.ItemIDFormat,
		EventPrefix:      p.EventPrefix,
		SearchDebounceMS: p.Debounce.Milliseconds(),
		Selectors:        p.Selectors,
		Debug:            p.Debug,
	})
	if err != nil {
		return templateData{}, fmt.Errorf("encoding runtime config: %w", err)
	}

	subs := make([]subscription, 0, len(tracker.SourceEvents))
	for _, source := range tracker.SourceEvents {
		subs = append(subs, subscription{
			Source:    source,
			Event:     tracker.SourceEventName(source),
			Checkout:  tracker.IsCheckoutSource(source),
			Completed: source == tracker.SourceCheckoutCompleted,
			Diff:      source == tracker.SourceCartUpdated,
		})
	}

	return templateData{
		Version:       Version,
		ContainerID:   p.ContainerID,
		ConfigJSON:    string(cfg),
		Subscriptions: subs,
	}, nil
}

func render(name string, p Params) (string, error) {
	data, err := p.data()
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("rendering %s: %w", name, err)
	}
	return buf.String(), nil
}

// HeadBlock renders the interior of the head block: data layer bootstrap
// and tag manager loader.
func HeadBlock(p Params) (string, error) { return trimmed("head.tmpl", p) }

// BodyBlock renders the interior of the body block: the noscript fallback.
func BodyBlock(p Params) (string, error) { return trimmed("body.tmpl", p) }

// Snippet renders the theme snippet referenced by Directive.
func Snippet(p Params) (string, error) { return render("snippet.liquid.tmpl", p) }

// Runtime renders the run-time asset loaded by the snippet.
func Runtime(p Params) (string, error) { return render("runtime.js.tmpl", p) }

// Pixel renders the checkout pixel source.
func Pixel(p Params) (string, error) { return render("pixel.js.tmpl", p) }

func trimmed(name string, p Params) (string, error) {
	s, err := render(name, p)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(s, "\n"), nil
}
