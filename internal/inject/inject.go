// Package inject maintains marker-delimited blocks inside a theme layout.
//
// Every patch strips all installed blocks and directives by marker pair and
// re-inserts them at fixed anchors. Content outside the markers is never
// touched, so applying the same parameters twice is a fixed point.
package inject

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"

	"gtm-datalayer/internal/scripts"
)

const namespace = "gtm-datalayer"

// Block names.
const (
	BlockHead = "head"
	BlockBody = "body"
)

var (
	// ErrNoAnchor is returned when the directive has neither the head block
	// end marker nor a closing head element to attach to.
	ErrNoAnchor = errors.New("no anchor for render directive")
	// ErrUnbalancedMarkers is returned when a begin marker has no matching
	// end marker, or the other way round.
	ErrUnbalancedMarkers = errors.New("unbalanced block markers")
)

var directivePattern = regexp.MustCompile(`\n?[ \t]*\{%-?\s*render\s+['"]` + namespace + `['"]\s*-?%\}`)

// BeginMarker returns the begin marker of block name at version.
func BeginMarker(name, version string) string {
	return fmt.Sprintf("<!-- BEGIN %s:%s %s -->", namespace, name, version)
}

// EndMarker returns the end marker of block name.
func EndMarker(name string) string {
	return fmt.Sprintf("<!-- END %s:%s -->", namespace, name)
}

type markers struct {
	block   *regexp.Regexp
	begin   *regexp.Regexp
	end     *regexp.Regexp
	version *regexp.Regexp
}

func markersFor(name string) markers {
	begin := `<!-- BEGIN ` + namespace + `:` + name + `(?: [^>]*?)? -->`
	end := regexp.QuoteMeta(EndMarker(name))
	return markers{
		// Begin markers match regardless of version and interior.
		block:   regexp.MustCompile(`\n?` + begin + `(?s:.*?)` + end),
		begin:   regexp.MustCompile(begin),
		end:     regexp.MustCompile(end),
		version: regexp.MustCompile(`<!-- BEGIN ` + namespace + `:` + name + ` (v[0-9][^ >]*) -->`),
	}
}

var blockMarkers = map[string]markers{
	BlockHead: markersFor(BlockHead),
	BlockBody: markersFor(BlockBody),
}

// Params selects what a patch installs.
type Params struct {
	Script scripts.Params
	// Directive also installs the render directive for the theme snippet.
	Directive bool
}

// Result is the outcome of Patch.
type Result struct {
	Document string
	// Changed is false when Document equals the input byte for byte.
	Changed bool
	// InstalledVersion is the version found in the head block before
	// patching, or "" when none was installed.
	InstalledVersion string
}

// Patch installs the head and body blocks, and the directive when asked,
// replacing any previously installed instances.
func Patch(doc string, p Params) (Result, error) {
	head, err := scripts.HeadBlock(p.Script)
	if err != nil {
		return Result{}, err
	}
	body, err := scripts.BodyBlock(p.Script)
	if err != nil {
		return Result{}, err
	}

	installed := InstalledVersion(doc)
	out, err := strip(doc)
	if err != nil {
		return Result{}, err
	}

	out = insertAfter(out, "head", render(BlockHead, head))
	out = insertAfter(out, "body", render(BlockBody, body))

	if p.Directive {
		out, err = insertDirective(out)
		if err != nil {
			return Result{}, err
		}
	}

	return Result{Document: out, Changed: out != doc, InstalledVersion: installed}, nil
}

// Strip removes every installed block and directive.
func Strip(doc string) (Result, error) {
	installed := InstalledVersion(doc)
	out, err := strip(doc)
	if err != nil {
		return Result{}, err
	}
	return Result{Document: out, Changed: out != doc, InstalledVersion: installed}, nil
}

// InstalledVersion returns the version stamped on the installed head block.
func InstalledVersion(doc string) string {
	m := blockMarkers[BlockHead].version.FindStringSubmatch(doc)
	if m == nil {
		return ""
	}
	return m[1]
}

func strip(doc string) (string, error) {
	for _, name := range []string{BlockHead, BlockBody} {
		m := blockMarkers[name]
		begins := len(m.begin.FindAllStringIndex(doc, -1))
		ends := len(m.end.FindAllStringIndex(doc, -1))
		if begins != ends {
			return "", fmt.Errorf("%w: %s block has %d begin and %d end markers", ErrUnbalancedMarkers, name, begins, ends)
		}
		doc = m.block.ReplaceAllLiteralString(doc, "")
	}
	return directivePattern.ReplaceAllLiteralString(doc, ""), nil
}

func render(name, interior string) string {
	return "\n" + BeginMarker(name, scripts.Version) + "\n" + interior + "\n" + EndMarker(name)
}

// insertAfter places text right after the opening tag of element. A missing
// element leaves doc unchanged.
func insertAfter(doc, element, text string) string {
	_, end, ok := findTag(doc, html.StartTagToken, element)
	if !ok {
		return doc
	}
	return doc[:end] + text + doc[end:]
}

func insertDirective(doc string) (string, error) {
	line := "\n" + scripts.Directive

	end := EndMarker(BlockHead)
	if i := strings.Index(doc, end); i >= 0 {
		at := i + len(end)
		return doc[:at] + line + doc[at:], nil
	}
	if start, _, ok := findTag(doc, html.EndTagToken, "head"); ok {
		return doc[:start] + line + doc[start:], nil
	}
	return "", ErrNoAnchor
}
