package inject

import (
	"bytes"
	"regexp"

	"golang.org/x/net/html"
)

var (
	liquidComment = regexp.MustCompile(`(?s)\{%-?\s*comment\s*-?%\}.*?\{%-?\s*endcomment\s*-?%\}`)
	liquidMarkup  = regexp.MustCompile(`(?s)\{%.*?%\}|\{\{.*?\}\}`)
)

// maskLiquid blanks Liquid comments, tags and output markup so the HTML
// tokenizer only sees the merchant's markup. Byte offsets are preserved.
func maskLiquid(doc string) []byte {
	b := []byte(doc)
	for _, re := range []*regexp.Regexp{liquidComment, liquidMarkup} {
		for _, loc := range re.FindAllIndex(b, -1) {
			for i := loc[0]; i < loc[1]; i++ {
				if b[i] != '\n' {
					b[i] = ' '
				}
			}
		}
	}
	return b
}

// findTag locates the first start or end tag named name outside HTML
// comments, Liquid comments and raw text elements. It returns the byte range
// of the whole tag in doc.
func findTag(doc string, kind html.TokenType, name string) (start, end int, ok bool) {
	z := html.NewTokenizer(bytes.NewReader(maskLiquid(doc)))
	pos := 0
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			return 0, 0, false
		}
		n := len(z.Raw())
		if tt == kind {
			if tag, _ := z.TagName(); string(tag) == name {
				return pos, pos + n, true
			}
		}
		pos += n
	}
}
