package docpipe

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

var hiddenStylePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)display\s*:\s*none`),
	regexp.MustCompile(`(?i)visibility\s*:\s*hidden`),
	regexp.MustCompile(`(?i)font-size\s*:\s*0(?:[^.1-9]|$)`),
	regexp.MustCompile(`(?i)opacity\s*:\s*0(?:[^.]|$)`),
}

var (
	htmlPolicy    = bluemonday.UGCPolicy()
	htmlConverter = converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(),
		),
	)
)

// extractHTML drops scripts, styles and hidden elements, sanitises what is
// left and returns it as markdown.
func extractHTML(data []byte) (string, error) {
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: html: %w", ErrDecode, err)
	}
	pruneHTML(root)

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return "", fmt.Errorf("%w: html render: %w", ErrDecode, err)
	}
	md, err := htmlConverter.ConvertString(htmlPolicy.Sanitize(buf.String()))
	if err != nil {
		return "", fmt.Errorf("%w: markdown: %w", ErrDecode, err)
	}
	return strings.TrimSpace(md), nil
}

func pruneHTML(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.ElementNode && (invisibleAtom(c.DataAtom) || hasHiddenStyle(c)) {
			n.RemoveChild(c)
		} else {
			pruneHTML(c)
		}
		c = next
	}
}

func invisibleAtom(a atom.Atom) bool {
	switch a {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
		return true
	}
	return false
}

func hasHiddenStyle(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key == "hidden" {
			return true
		}
		if a.Key != "style" {
			continue
		}
		for _, pat := range hiddenStylePatterns {
			if pat.MatchString(a.Val) {
				return true
			}
		}
	}
	return false
}
