package content

import (
	"strings"

	"github.com/yuin/goldmark"
	gmast "github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/net/html"
)

// ExtractImages returns the image references in body according to format.
// Unknown formats yield no images.
func ExtractImages(body, format string) []ImageRef {
	switch format {
	case FormatHTML:
		return ExtractHTMLImages(body)
	case FormatMarkdown:
		return ExtractMarkdownImages(body)
	default:
		return nil
	}
}

// ExtractHTMLImages extracts img references from rendered HTML.
// A body that fails to parse yields no images rather than an error;
// html.Parse is tolerant enough that this only happens on reader failure.
func ExtractHTMLImages(body string) []ImageRef {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		return nil
	}

	var images []ImageRef
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "img" {
			if src := getAttr(n, "src"); src != "" {
				images = append(images, ImageRef{URL: src, Title: getAttr(n, "alt")})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return images
}

// getAttr retrieves an attribute value from an HTML node.
func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

// ExtractMarkdownImages extracts image references from a Markdown body
// (frontmatter already removed). Goldmark resolves reference-style images
// to Image nodes, so a single AST walk covers both syntaxes.
func ExtractMarkdownImages(body string) []ImageRef {
	src := []byte(body)
	md := goldmark.New()
	root := md.Parser().Parse(text.NewReader(src))

	var images []ImageRef
	_ = gmast.Walk(root, func(n gmast.Node, entering bool) (gmast.WalkStatus, error) {
		if !entering {
			return gmast.WalkContinue, nil
		}
		img, ok := n.(*gmast.Image)
		if !ok {
			return gmast.WalkContinue, nil
		}
		dest := string(img.Destination)
		if dest == "" {
			return gmast.WalkContinue, nil
		}
		title := string(img.Title)
		if title == "" {
			title = altText(img, src)
		}
		images = append(images, ImageRef{URL: dest, Title: title})
		return gmast.WalkContinue, nil
	})
	return images
}

// altText collects the text children of an inline node.
func altText(n gmast.Node, src []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*gmast.Text); ok {
			b.Write(t.Segment.Value(src))
		}
	}
	return strings.TrimSpace(b.String())
}
