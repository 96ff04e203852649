package extraction

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// ShrinkHTML keeps only the document body and drops inline style and class
// attributes along with script and style elements. Input that cannot be
// parsed is returned unchanged.
func ShrinkHTML(doc string) string {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return doc
	}

	body := findBody(root)
	if body == nil {
		return doc
	}
	strip(body)

	var buf bytes.Buffer
	if err := html.Render(&buf, body); err != nil {
		return doc
	}
	return buf.String()
}

func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == atom.Body {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findBody(c); found != nil {
			return found
		}
	}
	return nil
}

func strip(n *html.Node) {
	if n.Type == html.ElementNode {
		kept := n.Attr[:0]
		for _, a := range n.Attr {
			if a.Key == "style" || a.Key == "class" {
				continue
			}
			kept = append(kept, a)
		}
		n.Attr = kept
	}

	var remove []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case c.Type == html.CommentNode:
			remove = append(remove, c)
		case c.Type == html.ElementNode && (c.DataAtom == atom.Script || c.DataAtom == atom.Style):
			remove = append(remove, c)
		default:
			strip(c)
		}
	}
	for _, c := range remove {
		n.RemoveChild(c)
	}
}
