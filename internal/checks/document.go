package checks

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Document is a parsed page. Parsing is best-effort: invalid markup is
// repaired by the HTML5 algorithm and never reported as an error.
type Document struct {
	root     *html.Node
	elements []*html.Node // element nodes in document order
}

func Parse(src string) *Document {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		root = &html.Node{Type: html.DocumentNode}
	}
	d := &Document{root: root}
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			d.elements = append(d.elements, n)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return d
}

// All returns elements matching any of the given tags, in document order.
func (d *Document) All(tags ...atom.Atom) []*html.Node {
	var out []*html.Node
	for _, n := range d.elements {
		for _, t := range tags {
			if n.DataAtom == t {
				out = append(out, n)
				break
			}
		}
	}
	return out
}

// Filter returns elements accepted by fn, in document order.
func (d *Document) Filter(fn func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	for _, n := range d.elements {
		if fn(n) {
			out = append(out, n)
		}
	}
	return out
}

// First returns the first element with the tag, or nil.
func (d *Document) First(tag atom.Atom) *html.Node {
	for _, n := range d.elements {
		if n.DataAtom == tag {
			return n
		}
	}
	return nil
}

// Meta returns the first <meta> whose key attribute (name or property)
// equals value, case-insensitively.
func (d *Document) Meta(key, value string) *html.Node {
	for _, n := range d.elements {
		if n.DataAtom != atom.Meta {
			continue
		}
		if v, ok := attr(n, key); ok && strings.EqualFold(strings.TrimSpace(v), value) {
			return n
		}
	}
	return nil
}

// MetaTitle is the trimmed text of the first <title>.
func (d *Document) MetaTitle() string {
	if t := d.First(atom.Title); t != nil {
		return strings.TrimSpace(textContent(t))
	}
	return ""
}

// MetaDescription is the trimmed content of the description meta tag.
func (d *Document) MetaDescription() string {
	if m := d.Meta("name", "description"); m != nil {
		v, _ := attr(m, "content")
		return strings.TrimSpace(v)
	}
	return ""
}

// Text returns body text with whitespace collapsed. Head, script, style and
// template contents are dropped.
func (d *Document) Text() string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Head, atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return strings.Join(strings.Fields(b.String()), " ")
}

// WordCount counts runs of letters (apostrophes and hyphens allowed inside).
func WordCount(text string) int {
	count := 0
	inWord := false
	for _, r := range text {
		isWordRune := unicode.IsLetter(r) || (inWord && (r == '\'' || r == '-'))
		if isWordRune && !inWord {
			count++
		}
		inWord = isWordRune
	}
	return count
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, key) {
			return a.Val, true
		}
	}
	return "", false
}

func hasAttr(n *html.Node, key string) bool {
	_, ok := attr(n, key)
	return ok
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func hasDescendant(n *html.Node, tag atom.Atom) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == tag {
			return true
		}
		if hasDescendant(c, tag) {
			return true
		}
	}
	return false
}

// headingLevel returns 1..6 for h1..h6, else 0.
func headingLevel(n *html.Node) int {
	switch n.DataAtom {
	case atom.H1:
		return 1
	case atom.H2:
		return 2
	case atom.H3:
		return 3
	case atom.H4:
		return 4
	case atom.H5:
		return 5
	case atom.H6:
		return 6
	}
	return 0
}

func (d *Document) headings() []*html.Node {
	return d.All(atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6)
}

// levelSkipped reports whether any heading is more than one level deeper
// than the heading before it.
func levelSkipped(headings []*html.Node) bool {
	for i := 1; i < len(headings); i++ {
		if headingLevel(headings[i]) > headingLevel(headings[i-1])+1 {
			return true
		}
	}
	return false
}
