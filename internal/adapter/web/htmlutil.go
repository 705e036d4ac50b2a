package web

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// parseHTML parses a document snapshot.
func parseHTML(src string) (*html.Node, error) {
	doc, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}
	return doc, nil
}

// getAttrValue returns the attribute value or "".
func getAttrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return true
		}
	}
	return false
}

// invisible elements never contribute to page text.
var invisible = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true, "head": true, "svg": true,
}

// blockLevel elements are separated by a line break in extracted text.
var blockLevel = map[string]bool{
	"p": true, "div": true, "li": true, "br": true, "h1": true, "h2": true, "h3": true,
	"h4": true, "h5": true, "h6": true, "pre": true, "blockquote": true, "tr": true, "section": true,
}

// visibleText returns the human-readable text under n with whitespace
// collapsed per line.
func visibleText(n *html.Node) string {
	return visibleTextSkipping(n, nil)
}

// visibleTextSkipping is visibleText without the subtrees in skip.
func visibleTextSkipping(n *html.Node, skip map[*html.Node]bool) string {
	if n == nil {
		return ""
	}
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if skip[n] {
			return
		}
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			return
		case html.ElementNode:
			if invisible[n.Data] || hasAttr(n, "hidden") || getAttrValue(n, "aria-hidden") == "true" {
				return
			}
			if blockLevel[n.Data] {
				sb.WriteByte('\n')
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blockLevel[n.Data] {
			sb.WriteByte('\n')
		}
	}
	walk(n)
	return normalizeText(sb.String())
}

func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// detach removes n from its parent.
func detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// ============================================================
// Minimal CSS selector matching
// ============================================================
//
// Supported: tag, *, .class, #id, [attr], [attr=v], [attr*=v], [attr^=v],
// descendant combinator (space) and selector groups (comma).

type attrMatch struct {
	key, op, val string
}

type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrMatch
}

// selector is a descendant chain; the last compound matches the node itself.
type selector []compound

type selectorGroup []selector

func compileSelector(src string) (selectorGroup, error) {
	var group selectorGroup
	for _, part := range strings.Split(src, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var sel selector
		for _, tok := range strings.Fields(part) {
			c, err := parseCompound(tok)
			if err != nil {
				return nil, fmt.Errorf("selector %q: %w", src, err)
			}
			sel = append(sel, c)
		}
		group = append(group, sel)
	}
	if len(group) == 0 {
		return nil, fmt.Errorf("empty selector")
	}
	return group, nil
}

func parseCompound(tok string) (compound, error) {
	var c compound
	i := 0
	readIdent := func() string {
		start := i
		for i < len(tok) && !strings.ContainsRune(".#[", rune(tok[i])) {
			i++
		}
		return tok[start:i]
	}
	c.tag = strings.ToLower(readIdent())
	if c.tag == "*" {
		c.tag = ""
	}
	for i < len(tok) {
		switch tok[i] {
		case '.':
			i++
			c.classes = append(c.classes, readIdent())
		case '#':
			i++
			c.id = readIdent()
		case '[':
			end := strings.IndexByte(tok[i:], ']')
			if end < 0 {
				return c, fmt.Errorf("unterminated attribute in %q", tok)
			}
			c.attrs = append(c.attrs, parseAttr(tok[i+1:i+end]))
			i += end + 1
		default:
			return c, fmt.Errorf("unexpected %q in %q", tok[i], tok)
		}
	}
	return c, nil
}

func parseAttr(s string) attrMatch {
	for _, op := range []string{"*=", "^=", "="} {
		if k, v, ok := strings.Cut(s, op); ok {
			return attrMatch{key: k, op: op, val: strings.Trim(v, `"'`)}
		}
	}
	return attrMatch{key: s}
}

func (c compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && n.Data != c.tag {
		return false
	}
	if c.id != "" && getAttrValue(n, "id") != c.id {
		return false
	}
	if len(c.classes) > 0 {
		have := strings.Fields(getAttrValue(n, "class"))
		for _, want := range c.classes {
			found := false
			for _, h := range have {
				if h == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	for _, a := range c.attrs {
		if !hasAttr(n, a.key) {
			return false
		}
		v := getAttrValue(n, a.key)
		switch a.op {
		case "=":
			if v != a.val {
				return false
			}
		case "*=":
			if !strings.Contains(v, a.val) {
				return false
			}
		case "^=":
			if !strings.HasPrefix(v, a.val) {
				return false
			}
		}
	}
	return true
}

func (s selector) matches(n *html.Node) bool {
	if len(s) == 0 || !s[len(s)-1].matches(n) {
		return false
	}
	i := len(s) - 2
	for p := n.Parent; p != nil && i >= 0; p = p.Parent {
		if s[i].matches(p) {
			i--
		}
	}
	return i < 0
}

func (g selectorGroup) matches(n *html.Node) bool {
	for _, s := range g {
		if s.matches(n) {
			return true
		}
	}
	return false
}

// queryAll returns the nodes under root matching sel in document order.
// An invalid selector matches nothing.
func queryAll(root *html.Node, sel string) []*html.Node {
	if root == nil || sel == "" {
		return nil
	}
	g, err := compileSelector(sel)
	if err != nil {
		return nil
	}
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if g.matches(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

// query returns the first match or nil.
func query(root *html.Node, sel string) *html.Node {
	if all := queryAll(root, sel); len(all) > 0 {
		return all[0]
	}
	return nil
}

// queryLast returns the last match or nil; chat UIs append the newest answer last.
func queryLast(root *html.Node, sel string) *html.Node {
	if all := queryAll(root, sel); len(all) > 0 {
		return all[len(all)-1]
	}
	return nil
}
