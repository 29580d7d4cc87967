package fixture

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"github.com/ahrdadan/shoprobot/internal/driver"
)

// match evaluates d against the descendants of root, in document order.
func match(root *goquery.Selection, d driver.Descriptor) ([]*html.Node, error) {
	switch d.Kind {
	case driver.KindCSS, driver.KindTestID:
		sel, _ := d.Selector()
		m, err := compile(sel)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", driver.ErrUnsupported, d, err)
		}
		return root.FindMatcher(m).Nodes, nil

	case driver.KindRole:
		css, ok := driver.RoleSelectors[d.Role]
		if !ok {
			css = fmt.Sprintf("[role=%q]", d.Role)
		}
		m, err := compile(css)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", driver.ErrUnsupported, d, err)
		}
		return filter(root.FindMatcher(m).Nodes, func(n *html.Node) bool {
			if role, ok := attr(n, "role"); ok && role != d.Role {
				return false
			}
			return d.Name.Match(accessibleName(n))
		}), nil

	case driver.KindPlaceholder:
		return filter(root.Find("input[placeholder], textarea[placeholder]").Nodes, func(n *html.Node) bool {
			p, _ := attr(n, "placeholder")
			return d.Name.Match(p)
		}), nil

	case driver.KindText:
		all := filter(root.Find("*").Nodes, func(n *html.Node) bool {
			return !skipped(n) && d.Name.Match(innerText(n))
		})
		// Keep the innermost matches only.
		return filter(all, func(n *html.Node) bool {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && !skipped(c) && d.Name.Match(innerText(c)) {
					return false
				}
			}
			return true
		}), nil
	}

	return nil, fmt.Errorf("%w: %s", driver.ErrUnsupported, d)
}

func compile(sel string) (cascadia.Selector, error) {
	return cascadia.Compile(sel)
}

func filter(nodes []*html.Node, keep func(*html.Node) bool) []*html.Node {
	out := make([]*html.Node, 0, len(nodes))
	for _, n := range nodes {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func removeAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Key != key {
			out = append(out, a)
		}
	}
	n.Attr = out
}

// closest returns n or its nearest ancestor element satisfying ok.
func closest(n *html.Node, ok func(*html.Node) bool) *html.Node {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && ok(cur) {
			return cur
		}
	}
	return nil
}

func hasAttr(key string) func(*html.Node) bool {
	return func(n *html.Node) bool {
		_, ok := attr(n, key)
		return ok
	}
}

func isTag(tag string) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.Data == tag }
}

func skipped(n *html.Node) bool {
	switch n.Data {
	case "script", "style", "head", "template", "noscript":
		return true
	}
	return false
}

// hiddenSelf reports whether n itself is styled or marked as not rendered.
func hiddenSelf(n *html.Node) bool {
	if skipped(n) {
		return true
	}
	if _, ok := attr(n, "hidden"); ok {
		return true
	}
	if n.Data == "input" {
		if t, _ := attr(n, "type"); strings.EqualFold(t, "hidden") {
			return true
		}
	}
	style, _ := attr(n, "style")
	style = strings.ReplaceAll(strings.ToLower(style), " ", "")
	return strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden")
}

// visible reports whether n and all its ancestors are rendered.
func visible(n *html.Node) bool {
	for cur := n; cur != nil; cur = cur.Parent {
		if cur.Type == html.ElementNode && hiddenSelf(cur) {
			return false
		}
	}
	return true
}

func disabled(n *html.Node) bool {
	_, ok := attr(n, "disabled")
	return ok
}

var blockTags = map[string]bool{
	"address": true, "article": true, "aside": true, "br": true, "div": true, "footer": true,
	"form": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "li": true, "main": true, "nav": true, "ol": true, "p": true,
	"section": true, "table": true, "td": true, "th": true, "tr": true, "ul": true,
}

// innerText approximates the rendered text of n: hidden subtrees are skipped and
// block elements are separated by whitespace.
func innerText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(cur *html.Node) {
		switch cur.Type {
		case html.TextNode:
			b.WriteString(cur.Data)
			return
		case html.ElementNode:
			if hiddenSelf(cur) {
				return
			}
		}
		block := cur.Type == html.ElementNode && blockTags[cur.Data]
		if block {
			b.WriteByte(' ')
		}
		for c := cur.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			b.WriteByte(' ')
		}
	}
	walk(n)
	return driver.NormalizeSpace(b.String())
}

// accessibleName is a reduced version of the accname algorithm: aria-label,
// then the value of button-like inputs, then text content, then title and
// placeholder.
func accessibleName(n *html.Node) string {
	if v, ok := attr(n, "aria-label"); ok && strings.TrimSpace(v) != "" {
		return driver.NormalizeSpace(v)
	}
	if n.Data == "input" {
		t, _ := attr(n, "type")
		switch strings.ToLower(t) {
		case "submit", "button", "reset":
			if v, ok := attr(n, "value"); ok {
				return driver.NormalizeSpace(v)
			}
		}
	} else if text := innerText(n); text != "" {
		return text
	}
	for _, key := range []string{"title", "placeholder"} {
		if v, ok := attr(n, key); ok && strings.TrimSpace(v) != "" {
			return driver.NormalizeSpace(v)
		}
	}
	return ""
}

func isSubmit(n *html.Node) bool {
	t, _ := attr(n, "type")
	t = strings.ToLower(t)
	switch n.Data {
	case "button":
		return t == "" || t == "submit"
	case "input":
		return t == "submit"
	}
	return false
}

func isEditable(n *html.Node) bool {
	switch n.Data {
	case "textarea":
		return true
	case "input":
		t, _ := attr(n, "type")
		switch strings.ToLower(t) {
		case "submit", "button", "reset", "checkbox", "radio", "hidden", "file", "image":
			return false
		}
		return true
	}
	return false
}

// formValues collects the named, editable controls of a form.
func formValues(form *html.Node, into map[string][]string) {
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "input" || n.Data == "textarea") && !disabled(n) {
			if name, ok := attr(n, "name"); ok && name != "" && (isEditable(n) || isHiddenInput(n)) {
				v, _ := attr(n, "value")
				into[name] = append(into[name], v)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(form)
}

func isHiddenInput(n *html.Node) bool {
	t, _ := attr(n, "type")
	return n.Data == "input" && strings.EqualFold(t, "hidden")
}
