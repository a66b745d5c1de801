package dom

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"golang.org/x/net/html"
)

// HTMLDocument is an in-memory Document backed by golang.org/x/net/html.
// Append simulates the remote page inserting content; subscribers are called
// synchronously after the tree lock is released.
type HTMLDocument struct {
	mu   sync.RWMutex
	url  string
	root *html.Node

	subMu  sync.Mutex
	nextID int
	subs   map[int]*htmlSubscription
}

type htmlSubscription struct {
	doc    *HTMLDocument
	id     int
	region *html.Node
	fn     func(Mutation)
}

type htmlNode struct {
	doc *HTMLDocument
	n   *html.Node
}

// ParseHTML builds a document from r.
func ParseHTML(url string, r io.Reader) (*HTMLDocument, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return &HTMLDocument{url: url, root: root, subs: make(map[int]*htmlSubscription)}, nil
}

// ParseHTMLString builds a document from a string.
func ParseHTMLString(url, s string) (*HTMLDocument, error) {
	return ParseHTML(url, strings.NewReader(s))
}

// URL returns the document location.
func (d *HTMLDocument) URL() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.url
}

// SetURL changes the document location.
func (d *HTMLDocument) SetURL(url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = url
}

// Query returns the first element matching sel.
func (d *HTMLDocument) Query(_ context.Context, sel Selector) (Node, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n := findFirst(d.root, sel)
	if n == nil {
		return nil, nil
	}
	return &htmlNode{doc: d, n: n}, nil
}

// Subscribe registers fn for insertions anywhere under region.
func (d *HTMLDocument) Subscribe(region Node, fn func(Mutation)) (Subscription, error) {
	hn, ok := region.(*htmlNode)
	if !ok || hn.doc != d {
		return nil, errors.New("region does not belong to this document")
	}
	d.subMu.Lock()
	defer d.subMu.Unlock()
	d.nextID++
	s := &htmlSubscription{doc: d, id: d.nextID, region: hn.n, fn: fn}
	d.subs[s.id] = s
	return s, nil
}

// Append parses fragment in the context of parent, appends the resulting
// nodes to it and notifies subscribers observing parent's subtree.
func (d *HTMLDocument) Append(parent Node, fragment string) error {
	hn, ok := parent.(*htmlNode)
	if !ok || hn.doc != d {
		return errors.New("parent does not belong to this document")
	}

	d.mu.Lock()
	nodes, err := html.ParseFragment(strings.NewReader(fragment), hn.n)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("parse fragment: %w", err)
	}
	var added []Node
	for _, n := range nodes {
		hn.n.AppendChild(n)
		if n.Type == html.ElementNode {
			added = append(added, &htmlNode{doc: d, n: n})
		}
	}
	d.mu.Unlock()

	if len(added) == 0 {
		return nil
	}
	m := Mutation{Target: hn, Added: added}
	for _, s := range d.subscribersFor(hn.n) {
		s.fn(m)
	}
	return nil
}

// AppendTo appends fragment to the first element matching sel.
func (d *HTMLDocument) AppendTo(sel Selector, fragment string) error {
	parent, err := d.Query(context.Background(), sel)
	if err != nil {
		return err
	}
	if parent == nil {
		return fmt.Errorf("no element matches %s", sel)
	}
	return d.Append(parent, fragment)
}

// Subscribers returns the number of active subscriptions.
func (d *HTMLDocument) Subscribers() int {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	return len(d.subs)
}

func (d *HTMLDocument) subscribersFor(target *html.Node) []*htmlSubscription {
	d.subMu.Lock()
	defer d.subMu.Unlock()
	var out []*htmlSubscription
	for _, s := range d.subs {
		for n := target; n != nil; n = n.Parent {
			if n == s.region {
				out = append(out, s)
				break
			}
		}
	}
	slices.SortFunc(out, func(a, b *htmlSubscription) int { return a.id - b.id })
	return out
}

func (s *htmlSubscription) Close() {
	s.doc.subMu.Lock()
	defer s.doc.subMu.Unlock()
	delete(s.doc.subs, s.id)
}

func (n *htmlNode) Tag() string {
	return n.n.Data
}

func (n *htmlNode) Attr(name string) (string, bool) {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	return attr(n.n, name)
}

func (n *htmlNode) SetAttr(name, value string) error {
	n.doc.mu.Lock()
	defer n.doc.mu.Unlock()
	for i, a := range n.n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.n.Attr[i].Val = value
			return nil
		}
	}
	n.n.Attr = append(n.n.Attr, html.Attribute{Key: name, Val: value})
	return nil
}

func (n *htmlNode) Text() string {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(x *html.Node) {
		if x.Type == html.TextNode {
			b.WriteString(x.Data)
		}
		for c := x.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n.n)
	return b.String()
}

func (n *htmlNode) Matches(sel Selector) bool {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	return matches(n.n, sel)
}

func (n *htmlNode) Closest(sel Selector) Node {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	for x := n.n; x != nil; x = x.Parent {
		if matches(x, sel) {
			return &htmlNode{doc: n.doc, n: x}
		}
	}
	return nil
}

func (n *htmlNode) Query(sel Selector) Node {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	for c := n.n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, sel); found != nil {
			return &htmlNode{doc: n.doc, n: found}
		}
	}
	return nil
}

func (n *htmlNode) QueryAll(sel Selector) []Node {
	n.doc.mu.RLock()
	defer n.doc.mu.RUnlock()
	var out []Node
	var walk func(*html.Node)
	walk = func(x *html.Node) {
		for c := x.FirstChild; c != nil; c = c.NextSibling {
			if matches(c, sel) {
				out = append(out, &htmlNode{doc: n.doc, n: c})
			}
			walk(c)
		}
	}
	walk(n.n)
	return out
}

// findFirst searches n and its descendants in document order.
func findFirst(n *html.Node, sel Selector) *html.Node {
	if matches(n, sel) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, sel); found != nil {
			return found
		}
	}
	return nil
}

func matches(n *html.Node, sel Selector) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if sel.Tag != "" && !strings.EqualFold(n.Data, sel.Tag) {
		return false
	}
	if sel.Class != "" {
		classes, _ := attr(n, "class")
		if !slices.Contains(strings.Fields(classes), sel.Class) {
			return false
		}
	}
	if sel.Attr != "" {
		v, ok := attr(n, sel.Attr)
		if !ok || (sel.Value != "" && v != sel.Value) {
			return false
		}
	}
	return true
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}
