// Package dom describes the observed document as seen by the capture
// pipeline: attribute-exact element queries, nearest-ancestor lookup, text
// extraction and subtree change subscriptions.
package dom

import (
	"context"
	"strconv"
	"strings"
)

// Selector matches elements by tag, class and a single attribute. Empty fields
// match anything. When Attr is set and Value is empty, the attribute only needs
// to be present.
type Selector struct {
	Tag   string
	Class string
	Attr  string
	Value string
}

// Attr returns a selector matching elements whose attribute name equals value.
func Attr(name, value string) Selector {
	return Selector{Attr: name, Value: value}
}

// Has returns a selector matching elements that carry the attribute name.
func Has(name string) Selector {
	return Selector{Attr: name}
}

// Class returns a selector matching elements with the given class.
func Class(name string) Selector {
	return Selector{Class: name}
}

// CSS renders the selector as a CSS selector string.
func (s Selector) CSS() string {
	var b strings.Builder
	b.WriteString(s.Tag)
	if s.Class != "" {
		b.WriteByte('.')
		b.WriteString(s.Class)
	}
	if s.Attr != "" {
		b.WriteByte('[')
		b.WriteString(s.Attr)
		if s.Value != "" {
			b.WriteByte('=')
			b.WriteString(strconv.Quote(s.Value))
		}
		b.WriteByte(']')
	}
	if b.Len() == 0 {
		return "*"
	}
	return b.String()
}

func (s Selector) String() string {
	return s.CSS()
}

// Node is an element in the observed document.
type Node interface {
	// Tag returns the lower-case element name.
	Tag() string
	// Attr returns the attribute value and whether it is present.
	Attr(name string) (string, bool)
	// SetAttr sets an attribute on the element.
	SetAttr(name, value string) error
	// Text returns the text content of the element and its descendants.
	Text() string
	// Matches reports whether the element itself matches sel.
	Matches(sel Selector) bool
	// Closest returns the nearest inclusive ancestor matching sel, or nil.
	Closest(sel Selector) Node
	// Query returns the first descendant matching sel in document order, or nil.
	Query(sel Selector) Node
	// QueryAll returns every descendant matching sel in document order.
	QueryAll(sel Selector) []Node
}

// Mutation is one subtree change notification: the parent that changed and
// the elements inserted under it.
type Mutation struct {
	Target Node
	Added  []Node
}

// Subscription is an active change subscription.
type Subscription interface {
	// Close stops delivery. It does not wait for a callback that is already
	// running, so it is safe to call while holding a lock the callback needs.
	Close()
}

// Document is the observed-document provider.
type Document interface {
	// URL returns the current document location.
	URL() string
	// Query returns the first element matching sel, or nil when none does.
	Query(ctx context.Context, sel Selector) (Node, error)
	// Subscribe delivers every insertion under region to fn.
	Subscribe(region Node, fn func(Mutation)) (Subscription, error)
}
