package browser

import (
	"github.com/ashureev/meetlog/internal/dom"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// node is a live element handle. Protocol errors are logged and read as
// absence, since the capture pipeline treats a vanished element the same way.
type node struct {
	el   *rod.Element
	page *Page
}

func (n *node) Tag() string {
	res, err := n.el.Eval(`() => this.tagName.toLowerCase()`)
	if err != nil {
		n.debug("tag", err)
		return ""
	}
	return res.Value.String()
}

func (n *node) Attr(name string) (string, bool) {
	v, err := n.el.Attribute(name)
	if err != nil {
		n.debug("attr", err)
		return "", false
	}
	if v == nil {
		return "", false
	}
	return *v, true
}

func (n *node) SetAttr(name, value string) error {
	_, err := n.el.Eval(`(name, value) => this.setAttribute(name, value)`, name, value)
	return err
}

func (n *node) Text() string {
	res, err := n.el.Eval(`() => this.textContent || ''`)
	if err != nil {
		n.debug("text", err)
		return ""
	}
	return res.Value.String()
}

func (n *node) Matches(sel dom.Selector) bool {
	ok, err := n.el.Matches(sel.CSS())
	if err != nil {
		n.debug("matches", err)
		return false
	}
	return ok
}

func (n *node) Closest(sel dom.Selector) dom.Node {
	obj, err := n.el.Evaluate(rod.Eval(`(s) => this.closest(s)`, sel.CSS()).ByObject())
	if err != nil {
		n.debug("closest", err)
		return nil
	}
	if obj.Subtype == proto.RuntimeRemoteObjectSubtypeNull || obj.ObjectID == "" {
		return nil
	}
	el, err := n.page.page.ElementFromObject(obj)
	if err != nil {
		n.debug("closest", err)
		return nil
	}
	return &node{el: el, page: n.page}
}

func (n *node) Query(sel dom.Selector) dom.Node {
	found, el, err := n.el.Has(sel.CSS())
	if err != nil {
		n.debug("query", err)
		return nil
	}
	if !found {
		return nil
	}
	return &node{el: el, page: n.page}
}

func (n *node) QueryAll(sel dom.Selector) []dom.Node {
	els, err := n.el.Elements(sel.CSS())
	if err != nil {
		n.debug("query all", err)
		return nil
	}
	out := make([]dom.Node, 0, len(els))
	for _, el := range els {
		out = append(out, &node{el: el, page: n.page})
	}
	return out
}

func (n *node) debug(op string, err error) {
	n.page.logger.Debug("[BROWSER] Element call failed", "op", op, "error", err)
}
