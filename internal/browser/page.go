package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/meetlog/internal/dom"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// nodeAttr tags elements reported by the in-page observer so they can be
// resolved back to handles.
const nodeAttr = "data-chatlog-node"

const observeJS = `(key, attr) => {
	const w = window;
	w.__chatlogQueue = w.__chatlogQueue || {};
	w.__chatlogObservers = w.__chatlogObservers || {};
	if (w.__chatlogObservers[key]) return true;
	const queue = w.__chatlogQueue[key] = [];
	let seq = 0;
	const tag = (n) => {
		let id = n.getAttribute(attr);
		if (!id) {
			id = key + '-' + (seq++);
			n.setAttribute(attr, id);
		}
		return id;
	};
	const obs = new MutationObserver((records) => {
		for (const r of records) {
			const added = [];
			r.addedNodes.forEach((n) => {
				if (n.nodeType === Node.ELEMENT_NODE) added.push(tag(n));
			});
			if (added.length) queue.push({ target: tag(r.target), added });
		}
	});
	obs.observe(this, { childList: true, subtree: true });
	w.__chatlogObservers[key] = obs;
	return true;
}`

const drainJS = `(key) => {
	const q = window.__chatlogQueue && window.__chatlogQueue[key];
	return JSON.stringify(q ? q.splice(0, q.length) : []);
}`

const disconnectJS = `(key) => {
	const w = window;
	if (w.__chatlogObservers && w.__chatlogObservers[key]) {
		w.__chatlogObservers[key].disconnect();
		delete w.__chatlogObservers[key];
	}
	if (w.__chatlogQueue) delete w.__chatlogQueue[key];
	return true;
}`

// Page is a Chrome tab implementing dom.Document.
type Page struct {
	page     *rod.Page
	ctx      context.Context
	interval time.Duration
	logger   *slog.Logger
	nextKey  atomic.Uint64
}

var _ dom.Document = (*Page)(nil)

func newPage(ctx context.Context, p *rod.Page, interval time.Duration, logger *slog.Logger) *Page {
	return &Page{page: p.Context(ctx), ctx: ctx, interval: interval, logger: logger}
}

// URL returns the tab's current location.
func (p *Page) URL() string {
	info, err := p.page.Info()
	if err != nil {
		p.logger.Debug("[BROWSER] Failed to read tab info", "error", err)
		return ""
	}
	return info.URL
}

// Query returns the first element matching sel without waiting for it.
func (p *Page) Query(ctx context.Context, sel dom.Selector) (dom.Node, error) {
	found, el, err := p.page.Context(ctx).Has(sel.CSS())
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", sel, err)
	}
	if !found {
		return nil, nil
	}
	return &node{el: el.Context(p.ctx), page: p}, nil
}

// Subscribe installs a MutationObserver on region and polls its queue.
func (p *Page) Subscribe(region dom.Node, fn func(dom.Mutation)) (dom.Subscription, error) {
	rn, ok := region.(*node)
	if !ok {
		return nil, fmt.Errorf("subscribe: region %T does not belong to this page", region)
	}

	key := "s" + strconv.FormatUint(p.nextKey.Add(1), 10)
	if _, err := rn.el.Eval(observeJS, key, nodeAttr); err != nil {
		return nil, fmt.Errorf("install observer: %w", err)
	}

	ctx, cancel := context.WithCancel(p.ctx)
	s := &subscription{cancel: cancel}
	s.wg.Add(1)
	go p.poll(ctx, &s.wg, key, fn)

	p.logger.Debug("[BROWSER] Observer installed", "key", key)
	return s, nil
}

type queuedMutation struct {
	Target string   `json:"target"`
	Added  []string `json:"added"`
}

func (p *Page) poll(ctx context.Context, wg *sync.WaitGroup, key string, fn func(dom.Mutation)) {
	defer wg.Done()
	defer p.disconnect(key)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	page := p.page.Context(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		res, err := page.Eval(drainJS, key)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("[BROWSER] Failed to drain observer queue", "key", key, "error", err)
			continue
		}
		var queued []queuedMutation
		if err := json.Unmarshal([]byte(res.Value.String()), &queued); err != nil {
			p.logger.Warn("[BROWSER] Malformed observer queue", "key", key, "error", err)
			continue
		}

		for _, q := range queued {
			m, ok := p.resolve(page, q)
			if !ok {
				continue
			}
			if ctx.Err() != nil {
				return
			}
			fn(m)
		}
	}
}

func (p *Page) resolve(page *rod.Page, q queuedMutation) (dom.Mutation, bool) {
	target := p.byNodeID(page, q.Target)
	if target == nil {
		return dom.Mutation{}, false
	}
	m := dom.Mutation{Target: target}
	for _, id := range q.Added {
		// Nodes removed again before the poll are skipped.
		if n := p.byNodeID(page, id); n != nil {
			m.Added = append(m.Added, n)
		}
	}
	return m, len(m.Added) > 0
}

func (p *Page) byNodeID(page *rod.Page, id string) dom.Node {
	found, el, err := page.Has(dom.Attr(nodeAttr, id).CSS())
	if err != nil || !found {
		return nil
	}
	return &node{el: el.Context(p.ctx), page: p}
}

func (p *Page) disconnect(key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(p.ctx), 2*time.Second)
	defer cancel()
	if _, err := p.page.Context(ctx).Eval(disconnectJS, key); err != nil {
		p.logger.Debug("[BROWSER] Failed to disconnect observer", "key", key, "error", err)
	}
}

type subscription struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func (s *subscription) Close() {
	s.once.Do(s.cancel)
}

// Wait blocks until the poll loop has exited.
func (s *subscription) Wait() {
	s.wg.Wait()
}

// WatchUnload calls onUnload once when the tab navigates away, reloads,
// crashes or is detached. It returns when ctx is done or after onUnload.
func (p *Page) WatchUnload(ctx context.Context, onUnload func(reason string)) {
	var once sync.Once
	fire := func(reason string) {
		once.Do(func() {
			p.logger.Warn("[BROWSER] Tab unloaded", "reason", reason)
			onUnload(reason)
		})
	}

	wait := p.page.Context(ctx).EachEvent(
		func(ev *proto.PageFrameNavigated) bool {
			if ev.Frame.ParentID != "" {
				return false
			}
			fire("navigated")
			return true
		},
		func(*proto.InspectorTargetCrashed) bool {
			fire("crashed")
			return true
		},
		func(ev *proto.InspectorDetached) bool {
			fire("detached: " + ev.Reason)
			return true
		},
	)
	wait()
}
