//go:build integration

package browser

import (
	"context"
	"testing"
	"time"

	"github.com/ashureev/meetlog/internal/capture"
	"github.com/ashureev/meetlog/internal/dom"
	"github.com/go-rod/rod/lib/proto"
	"github.com/stretchr/testify/require"
)

const fixture = `<html><body>
<div aria-live="polite" id="chat">
  <div data-message-id="m1"><div jsname="dTKtvb"><div>hello</div></div></div>
</div>
</body></html>`

func openFixture(t *testing.T) *Page {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	b, err := Connect(ctx, Options{Headless: true, PollInterval: 20 * time.Millisecond}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	rp, err := b.browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	require.NoError(t, err)
	require.NoError(t, rp.SetDocumentContent(fixture))
	return newPage(ctx, rp, b.opts.PollInterval, b.logger)
}

func TestPageQueryAndNodes(t *testing.T) {
	p := openFixture(t)
	ctx := context.Background()
	rules := capture.DefaultRules()

	region, err := capture.NewLocator(rules.Regions, nil).Locate(ctx, p)
	require.NoError(t, err)
	require.NotNil(t, region)

	items := region.QueryAll(rules.Candidate)
	require.Len(t, items, 1)
	if id, ok := items[0].Attr("data-message-id"); !ok || id != "m1" {
		t.Errorf("Expected data-message-id m1, got %q", id)
	}
	if items[0].Tag() != "div" {
		t.Errorf("Expected div, got %q", items[0].Tag())
	}

	content := items[0].Query(rules.Content)
	require.NotNil(t, content)
	if back := content.Closest(rules.Candidate); back == nil {
		t.Error("Expected Closest to find the message wrapper")
	}
	if content.Closest(dom.Attr("id", "missing")) != nil {
		t.Error("Expected nil for unmatched Closest")
	}

	require.NoError(t, items[0].SetAttr("data-test", "x"))
	if !items[0].Matches(dom.Attr("data-test", "x")) {
		t.Error("Expected element to match after SetAttr")
	}
}

func TestPageSubscribe(t *testing.T) {
	p := openFixture(t)
	ctx := context.Background()

	region, err := p.Query(ctx, dom.Attr("id", "chat"))
	require.NoError(t, err)
	require.NotNil(t, region)

	got := make(chan dom.Mutation, 4)
	sub, err := p.Subscribe(region, func(m dom.Mutation) { got <- m })
	require.NoError(t, err)

	_, err = p.page.Eval(`() => {
		const d = document.createElement('div');
		d.setAttribute('data-message-id', 'm2');
		d.innerHTML = '<div jsname="dTKtvb"><div>again</div></div>';
		document.getElementById('chat').appendChild(d);
	}`)
	require.NoError(t, err)

	select {
	case m := <-got:
		require.Len(t, m.Added, 1)
		if id, _ := m.Added[0].Attr("data-message-id"); id != "m2" {
			t.Errorf("Expected added m2, got %q", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for mutation")
	}

	sub.Close()
	sub.(*subscription).Wait()
}
