// Package browser exposes a Chrome tab, driven over the DevTools protocol, as
// the observed document.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/meetlog/internal/capture"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// ErrNoMeetingPage is returned by Open when no tab shows a meeting and no
// meeting URL was configured.
var ErrNoMeetingPage = errors.New("no meeting tab found")

// Options controls how Chrome is reached.
type Options struct {
	// DebuggerURL attaches to a running Chrome. When empty one is launched.
	DebuggerURL  string
	Bin          string
	Headless     bool
	PollInterval time.Duration
}

// Browser is a connected Chrome instance.
type Browser struct {
	browser  *rod.Browser
	launched *launcher.Launcher
	opts     Options
	logger   *slog.Logger
}

// Connect attaches to the configured debugger URL or launches Chrome.
func Connect(ctx context.Context, opts Options, logger *slog.Logger) (*Browser, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 100 * time.Millisecond
	}

	b := &Browser{opts: opts, logger: logger}
	controlURL := opts.DebuggerURL
	if controlURL == "" {
		l := launcher.New().Headless(opts.Headless)
		if opts.Bin != "" {
			l = l.Bin(opts.Bin)
		}
		url, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		controlURL = url
		b.launched = l
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		if b.launched != nil {
			b.launched.Kill()
		}
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	b.browser = browser

	logger.Info("[BROWSER] Connected", "control_url", controlURL, "launched", b.launched != nil)
	return b, nil
}

// Open returns the tab showing meetingURL, opening one when none does. With
// an empty meetingURL the first tab on a meeting is used.
func (b *Browser) Open(ctx context.Context, meetingURL string) (*Page, error) {
	pages, err := b.browser.Pages()
	if err != nil {
		return nil, fmt.Errorf("list tabs: %w", err)
	}

	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			continue
		}
		if matchesMeeting(info.URL, meetingURL) {
			b.logger.Info("[BROWSER] Attached to tab", "url", info.URL)
			return newPage(ctx, p, b.opts.PollInterval, b.logger), nil
		}
	}

	if meetingURL == "" {
		return nil, ErrNoMeetingPage
	}
	p, err := b.browser.Page(proto.TargetCreateTarget{URL: meetingURL})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", meetingURL, err)
	}
	if err := p.Context(ctx).WaitLoad(); err != nil {
		return nil, fmt.Errorf("load %s: %w", meetingURL, err)
	}
	b.logger.Info("[BROWSER] Opened tab", "url", meetingURL)
	return newPage(ctx, p, b.opts.PollInterval, b.logger), nil
}

// Close disconnects. A Chrome that was launched here is shut down; an attached
// one is left running.
func (b *Browser) Close() error {
	if b.launched == nil {
		return nil
	}
	err := b.browser.Close()
	b.launched.Kill()
	return err
}

// matchesMeeting reports whether a tab at url shows the wanted meeting. An
// empty want accepts any meeting tab.
func matchesMeeting(url, want string) bool {
	id, ok := capture.MeetingID(url)
	if !ok {
		return want != "" && strings.TrimSuffix(url, "/") == strings.TrimSuffix(want, "/")
	}
	if want == "" {
		return true
	}
	wantID, ok := capture.MeetingID(want)
	return ok && strings.EqualFold(wantID, id)
}
