package capture

import (
	"log/slog"
	"slices"
	"strings"

	"github.com/ashureev/meetlog/internal/clock"
	"github.com/ashureev/meetlog/internal/dom"
	"github.com/ashureev/meetlog/internal/domain"
)

// Extractor converts message nodes into records. Nodes it accepts are marked
// with the observation token, so rescanning a subtree during the same
// observation is a no-op. Marks left by an earlier observation are ignored and
// the store decides whether the message is new.
type Extractor struct {
	rules  Rules
	clock  clock.Clock
	token  string
	logger *slog.Logger
}

// NewExtractor creates an extractor for one observation.
func NewExtractor(rules Rules, clk clock.Clock, token string, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{rules: rules, clock: clk, token: token, logger: logger}
}

// Candidates returns n itself when it is a message node, otherwise its message
// descendants.
func (e *Extractor) Candidates(n dom.Node) []dom.Node {
	if n.Matches(e.rules.Candidate) {
		return []dom.Node{n}
	}
	return n.QueryAll(e.rules.Candidate)
}

// Extract returns the message carried by n. It reports false when n is a
// control, was already extracted in this observation, lacks the content
// wrapper, or holds an empty or UI-only body.
func (e *Extractor) Extract(n dom.Node) (domain.Message, bool) {
	for _, c := range e.rules.Controls {
		if n.Matches(c) {
			return domain.Message{}, false
		}
	}
	if mark, ok := n.Attr(e.rules.Marker); ok && mark == e.token {
		return domain.Message{}, false
	}
	wrapper := n.Query(e.rules.Content)
	if wrapper == nil {
		return domain.Message{}, false
	}

	var content string
	if body := wrapper.Query(e.rules.Body); body != nil {
		content = strings.TrimSpace(body.Text())
	}
	if content == "" || e.isNoise(content) {
		return domain.Message{}, false
	}

	if err := n.SetAttr(e.rules.Marker, e.token); err != nil {
		e.logger.Debug("[CAPTURE] Failed to mark node", "error", err)
	}

	now := e.clock.Now()
	msg := domain.Message{
		Timestamp:  now.Format(e.rules.TimeLayout),
		Sender:     e.sender(n),
		Content:    content,
		CapturedAt: now.UnixMilli(),
	}
	msg.ID, _ = n.Attr(e.rules.IDAttr)
	if msg.ID == "" {
		msg.ID = MessageID(msg.Timestamp, msg.Sender, msg.Content)
	}
	return msg, true
}

// Release clears the mark Extract left on n so a later pass of the same
// observation accepts it again.
func (e *Extractor) Release(n dom.Node) {
	if mark, ok := n.Attr(e.rules.Marker); !ok || mark != e.token {
		return
	}
	if err := n.SetAttr(e.rules.Marker, ""); err != nil {
		e.logger.Debug("[CAPTURE] Failed to clear node mark", "error", err)
	}
}

// sender resolves the display name. Messages sent by the local user have no
// enclosing group.
func (e *Extractor) sender(n dom.Node) string {
	group := n.Closest(e.rules.Group)
	if group == nil {
		return e.rules.SelfLabel
	}
	for _, sel := range e.rules.Labels {
		if label := group.Query(sel); label != nil {
			if name := strings.TrimSpace(label.Text()); name != "" {
				return name
			}
		}
	}
	return e.rules.ParticipantLabel
}

func (e *Extractor) isNoise(content string) bool {
	if slices.Contains(e.rules.NoiseExact, content) {
		return true
	}
	for _, s := range e.rules.NoiseContains {
		if strings.Contains(content, s) {
			return true
		}
	}
	return false
}
