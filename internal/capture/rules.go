// Package capture turns a live chat region into deduplicated message records:
// it locates the region, coalesces mutation bursts, extracts messages and
// stores them idempotently.
package capture

import "github.com/ashureev/meetlog/internal/dom"

// Rules describes the page structure the capture pipeline relies on.
type Rules struct {
	// Regions are tried in order to find the observed chat region.
	Regions []dom.Selector
	// Candidate matches message nodes.
	Candidate dom.Selector
	// Controls match interactive elements that reuse the candidate attribute.
	Controls []dom.Selector
	// Marker is the attribute written onto extracted nodes.
	Marker string
	// Content matches the inner wrapper holding the message body.
	Content dom.Selector
	// Body matches the element under Content whose text is the message.
	Body dom.Selector
	// Group matches the enclosing sender group.
	Group dom.Selector
	// Labels are tried in order inside Group to find the sender name.
	Labels []dom.Selector
	// IDAttr carries the source-provided message id.
	IDAttr string

	// NoiseExact lists bodies that are UI strings, not messages.
	NoiseExact []string
	// NoiseContains lists substrings that mark a body as a UI string.
	NoiseContains []string

	SelfLabel        string
	ParticipantLabel string
	// TimeLayout formats the display timestamp.
	TimeLayout string
}

// DefaultRules returns the rules for the Google Meet chat panel.
func DefaultRules() Rules {
	return Rules{
		Regions: []dom.Selector{
			dom.Attr("aria-live", "polite"),
			dom.Attr("role", "log"),
			dom.Attr("data-panel-id", "1"),
		},
		Candidate: dom.Selector{Tag: "div", Attr: "data-message-id"},
		Controls: []dom.Selector{
			{Tag: "button"},
			dom.Attr("role", "button"),
		},
		Marker:           "data-mcl-processed",
		Content:          dom.Attr("jsname", "dTKtvb"),
		Body:             dom.Selector{Tag: "div"},
		Group:            dom.Class("Ss4fHf"),
		Labels:           []dom.Selector{dom.Class("poVWob"), dom.Class("zWGUib")},
		IDAttr:           "data-message-id",
		NoiseExact:       []string{"keep"},
		NoiseContains:    []string{"將訊息置頂", "Pin message"},
		SelfLabel:        "You",
		ParticipantLabel: "Participant",
		TimeLayout:       "15:04",
	}
}
