package capture

import (
	"net/url"
	"regexp"
)

var meetingCodeRE = regexp.MustCompile(`(?i)/([a-z]{3}-[a-z]{4}-[a-z]{3})`)

// MeetingID extracts the meeting code from a Meet URL.
func MeetingID(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	m := meetingCodeRE.FindStringSubmatch(u.Path)
	if m == nil {
		return "", false
	}
	return m[1], true
}
