// Package export renders captured messages as Markdown or CSV files.
package export

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ashureev/meetlog/internal/domain"
)

// Format is an export file format.
type Format string

const (
	Markdown Format = "md"
	CSV      Format = "csv"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case Markdown, CSV:
		return f, nil
	case "markdown":
		return Markdown, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// ContentType returns the MIME type for the format.
func (f Format) ContentType() string {
	if f == CSV {
		return "text/csv; charset=utf-8"
	}
	return "text/markdown; charset=utf-8"
}

// File is a rendered export.
type File struct {
	Name    string
	Format  Format
	Content []byte
}

// Render renders msgs in format f.
func Render(f Format, msgs []domain.Message, meetingID string, at time.Time) (File, error) {
	var content string
	switch f {
	case Markdown:
		content = ToMarkdown(msgs, meetingID, at)
	case CSV:
		content = ToCSV(msgs)
	default:
		return File{}, fmt.Errorf("unsupported export format %q", f)
	}
	return File{Name: Filename(meetingID, at, f), Format: f, Content: []byte(content)}, nil
}

// Filename returns meet-chat_<meeting>_<YYYY-MM-DD>_<HH-MM-SS>.<ext>.
func Filename(meetingID string, at time.Time, f Format) string {
	if meetingID == "" {
		meetingID = "unknown"
	}
	return fmt.Sprintf("meet-chat_%s_%s.%s", meetingID, at.Format("2006-01-02_15-04-05"), f)
}

// ToMarkdown renders a chat log document.
func ToMarkdown(msgs []domain.Message, meetingID string, at time.Time) string {
	if meetingID == "" {
		meetingID = "unknown"
	}
	var b strings.Builder
	b.WriteString("# Google Meet Chat Log\n\n")
	fmt.Fprintf(&b, "**Meeting ID:** %s\n", meetingID)
	fmt.Fprintf(&b, "**Exported:** %s\n", at.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "**Messages:** %d\n\n", len(msgs))
	b.WriteString("---\n\n")

	entries := make([]string, len(msgs))
	for i, m := range msgs {
		entries[i] = fmt.Sprintf("**[%s] %s:**\n%s", m.Timestamp, m.Sender, m.Content)
	}
	b.WriteString(strings.Join(entries, "\n\n"))
	return b.String()
}

var lineBreaks = regexp.MustCompile(`[\r\n]+`)

// ToCSV renders a spreadsheet-friendly CSV with a UTF-8 BOM. Every field is
// quoted and line breaks inside a field become a single space.
func ToCSV(msgs []domain.Message) string {
	var b strings.Builder
	b.WriteString("\uFEFF")
	b.WriteString("Timestamp,Sender,Content")
	for _, m := range msgs {
		b.WriteByte('\n')
		b.WriteString(csvField(m.Timestamp))
		b.WriteByte(',')
		b.WriteString(csvField(m.Sender))
		b.WriteByte(',')
		b.WriteString(csvField(m.Content))
	}
	return b.String()
}

func csvField(s string) string {
	s = lineBreaks.ReplaceAllString(s, " ")
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
