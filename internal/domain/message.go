// Package domain contains core domain types for the meetlog application.
package domain

import "time"

// Message is a single captured chat entry. Two messages with equal ID are the
// same message.
type Message struct {
	ID         string `json:"id"`
	Timestamp  string `json:"timestamp"`
	Sender     string `json:"sender"`
	Content    string `json:"content"`
	CapturedAt int64  `json:"capturedAt"`
}

// CapturedTime returns CapturedAt as a time.Time.
func (m Message) CapturedTime() time.Time {
	return time.UnixMilli(m.CapturedAt)
}
