package domain

import "time"

// Persisted keys. Each key has exactly one writer: the lifecycle coordinator
// owns SessionKey and RecoveryKey, the dedup store owns MessagesKey.
const (
	SessionKey  = "recording_state"
	MessagesKey = "chat_messages"
	RecoveryKey = "pending_upload"
)

// State is the observation session state.
type State string

const (
	StateIdle        State = "idle"
	StateRecording   State = "recording"
	StateStopped     State = "stopped"
	StateInterrupted State = "interrupted"
)

// Session is the persisted recording state for the observed document.
type Session struct {
	IsRecording  bool    `json:"isRecording"`
	MeetingID    *string `json:"meetingId"`
	StartedAt    *int64  `json:"startedAt"`
	MessageCount int     `json:"messageCount"`
	State        State   `json:"state"`
}

// EmptySession returns the record stored after a bulk clear.
func EmptySession() Session {
	return Session{State: StateIdle}
}

// NeedsRecovery reports whether the record describes a session that captured
// messages and is no longer recording.
func (s Session) NeedsRecovery() bool {
	return s.StartedAt != nil && !s.IsRecording && s.MessageCount > 0
}

// Started returns StartedAt as a time.Time, or the zero time when unset.
func (s Session) Started() time.Time {
	if s.StartedAt == nil {
		return time.Time{}
	}
	return time.UnixMilli(*s.StartedAt)
}

// MeetingIDOr returns the meeting id or fallback when it is unknown.
func (s Session) MeetingIDOr(fallback string) string {
	if s.MeetingID == nil || *s.MeetingID == "" {
		return fallback
	}
	return *s.MeetingID
}

// PendingRecovery is unexported work left behind by an interrupted session.
type PendingRecovery struct {
	MeetingID string    `json:"meetingId"`
	Messages  []Message `json:"messages"`
	EndedAt   int64     `json:"endedAt"`
}
