// Package notify carries capture lifecycle events to out-of-process consumers
// over SSE, websocket and gRPC.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the wire name of an event.
type Kind string

const (
	KindObserverStarted     Kind = "OBSERVER_STARTED"
	KindObserverStopped     Kind = "OBSERVER_STOPPED"
	KindObserverError       Kind = "OBSERVER_ERROR"
	KindMessagesUpdated     Kind = "MESSAGES_UPDATED"
	KindPendingRecovery     Kind = "PENDING_RECOVERY"
	KindSessionInterrupted  Kind = "SESSION_INTERRUPTED"
	KindCaptureLimitReached Kind = "CAPTURE_LIMIT_REACHED"
)

// Event is a lifecycle notification. The set of implementations is closed.
type Event interface {
	Kind() Kind
	event()
}

type ObserverStarted struct {
	MeetingID string
}

type ObserverStopped struct {
	Count int
}

type ObserverError struct {
	Reason string
}

type MessagesUpdated struct {
	Count int
}

type PendingRecovery struct {
	MeetingID string
	Count     int
}

// SessionInterrupted is emitted when a recording ends without an explicit stop.
type SessionInterrupted struct {
	MeetingID string
	Count     int
}

// CaptureLimitReached is emitted when the message store is full.
type CaptureLimitReached struct {
	Limit int
}

func (ObserverStarted) Kind() Kind     { return KindObserverStarted }
func (ObserverStopped) Kind() Kind     { return KindObserverStopped }
func (ObserverError) Kind() Kind       { return KindObserverError }
func (MessagesUpdated) Kind() Kind     { return KindMessagesUpdated }
func (PendingRecovery) Kind() Kind     { return KindPendingRecovery }
func (SessionInterrupted) Kind() Kind  { return KindSessionInterrupted }
func (CaptureLimitReached) Kind() Kind { return KindCaptureLimitReached }

func (ObserverStarted) event()     {}
func (ObserverStopped) event()     {}
func (ObserverError) event()       {}
func (MessagesUpdated) event()     {}
func (PendingRecovery) event()     {}
func (SessionInterrupted) event()  {}
func (CaptureLimitReached) event() {}

// Sink receives events. Notify must not block.
type Sink interface {
	Notify(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

func (f SinkFunc) Notify(e Event) { f(e) }

// Multi fans an event out to every sink in order.
type Multi []Sink

func (m Multi) Notify(e Event) {
	for _, s := range m {
		s.Notify(e)
	}
}

var errUnknownEvent = errors.New("unknown event type")

// Encode flattens e into its wire form: {"type": KIND, ...payload}.
func Encode(e Event) map[string]any {
	out := map[string]any{"type": string(e.Kind())}
	switch ev := e.(type) {
	case ObserverStarted:
		out["meetingId"] = ev.MeetingID
	case ObserverStopped:
		out["count"] = ev.Count
	case ObserverError:
		out["error"] = ev.Reason
	case MessagesUpdated:
		out["count"] = ev.Count
	case PendingRecovery:
		out["meetingId"] = ev.MeetingID
		out["messageCount"] = ev.Count
	case SessionInterrupted:
		out["meetingId"] = ev.MeetingID
		out["messageCount"] = ev.Count
	case CaptureLimitReached:
		out["limit"] = ev.Limit
	}
	return out
}

// Marshal returns the JSON wire form of e.
func Marshal(e Event) ([]byte, error) {
	return json.Marshal(Encode(e))
}

// Decode rebuilds an event from its wire form. Numbers may arrive as any
// numeric type (JSON and protobuf Struct both yield float64).
func Decode(m map[string]any) (Event, error) {
	kind, _ := m["type"].(string)
	switch Kind(kind) {
	case KindObserverStarted:
		return ObserverStarted{MeetingID: str(m["meetingId"])}, nil
	case KindObserverStopped:
		return ObserverStopped{Count: num(m["count"])}, nil
	case KindObserverError:
		return ObserverError{Reason: str(m["error"])}, nil
	case KindMessagesUpdated:
		return MessagesUpdated{Count: num(m["count"])}, nil
	case KindPendingRecovery:
		return PendingRecovery{MeetingID: str(m["meetingId"]), Count: num(m["messageCount"])}, nil
	case KindSessionInterrupted:
		return SessionInterrupted{MeetingID: str(m["meetingId"]), Count: num(m["messageCount"])}, nil
	case KindCaptureLimitReached:
		return CaptureLimitReached{Limit: num(m["limit"])}, nil
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownEvent, kind)
	}
}

// Unmarshal decodes the JSON wire form of an event.
func Unmarshal(data []byte) (Event, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return Decode(m)
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func num(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case int:
		return n
	case int64:
		return int(n)
	case json.Number:
		i, _ := n.Int64()
		return int(i)
	}
	return 0
}
