package notify

import (
	"encoding/json"
	"testing"
)

func TestEncodeWireForm(t *testing.T) {
	t.Parallel()
	data, err := Marshal(PendingRecovery{MeetingID: "abc-defg-hij", Count: 5})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["type"] != "PENDING_RECOVERY" {
		t.Errorf("Expected type PENDING_RECOVERY, got %v", got["type"])
	}
	if got["meetingId"] != "abc-defg-hij" || got["messageCount"] != float64(5) {
		t.Errorf("Unexpected payload: %v", got)
	}
}

func TestUnmarshalRebuildsVariant(t *testing.T) {
	t.Parallel()
	ev, err := Unmarshal([]byte(`{"type":"MESSAGES_UPDATED","count":4}`))
	if err != nil {
		t.Fatal(err)
	}
	mu, ok := ev.(MessagesUpdated)
	if !ok || mu.Count != 4 {
		t.Errorf("Expected MessagesUpdated{4}, got %#v", ev)
	}

	ev, err = Unmarshal([]byte(`{"type":"OBSERVER_ERROR","error":"Chat container not found"}`))
	if err != nil {
		t.Fatal(err)
	}
	if oe, ok := ev.(ObserverError); !ok || oe.Reason != "Chat container not found" {
		t.Errorf("Expected ObserverError, got %#v", ev)
	}
}

func TestUnmarshalRejectsUnknownType(t *testing.T) {
	t.Parallel()
	if _, err := Unmarshal([]byte(`{"type":"PAGE_UNLOADING"}`)); err == nil {
		t.Error("Expected error for unknown type")
	}
	if _, err := Unmarshal([]byte(`not json`)); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestMultiAndSinkFunc(t *testing.T) {
	t.Parallel()
	rec := &Recorder{}
	var seen []Kind
	sink := Multi{rec, SinkFunc(func(e Event) { seen = append(seen, e.Kind()) })}

	sink.Notify(ObserverStarted{MeetingID: "x"})
	sink.Notify(ObserverStopped{Count: 2})

	if rec.Count(KindObserverStarted) != 1 || rec.Count(KindObserverStopped) != 1 {
		t.Errorf("Unexpected recorder contents: %v", rec.Events())
	}
	if len(seen) != 2 || seen[1] != KindObserverStopped {
		t.Errorf("Unexpected sink func calls: %v", seen)
	}
	if last, ok := rec.Last(KindObserverStopped).(ObserverStopped); !ok || last.Count != 2 {
		t.Errorf("Expected last stop count 2, got %v", rec.Last(KindObserverStopped))
	}
}
