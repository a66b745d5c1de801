package notify

import (
	"testing"
	"time"
)

func TestHubFanOut(t *testing.T) {
	t.Parallel()
	hub := NewHub(10, nil)
	a, unsubA := hub.Subscribe(4)
	b, unsubB := hub.Subscribe(4)
	defer unsubA()
	defer unsubB()

	hub.Notify(MessagesUpdated{Count: 1})

	for _, ch := range []<-chan Record{a, b} {
		select {
		case rec := <-ch:
			if rec.ID != 1 || rec.Event.Kind() != KindMessagesUpdated {
				t.Errorf("Unexpected record %+v", rec)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	t.Parallel()
	hub := NewHub(10, nil)
	ch, unsub := hub.Subscribe(1)
	defer unsub()

	hub.Notify(MessagesUpdated{Count: 1})
	hub.Notify(MessagesUpdated{Count: 2})

	rec := <-ch
	if rec.ID != 1 {
		t.Errorf("Expected first event kept, got %d", rec.ID)
	}
	select {
	case extra := <-ch:
		t.Errorf("Expected second event dropped, got %+v", extra)
	default:
	}
	if hub.LastID() != 2 {
		t.Errorf("Expected LastID 2, got %d", hub.LastID())
	}
}

func TestHubReplayIsBounded(t *testing.T) {
	t.Parallel()
	hub := NewHub(3, nil)
	for i := 1; i <= 5; i++ {
		hub.Notify(MessagesUpdated{Count: i})
	}

	recs := hub.Since(0)
	if len(recs) != 3 || recs[0].ID != 3 {
		t.Fatalf("Expected events 3..5, got %d starting at %d", len(recs), recs[0].ID)
	}
	if got := hub.Since(4); len(got) != 1 || got[0].ID != 5 {
		t.Errorf("Expected only event 5 after 4, got %v", got)
	}
}

func TestHubCloseClosesSubscribers(t *testing.T) {
	t.Parallel()
	hub := NewHub(10, nil)
	ch, unsub := hub.Subscribe(1)

	hub.Close()
	if _, ok := <-ch; ok {
		t.Error("Expected channel closed")
	}
	unsub()
	hub.Notify(ObserverStopped{})
	if hub.LastID() != 0 {
		t.Errorf("Expected no events after Close, got %d", hub.LastID())
	}

	late, _ := hub.Subscribe(1)
	if _, ok := <-late; ok {
		t.Error("Expected subscription after Close to be closed")
	}
}
