package notify

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
)

func readSSEData(t *testing.T, r *bufio.Reader) (id, data string) {
	t.Helper()
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read SSE: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "id: "):
			id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: ") && id != "":
			return id, strings.TrimPrefix(line, "data: ")
		}
	}
}

func TestHandleSSEStreamsAndReplays(t *testing.T) {
	t.Parallel()
	hub := NewHub(10, nil)
	defer hub.Close()
	h := NewStreamHandler(hub, DefaultStreamConfig(), nil)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleSSE))
	defer srv.Close()

	hub.Notify(ObserverStarted{MeetingID: "abc-defg-hij"})
	hub.Notify(MessagesUpdated{Count: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Last-Event-ID", "1")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Expected text/event-stream, got %s", ct)
	}
	r := bufio.NewReader(resp.Body)

	id, data := readSSEData(t, r)
	if id != "2" || !strings.Contains(data, `"MESSAGES_UPDATED"`) {
		t.Errorf("Expected replay of event 2, got id=%s data=%s", id, data)
	}

	waitForSubscribers(t, hub, 1)
	hub.Notify(ObserverStopped{Count: 1})
	id, data = readSSEData(t, r)
	if id != "3" || !strings.Contains(data, `"OBSERVER_STOPPED"`) {
		t.Errorf("Expected live event 3, got id=%s data=%s", id, data)
	}

	cancel()
	waitForSubscribers(t, hub, 0)
}

func TestHandleWebSocketStreamsEvents(t *testing.T) {
	t.Parallel()
	hub := NewHub(10, nil)
	defer hub.Close()
	h := NewStreamHandler(hub, DefaultStreamConfig(), nil)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	waitForSubscribers(t, hub, 1)
	hub.Notify(CaptureLimitReached{Limit: 10})

	typ, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if typ != websocket.MessageText {
		t.Errorf("Expected text frame, got %v", typ)
	}
	ev, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	if cl, ok := ev.(CaptureLimitReached); !ok || cl.Limit != 10 {
		t.Errorf("Expected CaptureLimitReached{10}, got %#v", ev)
	}

	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		t.Logf("close: %v", err)
	}
	waitForSubscribers(t, hub, 0)
}
