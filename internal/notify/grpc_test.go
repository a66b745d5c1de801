package notify

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"
)

func TestGRPCSubscribeStreamsEvents(t *testing.T) {
	t.Parallel()
	hub := NewHub(10, nil)
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	RegisterGRPC(srv, hub, nil)
	go func() { _ = srv.Serve(lis) }()
	defer srv.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := NewClient(ctx, "passthrough:///bufnet", nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	defer client.Close()

	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()

	got := make(chan Event, 4)
	done := make(chan error, 1)
	go func() {
		for ev, err := range client.Events(streamCtx) {
			if err != nil {
				done <- err
				return
			}
			got <- ev
		}
		done <- nil
	}()

	waitForSubscribers(t, hub, 1)
	hub.Notify(SessionInterrupted{MeetingID: "abc-defg-hij", Count: 3})

	select {
	case ev := <-got:
		si, ok := ev.(SessionInterrupted)
		if !ok || si.Count != 3 || si.MeetingID != "abc-defg-hij" {
			t.Errorf("Expected SessionInterrupted, got %#v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	hub.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected clean end of stream, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("stream did not end after hub closed")
	}
}
