package capture

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/meetlog/internal/domain"
	"github.com/ashureev/meetlog/internal/store"
)

func msgAt(id, content string, at int64) domain.Message {
	return domain.Message{ID: id, Timestamp: "09:05", Sender: "Alice", Content: content, CapturedAt: at}
}

func TestDedupStoreExactDuplicate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewDedupStore(store.NewMemory(), 100, 30*time.Second)
	m := msgAt("m1", "hello", 1000)

	out, err := s.TryAppend(ctx, m)
	require.NoError(t, err)
	require.Equal(t, Accepted, out)

	out, err = s.TryAppend(ctx, m)
	require.NoError(t, err)
	require.Equal(t, RejectedDuplicate, out)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestDedupStoreFuzzyWindow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	window := 30 * time.Second
	s := NewDedupStore(store.NewMemory(), 100, window)

	_, err := s.TryAppend(ctx, msgAt("a", "same text", 0))
	require.NoError(t, err)

	out, err := s.TryAppend(ctx, msgAt("b", "same text", window.Milliseconds()-1))
	require.NoError(t, err)
	require.Equal(t, RejectedDuplicate, out, "inside window")

	out, err = s.TryAppend(ctx, msgAt("c", "same text", window.Milliseconds()))
	require.NoError(t, err)
	require.Equal(t, Accepted, out, "at the window boundary")

	out, err = s.TryAppend(ctx, msgAt("d", "other text", 1))
	require.NoError(t, err)
	require.Equal(t, Accepted, out, "different content")

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "c", "d"}, ids(all))
}

func TestDedupStoreBatchDedupsWithinBatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewDedupStore(store.NewMemory(), 100, 30*time.Second)

	res, err := s.AppendBatch(ctx, []domain.Message{
		msgAt("a", "one", 0),
		msgAt("a", "one again", 10),
		msgAt("b", "one", 20),
		msgAt("c", "two", 30),
	})
	require.NoError(t, err)
	require.Equal(t, []Outcome{Accepted, RejectedDuplicate, RejectedDuplicate, Accepted}, res.Outcomes)
	require.Equal(t, 2, res.Accepted)
	require.Equal(t, 2, res.Duplicates)
	require.Equal(t, 2, res.Total)
}

func TestDedupStoreCapacity(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewDedupStore(store.NewMemory(), 2, time.Second)

	res, err := s.AppendBatch(ctx, []domain.Message{
		msgAt("a", "1", 0),
		msgAt("b", "2", 0),
		msgAt("c", "3", 0),
		msgAt("a", "1", 0),
	})
	require.NoError(t, err)
	require.Equal(t, []Outcome{Accepted, Accepted, RejectedCapacity, RejectedDuplicate}, res.Outcomes)
	require.Equal(t, 1, res.OverLimit)

	all, err := s.All(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, ids(all), "full store keeps existing entries")
}

func TestDedupStoreClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewDedupStore(store.NewMemory(), 0, time.Second)

	_, err := s.TryAppend(ctx, msgAt("a", "1", 0))
	require.NoError(t, err)
	require.NoError(t, s.Clear(ctx))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)

	out, err := s.TryAppend(ctx, msgAt("a", "1", 0))
	require.NoError(t, err)
	require.Equal(t, Accepted, out)
}

func TestDedupStorePropagatesWriteFailure(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := store.NewMemory()
	s := NewDedupStore(kv, 10, time.Second)
	boom := errors.New("disk full")
	kv.SetFailWrites(boom)

	_, err := s.TryAppend(ctx, msgAt("a", "1", 0))
	require.ErrorIs(t, err, boom)

	kv.SetFailWrites(nil)
	n, err := s.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDedupStorePersistsThroughKV(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	kv := store.NewMemory()

	_, err := NewDedupStore(kv, 10, time.Second).TryAppend(ctx, msgAt("a", "1", 0))
	require.NoError(t, err)

	out, err := NewDedupStore(kv, 10, time.Second).TryAppend(ctx, msgAt("a", "1", 0))
	require.NoError(t, err)
	require.Equal(t, RejectedDuplicate, out)
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()
	require.Equal(t, "accepted", Accepted.String())
	require.Equal(t, "rejected_duplicate", RejectedDuplicate.String())
	require.Equal(t, "rejected_capacity", RejectedCapacity.String())
	require.Equal(t, "outcome(9)", Outcome(9).String())
}

func ids(msgs []domain.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
