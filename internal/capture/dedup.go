package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ashureev/meetlog/internal/domain"
	"github.com/ashureev/meetlog/internal/store"
)

// Outcome is the result of offering a message to the DedupStore.
type Outcome int

const (
	Accepted Outcome = iota
	RejectedDuplicate
	RejectedCapacity
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case RejectedDuplicate:
		return "rejected_duplicate"
	case RejectedCapacity:
		return "rejected_capacity"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// BatchResult summarizes one AppendBatch call.
type BatchResult struct {
	Outcomes   []Outcome
	Accepted   int
	Duplicates int
	OverLimit  int
	// Total is the number of stored messages after the call.
	Total int
}

// DedupStore is the append-only message collection. A message is a duplicate
// when a stored message has the same id, or the same content captured less
// than window apart. Once max messages are stored, new ones are rejected
// rather than evicting old ones.
type DedupStore struct {
	kv     store.KV
	max    int
	window time.Duration

	mu sync.Mutex
}

// NewDedupStore creates a store over kv. A max of zero or less means unbounded.
func NewDedupStore(kv store.KV, max int, window time.Duration) *DedupStore {
	return &DedupStore{kv: kv, max: max, window: window}
}

// Limit returns the configured capacity.
func (s *DedupStore) Limit() int {
	return s.max
}

// TryAppend offers a single message.
func (s *DedupStore) TryAppend(ctx context.Context, m domain.Message) (Outcome, error) {
	res, err := s.AppendBatch(ctx, []domain.Message{m})
	if err != nil {
		return 0, err
	}
	return res.Outcomes[0], nil
}

// AppendBatch offers msgs in order as one read-modify-write of the persisted
// collection. Messages earlier in the batch count as stored for the duplicate
// checks of later ones.
func (s *DedupStore) AppendBatch(ctx context.Context, msgs []domain.Message) (BatchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, err := s.load(ctx)
	if err != nil {
		return BatchResult{}, err
	}

	ids := make(map[string]struct{}, len(stored)+len(msgs))
	seen := make(map[string][]int64, len(stored)+len(msgs))
	for _, m := range stored {
		ids[m.ID] = struct{}{}
		seen[m.Content] = append(seen[m.Content], m.CapturedAt)
	}

	res := BatchResult{Outcomes: make([]Outcome, len(msgs))}
	for i, m := range msgs {
		switch {
		case s.isDuplicate(ids, seen, m):
			res.Outcomes[i] = RejectedDuplicate
			res.Duplicates++
		case s.max > 0 && len(stored) >= s.max:
			res.Outcomes[i] = RejectedCapacity
			res.OverLimit++
		default:
			res.Outcomes[i] = Accepted
			res.Accepted++
			stored = append(stored, m)
			ids[m.ID] = struct{}{}
			seen[m.Content] = append(seen[m.Content], m.CapturedAt)
		}
	}
	res.Total = len(stored)

	if res.Accepted > 0 {
		if err := store.SetJSON(ctx, s.kv, domain.MessagesKey, stored); err != nil {
			return BatchResult{}, fmt.Errorf("save messages: %w", err)
		}
	}
	return res, nil
}

func (s *DedupStore) isDuplicate(ids map[string]struct{}, seen map[string][]int64, m domain.Message) bool {
	if _, ok := ids[m.ID]; ok {
		return true
	}
	window := s.window.Milliseconds()
	for _, at := range seen[m.Content] {
		d := m.CapturedAt - at
		if d < 0 {
			d = -d
		}
		if d < window {
			return true
		}
	}
	return false
}

// All returns every stored message in insertion order.
func (s *DedupStore) All(ctx context.Context) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx)
}

// Count returns the number of stored messages.
func (s *DedupStore) Count(ctx context.Context) (int, error) {
	msgs, err := s.All(ctx)
	return len(msgs), err
}

// Clear removes every stored message.
func (s *DedupStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.kv.Remove(ctx, domain.MessagesKey); err != nil {
		return fmt.Errorf("clear messages: %w", err)
	}
	return nil
}

func (s *DedupStore) load(ctx context.Context) ([]domain.Message, error) {
	var msgs []domain.Message
	if _, err := store.GetJSON(ctx, s.kv, domain.MessagesKey, &msgs); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return msgs, nil
}
