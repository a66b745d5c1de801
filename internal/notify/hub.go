package notify

import (
	"container/list"
	"log/slog"
	"sync"
	"time"
)

// Record is an event as delivered to subscribers.
type Record struct {
	ID    int64
	Event Event
	Data  []byte
	At    time.Time
}

// Hub fans events out to subscribers and keeps a bounded replay buffer so
// reconnecting clients can catch up. Slow subscribers lose events rather than
// block the publisher.
type Hub struct {
	mu        sync.Mutex
	nextEvent int64
	nextSub   int64
	subs      map[int64]chan Record
	replay    *list.List
	replayMax int
	closed    bool
	logger    *slog.Logger
}

// NewHub creates a hub keeping the last replayMax events.
func NewHub(replayMax int, logger *slog.Logger) *Hub {
	if replayMax <= 0 {
		replayMax = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		subs:      make(map[int64]chan Record),
		replay:    list.New(),
		replayMax: replayMax,
		logger:    logger,
	}
}

// Notify publishes e. It never blocks.
func (h *Hub) Notify(e Event) {
	data, err := Marshal(e)
	if err != nil {
		h.logger.Error("[NOTIFY] Failed to marshal event", "type", e.Kind(), "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}

	h.nextEvent++
	rec := Record{ID: h.nextEvent, Event: e, Data: data, At: time.Now()}
	h.replay.PushBack(rec)
	for h.replay.Len() > h.replayMax {
		h.replay.Remove(h.replay.Front())
	}

	h.logger.Info("[NOTIFY] Event published", "type", e.Kind(), "event_id", rec.ID, "subscribers", len(h.subs))
	for id, ch := range h.subs {
		select {
		case ch <- rec:
		default:
			h.logger.Warn("[NOTIFY] Subscriber queue full, dropping event",
				"subscriber", id,
				"event_id", rec.ID,
			)
		}
	}
}

// Subscribe registers a subscriber with the given buffer size. The returned
// function unsubscribes and closes the channel. The channel is also closed
// when the hub closes.
func (h *Hub) Subscribe(buffer int) (<-chan Record, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Record, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.nextSub++
	id := h.nextSub
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Since returns buffered events with an ID greater than after.
func (h *Hub) Since(after int64) []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []Record
	for e := h.replay.Front(); e != nil; e = e.Next() {
		rec := e.Value.(Record)
		if rec.ID > after {
			out = append(out, rec)
		}
	}
	return out
}

// LastID returns the ID of the most recent event.
func (h *Hub) LastID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.nextEvent
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close closes every subscriber channel. Later events are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// Recorder is a Sink that keeps every event it receives.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Count returns how many recorded events have kind k.
func (r *Recorder) Count(k Kind) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Kind() == k {
			n++
		}
	}
	return n
}

// Last returns the most recent event of kind k, or nil.
func (r *Recorder) Last(k Kind) Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Kind() == k {
			return r.events[i]
		}
	}
	return nil
}
