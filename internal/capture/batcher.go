package capture

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/meetlog/internal/clock"
	"github.com/ashureev/meetlog/internal/dom"
)

// Batcher coalesces mutation bursts. Every Push re-arms a debounce timer; when
// it fires, the whole pending buffer goes to the flush function in one call.
// Reaching maxPending flushes immediately. Flushes never overlap.
type Batcher struct {
	clock      clock.Clock
	delay      time.Duration
	maxPending int
	flush      func([]dom.Mutation)
	logger     *slog.Logger

	mu      sync.Mutex
	pending []dom.Mutation
	timer   clock.Timer
	armed   uint64
	stopped bool

	// flushMu is taken before mu.
	flushMu sync.Mutex
}

// NewBatcher creates a batcher. A maxPending of zero or less disables the
// early flush.
func NewBatcher(clk clock.Clock, delay time.Duration, maxPending int, flush func([]dom.Mutation), logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		clock:      clk,
		delay:      delay,
		maxPending: maxPending,
		flush:      flush,
		logger:     logger,
	}
}

// Push buffers m and re-arms the debounce timer.
func (b *Batcher) Push(m dom.Mutation) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.pending = append(b.pending, m)
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.armed++
	gen := b.armed

	if b.maxPending > 0 && len(b.pending) >= b.maxPending {
		b.mu.Unlock()
		b.logger.Debug("[CAPTURE] Pending buffer full, flushing early", "pending", b.maxPending)
		b.flushPending(gen)
		return
	}

	b.timer = b.clock.AfterFunc(b.delay, func() { b.flushPending(gen) })
	b.mu.Unlock()
}

// flushPending hands the buffer to the flush function unless a newer Push or a
// Stop superseded gen.
func (b *Batcher) flushPending(gen uint64) {
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	if b.stopped || gen != b.armed || len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	batch := b.pending
	b.pending = nil
	b.timer = nil
	b.mu.Unlock()

	b.flush(batch)
}

// Pending returns the number of buffered notifications.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stop cancels the timer and discards the buffer. It does not wait for a flush
// already in progress. It returns the number of discarded notifications.
func (b *Batcher) Stop() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.stopped = true
	b.armed++
	dropped := len(b.pending)
	b.pending = nil
	return dropped
}
