// Package lifecycle drives the capture session state machine: start with
// region lookup retries, stop, abrupt unload and recovery on the next start.
//
// Every reaction (a lifecycle call, a retry timer, a batch flush) runs under a
// single mutex, and persistence is awaited inside the reaction, so reactions
// never overlap. The persisted Session record is the source of truth; the
// coordinator only keeps the live observation in memory.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/meetlog/internal/capture"
	"github.com/ashureev/meetlog/internal/clock"
	"github.com/ashureev/meetlog/internal/dom"
	"github.com/ashureev/meetlog/internal/domain"
	"github.com/ashureev/meetlog/internal/export"
	"github.com/ashureev/meetlog/internal/notify"
	"github.com/ashureev/meetlog/internal/store"
)

var (
	// ErrPersistence wraps backend failures. The session state does not
	// advance when it is returned.
	ErrPersistence = errors.New("persistence failure")

	// ErrNothingToExport is returned by Export when no messages are stored.
	ErrNothingToExport = errors.New("no messages to export")
)

const regionNotFoundReason = "Chat container not found"

// Config tunes the coordinator.
type Config struct {
	Rules         capture.Rules
	Debounce      time.Duration
	MaxPending    int
	RetryInterval time.Duration
	// MaxAttempts caps the total number of region lookups per Start.
	MaxAttempts int
	// OpTimeout bounds persistence in timer-driven reactions.
	OpTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Rules:         capture.DefaultRules(),
		Debounce:      100 * time.Millisecond,
		MaxPending:    500,
		RetryInterval: 2 * time.Second,
		MaxAttempts:   30,
		OpTimeout:     10 * time.Second,
	}
}

// StartResult reports what Start did.
type StartResult struct {
	// Started is true when an observation is active on return.
	Started bool
	// Pending is true when the region was not found yet and a retry is
	// scheduled.
	Pending bool
}

// Status is the persisted session plus whether a region lookup is pending.
type Status struct {
	domain.Session
	Locating bool `json:"locating"`
}

// observerSession is one live observation: from a successful Start until
// Stop or Unload.
type observerSession struct {
	generation  uint64
	token       string
	meetingID   string
	extractor   *capture.Extractor
	sub         dom.Subscription
	batcher     *capture.Batcher
	limitWarned bool
	// unsaved holds nodes whose messages failed to persist. They are retried
	// with the next batch.
	unsaved []dom.Node
}

// locateAttempt is a Start that is still waiting for the region.
type locateAttempt struct {
	generation uint64
	meetingID  string
	attempts   int
	timer      clock.Timer
}

// Coordinator owns the Session and PendingRecovery records.
type Coordinator struct {
	doc      dom.Document
	kv       store.KV
	messages *capture.DedupStore
	sink     notify.Sink
	clock    clock.Clock
	cfg      Config
	locator  *capture.Locator
	logger   *slog.Logger

	mu              sync.Mutex
	generation      uint64
	session         *observerSession
	locating        *locateAttempt
	recoveryChecked bool
}

// New creates a coordinator. Messages must be backed by the same kv.
func New(doc dom.Document, kv store.KV, messages *capture.DedupStore, sink notify.Sink, clk clock.Clock, cfg Config, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real()
	}
	if sink == nil {
		sink = notify.SinkFunc(func(notify.Event) {})
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.OpTimeout <= 0 {
		cfg.OpTimeout = 10 * time.Second
	}
	return &Coordinator{
		doc:      doc,
		kv:       kv,
		messages: messages,
		sink:     sink,
		clock:    clk,
		cfg:      cfg,
		locator:  capture.NewLocator(cfg.Rules.Regions, logger),
		logger:   logger,
	}
}

// Start begins recording. It is a no-op success while already recording or
// while a region lookup is pending. When the region is missing, lookups are
// retried every RetryInterval up to MaxAttempts in total; after the last one
// an ObserverError is emitted and the session stays idle.
func (c *Coordinator) Start(ctx context.Context) (StartResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil {
		c.logger.Info("[LIFECYCLE] Observer already running")
		return StartResult{Started: true}, nil
	}
	if c.locating != nil {
		return StartResult{Pending: true}, nil
	}

	c.generation++
	meetingID, _ := capture.MeetingID(c.doc.URL())
	c.locating = &locateAttempt{generation: c.generation, meetingID: meetingID}
	return c.attemptLocked(ctx)
}

func (c *Coordinator) attemptLocked(ctx context.Context) (StartResult, error) {
	la := c.locating
	la.attempts++

	region, err := c.locator.Locate(ctx, c.doc)
	if err == nil {
		c.locating = nil
		if err := c.beginLocked(ctx, region, la.meetingID, la.generation); err != nil {
			return StartResult{}, err
		}
		return StartResult{Started: true}, nil
	}

	if la.attempts >= c.cfg.MaxAttempts {
		c.locating = nil
		c.logger.Error("[LIFECYCLE] Max retries reached, giving up",
			"attempts", la.attempts,
			"error", err,
		)
		c.sink.Notify(notify.ObserverError{Reason: regionNotFoundReason})
		return StartResult{}, fmt.Errorf("locate chat region after %d attempts: %w", la.attempts, err)
	}

	c.logger.Info("[LIFECYCLE] Chat region not found, will retry",
		"attempt", la.attempts,
		"max_attempts", c.cfg.MaxAttempts,
	)
	gen := la.generation
	la.timer = c.clock.AfterFunc(c.cfg.RetryInterval, func() { c.retry(gen) })
	return StartResult{Pending: true}, nil
}

func (c *Coordinator) retry(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.locating == nil || c.locating.generation != gen {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OpTimeout)
	defer cancel()
	if _, err := c.attemptLocked(ctx); err != nil && !errors.Is(err, capture.ErrNotFound) {
		c.logger.Error("[LIFECYCLE] Failed to start observer", "error", err)
		c.sink.Notify(notify.ObserverError{Reason: err.Error()})
	}
}

// beginLocked subscribes to region, captures what is already there and
// persists the Recording record. Nothing is kept if any step fails.
func (c *Coordinator) beginLocked(ctx context.Context, region dom.Node, meetingID string, gen uint64) error {
	token := uuid.NewString()
	s := &observerSession{
		generation: gen,
		token:      token,
		meetingID:  meetingID,
		extractor:  capture.NewExtractor(c.cfg.Rules, c.clock, token, c.logger),
	}
	s.batcher = capture.NewBatcher(c.clock, c.cfg.Debounce, c.cfg.MaxPending, func(batch []dom.Mutation) {
		c.handleBatch(gen, batch)
	}, c.logger)

	sub, err := c.doc.Subscribe(region, s.batcher.Push)
	if err != nil {
		return fmt.Errorf("subscribe to chat region: %w", err)
	}
	s.sub = sub

	existing, _ := c.extractAll(s, []dom.Node{region})
	res, err := c.messages.AppendBatch(ctx, existing)
	if err != nil {
		s.close()
		return fmt.Errorf("%w: capture existing messages: %w", ErrPersistence, err)
	}

	now := c.clock.Now().UnixMilli()
	record := domain.Session{
		IsRecording:  true,
		StartedAt:    &now,
		MessageCount: res.Total,
		State:        domain.StateRecording,
	}
	if meetingID != "" {
		record.MeetingID = &meetingID
	}
	if err := c.saveSession(ctx, record); err != nil {
		s.close()
		return err
	}

	c.session = s
	c.logger.Info("[LIFECYCLE] Observer started",
		"meeting_id", meetingID,
		"existing", res.Accepted,
		"count", res.Total,
	)
	c.sink.Notify(notify.ObserverStarted{MeetingID: meetingID})
	if res.Accepted > 0 {
		c.sink.Notify(notify.MessagesUpdated{Count: res.Total})
	}
	c.warnLimitLocked(s, res)
	return nil
}

// handleBatch is the batcher's flush function for observation gen.
func (c *Coordinator) handleBatch(gen uint64, batch []dom.Mutation) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.session
	if s == nil || s.generation != gen {
		return
	}

	added := s.unsaved
	s.unsaved = nil
	for _, m := range batch {
		added = append(added, m.Added...)
	}
	msgs, nodes := c.extractAll(s, added)
	if len(msgs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OpTimeout)
	defer cancel()

	res, err := c.messages.AppendBatch(ctx, msgs)
	if err != nil {
		c.logger.Error("[LIFECYCLE] Failed to save messages", "error", err, "count", len(msgs))
		for _, n := range nodes {
			s.extractor.Release(n)
		}
		s.unsaved = nodes
		c.sink.Notify(notify.ObserverError{Reason: err.Error()})
		return
	}
	if res.Accepted > 0 {
		record, err := c.loadSession(ctx)
		if err == nil {
			record.MessageCount = res.Total
			err = c.saveSession(ctx, record)
		}
		if err != nil {
			c.logger.Error("[LIFECYCLE] Failed to update message count", "error", err)
			c.sink.Notify(notify.ObserverError{Reason: err.Error()})
		}
		c.logger.Info("[LIFECYCLE] Captured new messages",
			"accepted", res.Accepted,
			"duplicates", res.Duplicates,
			"count", res.Total,
		)
		c.sink.Notify(notify.MessagesUpdated{Count: res.Total})
	}
	c.warnLimitLocked(s, res)
}

// extractAll returns the messages under roots and the nodes they came from.
func (c *Coordinator) extractAll(s *observerSession, roots []dom.Node) ([]domain.Message, []dom.Node) {
	var (
		msgs  []domain.Message
		nodes []dom.Node
	)
	for _, root := range roots {
		for _, n := range s.extractor.Candidates(root) {
			if m, ok := s.extractor.Extract(n); ok {
				msgs = append(msgs, m)
				nodes = append(nodes, n)
			}
		}
	}
	return msgs, nodes
}

func (c *Coordinator) warnLimitLocked(s *observerSession, res capture.BatchResult) {
	if res.OverLimit == 0 || s.limitWarned {
		return
	}
	s.limitWarned = true
	c.logger.Warn("[LIFECYCLE] Message limit reached, new messages are not captured",
		"limit", c.messages.Limit(),
		"rejected", res.OverLimit,
	)
	c.sink.Notify(notify.CaptureLimitReached{Limit: c.messages.Limit()})
}

// Stop ends recording and persists the Stopped record. It is a no-op when not
// recording, apart from cancelling a pending region lookup. On a persistence
// error the observation keeps running.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelLocateLocked()
	if c.session == nil {
		return nil
	}

	count, err := c.messages.Count(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	record, err := c.loadSession(ctx)
	if err != nil {
		return err
	}
	record.IsRecording = false
	record.MessageCount = count
	record.State = domain.StateStopped
	if err := c.saveSession(ctx, record); err != nil {
		return err
	}

	c.teardownLocked()
	c.logger.Info("[LIFECYCLE] Observer stopped", "count", count)
	c.sink.Notify(notify.ObserverStopped{Count: count})
	return nil
}

// Unload handles abrupt termination of the observed page. It tears down like
// Stop, records the session as Interrupted and, when messages exist, persists
// a PendingRecovery entry.
func (c *Coordinator) Unload(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelLocateLocked()
	if c.session == nil {
		return nil
	}

	msgs, err := c.messages.All(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	record, err := c.loadSession(ctx)
	if err != nil {
		return err
	}
	meetingID := record.MeetingIDOr("unknown")

	if len(msgs) > 0 {
		pending := domain.PendingRecovery{
			MeetingID: meetingID,
			Messages:  msgs,
			EndedAt:   c.clock.Now().UnixMilli(),
		}
		if err := store.SetJSON(ctx, c.kv, domain.RecoveryKey, pending); err != nil {
			return fmt.Errorf("%w: save pending recovery: %w", ErrPersistence, err)
		}
	}

	record.IsRecording = false
	record.MessageCount = len(msgs)
	record.State = domain.StateInterrupted
	if err := c.saveSession(ctx, record); err != nil {
		if len(msgs) > 0 {
			if rmErr := c.kv.Remove(ctx, domain.RecoveryKey); rmErr != nil {
				c.logger.Error("[LIFECYCLE] Failed to remove pending recovery", "error", rmErr)
			}
		}
		return err
	}

	c.teardownLocked()
	c.logger.Warn("[LIFECYCLE] Session interrupted", "meeting_id", meetingID, "count", len(msgs))
	c.sink.Notify(notify.ObserverStopped{Count: len(msgs)})
	c.sink.Notify(notify.SessionInterrupted{MeetingID: meetingID, Count: len(msgs)})
	return nil
}

// CheckRecovery emits PendingRecovery when the persisted record shows a
// session that captured messages and is no longer recording. It reports the
// condition at most once per coordinator and never changes state.
func (c *Coordinator) CheckRecovery(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.recoveryChecked {
		return false, nil
	}
	record, err := c.loadSession(ctx)
	if err != nil {
		return false, err
	}
	c.recoveryChecked = true
	if !record.NeedsRecovery() {
		return false, nil
	}

	meetingID := record.MeetingIDOr("unknown")
	c.logger.Info("[LIFECYCLE] Found unsaved session", "meeting_id", meetingID, "count", record.MessageCount)
	c.sink.Notify(notify.PendingRecovery{MeetingID: meetingID, Count: record.MessageCount})
	return true, nil
}

// Recovery returns the pending recovery entry, or nil when there is none.
func (c *Coordinator) Recovery(ctx context.Context) (*domain.PendingRecovery, error) {
	var pending domain.PendingRecovery
	ok, err := store.GetJSON(ctx, c.kv, domain.RecoveryKey, &pending)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if !ok {
		return nil, nil
	}
	return &pending, nil
}

// AcknowledgeRecovery removes the pending recovery entry and returns an
// interrupted or stopped session to Idle. With discard the captured messages
// are cleared too.
func (c *Coordinator) AcknowledgeRecovery(ctx context.Context, discard bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.kv.Remove(ctx, domain.RecoveryKey); err != nil {
		return fmt.Errorf("%w: remove pending recovery: %w", ErrPersistence, err)
	}
	if discard {
		if err := c.messages.Clear(ctx); err != nil {
			return fmt.Errorf("%w: %w", ErrPersistence, err)
		}
	}
	if c.session != nil {
		if !discard {
			return nil
		}
		record, err := c.loadSession(ctx)
		if err != nil {
			return err
		}
		record.MessageCount = 0
		return c.saveSession(ctx, record)
	}

	record, err := c.loadSession(ctx)
	if err != nil {
		return err
	}
	if discard {
		record = domain.EmptySession()
	} else {
		record.IsRecording = false
		record.StartedAt = nil
		record.State = domain.StateIdle
	}
	if err := c.saveSession(ctx, record); err != nil {
		return err
	}
	c.logger.Info("[LIFECYCLE] Recovery acknowledged", "discard", discard)
	return nil
}

// ClearMessages removes every captured message and the pending recovery
// entry. While recording the count drops to zero; otherwise the session record
// is reset.
func (c *Coordinator) ClearMessages(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.messages.Clear(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if err := c.kv.Remove(ctx, domain.RecoveryKey); err != nil {
		return fmt.Errorf("%w: remove pending recovery: %w", ErrPersistence, err)
	}

	record := domain.EmptySession()
	if c.session != nil {
		var err error
		if record, err = c.loadSession(ctx); err != nil {
			return err
		}
		record.MessageCount = 0
	}
	if err := c.saveSession(ctx, record); err != nil {
		return err
	}
	c.logger.Info("[LIFECYCLE] Messages cleared")
	c.sink.Notify(notify.MessagesUpdated{Count: 0})
	return nil
}

// Status returns the persisted session record.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	c.mu.Lock()
	locating := c.locating != nil
	c.mu.Unlock()

	record, err := c.loadSession(ctx)
	if err != nil {
		return Status{}, err
	}
	return Status{Session: record, Locating: locating}, nil
}

// Messages returns every captured message in capture order.
func (c *Coordinator) Messages(ctx context.Context) ([]domain.Message, error) {
	msgs, err := c.messages.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return msgs, nil
}

// Export renders the captured messages. A successful export hands the data
// off, so the pending recovery entry is removed.
func (c *Coordinator) Export(ctx context.Context, format export.Format) (export.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	msgs, err := c.messages.All(ctx)
	if err != nil {
		return export.File{}, fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	if len(msgs) == 0 {
		return export.File{}, ErrNothingToExport
	}
	record, err := c.loadSession(ctx)
	if err != nil {
		return export.File{}, err
	}

	file, err := export.Render(format, msgs, record.MeetingIDOr(""), c.clock.Now())
	if err != nil {
		return export.File{}, err
	}
	if err := c.kv.Remove(ctx, domain.RecoveryKey); err != nil {
		return export.File{}, fmt.Errorf("%w: remove pending recovery: %w", ErrPersistence, err)
	}
	c.logger.Info("[LIFECYCLE] Messages exported", "file", file.Name, "count", len(msgs))
	return file, nil
}

func (c *Coordinator) cancelLocateLocked() {
	if c.locating == nil {
		return
	}
	if c.locating.timer != nil {
		c.locating.timer.Stop()
	}
	c.logger.Info("[LIFECYCLE] Region lookup cancelled", "attempts", c.locating.attempts)
	c.locating = nil
}

func (c *Coordinator) teardownLocked() {
	if c.session == nil {
		return
	}
	if dropped := c.session.close(); dropped > 0 {
		c.logger.Debug("[LIFECYCLE] Discarded unflushed mutations", "count", dropped)
	}
	c.session = nil
}

func (s *observerSession) close() int {
	if s.sub != nil {
		s.sub.Close()
	}
	return s.batcher.Stop()
}

func (c *Coordinator) loadSession(ctx context.Context) (domain.Session, error) {
	var record domain.Session
	ok, err := store.GetJSON(ctx, c.kv, domain.SessionKey, &record)
	if err != nil {
		return domain.Session{}, fmt.Errorf("%w: load session: %w", ErrPersistence, err)
	}
	if !ok {
		return domain.EmptySession(), nil
	}
	if record.State == "" {
		record.State = inferState(record)
	}
	return record, nil
}

func (c *Coordinator) saveSession(ctx context.Context, record domain.Session) error {
	if err := store.SetJSON(ctx, c.kv, domain.SessionKey, record); err != nil {
		return fmt.Errorf("%w: save session: %w", ErrPersistence, err)
	}
	return nil
}

// inferState fills in State for records written without it.
func inferState(s domain.Session) domain.State {
	switch {
	case s.IsRecording:
		return domain.StateRecording
	case s.StartedAt != nil:
		return domain.StateStopped
	default:
		return domain.StateIdle
	}
}
