package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"satunaskah/internal/document/model"
	"satunaskah/pkg/logger"

	"go.uber.org/multierr"
)

const (
	DefaultAutosaveInterval  = 30 * time.Second
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultFreshnessWindow   = 60 * time.Second
	DefaultRequestTimeout    = 15 * time.Second

	taskQueueSize = 64
)

type Options struct {
	AutosaveInterval  time.Duration
	HeartbeatInterval time.Duration
	FreshnessWindow   time.Duration
	RequestTimeout    time.Duration

	Notifier Notifier

	// Callbacks run on the session's task queue.
	OnPresence func(users []ActiveUser)
	OnRemote   func(change model.DocumentChange)
	OnCreated  func(docID string)
	OnFind     func()
}

func (o *Options) setDefaults() {
	if o.AutosaveInterval <= 0 {
		o.AutosaveInterval = DefaultAutosaveInterval
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.FreshnessWindow <= 0 {
		o.FreshnessWindow = DefaultFreshnessWindow
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.Notifier == nil {
		o.Notifier = LogNotifier{}
	}
}

// Controller runs one document editing session. It owns a single goroutine that
// serializes local edits, remote changes, save completions and timer ticks, so
// handlers never run concurrently with each other. Network calls happen off
// that goroutine and post their results back.
type Controller struct {
	opts   Options
	store  Persistence
	buf    Buffer
	userID string
	coord  *Coordinator

	tasks chan func()
	stop  chan struct{}
	done  chan struct{}

	mu      sync.Mutex
	closed  bool
	opened  bool
	started bool

	closeOnce sync.Once
	closeErr  error

	// Owned by the loop once it runs.
	tracker       *Tracker
	unsubDoc      Unsubscribe
	unsubSessions Unsubscribe
	autosave      *time.Ticker
	heartbeat     *time.Ticker
	appliedSeq    uint64
	waiters       []chan<- error

	beats       sync.WaitGroup

	presenceSeq atomic.Uint64
}

// NewController prepares a session for docID. Pass model.NewDocumentID (or "")
// for a document that has never been saved.
func NewController(store Persistence, buf Buffer, userID, docID string, opts Options) *Controller {
	opts.setDefaults()
	c := &Controller{
		opts:   opts,
		store:  store,
		buf:    buf,
		userID: userID,
		tasks:  make(chan func(), taskQueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	c.coord = NewCoordinator(store, buf, opts.Notifier, userID, docID)
	c.coord.onCreated = c.attachCreated
	return c
}

// Open loads the document and starts live sync. Without a user it fails with
// ErrUnauthenticated before touching the store. A new document, or an id the
// store does not know, skips subscriptions and presence until its first save.
func (c *Controller) Open(ctx context.Context) error {
	if c.userID == "" {
		return ErrUnauthenticated
	}
	c.mu.Lock()
	if c.opened || c.closed {
		c.mu.Unlock()
		return errors.New("editing session already opened")
	}
	c.opened = true
	c.mu.Unlock()

	if err := c.coord.Open(ctx); err != nil {
		_ = c.Close(ctx)
		return err
	}

	if docID := c.coord.DocumentID(); docID != "" {
		a, err := c.connect(ctx, docID)
		if err != nil {
			c.opts.Notifier.Notify(errorNotice("Failed to start live updates", err))
			_ = c.Close(ctx)
			return err
		}
		c.install(a)
	}

	c.autosave = time.NewTicker(c.opts.AutosaveInterval)
	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	go c.run()
	return nil
}

func (c *Controller) run() {
	defer close(c.done)
	for {
		var heartbeatC <-chan time.Time
		if c.heartbeat != nil {
			heartbeatC = c.heartbeat.C
		}

		select {
		case <-c.stop:
			return
		case fn := <-c.tasks:
			fn()
		case <-c.autosave.C:
			c.startSave(TriggerAutosave, nil)
		case <-heartbeatC:
			c.beat()
		}
	}
}

// post queues fn on the loop. It must not be called from the loop itself.
func (c *Controller) post(fn func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.tasks <- fn
	return true
}

// Dispatch runs fn on the session's task queue; use it for local edits.
func (c *Controller) Dispatch(fn func()) bool {
	return c.post(fn)
}

func (c *Controller) SetTitle(title string) bool {
	return c.post(func() { c.coord.SetTitle(title) })
}

// Save performs an explicit save and waits for its outcome. While another save
// runs, it waits for the follow-up save that picks up the current buffer.
func (c *Controller) Save(ctx context.Context) error {
	reply := make(chan error, 1)
	if !c.post(func() { c.startSave(TriggerManual, reply) }) {
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shortcut routes editor keyboard shortcuts and reports whether key was handled.
func (c *Controller) Shortcut(key string) bool {
	switch strings.ToLower(key) {
	case "mod+s", "ctrl+s", "cmd+s":
		c.post(func() { c.startSave(TriggerShortcut, nil) })
		return true
	case "mod+f", "ctrl+f", "cmd+f":
		if c.opts.OnFind != nil {
			c.post(c.opts.OnFind)
		}
		return true
	}
	return false
}

func (c *Controller) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.opts.RequestTimeout)
}

func (c *Controller) startSave(trigger SaveTrigger, reply chan<- error) {
	var replies []chan<- error
	if reply != nil {
		replies = append(replies, reply)
	}
	job, status := c.coord.prepareSave(trigger)
	switch status {
	case saveStarted:
		c.launchSave(job, replies)
	case saveQueued:
		c.waiters = append(c.waiters, replies...)
	default:
		answer(replies, c.skipErr())
	}
}

// launchSave runs job off the loop. Its completion starts the queued save, if
// any, and hands that save the callers that were waiting for it.
func (c *Controller) launchSave(job saveJob, replies []chan<- error) {
	go func() {
		// In-flight saves are not aborted on close; only their completion is dropped.
		ctx, cancel := c.requestContext()
		defer cancel()
		res := c.coord.runSave(ctx, job)
		posted := c.post(func() {
			answer(replies, c.coord.completeSave(res))
			waiters := c.waiters
			c.waiters = nil
			next, status := c.coord.nextSave()
			if status == saveStarted {
				c.launchSave(next, waiters)
				return
			}
			answer(waiters, c.skipErr())
		})
		if !posted {
			answer(replies, ErrClosed)
		}
	}()
}

// skipErr is what a caller hears when its save was skipped.
func (c *Controller) skipErr() error {
	if c.coord.State() == StateClosed {
		return ErrClosed
	}
	return nil
}

func answer(replies []chan<- error, err error) {
	for _, r := range replies {
		r <- err
	}
}

func (c *Controller) applyRemote(change model.DocumentChange) {
	if c.coord.ApplyRemote(change) && c.opts.OnRemote != nil {
		c.opts.OnRemote(change)
	}
}

func (c *Controller) beat() {
	tracker := c.tracker
	c.beats.Add(1)
	go func() {
		defer c.beats.Done()
		ctx, cancel := c.requestContext()
		defer cancel()
		_ = tracker.Heartbeat(ctx)
	}()
}

func (c *Controller) refreshPresence(t *Tracker) {
	seq := c.presenceSeq.Add(1)
	go func() {
		ctx, cancel := c.requestContext()
		defer cancel()
		users, err := t.Refresh(ctx)
		if err != nil {
			return
		}
		c.post(func() {
			if seq < c.appliedSeq {
				return
			}
			c.appliedSeq = seq
			if c.opts.OnPresence != nil {
				c.opts.OnPresence(users)
			}
		})
	}()
}

// attachment is the live-sync wiring of one document id.
type attachment struct {
	tracker       *Tracker
	unsubDoc      Unsubscribe
	unsubSessions Unsubscribe
}

func (a attachment) release(ctx context.Context) {
	_ = safely("unsubscribe document changes", a.unsubDoc)
	_ = safely("unsubscribe session changes", a.unsubSessions)
	_ = a.tracker.Leave(ctx)
}

func (c *Controller) connect(ctx context.Context, docID string) (attachment, error) {
	unsubDoc, err := c.store.SubscribeToDocumentChanges(ctx, docID, func(change model.DocumentChange) {
		c.post(func() { c.applyRemote(change) })
	})
	if err != nil {
		return attachment{}, fmt.Errorf("subscribe to document %s: %w", docID, err)
	}

	tracker := NewTracker(c.store, docID, c.userID, c.opts.FreshnessWindow)
	_ = tracker.Heartbeat(ctx)

	unsubSessions, err := c.store.SubscribeToSessionChanges(ctx, docID, func() { c.refreshPresence(tracker) })
	if err != nil {
		logger.Sugar.Warnf("Presence updates unavailable for doc %s: %v", docID, err)
	}
	return attachment{tracker: tracker, unsubDoc: unsubDoc, unsubSessions: unsubSessions}, nil
}

func (c *Controller) install(a attachment) {
	c.tracker = a.tracker
	c.unsubDoc = a.unsubDoc
	c.unsubSessions = a.unsubSessions
	c.heartbeat = time.NewTicker(c.opts.HeartbeatInterval)
	c.refreshPresence(a.tracker)
}

// attachCreated runs on the loop once a new document has its id.
func (c *Controller) attachCreated(docID string) {
	if c.opts.OnCreated != nil {
		c.opts.OnCreated(docID)
	}
	go func() {
		ctx, cancel := c.requestContext()
		defer cancel()
		a, err := c.connect(ctx, docID)
		if err != nil {
			c.opts.Notifier.Notify(errorNotice("Failed to start live updates", err))
			return
		}
		if !c.post(func() { c.install(a) }) {
			a.release(ctx)
		}
	}()
}

// Close tears the session down. Every step runs even when an earlier one fails;
// the combined error is for logging only.
func (c *Controller) Close(ctx context.Context) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.shutdown(ctx)
	})
	return c.closeErr
}

func (c *Controller) shutdown(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	started := c.started
	c.mu.Unlock()

	close(c.stop)
	if started {
		<-c.done
	}
	c.coord.Close()

	// Run whatever was queued before close so late installs get released below.
	for {
		select {
		case fn := <-c.tasks:
			fn()
			continue
		default:
		}
		break
	}

	answer(c.waiters, ErrClosed)
	c.waiters = nil

	var err error
	err = multierr.Append(err, safely("unsubscribe document changes", c.unsubDoc))
	err = multierr.Append(err, safely("unsubscribe session changes", c.unsubSessions))
	if c.heartbeat != nil {
		c.heartbeat.Stop()
	}
	if c.autosave != nil {
		c.autosave.Stop()
	}
	// A heartbeat landing after Leave would bring the row back.
	c.beats.Wait()
	if c.tracker != nil {
		tracker := c.tracker
		err = multierr.Append(err, safely("delete session", func() error { return tracker.Leave(ctx) }))
	}
	if err != nil {
		logger.Sugar.Warnf("Editing session teardown: %v", err)
	}
	return err
}

// safely runs one teardown step, turning a panic into an error.
func safely(step string, fn func() error) (err error) {
	if fn == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", step, r)
		}
	}()
	if e := fn(); e != nil {
		return fmt.Errorf("%s: %w", step, e)
	}
	return nil
}
