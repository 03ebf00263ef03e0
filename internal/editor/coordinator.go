package editor

import (
	"context"
	"errors"
	"fmt"

	"satunaskah/internal/document/model"
	"satunaskah/pkg/logger"
)

type State int

const (
	StateLoading State = iota
	StateSynced
	StateSaving
	StateReceivingRemote
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateSynced:
		return "synced"
	case StateSaving:
		return "saving"
	case StateReceivingRemote:
		return "receiving_remote"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// maxEchoes bounds the writes remembered while their change events are outstanding.
const maxEchoes = 8

type SaveTrigger int

const (
	TriggerAutosave SaveTrigger = iota
	TriggerManual
	TriggerShortcut
)

func (t SaveTrigger) String() string {
	switch t {
	case TriggerAutosave:
		return "autosave"
	case TriggerManual:
		return "manual"
	default:
		return "shortcut"
	}
}

// Coordinator reconciles the buffer with the store for one open document.
//
// Conflict policy is last-writer-wins on whole content. A remote change whose
// content differs from the buffer replaces it immediately, even when the buffer
// holds edits that were never saved; those edits are lost without warning.
// A change is treated as our own echo when its content equals the buffer or
// one of our recent writes; only those are guarded against.
//
// Coordinator is not safe for concurrent use: every method except runSave must
// be called from the owning session's task queue.
type Coordinator struct {
	store    Persistence
	buf      Buffer
	notifier Notifier
	userID   string

	docID string
	title string
	// savedTitle is the title last known to be in the store.
	savedTitle string
	state      State

	// One save runs at a time so our own writes reach the store in order.
	// Requests arriving meanwhile collapse into a single follow-up save.
	saving         bool
	pending        bool
	pendingTrigger SaveTrigger
	// echoes holds contents we wrote whose change event has not come back yet, oldest first.
	echoes []string

	// onCreated runs on the task queue after the first successful create.
	onCreated func(docID string)
}

func NewCoordinator(store Persistence, buf Buffer, notifier Notifier, userID, docID string) *Coordinator {
	if docID == model.NewDocumentID {
		docID = ""
	}
	if notifier == nil {
		notifier = LogNotifier{}
	}
	return &Coordinator{
		store:    store,
		buf:      buf,
		notifier: notifier,
		userID:   userID,
		docID:    docID,
		state:    StateLoading,
	}
}

// DocumentID is empty until a new document has been created.
func (c *Coordinator) DocumentID() string { return c.docID }

func (c *Coordinator) Title() string { return c.title }

func (c *Coordinator) SetTitle(title string) { c.title = title }

func (c *Coordinator) State() State { return c.state }

// Open loads the persisted content into the buffer. A document that does not
// exist opens empty as a new document. On any other failure the buffer is left
// untouched.
func (c *Coordinator) Open(ctx context.Context) error {
	c.state = StateLoading
	if c.docID == "" {
		c.state = StateSynced
		return nil
	}

	doc, err := c.store.FetchDocument(ctx, c.docID)
	if errors.Is(err, ErrNotFound) {
		// Nothing to subscribe to yet; the first save creates the row under a new id.
		logger.Sugar.Infof("Document %s not found, starting a new one", c.docID)
		c.docID = ""
		c.state = StateSynced
		return nil
	}
	if err != nil {
		c.notifier.Notify(errorNotice("Failed to load document", err))
		return fmt.Errorf("fetch document %s: %w", c.docID, err)
	}

	c.title = doc.Title
	c.savedTitle = doc.Title
	c.buf.SetContent(doc.Content)
	c.state = StateSynced
	return nil
}

// ApplyRemote handles one change-feed event and reports whether the buffer was overwritten.
func (c *Coordinator) ApplyRemote(change model.DocumentChange) bool {
	if c.state == StateClosed || c.state == StateLoading {
		return false
	}
	prev := c.state
	c.state = StateReceivingRemote
	defer func() { c.state = prev }()

	if c.takeEcho(change.Content) {
		return false
	}
	if change.Content == c.buf.Content() {
		// Pick up a remote rename only when no local rename is waiting to be saved.
		if c.title == c.savedTitle {
			c.title = change.Title
		}
		c.savedTitle = change.Title
		return false
	}
	c.title = change.Title
	c.savedTitle = change.Title
	c.buf.SetContent(change.Content)
	logger.Sugar.Debugf("Applied remote content for doc %s", c.docID)
	return true
}

// takeEcho reports whether content is one of our outstanding writes and forgets
// it along with every older one.
func (c *Coordinator) takeEcho(content string) bool {
	for i, sent := range c.echoes {
		if sent == content {
			c.echoes = c.echoes[i+1:]
			return true
		}
	}
	return false
}

type saveJob struct {
	trigger SaveTrigger
	docID   string
	title   string
	content string
}

type saveResult struct {
	job saveJob
	doc model.Document
	err error
}

type saveStatus int

const (
	saveSkipped saveStatus = iota
	saveQueued
	saveStarted
)

// prepareSave snapshots the buffer when no other save is running. A request
// made while one runs is queued and picked up by nextSave. Autosave of an
// empty buffer and saves on a closed session are skipped.
func (c *Coordinator) prepareSave(trigger SaveTrigger) (saveJob, saveStatus) {
	if c.state == StateClosed || c.state == StateLoading {
		return saveJob{}, saveSkipped
	}
	if trigger == TriggerAutosave && c.buf.Content() == "" {
		return saveJob{}, saveSkipped
	}
	if c.saving {
		if !c.pending || trigger != TriggerAutosave {
			c.pendingTrigger = trigger
		}
		c.pending = true
		return saveJob{}, saveQueued
	}
	c.saving = true
	c.state = StateSaving
	content := c.buf.Content()
	c.echoes = append(c.echoes, content)
	if len(c.echoes) > maxEchoes {
		c.echoes = c.echoes[len(c.echoes)-maxEchoes:]
	}
	return saveJob{trigger: trigger, docID: c.docID, title: c.title, content: content}, saveStarted
}

// nextSave starts the queued save, if any, from a fresh snapshot. Call it after completeSave.
func (c *Coordinator) nextSave() (saveJob, saveStatus) {
	if !c.pending {
		return saveJob{}, saveSkipped
	}
	c.pending = false
	return c.prepareSave(c.pendingTrigger)
}

// runSave performs the network call. It reads only immutable fields, so it may
// run off the task queue.
func (c *Coordinator) runSave(ctx context.Context, job saveJob) saveResult {
	if job.docID == "" {
		doc, err := c.store.CreateDocument(ctx, job.title, job.content, c.userID)
		return saveResult{job: job, doc: doc, err: err}
	}
	err := c.store.UpdateDocument(ctx, job.docID, model.DocumentPatch{Title: &job.title, Content: &job.content})
	return saveResult{job: job, err: err}
}

func (c *Coordinator) completeSave(res saveResult) error {
	c.saving = false
	if c.state == StateSaving {
		c.state = StateSynced
	}

	if res.err != nil {
		// A failed write produces no change event.
		if n := len(c.echoes); n > 0 && c.echoes[n-1] == res.job.content {
			c.echoes = c.echoes[:n-1]
		}
		c.notifier.Notify(errorNotice("Failed to save document", res.err))
		return fmt.Errorf("%s save: %w", res.job.trigger, res.err)
	}

	c.savedTitle = res.job.title
	if res.job.docID == "" {
		c.docID = res.doc.ID
		logger.Sugar.Infof("Created document %s", c.docID)
		if c.onCreated != nil {
			c.onCreated(c.docID)
		}
	}
	logger.Sugar.Debugf("Saved document %s (%s)", c.docID, res.job.trigger)
	return nil
}

// Save runs a whole save, and any save queued behind it, on the calling goroutine.
func (c *Coordinator) Save(ctx context.Context, trigger SaveTrigger) error {
	job, status := c.prepareSave(trigger)
	if status != saveStarted {
		return nil
	}
	for {
		err := c.completeSave(c.runSave(ctx, job))
		next, status := c.nextSave()
		if status != saveStarted {
			return err
		}
		job = next
	}
}

func (c *Coordinator) Close() {
	c.state = StateClosed
}
