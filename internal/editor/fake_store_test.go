package editor

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"satunaskah/internal/document/model"
	"satunaskah/internal/feed"
)

type sessionKey struct {
	docID, userID string
}

// fakeStore is an in-memory Persistence with a real change feed.
type fakeStore struct {
	mu       sync.Mutex
	docs     map[string]model.Document
	sessions map[sessionKey]time.Time
	profiles map[string]*model.Profile
	bus      *feed.LocalBus
	nextID   int
	calls    map[string]int
	updates  []model.DocumentPatch

	fetchErr   error
	updateErr  error
	// slowUpdates is how many of the next UpdateDocument calls sleep updateDelay before writing.
	slowUpdates int
	updateDelay time.Duration
	upsertDelay time.Duration
	createDelay time.Duration
	unsubErr   error
	unsubPanic bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:     make(map[string]model.Document),
		sessions: make(map[sessionKey]time.Time),
		profiles: make(map[string]*model.Profile),
		bus:      feed.NewLocalBus(),
		calls:    make(map[string]int),
	}
}

func (s *fakeStore) seed(doc model.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
}

func (s *fakeStore) count(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *fakeStore) sessionRows() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *fakeStore) lastUpdate() (model.DocumentPatch, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.updates) == 0 {
		return model.DocumentPatch{}, false
	}
	return s.updates[len(s.updates)-1], true
}

func (s *fakeStore) publish(doc model.Document) {
	payload, _ := json.Marshal(doc.Change())
	_ = s.bus.Publish(context.Background(), feed.DocumentTopic(doc.ID), payload)
}

func (s *fakeStore) FetchDocument(_ context.Context, id string) (model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["fetch"]++
	if s.fetchErr != nil {
		return model.Document{}, s.fetchErr
	}
	doc, ok := s.docs[id]
	if !ok {
		return model.Document{}, ErrNotFound
	}
	return doc, nil
}

func (s *fakeStore) CreateDocument(_ context.Context, title, content, ownerID string) (model.Document, error) {
	s.mu.Lock()
	s.calls["create"]++
	delay := s.createDelay
	s.mu.Unlock()
	time.Sleep(delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := time.Now()
	doc := model.Document{
		ID:        fmt.Sprintf("doc-%d", s.nextID),
		Title:     title,
		Content:   content,
		OwnerID:   ownerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.docs[doc.ID] = doc
	return doc, nil
}

func (s *fakeStore) UpdateDocument(_ context.Context, id string, fields model.DocumentPatch) error {
	s.mu.Lock()
	s.calls["update"]++
	var delay time.Duration
	if s.slowUpdates > 0 {
		s.slowUpdates--
		delay = s.updateDelay
	}
	s.mu.Unlock()
	time.Sleep(delay)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.updateErr != nil {
		return s.updateErr
	}
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	if fields.Title != nil {
		doc.Title = *fields.Title
	}
	if fields.Content != nil {
		doc.Content = *fields.Content
	}
	doc.UpdatedAt = time.Now()
	s.docs[id] = doc
	s.updates = append(s.updates, fields)
	s.publish(doc)
	return nil
}

func (s *fakeStore) unsubscriber(sub feed.Subscription) Unsubscribe {
	return func() error {
		_ = sub.Unsubscribe()
		s.mu.Lock()
		err, panics := s.unsubErr, s.unsubPanic
		s.mu.Unlock()
		if panics {
			panic("listener already gone")
		}
		return err
	}
}

func (s *fakeStore) SubscribeToDocumentChanges(ctx context.Context, id string, onChange func(model.DocumentChange)) (Unsubscribe, error) {
	s.mu.Lock()
	s.calls["subscribeDoc"]++
	s.mu.Unlock()
	sub, err := s.bus.Subscribe(ctx, feed.DocumentTopic(id), func(p []byte) {
		var change model.DocumentChange
		if json.Unmarshal(p, &change) == nil {
			onChange(change)
		}
	})
	if err != nil {
		return nil, err
	}
	return s.unsubscriber(sub), nil
}

func (s *fakeStore) UpsertSession(_ context.Context, docID, userID string) error {
	s.mu.Lock()
	s.calls["upsert"]++
	delay := s.upsertDelay
	s.mu.Unlock()
	time.Sleep(delay)

	s.mu.Lock()
	s.sessions[sessionKey{docID, userID}] = time.Now()
	s.mu.Unlock()
	return s.bus.Publish(context.Background(), feed.SessionTopic(docID), nil)
}

func (s *fakeStore) DeleteSession(_ context.Context, docID, userID string) error {
	s.mu.Lock()
	s.calls["delete"]++
	delete(s.sessions, sessionKey{docID, userID})
	s.mu.Unlock()
	return s.bus.Publish(context.Background(), feed.SessionTopic(docID), nil)
}

func (s *fakeStore) ListActiveSessions(_ context.Context, docID string, window time.Duration) ([]model.ActiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls["list"]++
	var out []model.ActiveSession
	for k, seen := range s.sessions {
		if k.docID != docID || time.Since(seen) > window {
			continue
		}
		out = append(out, model.ActiveSession{UserID: k.userID, LastSeen: seen, Profile: s.profiles[k.userID]})
	}
	return out, nil
}

func (s *fakeStore) SubscribeToSessionChanges(ctx context.Context, docID string, onChange func()) (Unsubscribe, error) {
	s.mu.Lock()
	s.calls["subscribeSessions"]++
	s.mu.Unlock()
	sub, err := s.bus.Subscribe(ctx, feed.SessionTopic(docID), func([]byte) { onChange() })
	if err != nil {
		return nil, err
	}
	return s.unsubscriber(sub), nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (r *recordingNotifier) Notify(n Notice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
}

func (r *recordingNotifier) all() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notice(nil), r.notices...)
}

type spyBuffer struct {
	MemoryBuffer
	sets int
}

func (s *spyBuffer) SetContent(content string) {
	s.sets++
	s.MemoryBuffer.SetContent(content)
}
