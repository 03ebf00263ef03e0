package editor

import (
	"context"
	"strings"
	"time"

	"satunaskah/internal/document/model"
	"satunaskah/pkg/logger"
)

// AnonymousName is shown for collaborators whose profile could not be resolved.
const AnonymousName = "Anonymous"

type ActiveUser struct {
	UserID   string    `json:"user_id"`
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
}

// DisplayName falls back from the profile's full name to the email local part.
func DisplayName(s model.ActiveSession) string {
	if s.Profile == nil {
		return AnonymousName
	}
	if name := strings.TrimSpace(s.Profile.FullName); name != "" {
		return name
	}
	if local, _, ok := strings.Cut(s.Profile.Email, "@"); ok && local != "" {
		return local
	}
	return AnonymousName
}

// Tracker keeps this user's presence row alive and reads everyone else's.
// Presence is best effort: failures are logged and never reach the user.
type Tracker struct {
	store  Persistence
	docID  string
	userID string
	window time.Duration
}

func NewTracker(store Persistence, docID, userID string, window time.Duration) *Tracker {
	return &Tracker{store: store, docID: docID, userID: userID, window: window}
}

func (t *Tracker) Heartbeat(ctx context.Context) error {
	if err := t.store.UpsertSession(ctx, t.docID, t.userID); err != nil {
		logger.Sugar.Warnf("Presence heartbeat failed for doc %s: %v", t.docID, err)
		return err
	}
	return nil
}

// Refresh re-reads the whole active list, without the current user.
func (t *Tracker) Refresh(ctx context.Context) ([]ActiveUser, error) {
	sessions, err := t.store.ListActiveSessions(ctx, t.docID, t.window)
	if err != nil {
		logger.Sugar.Warnf("Failed to list active sessions for doc %s: %v", t.docID, err)
		return nil, err
	}

	seen := make(map[string]bool, len(sessions))
	users := make([]ActiveUser, 0, len(sessions))
	for _, s := range sessions {
		if s.UserID == t.userID || seen[s.UserID] {
			continue
		}
		seen[s.UserID] = true
		users = append(users, ActiveUser{UserID: s.UserID, Name: DisplayName(s), LastSeen: s.LastSeen})
	}
	return users, nil
}

func (t *Tracker) Leave(ctx context.Context) error {
	if err := t.store.DeleteSession(ctx, t.docID, t.userID); err != nil {
		logger.Sugar.Warnf("Failed to delete session for doc %s: %v", t.docID, err)
		return err
	}
	return nil
}
