package editor

import (
	"context"
	"time"

	"satunaskah/internal/document/model"
)

// Unsubscribe stops a subscription. It may fail; callers treat that as best effort.
type Unsubscribe func() error

// Persistence is the document store as seen from an editing session.
//
// FetchDocument returns ErrNotFound for a document that does not exist yet.
// Change subscriptions fire for writes from every client, including the
// subscriber's own.
type Persistence interface {
	FetchDocument(ctx context.Context, id string) (model.Document, error)
	CreateDocument(ctx context.Context, title, content, ownerID string) (model.Document, error)
	UpdateDocument(ctx context.Context, id string, fields model.DocumentPatch) error
	SubscribeToDocumentChanges(ctx context.Context, id string, onChange func(model.DocumentChange)) (Unsubscribe, error)

	UpsertSession(ctx context.Context, docID, userID string) error
	DeleteSession(ctx context.Context, docID, userID string) error
	ListActiveSessions(ctx context.Context, docID string, window time.Duration) ([]model.ActiveSession, error)
	SubscribeToSessionChanges(ctx context.Context, docID string, onChange func()) (Unsubscribe, error)
}
