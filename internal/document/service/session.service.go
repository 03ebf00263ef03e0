package service

import (
	"context"
	"time"

	"satunaskah/internal/document/model"
	"satunaskah/internal/document/repository"
	"satunaskah/internal/feed"
	"satunaskah/pkg/logger"
)

type SessionService struct {
	Repo *repository.SessionRepository
	Docs *DocumentService
	Bus  feed.Bus
}

func NewSessionService(repo *repository.SessionRepository, docs *DocumentService, bus feed.Bus) *SessionService {
	return &SessionService{Repo: repo, Docs: docs, Bus: bus}
}

func (s *SessionService) notify(ctx context.Context, docID string) {
	if err := s.Bus.Publish(ctx, feed.SessionTopic(docID), []byte(docID)); err != nil {
		logger.Sugar.Warnf("Failed to publish session change for doc %s: %v", docID, err)
	}
}

// Touch upserts the caller's presence row, creating it on first call.
func (s *SessionService) Touch(ctx context.Context, userID, docID string) error {
	if _, err := s.Docs.Role(ctx, docID, userID); err != nil {
		return err
	}
	if err := s.Repo.Upsert(ctx, docID, userID); err != nil {
		return err
	}
	s.notify(ctx, docID)
	return nil
}

func (s *SessionService) Leave(ctx context.Context, userID, docID string) error {
	if err := s.Repo.Delete(ctx, docID, userID); err != nil {
		return err
	}
	s.notify(ctx, docID)
	return nil
}

func (s *SessionService) Active(ctx context.Context, userID, docID string, window time.Duration) ([]model.ActiveSession, error) {
	if _, err := s.Docs.Role(ctx, docID, userID); err != nil {
		return nil, err
	}
	return s.Repo.ListActive(ctx, docID, window)
}

// Sweep deletes presence rows that outlived retention.
func (s *SessionService) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	return s.Repo.DeleteStale(ctx, retention)
}

// SweepWorker deletes stale presence rows every interval until ctx is cancelled.
// Rows left behind by editors that crashed before leaving would otherwise grow forever.
func (s *SessionService) SweepWorker(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Sweep(ctx, retention)
			if err != nil {
				logger.Sugar.Errorf("Failed to sweep stale sessions: %v", err)
				continue // Retry on the next tick.
			}
			if n > 0 {
				logger.Sugar.Infof("Swept %d stale sessions", n)
			}
		}
	}
}
