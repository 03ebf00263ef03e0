package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"satunaskah/internal/document/model"
	"satunaskah/internal/document/repository"
	"satunaskah/internal/feed"
	"satunaskah/internal/text"
	"satunaskah/pkg/logger"

	"github.com/google/uuid"
)

var ErrInvalidInput = errors.New("invalid input")

const snippetLength = 100

// RoomCloser disconnects live subscribers of a document.
type RoomCloser interface {
	RemoveDocument(docID string)
}

type DocumentService struct {
	Repo  *repository.DocumentRepository
	Bus   feed.Bus
	Rooms RoomCloser
}

func NewDocumentService(repo *repository.DocumentRepository, bus feed.Bus, rooms RoomCloser) *DocumentService {
	return &DocumentService{Repo: repo, Bus: bus, Rooms: rooms}
}

// Role resolves what userID may do on docID. Users without a grant get ErrPermissionDenied.
func (s *DocumentService) Role(ctx context.Context, docID, userID string) (string, error) {
	ownerID, err := s.Repo.GetOwnerID(ctx, docID)
	if err != nil {
		return "", err
	}
	if ownerID == userID {
		return model.RoleOwner, nil
	}
	role, err := s.Repo.GetCollaboratorRole(ctx, docID, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return "", repository.ErrPermissionDenied
	}
	return role, err
}

func canWrite(role string) bool {
	return role == model.RoleOwner || role == model.RoleWriter
}

// CreateDocument inserts a new row owned by userID. The id is assigned here, never by the caller.
func (s *DocumentService) CreateDocument(ctx context.Context, userID string, req model.CreateDocRequest) (model.Document, error) {
	return s.Repo.Create(ctx, uuid.NewString(), req.Title, req.Content, userID)
}

func (s *DocumentService) GetDocument(ctx context.Context, userID, docID string) (model.Document, error) {
	if _, err := s.Role(ctx, docID, userID); err != nil {
		return model.Document{}, err
	}
	return s.Repo.Get(ctx, docID)
}

// UpdateDocument writes the patch and publishes the resulting row to every subscriber
// of the document, the writer included.
func (s *DocumentService) UpdateDocument(ctx context.Context, userID, docID string, patch model.DocumentPatch) (model.Document, error) {
	if patch.Empty() {
		return model.Document{}, fmt.Errorf("%w: nothing to update", ErrInvalidInput)
	}
	role, err := s.Role(ctx, docID, userID)
	if err != nil {
		return model.Document{}, err
	}
	if !canWrite(role) {
		return model.Document{}, fmt.Errorf("%w: role %s cannot edit", repository.ErrPermissionDenied, role)
	}

	doc, err := s.Repo.Update(ctx, docID, patch)
	if err != nil {
		return model.Document{}, err
	}

	payload, err := json.Marshal(doc.Change())
	if err != nil {
		return doc, nil
	}
	// The write already committed; a lost notification is healed by the next save.
	if err := s.Bus.Publish(ctx, feed.DocumentTopic(docID), payload); err != nil {
		logger.Sugar.Errorf("Failed to publish change for doc %s: %v", docID, err)
	}
	return doc, nil
}

func (s *DocumentService) ArchiveDocument(ctx context.Context, userID, docID string) error {
	role, err := s.Role(ctx, docID, userID)
	if err != nil {
		return err
	}
	if role != model.RoleOwner {
		return fmt.Errorf("%w: only owner can delete", repository.ErrPermissionDenied)
	}
	if err := s.Repo.Archive(ctx, docID, userID); err != nil {
		return err
	}
	if s.Rooms != nil {
		s.Rooms.RemoveDocument(docID)
	}
	return nil
}

func (s *DocumentService) InviteCollaborator(ctx context.Context, userID, docID string, req model.InviteRequest) error {
	switch req.Role {
	case model.RoleWriter, model.RoleReviewer, model.RoleReader:
	default:
		return fmt.Errorf("%w: role must be writer, reviewer, or reader", ErrInvalidInput)
	}
	role, err := s.Role(ctx, docID, userID)
	if err != nil {
		return err
	}
	if role != model.RoleOwner {
		return fmt.Errorf("%w: only owner can invite", repository.ErrPermissionDenied)
	}

	targetUserID, err := s.Repo.GetUserByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		return fmt.Errorf("user with email %s: %w", req.Email, err)
	}
	return s.Repo.AddCollaborator(ctx, docID, targetUserID, req.Role)
}

func (s *DocumentService) Members(ctx context.Context, userID, docID string) ([]model.CollaboratorInfo, error) {
	if _, err := s.Role(ctx, docID, userID); err != nil {
		return nil, err
	}
	return s.Repo.GetDocumentMembers(ctx, docID)
}

func (s *DocumentService) GetProfile(ctx context.Context, userID string) (model.Profile, error) {
	return s.Repo.GetProfile(ctx, userID)
}

// ListDocuments returns owned and shared documents with a text snippet and member list.
func (s *DocumentService) ListDocuments(ctx context.Context, userID string) ([]model.DocumentMetadata, error) {
	rows, err := s.Repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	docs := make([]model.DocumentMetadata, 0, len(rows))
	for _, d := range rows {
		meta := model.DocumentMetadata{
			ID:        d.ID,
			Title:     d.Title,
			UpdatedAt: d.UpdatedAt,
			Snippet:   text.Snippet(d.Content, snippetLength),
			IsOwner:   d.OwnerID == userID,
		}
		members, err := s.Repo.GetDocumentMembers(ctx, d.ID)
		if err != nil {
			logger.Sugar.Warnf("Failed to load members of doc %s: %v", d.ID, err)
		}
		meta.Collab = members
		if meta.Collab == nil {
			meta.Collab = []model.CollaboratorInfo{}
		}
		docs = append(docs, meta)
	}
	return docs, nil
}
