package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"satunaskah/internal/document/model"
	"satunaskah/pkg/logger"

	"github.com/lib/pq"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrPermissionDenied = errors.New("permission denied")
	ErrConflict         = errors.New("conflict")
)

//go:embed schema.sql
var Schema string

// Migrate applies the idempotent schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// mapErr translates driver errors into the package sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "42501": // insufficient_privilege
			return fmt.Errorf("%w: %s", ErrPermissionDenied, pqErr.Message)
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrConflict, pqErr.Message)
		case "22P02": // invalid_text_representation, e.g. an id that is not a uuid
			return fmt.Errorf("%w: %s", ErrNotFound, pqErr.Message)
		}
	}
	return err
}

const documentColumns = `id, title, content, owner_id, created_at, updated_at, is_archived`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (model.Document, error) {
	var d model.Document
	err := row.Scan(&d.ID, &d.Title, &d.Content, &d.OwnerID, &d.CreatedAt, &d.UpdatedAt, &d.IsArchived)
	return d, err
}

type DocumentRepository struct {
	DB *sql.DB
}

func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{DB: db}
}

func (r *DocumentRepository) Get(ctx context.Context, docID string) (model.Document, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1 AND NOT is_archived`, docID)
	d, err := scanDocument(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		logger.Sugar.Errorf("Failed to get doc %s: %v", docID, err)
	}
	return d, mapErr(err)
}

func (r *DocumentRepository) Create(ctx context.Context, id, title, content, ownerID string) (model.Document, error) {
	row := r.DB.QueryRowContext(ctx, `
		INSERT INTO documents (id, title, content, owner_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING `+documentColumns,
		id, title, content, ownerID)
	d, err := scanDocument(row)
	if err != nil {
		logger.Sugar.Errorf("Failed to create document: %v", err)
	}
	return d, mapErr(err)
}

// Update applies a partial update and bumps updated_at. The new row is returned.
func (r *DocumentRepository) Update(ctx context.Context, docID string, patch model.DocumentPatch) (model.Document, error) {
	row := r.DB.QueryRowContext(ctx, `
		UPDATE documents
		SET title = COALESCE($2, title), content = COALESCE($3, content), updated_at = NOW()
		WHERE id = $1 AND NOT is_archived
		RETURNING `+documentColumns,
		docID, patch.Title, patch.Content)
	d, err := scanDocument(row)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		logger.Sugar.Errorf("Failed to update doc %s: %v", docID, err)
	}
	return d, mapErr(err)
}

func (r *DocumentRepository) Archive(ctx context.Context, docID, ownerID string) error {
	result, err := r.DB.ExecContext(ctx, `UPDATE documents SET is_archived = TRUE, updated_at = NOW() WHERE id = $1 AND owner_id = $2`, docID, ownerID)
	if err != nil {
		logger.Sugar.Errorf("Failed to archive doc %s: %v", docID, err)
		return mapErr(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DocumentRepository) GetOwnerID(ctx context.Context, docID string) (string, error) {
	var ownerID string
	err := r.DB.QueryRowContext(ctx, "SELECT owner_id FROM documents WHERE id = $1 AND NOT is_archived", docID).Scan(&ownerID)
	return ownerID, mapErr(err)
}

// GetCollaboratorRole returns ErrNotFound when the user holds no grant.
func (r *DocumentRepository) GetCollaboratorRole(ctx context.Context, docID, userID string) (string, error) {
	var role string
	err := r.DB.QueryRowContext(ctx, "SELECT role FROM document_collaborators WHERE document_id = $1 AND user_id = $2", docID, userID).Scan(&role)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		logger.Sugar.Errorf("Failed to get collaborator role: %v", err)
	}
	return role, mapErr(err)
}

func (r *DocumentRepository) GetUserByEmail(ctx context.Context, email string) (string, error) {
	var userID string
	err := r.DB.QueryRowContext(ctx, "SELECT id FROM profiles WHERE email = $1", email).Scan(&userID)
	return userID, mapErr(err)
}

func (r *DocumentRepository) GetProfile(ctx context.Context, userID string) (model.Profile, error) {
	var p model.Profile
	var fullName sql.NullString
	err := r.DB.QueryRowContext(ctx, "SELECT id, full_name, email FROM profiles WHERE id = $1", userID).Scan(&p.ID, &fullName, &p.Email)
	p.FullName = fullName.String
	return p, mapErr(err)
}

func (r *DocumentRepository) AddCollaborator(ctx context.Context, docID, userID, role string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO document_collaborators (document_id, user_id, role) VALUES ($1, $2, $3)
		ON CONFLICT (document_id, user_id) DO UPDATE SET role = $3`, docID, userID, role)
	if err != nil {
		logger.Sugar.Errorf("Failed to add collaborator %s to doc %s: %v", userID, docID, err)
	}
	return mapErr(err)
}

// ListForUser returns documents the user owns or holds a grant on, newest first.
func (r *DocumentRepository) ListForUser(ctx context.Context, userID string) ([]model.Document, error) {
	query := `
		SELECT ` + documentColumns + ` FROM documents WHERE owner_id = $1 AND NOT is_archived
		UNION
		SELECT d.id, d.title, d.content, d.owner_id, d.created_at, d.updated_at, d.is_archived
		FROM documents d JOIN document_collaborators c ON d.id = c.document_id
		WHERE c.user_id = $1 AND NOT d.is_archived
		ORDER BY updated_at DESC`
	rows, err := r.DB.QueryContext(ctx, query, userID)
	if err != nil {
		logger.Sugar.Errorf("Failed to get documents for user %s: %v", userID, err)
		return nil, mapErr(err)
	}
	defer rows.Close()

	var docs []model.Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (r *DocumentRepository) GetDocumentMembers(ctx context.Context, docID string) ([]model.CollaboratorInfo, error) {
	query := `
		SELECT p.id, p.email, 'owner' AS role FROM documents d JOIN profiles p ON d.owner_id = p.id WHERE d.id = $1
		UNION ALL
		SELECT p.id, p.email, c.role FROM document_collaborators c JOIN profiles p ON c.user_id = p.id WHERE c.document_id = $1
	`
	rows, err := r.DB.QueryContext(ctx, query, docID)
	if err != nil {
		logger.Sugar.Errorf("Failed to get document members for doc %s: %v", docID, err)
		return nil, mapErr(err)
	}
	defer rows.Close()

	members := []model.CollaboratorInfo{}
	for rows.Next() {
		var c model.CollaboratorInfo
		if err := rows.Scan(&c.ID, &c.Email, &c.Role); err != nil {
			return nil, err
		}
		members = append(members, c)
	}
	return members, rows.Err()
}
