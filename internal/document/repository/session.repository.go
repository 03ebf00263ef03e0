package repository

import (
	"context"
	"database/sql"
	"time"

	"satunaskah/internal/document/model"
	"satunaskah/pkg/logger"
)

type SessionRepository struct {
	DB *sql.DB
}

func NewSessionRepository(db *sql.DB) *SessionRepository {
	return &SessionRepository{DB: db}
}

// Upsert creates or refreshes the single presence row for (docID, userID).
func (r *SessionRepository) Upsert(ctx context.Context, docID, userID string) error {
	_, err := r.DB.ExecContext(ctx, `
		INSERT INTO document_sessions (document_id, user_id, last_seen) VALUES ($1, $2, NOW())
		ON CONFLICT (document_id, user_id) DO UPDATE SET last_seen = EXCLUDED.last_seen`,
		docID, userID)
	return mapErr(err)
}

func (r *SessionRepository) Delete(ctx context.Context, docID, userID string) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM document_sessions WHERE document_id = $1 AND user_id = $2`, docID, userID)
	return mapErr(err)
}

// ListActive returns sessions seen within window. Rows whose profile is missing carry a nil Profile.
func (r *SessionRepository) ListActive(ctx context.Context, docID string, window time.Duration) ([]model.ActiveSession, error) {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT s.user_id, s.last_seen, p.id, p.full_name, p.email
		FROM document_sessions s LEFT JOIN profiles p ON p.id = s.user_id
		WHERE s.document_id = $1 AND s.last_seen > NOW() - make_interval(secs => $2)
		ORDER BY s.last_seen DESC`,
		docID, window.Seconds())
	if err != nil {
		logger.Sugar.Errorf("Failed to list sessions for doc %s: %v", docID, err)
		return nil, mapErr(err)
	}
	defer rows.Close()

	sessions := []model.ActiveSession{}
	for rows.Next() {
		var s model.ActiveSession
		var profileID, name, email sql.NullString
		if err := rows.Scan(&s.UserID, &s.LastSeen, &profileID, &name, &email); err != nil {
			return nil, err
		}
		if profileID.Valid {
			s.Profile = &model.Profile{ID: profileID.String, FullName: name.String, Email: email.String}
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteStale removes rows not refreshed within olderThan and reports how many went.
func (r *SessionRepository) DeleteStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	result, err := r.DB.ExecContext(ctx, `DELETE FROM document_sessions WHERE last_seen < NOW() - make_interval(secs => $1)`, olderThan.Seconds())
	if err != nil {
		return 0, mapErr(err)
	}
	return result.RowsAffected()
}
