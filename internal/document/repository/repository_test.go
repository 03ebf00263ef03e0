package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"satunaskah/internal/document/model"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var docCols = []string{"id", "title", "content", "owner_id", "created_at", "updated_at", "is_archived"}

func newMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return db, mock
}

func TestDocumentGetNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDocumentRepository(db)

	mock.ExpectQuery("SELECT (.+) FROM documents WHERE id = \\$1").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentCreateReturnsRow(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDocumentRepository(db)
	now := time.Now()

	mock.ExpectQuery("INSERT INTO documents").
		WithArgs("doc-1", "Draft", "Hello", "user-1").
		WillReturnRows(sqlmock.NewRows(docCols).AddRow("doc-1", "Draft", "Hello", "user-1", now, now, false))

	doc, err := repo.Create(context.Background(), "doc-1", "Draft", "Hello", "user-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", doc.ID)
	assert.Equal(t, "user-1", doc.OwnerID)
	assert.Equal(t, now, doc.UpdatedAt)
}

func TestDocumentUpdatePartial(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDocumentRepository(db)
	now := time.Now()
	content := "Hello"

	mock.ExpectQuery("UPDATE documents\\s+SET title = COALESCE\\(\\$2, title\\), content = COALESCE\\(\\$3, content\\), updated_at = NOW\\(\\)").
		WithArgs("doc-1", nil, "Hello").
		WillReturnRows(sqlmock.NewRows(docCols).AddRow("doc-1", "Kept", "Hello", "user-1", now, now, false))

	doc, err := repo.Update(context.Background(), "doc-1", model.DocumentPatch{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, "Kept", doc.Title)
	assert.Equal(t, "Hello", doc.Content)
}

func TestDocumentUpdateMapsPermissionError(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDocumentRepository(db)
	title := "x"

	mock.ExpectQuery("UPDATE documents").
		WillReturnError(&pq.Error{Code: "42501", Message: "row-level security"})

	_, err := repo.Update(context.Background(), "doc-1", model.DocumentPatch{Title: &title})
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestGetOwnerIDMalformedIDIsNotFound(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDocumentRepository(db)

	mock.ExpectQuery("SELECT owner_id FROM documents").
		WithArgs("not-a-uuid").
		WillReturnError(&pq.Error{Code: "22P02", Message: `invalid input syntax for type uuid: "not-a-uuid"`})

	_, err := repo.GetOwnerID(context.Background(), "not-a-uuid")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDocumentArchiveNoRows(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDocumentRepository(db)

	mock.ExpectExec("UPDATE documents SET is_archived = TRUE").
		WithArgs("doc-1", "intruder").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.Archive(context.Background(), "doc-1", "intruder"), ErrNotFound)
}

func TestListForUserIncludesGrants(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDocumentRepository(db)
	now := time.Now()

	mock.ExpectQuery("UNION(.+)JOIN document_collaborators").
		WithArgs("user-2").
		WillReturnRows(sqlmock.NewRows(docCols).
			AddRow("doc-own", "Mine", "", "user-2", now, now, false).
			AddRow("doc-shared", "Shared", "", "user-1", now, now.Add(-time.Minute), false))

	docs, err := repo.ListForUser(context.Background(), "user-2")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "doc-shared", docs[1].ID)
}

func TestGetCollaboratorRoleNoGrant(t *testing.T) {
	db, mock := newMock(t)
	repo := NewDocumentRepository(db)

	mock.ExpectQuery("SELECT role FROM document_collaborators").
		WithArgs("doc-1", "user-9").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetCollaboratorRole(context.Background(), "doc-1", "user-9")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSessionUpsertUsesCompositeKey(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepository(db)

	for i := 0; i < 3; i++ {
		mock.ExpectExec("ON CONFLICT \\(document_id, user_id\\) DO UPDATE SET last_seen").
			WithArgs("doc-1", "user-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Upsert(context.Background(), "doc-1", "user-1"))
	}
}

func TestSessionListActiveFiltersByWindow(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepository(db)
	now := time.Now()

	mock.ExpectQuery("s.last_seen > NOW\\(\\) - make_interval\\(secs => \\$2\\)").
		WithArgs("doc-1", float64(60)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "last_seen", "id", "full_name", "email"}).
			AddRow("user-1", now, "user-1", "Ada Lovelace", "ada@example.com").
			AddRow("user-2", now, nil, nil, nil))

	sessions, err := repo.ListActive(context.Background(), "doc-1", time.Minute)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	require.NotNil(t, sessions[0].Profile)
	assert.Equal(t, "Ada Lovelace", sessions[0].Profile.FullName)
	assert.Nil(t, sessions[1].Profile)
}

func TestSessionDeleteStale(t *testing.T) {
	db, mock := newMock(t)
	repo := NewSessionRepository(db)

	mock.ExpectExec("DELETE FROM document_sessions WHERE last_seen <").
		WithArgs(float64(3600)).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteStale(context.Background(), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}
