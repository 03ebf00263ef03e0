package router

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"satunaskah/config"
	"satunaskah/internal/document/model"
	"satunaskah/internal/document/repository"
	"satunaskah/internal/document/service"
	"satunaskah/internal/feed"
	"satunaskah/socket"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "router-secret"

var docCols = []string{"id", "title", "content", "owner_id", "created_at", "updated_at", "is_archived"}

type env struct {
	mock    sqlmock.Sqlmock
	handler http.Handler
	bus     *feed.LocalBus
}

func setup(t *testing.T, checks ...HealthCheck) *env {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	bus := feed.NewLocalBus()
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		bus.Close()
		db.Close()
	})

	cfg := config.NewDefaultConfig()
	cfg.Auth.JWTSecret = secret

	docs := service.NewDocumentService(repository.NewDocumentRepository(db), bus, nil)
	hub := socket.NewHub(bus, docs)
	docs.Rooms = hub
	sessions := service.NewSessionService(repository.NewSessionRepository(db), docs, bus)

	return &env{mock: mock, bus: bus, handler: Setup(cfg, docs, sessions, hub, checks...)}
}

func (e *env) do(t *testing.T, method, target, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if userID != "" {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": userID,
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString([]byte(secret))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *env) expectOwner(docID, ownerID string) {
	e.mock.ExpectQuery("SELECT owner_id FROM documents").
		WithArgs(docID).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}).AddRow(ownerID))
}

func (e *env) expectGrant(docID, userID, role string) {
	q := e.mock.ExpectQuery("SELECT role FROM document_collaborators").WithArgs(docID, userID)
	if role == "" {
		q.WillReturnError(sql.ErrNoRows)
		return
	}
	q.WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow(role))
}

func TestRequiresAuth(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodGet, "/api/documents", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestGetDocument(t *testing.T) {
	e := setup(t)
	now := time.Now()
	e.expectOwner("doc-1", "user-1")
	e.mock.ExpectQuery("SELECT (.+) FROM documents WHERE id = \\$1 AND NOT is_archived").
		WithArgs("doc-1").
		WillReturnRows(sqlmock.NewRows(docCols).AddRow("doc-1", "Notes", "X", "user-1", now, now, false))

	w := e.do(t, http.MethodGet, "/api/documents/doc-1", "user-1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var doc model.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Equal(t, "X", doc.Content)
}

func TestGetDocumentStatuses(t *testing.T) {
	e := setup(t)

	e.mock.ExpectQuery("SELECT owner_id FROM documents").WithArgs("gone").WillReturnError(sql.ErrNoRows)
	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/documents/gone", "user-1", "").Code)

	e.expectOwner("doc-1", "user-1")
	e.expectGrant("doc-1", "stranger", "")
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/documents/doc-1", "stranger", "").Code)
}

func TestGetDocumentMalformedID(t *testing.T) {
	e := setup(t)
	e.mock.ExpectQuery("SELECT owner_id FROM documents").
		WithArgs("not-a-uuid").
		WillReturnError(&pq.Error{Code: "22P02", Message: "invalid input syntax for type uuid"})

	assert.Equal(t, http.StatusNotFound, e.do(t, http.MethodGet, "/api/documents/not-a-uuid", "user-1", "").Code)
}

func TestPatchDocument(t *testing.T) {
	e := setup(t)
	now := time.Now()

	e.expectOwner("doc-1", "user-1")
	e.expectGrant("doc-1", "user-3", model.RoleReader)
	w := e.do(t, http.MethodPatch, "/api/documents/doc-1", "user-3", `{"content":"nope"}`)
	assert.Equal(t, http.StatusForbidden, w.Code)

	e.expectOwner("doc-1", "user-1")
	e.mock.ExpectQuery("UPDATE documents").
		WithArgs("doc-1", "Renamed", nil).
		WillReturnRows(sqlmock.NewRows(docCols).AddRow("doc-1", "Renamed", "X", "user-1", now, now, false))
	w = e.do(t, http.MethodPatch, "/api/documents/doc-1", "user-1", `{"title":"Renamed"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = e.do(t, http.MethodPatch, "/api/documents/doc-1", "user-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCreateDocument(t *testing.T) {
	e := setup(t)
	now := time.Now()
	e.mock.ExpectQuery("INSERT INTO documents").
		WithArgs(sqlmock.AnyArg(), "Draft", "", "user-1").
		WillReturnRows(sqlmock.NewRows(docCols).AddRow("new-id", "Draft", "", "user-1", now, now, false))

	w := e.do(t, http.MethodPost, "/api/documents", "user-1", `{"title":"Draft"}`)
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), `"owner_id":"user-1"`)
}

func TestInviteValidation(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodPost, "/api/documents/doc-1/collaborators", "user-1", `{"email":"a@example.com","role":"owner"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionRoutes(t *testing.T) {
	e := setup(t)

	e.expectOwner("doc-1", "user-1")
	e.mock.ExpectExec("INSERT INTO document_sessions").
		WithArgs("doc-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodPut, "/api/documents/doc-1/session", "user-1", "").Code)

	e.expectOwner("doc-1", "user-1")
	e.mock.ExpectQuery("FROM document_sessions").
		WithArgs("doc-1", float64(30)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "last_seen", "id", "full_name", "email"}))
	w := e.do(t, http.MethodGet, "/api/documents/doc-1/sessions?window=30s", "user-1", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `[]`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, e.do(t, http.MethodGet, "/api/documents/doc-1/sessions?window=soon", "user-1", "").Code)

	e.mock.ExpectExec("DELETE FROM document_sessions WHERE document_id").
		WithArgs("doc-1", "user-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.Equal(t, http.StatusNoContent, e.do(t, http.MethodDelete, "/api/documents/doc-1/session", "user-1", "").Code)
}

func TestHealthz(t *testing.T) {
	e := setup(t, func(context.Context) error { return nil })
	assert.Equal(t, http.StatusOK, e.do(t, http.MethodGet, "/healthz", "", "").Code)

	down := setup(t, func(context.Context) error { return errors.New("redis down") })
	assert.Equal(t, http.StatusServiceUnavailable, down.do(t, http.MethodGet, "/healthz", "", "").Code)
}

func TestCORSPreflightSkipsAuth(t *testing.T) {
	e := setup(t)
	w := e.do(t, http.MethodOptions, "/api/documents", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}
