// Package client talks to the satunaskah store server over its REST API and
// WebSocket change feed. It is the Persistence used by the editing core.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"satunaskah/internal/document/model"
	"satunaskah/internal/editor"
)

const requestTimeout = 15 * time.Second

// Client is safe for concurrent use.
type Client struct {
	baseURL *url.URL
	token   string
	http    *http.Client
	feed    feedDialer
}

var _ editor.Persistence = (*Client)(nil)

// New builds a client for the server at baseURL authenticating with a bearer token.
func New(baseURL, token string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https, got %q", baseURL)
	}
	c := &Client{
		baseURL: u,
		token:   token,
		http:    &http.Client{Timeout: requestTimeout},
	}
	c.feed = newFeedDialer(c)
	return c, nil
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = u.Path + path
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// statusError maps a non-2xx response onto the editor error taxonomy.
func statusError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	detail := strings.TrimSpace(string(msg))

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", editor.ErrNotFound, detail)
	case http.StatusForbidden:
		return fmt.Errorf("%w: %s", editor.ErrPermissionDenied, detail)
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: %s", editor.ErrUnauthenticated, detail)
	default:
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, detail)
	}
}

func docPath(id string) string {
	return "/api/documents/" + url.PathEscape(id)
}

func (c *Client) FetchDocument(ctx context.Context, id string) (model.Document, error) {
	var doc model.Document
	err := c.do(ctx, http.MethodGet, docPath(id), nil, nil, &doc)
	return doc, err
}

// CreateDocument inserts a new row. The server takes the owner from the token,
// so ownerID only guards against creating on behalf of someone else.
func (c *Client) CreateDocument(ctx context.Context, title, content, ownerID string) (model.Document, error) {
	var doc model.Document
	req := model.CreateDocRequest{Title: title, Content: content}
	if err := c.do(ctx, http.MethodPost, "/api/documents", nil, req, &doc); err != nil {
		return model.Document{}, err
	}
	if ownerID != "" && doc.OwnerID != ownerID {
		return doc, fmt.Errorf("%w: document created for %s, not %s", editor.ErrPermissionDenied, doc.OwnerID, ownerID)
	}
	return doc, nil
}

func (c *Client) UpdateDocument(ctx context.Context, id string, fields model.DocumentPatch) error {
	return c.do(ctx, http.MethodPatch, docPath(id), nil, fields, nil)
}

func (c *Client) UpsertSession(ctx context.Context, docID, _ string) error {
	return c.do(ctx, http.MethodPut, docPath(docID)+"/session", nil, nil, nil)
}

func (c *Client) DeleteSession(ctx context.Context, docID, _ string) error {
	return c.do(ctx, http.MethodDelete, docPath(docID)+"/session", nil, nil, nil)
}

func (c *Client) ListActiveSessions(ctx context.Context, docID string, window time.Duration) ([]model.ActiveSession, error) {
	var sessions []model.ActiveSession
	q := url.Values{"window": {window.String()}}
	err := c.do(ctx, http.MethodGet, docPath(docID)+"/sessions", q, nil, &sessions)
	return sessions, err
}

// Profile returns the caller's own profile.
func (c *Client) Profile(ctx context.Context) (model.Profile, error) {
	var p model.Profile
	err := c.do(ctx, http.MethodGet, "/api/me", nil, nil, &p)
	return p, err
}

func (c *Client) SubscribeToDocumentChanges(ctx context.Context, id string, onChange func(model.DocumentChange)) (editor.Unsubscribe, error) {
	resync := func(ctx context.Context) {
		doc, err := c.FetchDocument(ctx, id)
		if err != nil {
			return
		}
		onChange(doc.Change())
	}
	return c.feed.subscribe(ctx, id, typeDocumentUpdate, func(payload json.RawMessage) {
		var change model.DocumentChange
		if err := json.Unmarshal(payload, &change); err != nil {
			return
		}
		onChange(change)
	}, resync)
}

func (c *Client) SubscribeToSessionChanges(ctx context.Context, docID string, onChange func()) (editor.Unsubscribe, error) {
	return c.feed.subscribe(ctx, docID, typeSessionChange, func(json.RawMessage) { onChange() },
		func(context.Context) { onChange() })
}
