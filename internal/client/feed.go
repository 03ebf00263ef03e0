package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"satunaskah/internal/editor"
	"satunaskah/pkg/logger"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
)

const (
	typeDocumentUpdate = "DOCUMENT_UPDATE"
	typeSessionChange  = "SESSION_CHANGE"
	typeDocumentClosed = "DOCUMENT_CLOSED"
)

type feedMessage struct {
	Type    string          `json:"type"`
	DocID   string          `json:"document_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// feedDialer opens one WebSocket per subscription and keeps it alive,
// reconnecting with exponential backoff when the server drops it.
type feedDialer struct {
	client  *Client
	dialer  *websocket.Dialer
	backoff func() backoff.BackOff
}

func newFeedDialer(c *Client) feedDialer {
	return feedDialer{
		client:  c,
		dialer:  &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		backoff: defaultBackoff,
	}
}

func defaultBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0 // until unsubscribed
	return b
}

func (f feedDialer) dial(ctx context.Context, docID string) (*websocket.Conn, error) {
	u := *f.client.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path += "/ws"
	u.RawQuery = url.Values{"docId": {docID}}.Encode()

	header := http.Header{"Authorization": {"Bearer " + f.client.token}}
	conn, resp, err := f.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if serr := statusError(resp); serr != nil {
				return nil, fmt.Errorf("subscribe %s: %w", docID, serr)
			}
		}
		return nil, fmt.Errorf("subscribe %s: %w", docID, err)
	}
	return conn, nil
}

type subscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

// swap installs a reconnected socket unless the subscription was cancelled meanwhile.
func (s *subscription) swap(conn *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conn = conn
	return true
}

func (s *subscription) current() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *subscription) unsubscribe() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("feed: already unsubscribed")
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	err := conn.Close()
	<-s.done
	if errors.Is(err, net.ErrClosed) {
		err = nil
	}
	return err
}

func (f feedDialer) subscribe(
	ctx context.Context,
	docID, msgType string,
	onMessage func(json.RawMessage),
	resync func(context.Context),
) (editor.Unsubscribe, error) {
	conn, err := f.dial(ctx, docID)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &subscription{cancel: cancel, done: make(chan struct{}), conn: conn}
	go f.run(runCtx, s, docID, msgType, onMessage, resync)
	return s.unsubscribe, nil
}

func (f feedDialer) run(
	ctx context.Context,
	s *subscription,
	docID, msgType string,
	onMessage func(json.RawMessage),
	resync func(context.Context),
) {
	defer close(s.done)

	for {
		conn := s.current()
		archived := readFeed(conn, msgType, onMessage)
		conn.Close()
		if ctx.Err() != nil {
			return
		}
		if archived {
			logger.Sugar.Infof("Document %s was closed by the server", docID)
			return
		}

		logger.Sugar.Warnf("Change feed for %s dropped, reconnecting", docID)
		var (
			next *websocket.Conn
			gone bool
		)
		err := backoff.Retry(func() error {
			c, err := f.dial(ctx, docID)
			switch editor.Classify(err) {
			case editor.KindNone:
				next = c
				return nil
			case editor.KindNotFound, editor.KindPermissionDenied:
				gone = true
				return nil
			}
			logger.Sugar.Debugf("Reconnect to %s failed: %v", docID, err)
			return err
		}, backoff.WithContext(f.backoff(), ctx))
		if err != nil || gone {
			if gone {
				logger.Sugar.Warnf("Lost access to %s, giving up on its change feed", docID)
			}
			return
		}
		if !s.swap(next) {
			next.Close()
			return
		}
		// Events published while disconnected are gone; catch up from the source of truth.
		resync(ctx)
	}
}

// readFeed delivers messages of msgType until the socket fails. It reports
// whether the server closed the document for good.
func readFeed(conn *websocket.Conn, msgType string, onMessage func(json.RawMessage)) bool {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return false
		}
		var msg feedMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case msgType:
			onMessage(msg.Payload)
		case typeDocumentClosed:
			return true
		}
	}
}
