package socket

import (
	"context"
	"encoding/json"
	"sync"

	"satunaskah/internal/feed"
	"satunaskah/pkg/logger"
)

const (
	DocumentUpdateType = "DOCUMENT_UPDATE" // Document row changed (any writer)
	SessionChangeType  = "SESSION_CHANGE"  // Someone joined, left or sent a heartbeat
	DocumentClosedType = "DOCUMENT_CLOSED" // Document archived, connection is about to close
)

type WSMessage struct {
	Type    string          `json:"type"`
	DocID   string          `json:"document_id"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AccessChecker resolves a user's role on a document.
type AccessChecker interface {
	Role(ctx context.Context, docID, userID string) (string, error)
}

// Hub relays change-feed events to the WebSocket clients of each document room.
// A room subscribes to the feed when its first client joins and unsubscribes when
// the last one leaves.
type Hub struct {
	Rooms      map[string]map[*Client]bool
	Broadcast  chan WSMessage
	Register   chan *Client
	Unregister chan *Client

	bus    feed.Bus
	access AccessChecker
	subs   map[string][]feed.Subscription
	mu     sync.Mutex
	done   chan struct{}
}

func NewHub(bus feed.Bus, access AccessChecker) *Hub {
	return &Hub{
		Rooms:      make(map[string]map[*Client]bool),
		Broadcast:  make(chan WSMessage, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		bus:        bus,
		access:     access,
		subs:       make(map[string][]feed.Subscription),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer h.shutdown()
	for {
		select {
		case <-ctx.Done():
			return nil

		case client := <-h.Register:
			h.mu.Lock()
			if h.Rooms[client.DocID] == nil {
				subs, err := h.subscribeRoom(ctx, client.DocID)
				if err != nil {
					h.mu.Unlock()
					logger.Sugar.Errorf("Failed to subscribe room %s: %v", client.DocID, err)
					client.Conn.Close()
					continue
				}
				h.Rooms[client.DocID] = make(map[*Client]bool)
				h.subs[client.DocID] = subs
			}
			h.Rooms[client.DocID][client] = true
			h.mu.Unlock()
			logger.Sugar.Debugf("User %s joined room %s", client.UserID, client.DocID)

		case client := <-h.Unregister:
			h.mu.Lock()
			if _, ok := h.Rooms[client.DocID][client]; ok {
				delete(h.Rooms[client.DocID], client)
				close(client.Send)

				if len(h.Rooms[client.DocID]) == 0 {
					h.closeRoomLocked(client.DocID)
					logger.Sugar.Infof("Closed and cleaned up empty room: %s", client.DocID)
				}
			}
			h.mu.Unlock()

		case msg := <-h.Broadcast:
			payload, err := json.Marshal(msg)
			if err != nil {
				logger.Sugar.Errorf("Error marshalling broadcast message: %v", err)
				continue
			}

			// Collect recipients to avoid holding the lock during I/O.
			h.mu.Lock()
			clientsToSend := make([]*Client, 0, len(h.Rooms[msg.DocID]))
			for client := range h.Rooms[msg.DocID] {
				clientsToSend = append(clientsToSend, client)
			}
			h.mu.Unlock()

			// Everyone gets the event, including the writer: its editor drops the echo itself.
			for _, client := range clientsToSend {
				select {
				case client.Send <- payload:
				default:
					logger.Sugar.Warnf("Client %s's send buffer is full. Disconnecting.", client.UserID)
					client.Conn.Close()
				}
			}
		}
	}
}

func (h *Hub) subscribeRoom(ctx context.Context, docID string) ([]feed.Subscription, error) {
	docSub, err := h.bus.Subscribe(ctx, feed.DocumentTopic(docID), func(p []byte) {
		h.publish(WSMessage{Type: DocumentUpdateType, DocID: docID, Payload: json.RawMessage(p)})
	})
	if err != nil {
		return nil, err
	}
	sessionSub, err := h.bus.Subscribe(ctx, feed.SessionTopic(docID), func([]byte) {
		h.publish(WSMessage{Type: SessionChangeType, DocID: docID})
	})
	if err != nil {
		docSub.Unsubscribe()
		return nil, err
	}
	return []feed.Subscription{docSub, sessionSub}, nil
}

func (h *Hub) publish(msg WSMessage) {
	select {
	case h.Broadcast <- msg:
	case <-h.done:
	}
}

func (h *Hub) closeRoomLocked(docID string) {
	for _, sub := range h.subs[docID] {
		if err := sub.Unsubscribe(); err != nil {
			logger.Sugar.Warnf("Failed to unsubscribe room %s: %v", docID, err)
		}
	}
	delete(h.subs, docID)
	delete(h.Rooms, docID)
}

// RemoveDocument disconnects every client of docID. Called when a document is archived.
func (h *Hub) RemoveDocument(docID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	msg, _ := json.Marshal(WSMessage{Type: DocumentClosedType, DocID: docID})
	if clients, ok := h.Rooms[docID]; ok {
		for client := range clients {
			select {
			case client.Send <- msg:
			default:
			}
			client.Conn.Close() // readPump exits and unregisters
		}
		h.closeRoomLocked(docID)
	}
}

// ClientCount reports how many clients are connected to docID's room.
func (h *Hub) ClientCount(docID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.Rooms[docID])
}

func (h *Hub) shutdown() {
	close(h.done)
	h.mu.Lock()
	defer h.mu.Unlock()
	for docID, clients := range h.Rooms {
		for client := range clients {
			client.Conn.Close()
		}
		h.closeRoomLocked(docID)
	}
}
