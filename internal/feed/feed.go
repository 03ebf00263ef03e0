// Package feed is the change-feed transport: topic-based publish/subscribe with
// at-least-once, per-publisher ordered delivery.
package feed

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("feed: bus closed")

// Handler receives one published payload. Handlers for a single subscription are
// called sequentially in publish order.
type Handler func(payload []byte)

type Subscription interface {
	Unsubscribe() error
}

type Bus interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Subscribe(ctx context.Context, topic string, h Handler) (Subscription, error)
	Close() error
}

func DocumentTopic(docID string) string {
	return "document:" + docID
}

func SessionTopic(docID string) string {
	return "sessions:" + docID
}
