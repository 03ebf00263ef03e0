package feed

import (
	"context"
	"sync"

	"satunaskah/pkg/logger"
)

const localBufferSize = 256

// LocalBus delivers in-process. Each subscriber owns a goroutine draining a buffered
// queue, so a slow handler never blocks publishers or other subscribers.
type LocalBus struct {
	mu     sync.Mutex
	subs   map[string]map[*localSub]struct{}
	closed bool
}

func NewLocalBus() *LocalBus {
	return &LocalBus{subs: make(map[string]map[*localSub]struct{})}
}

type localSub struct {
	bus   *LocalBus
	topic string
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func (b *LocalBus) Publish(_ context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	for s := range b.subs[topic] {
		msg := make([]byte, len(payload))
		copy(msg, payload)
		select {
		case s.queue <- msg:
		default:
			logger.Sugar.Warnf("Local feed subscriber on %s is lagging, dropping message", topic)
		}
	}
	return nil
}

func (b *LocalBus) Subscribe(_ context.Context, topic string, h Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := &localSub{
		bus:   b,
		topic: topic,
		queue: make(chan []byte, localBufferSize),
		done:  make(chan struct{}),
	}
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*localSub]struct{})
	}
	b.subs[topic][s] = struct{}{}

	go func() {
		for {
			select {
			case msg := <-s.queue:
				h(msg)
			case <-s.done:
				return
			}
		}
	}()
	return s, nil
}

func (s *localSub) Unsubscribe() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs[s.topic], s)
		if len(s.bus.subs[s.topic]) == 0 {
			delete(s.bus.subs, s.topic)
		}
		s.bus.mu.Unlock()
		close(s.done)
	})
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var subs []*localSub
	for _, set := range b.subs {
		for s := range set {
			subs = append(subs, s)
		}
	}
	b.mu.Unlock()

	for _, s := range subs {
		_ = s.Unsubscribe()
	}
	return nil
}
