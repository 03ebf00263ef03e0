package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu   sync.Mutex
	msgs []string
}

func (c *collector) handle(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, string(p))
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func exerciseBus(t *testing.T, bus Bus) {
	ctx := context.Background()
	a, b, other := &collector{}, &collector{}, &collector{}

	subA, err := bus.Subscribe(ctx, DocumentTopic("doc-1"), a.handle)
	require.NoError(t, err)
	subB, err := bus.Subscribe(ctx, DocumentTopic("doc-1"), b.handle)
	require.NoError(t, err)
	subOther, err := bus.Subscribe(ctx, DocumentTopic("doc-2"), other.handle)
	require.NoError(t, err)
	defer subOther.Unsubscribe()

	for _, m := range []string{"X", "Y", "Z"} {
		require.NoError(t, bus.Publish(ctx, DocumentTopic("doc-1"), []byte(m)))
	}

	want := []string{"X", "Y", "Z"}
	assert.Eventually(t, func() bool { return assert.ObjectsAreEqual(want, a.snapshot()) }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return assert.ObjectsAreEqual(want, b.snapshot()) }, time.Second, 10*time.Millisecond)

	require.NoError(t, subA.Unsubscribe())
	require.NoError(t, bus.Publish(ctx, DocumentTopic("doc-1"), []byte("after")))
	assert.Eventually(t, func() bool { return len(b.snapshot()) == 4 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, want, a.snapshot())
	assert.Empty(t, other.snapshot())

	require.NoError(t, subB.Unsubscribe())
}

func TestLocalBus(t *testing.T) {
	bus := NewLocalBus()
	defer bus.Close()
	exerciseBus(t, bus)
}

func TestLocalBusClosed(t *testing.T) {
	bus := NewLocalBus()
	require.NoError(t, bus.Close())
	assert.ErrorIs(t, bus.Publish(context.Background(), "t", nil), ErrClosed)
	_, err := bus.Subscribe(context.Background(), "t", func([]byte) {})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRedisBus(t *testing.T) {
	s := miniredis.RunT(t)
	bus, err := NewRedisBus("redis://" + s.Addr())
	require.NoError(t, err)
	defer bus.Close()

	require.NoError(t, bus.Ping(context.Background()))
	exerciseBus(t, bus)
}

func TestNewRedisBusBadURL(t *testing.T) {
	_, err := NewRedisBus("not a url")
	assert.Error(t, err)
}
