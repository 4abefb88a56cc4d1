package broadcast_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/headline-goat/splitpage/internal/broadcast"
)

func TestMemoryBroadcaster_Delivers(t *testing.T) {
	b := broadcast.NewMemoryBroadcaster[string](4)
	t.Cleanup(func() { _ = b.Close() })

	first := b.Subscribe(context.Background())
	second := b.Subscribe(context.Background())

	require.NoError(t, b.Broadcast(context.Background(), broadcast.Message[string]{Data: "hello"}))

	assert.Equal(t, "hello", (<-first.Receive()).Data)
	assert.Equal(t, "hello", (<-second.Receive()).Data)
}

func TestMemoryBroadcaster_DropsFullSubscriber(t *testing.T) {
	b := broadcast.NewMemoryBroadcaster[int](1)

	sub := b.Subscribe(context.Background())
	require.NoError(t, b.Broadcast(context.Background(), broadcast.Message[int]{Data: 1}))
	require.NoError(t, b.Broadcast(context.Background(), broadcast.Message[int]{Data: 2}))

	msg, ok := <-sub.Receive()
	require.True(t, ok)
	assert.Equal(t, 1, msg.Data)

	require.NoError(t, b.Close())
	_, ok = <-sub.Receive()
	assert.False(t, ok, "channel closed once the broadcaster closes")
}

func TestMemoryBroadcaster_ClosedIsInert(t *testing.T) {
	b := broadcast.NewMemoryBroadcaster[int](1)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	sub := b.Subscribe(context.Background())
	_, ok := <-sub.Receive()
	assert.False(t, ok)
	assert.NoError(t, b.Broadcast(context.Background(), broadcast.Message[int]{Data: 1}))
}

func TestMemoryBroadcaster_UnsubscribesOnCancel(t *testing.T) {
	b := broadcast.NewMemoryBroadcaster[int](1)
	t.Cleanup(func() { _ = b.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	sub := b.Subscribe(ctx)
	cancel()

	_, ok := <-sub.Receive()
	assert.False(t, ok)
}
