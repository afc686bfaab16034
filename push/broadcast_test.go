package push

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePusher records deliveries and fails for the configured endpoints.
type fakePusher struct {
	mu       sync.Mutex
	messages map[string][]byte
	failures map[string]error
}

func (p *fakePusher) Push(ctx context.Context, s Subscription, message []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.messages == nil {
		p.messages = make(map[string][]byte)
	}
	p.messages[s.Endpoint] = message
	return p.failures[s.Endpoint]
}

func (p *fakePusher) attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.messages)
}

func newTestBroadcaster(t *testing.T, pusher Pusher, pruneGone bool, subs ...Subscription) (*Broadcaster, Registry) {
	registry := NewMemRegistry()
	for _, s := range subs {
		require.NoError(t, registry.Add(context.Background(), s))
	}
	logger := zerolog.Nop()
	return NewBroadcaster(BroadcasterConfig{
		Registry:  registry,
		Pusher:    pusher,
		PruneGone: pruneGone,
		Logger:    &logger,
	}), registry
}

func TestBroadcastIsolatesFailures(t *testing.T) {
	pusher := &fakePusher{failures: map[string]error{
		sub(2).Endpoint: &DeliveryError{Endpoint: sub(2).Endpoint, Err: errors.New("connection refused")},
	}}
	b, _ := newTestBroadcaster(t, pusher, false, sub(1), sub(2), sub(3))

	result, err := b.Broadcast(context.Background(), Payload{Title: "T", Body: "B"})
	require.NoError(t, err)
	assert.Equal(t, Result{Attempted: 3, Delivered: 2}, result)
	assert.Equal(t, 3, pusher.attempts())

	var delivered Payload
	require.NoError(t, json.Unmarshal(pusher.messages[sub(1).Endpoint], &delivered))
	assert.Equal(t, Payload{Title: "T", Body: "B", URL: "/"}, delivered)
}

func TestBroadcastRejectsInvalidPayload(t *testing.T) {
	pusher := &fakePusher{}
	b, _ := newTestBroadcaster(t, pusher, false, sub(1), sub(2))

	for _, p := range []Payload{
		{Title: "", Body: "B"},
		{Title: "T", Body: ""},
		{Title: "  ", Body: "B"},
	} {
		result, err := b.Broadcast(context.Background(), p)
		assert.ErrorIs(t, err, ErrInvalidPayload)
		assert.Equal(t, Result{}, result)
	}
	assert.Equal(t, 0, pusher.attempts())
}

func TestBroadcastWithoutSubscriptions(t *testing.T) {
	b, _ := newTestBroadcaster(t, &fakePusher{}, false)
	result, err := b.Broadcast(context.Background(), Payload{Title: "T", Body: "B", URL: "/cart"})
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
}

func TestBroadcastPrunesGoneSubscriptions(t *testing.T) {
	gone := &DeliveryError{Endpoint: sub(1).Endpoint, StatusCode: http.StatusGone, Err: errors.New("expired")}
	unavailable := &DeliveryError{Endpoint: sub(2).Endpoint, StatusCode: http.StatusServiceUnavailable, Err: errors.New("busy")}
	failures := map[string]error{sub(1).Endpoint: gone, sub(2).Endpoint: unavailable}

	t.Run("kept by default", func(t *testing.T) {
		b, registry := newTestBroadcaster(t, &fakePusher{failures: failures}, false, sub(1), sub(2), sub(3))
		result, err := b.Broadcast(context.Background(), Payload{Title: "T", Body: "B"})
		require.NoError(t, err)
		assert.Equal(t, Result{Attempted: 3, Delivered: 1}, result)
		all, err := registry.All(context.Background())
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})

	t.Run("pruned", func(t *testing.T) {
		b, registry := newTestBroadcaster(t, &fakePusher{failures: failures}, true, sub(1), sub(2), sub(3))
		_, err := b.Broadcast(context.Background(), Payload{Title: "T", Body: "B"})
		require.NoError(t, err)
		all, err := registry.All(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []Subscription{sub(2), sub(3)}, all)
	})
}

func TestDeliveryError(t *testing.T) {
	cause := errors.New("boom")
	err := error(&DeliveryError{Endpoint: "https://push.example.com/1", StatusCode: 404, Err: cause})
	assert.ErrorIs(t, err, cause)
	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.True(t, de.Gone())
	assert.False(t, (&DeliveryError{StatusCode: 500}).Gone())
	assert.Contains(t, err.Error(), "status 404")
}
