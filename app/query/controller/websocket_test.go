package controller

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/canopy-network/validatorx/app/query/types"
	"github.com/canopy-network/validatorx/pkg/cache"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestExtractTagFromChannel(t *testing.T) {
	tests := []struct {
		channel string
		want    string
	}{
		{cache.RefreshChannel("mainnet"), "mainnet"},
		{cache.RefreshChannel("testnet"), "testnet"},
		{"validatorx::cache.refreshed", ""},
		{"validatorx:mainnet:block.indexed", ""},
		{"canopy:1:cache.refreshed", ""},
		{"validatorx:a:b:cache.refreshed", ""},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.channel, func(t *testing.T) {
			assert.Equal(t, tt.want, extractTagFromChannel(tt.channel))
		})
	}
}

func TestClientSubscriptions(t *testing.T) {
	subs := newClientSubscriptions()
	assert.False(t, subs.isSubscribed("mainnet"))

	subs.subscribe("mainnet")
	assert.True(t, subs.isSubscribed("mainnet"))
	assert.False(t, subs.isSubscribed("testnet"))

	subs.subscribe("*")
	assert.True(t, subs.isSubscribed("testnet"))

	subs.unsubscribe("*")
	subs.unsubscribe("mainnet")
	assert.False(t, subs.isSubscribed("mainnet"))
}

func TestClientSubscriptionsConcurrentAccess(t *testing.T) {
	subs := newClientSubscriptions()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			subs.subscribe("mainnet")
			subs.unsubscribe("mainnet")
		}()
		go func() {
			defer wg.Done()
			_ = subs.isSubscribed("mainnet")
		}()
	}
	wg.Wait()
}

func TestForwardRefreshEventsFiltersByTag(t *testing.T) {
	c := &Controller{App: &types.App{Logger: zaptest.NewLogger(t)}}
	subs := newClientSubscriptions()
	subs.subscribe("mainnet")

	ch := make(chan *redis.Message, 4)
	ch <- &redis.Message{Channel: cache.RefreshChannel("testnet"), Payload: `{"tag":"testnet"}`}
	ch <- &redis.Message{Channel: "validatorx:bogus", Payload: `{}`}
	ch <- &redis.Message{Channel: cache.RefreshChannel("mainnet"), Payload: `not json`}
	ch <- &redis.Message{Channel: cache.RefreshChannel("mainnet"), Payload: `{"tag":"mainnet","refreshed":["validators"]}`}
	close(ch)

	send := make(chan ServerMessage, 4)
	c.forwardRefreshEvents(context.Background(), ch, send, subs)
	close(send)

	var got []ServerMessage
	for msg := range send {
		got = append(got, msg)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "cache.refreshed", got[0].Type)
	payload, ok := got[0].Payload.(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "mainnet", payload["tag"])
}

func TestForwardRefreshEventsStopsOnCancel(t *testing.T) {
	c := &Controller{App: &types.App{Logger: zaptest.NewLogger(t)}}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.forwardRefreshEvents(ctx, make(chan *redis.Message), make(chan ServerMessage), newClientSubscriptions())
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwardRefreshEvents did not return after cancel")
	}
}

func TestTrySendRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, trySend(ctx, make(chan ServerMessage), ServerMessage{Type: "info"}))

	buffered := make(chan ServerMessage, 1)
	assert.True(t, trySend(context.Background(), buffered, ServerMessage{Type: "info"}))
}

func TestHandleWebSocketWithoutRedis(t *testing.T) {
	c := &Controller{App: &types.App{Logger: zaptest.NewLogger(t)}}

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	c.HandleWebSocket(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "Redis disabled")
}
