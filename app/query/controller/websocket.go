package controller

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/canopy-network/validatorx/pkg/cache"
	"github.com/canopy-network/validatorx/pkg/retry"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const refreshEventType = "cache.refreshed"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientMessage represents messages sent by WebSocket clients.
type ClientMessage struct {
	Action string `json:"action"` // "subscribe" or "unsubscribe"
	Tag    string `json:"tag"`    // environment tag, or "*" for all
}

// ServerMessage represents messages sent to WebSocket clients.
type ServerMessage struct {
	Type    string      `json:"type"` // "cache.refreshed", "subscribed", "unsubscribed", "info", "error"
	Payload interface{} `json:"payload"`
}

// clientSubscriptions tracks which environment tags a client is subscribed to.
type clientSubscriptions struct {
	mu   sync.RWMutex
	tags map[string]bool
}

func newClientSubscriptions() *clientSubscriptions {
	return &clientSubscriptions{tags: make(map[string]bool)}
}

func (cs *clientSubscriptions) subscribe(tag string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.tags[tag] = true
}

func (cs *clientSubscriptions) unsubscribe(tag string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.tags, tag)
}

// isSubscribed checks if a tag is subscribed. Wildcard (*) matches all tags.
func (cs *clientSubscriptions) isSubscribed(tag string) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.tags["*"] || cs.tags[tag]
}

// HandleWebSocket upgrades the connection and streams cache refresh events.
//
// Protocol:
// Client sends: {"action": "subscribe", "tag": "mainnet"}
// Client sends: {"action": "subscribe", "tag": "*"}
// Client sends: {"action": "unsubscribe", "tag": "mainnet"}
//
// Server sends:
// - {"type": "cache.refreshed", "payload": {"tag": "mainnet", "refreshed": [...], "failed": [...], "completed_at": "..."}}
// - {"type": "subscribed", "payload": {"tag": "mainnet"}}
// - {"type": "error", "payload": {"message": "..."}}
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if c.App.RedisClient == nil {
		http.Error(w, "Real-time events not available (Redis disabled)", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.App.Logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}
	defer func(conn *websocket.Conn) {
		if err := conn.Close(); err != nil {
			c.App.Logger.Debug("Failed to close WebSocket connection", zap.Error(err))
		}
	}(conn)

	c.App.Logger.Info("WebSocket client connected", zap.String("remote_addr", r.RemoteAddr))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	subs := newClientSubscriptions()
	send := make(chan ServerMessage, 64)

	var wg sync.WaitGroup
	c.goSafe(&wg, cancel, r.RemoteAddr, "redis subscriber", func() { c.subscribeToRefreshEvents(ctx, send, subs) })
	c.goSafe(&wg, cancel, r.RemoteAddr, "ping ticker", func() { c.sendPings(ctx, conn) })

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeMessages(ctx, conn, send)
	}()

	// Blocks until the connection closes.
	c.readClientMessages(ctx, conn, cancel, subs, send)

	cancel()
	wg.Wait()
	close(send)
	<-writerDone

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// goSafe runs fn in a goroutine that cancels the connection instead of crashing the process on panic.
func (c *Controller) goSafe(wg *sync.WaitGroup, cancel context.CancelFunc, remote, name string, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer func() {
			if rec := recover(); rec != nil {
				c.App.Logger.Error("Panic in WebSocket goroutine",
					zap.String("goroutine", name),
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())),
					zap.String("remote_addr", remote))
				cancel()
			}
		}()
		fn()
	}()
}

// subscribeToRefreshEvents pattern-subscribes to the refresh channel of every tag and forwards events
// the client asked for. Lost subscriptions are retried with backoff until ctx is done.
func (c *Controller) subscribeToRefreshEvents(ctx context.Context, send chan<- ServerMessage, subs *clientSubscriptions) {
	backoffCfg := retry.DefaultConfig()
	attempt := 0

	for {
		if ctx.Err() != nil {
			return
		}
		attempt++

		err := c.attemptSubscription(ctx, send, subs, attempt)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// we were connected, so start over
			attempt = 1
		}

		backoff := retry.Backoff(backoffCfg, attempt)
		c.App.Logger.Warn("Redis subscription lost, will retry",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff))

		if !trySend(ctx, send, ServerMessage{
			Type: "error",
			Payload: map[string]interface{}{
				"message":     "Redis connection lost, attempting to reconnect...",
				"retryIn":     backoff.Seconds(),
				"attempt":     attempt,
				"recoverable": true,
			},
		}) {
			return
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
	}
}

// attemptSubscription returns an error if the subscription could not be set up, or nil once an
// established subscription ends.
func (c *Controller) attemptSubscription(ctx context.Context, send chan<- ServerMessage, subs *clientSubscriptions, attempt int) error {
	pubsub := c.App.RedisClient.PSubscribe(ctx, cache.RefreshChannelPattern)
	defer func() {
		if err := pubsub.Close(); err != nil {
			c.App.Logger.Debug("Error closing Redis subscription", zap.Error(err))
		}
	}()

	receiveCtx, receiveCancel := context.WithTimeout(ctx, 5*time.Second)
	defer receiveCancel()
	if _, err := pubsub.Receive(receiveCtx); err != nil {
		return fmt.Errorf("failed to confirm Redis subscription: %w", err)
	}

	if !trySend(ctx, send, ServerMessage{Type: "info", Payload: map[string]interface{}{
		"message": "Redis connection established",
		"attempt": attempt,
	}}) {
		return ctx.Err()
	}

	c.forwardRefreshEvents(ctx, pubsub.Channel(), send, subs)
	return nil
}

// forwardRefreshEvents relays messages until ch closes or ctx is done.
func (c *Controller) forwardRefreshEvents(ctx context.Context, ch <-chan *redis.Message, send chan<- ServerMessage, subs *clientSubscriptions) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			tag := extractTagFromChannel(msg.Channel)
			if tag == "" {
				c.App.Logger.Warn("Unexpected refresh channel", zap.String("channel", msg.Channel))
				continue
			}
			if !subs.isSubscribed(tag) {
				continue
			}
			var payload map[string]interface{}
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				c.App.Logger.Error("Failed to parse refresh event",
					zap.Error(err),
					zap.String("channel", msg.Channel))
				continue
			}
			if !trySend(ctx, send, ServerMessage{Type: refreshEventType, Payload: payload}) {
				return
			}
		}
	}
}

// extractTagFromChannel returns the tag of "validatorx:{tag}:cache.refreshed", or "" for other channels.
func extractTagFromChannel(channel string) string {
	parts := strings.Split(channel, ":")
	if len(parts) != 3 || parts[0] != "validatorx" || parts[2] != refreshEventType || parts[1] == "" {
		return ""
	}
	return parts[1]
}

func trySend(ctx context.Context, send chan<- ServerMessage, msg ServerMessage) bool {
	select {
	case send <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

// sendPings sends periodic ping frames. Pongs reset the read deadline in readClientMessages.
func (c *Controller) sendPings(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(10*time.Second)); err != nil {
				c.App.Logger.Debug("Failed to send ping", zap.Error(err))
				return
			}
		}
	}
}

// writeMessages is the only writer of data frames on conn.
func (c *Controller) writeMessages(ctx context.Context, conn *websocket.Conn, send <-chan ServerMessage) {
	for msg := range send {
		if ctx.Err() != nil {
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			c.App.Logger.Debug("Failed to write WebSocket message", zap.Error(err))
			continue
		}
	}
}

func (c *Controller) readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, subs *clientSubscriptions, send chan<- ServerMessage) {
	const readTimeout = 60 * time.Second
	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.App.Logger.Debug("WebSocket read error", zap.Error(err))
			}
			cancel()
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			cancel()
			return
		}

		var reply ServerMessage
		switch {
		case msg.Tag == "" && (msg.Action == "subscribe" || msg.Action == "unsubscribe"):
			reply = ServerMessage{Type: "error", Payload: map[string]string{"message": "tag is required"}}
		case msg.Action == "subscribe":
			subs.subscribe(msg.Tag)
			reply = ServerMessage{Type: "subscribed", Payload: map[string]string{"tag": msg.Tag}}
		case msg.Action == "unsubscribe":
			subs.unsubscribe(msg.Tag)
			reply = ServerMessage{Type: "unsubscribed", Payload: map[string]string{"tag": msg.Tag}}
		default:
			reply = ServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action: " + msg.Action}}
		}
		if !trySend(ctx, send, reply) {
			return
		}
	}
}
