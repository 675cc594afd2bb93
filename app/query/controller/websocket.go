package controller

import (
	"context"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/canopy-network/spendq/pkg/events"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	pingInterval = 30 * time.Second
	readTimeout  = 60 * time.Second
	eventBuffer  = 256
)

// ClientMessage is sent by clients to choose which tenants they follow.
type ClientMessage struct {
	Action   string `json:"action"`    // "subscribe" or "unsubscribe"
	TenantID string `json:"tenant_id"` // tenant to follow, or "*" for all
}

// ServerMessage is sent to clients. Type is an event name such as
// "table_rebuilt", or one of "subscribed", "unsubscribed", "error".
type ServerMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// clientSubscriptions tracks the tenants one client follows.
type clientSubscriptions struct {
	mu      sync.RWMutex
	tenants map[string]bool
}

func newClientSubscriptions() *clientSubscriptions {
	return &clientSubscriptions{tenants: make(map[string]bool)}
}

func (cs *clientSubscriptions) subscribe(tenantID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.tenants[tenantID] = true
}

func (cs *clientSubscriptions) unsubscribe(tenantID string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.tenants, tenantID)
}

// isSubscribed reports whether events of tenantID should be forwarded.
// The wildcard "*" matches every tenant.
func (cs *clientSubscriptions) isSubscribed(tenantID string) bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.tenants["*"] || cs.tenants[tenantID]
}

// HandleWebSocket streams refresh, invalidation and prefetch events.
//
// Client sends: {"action": "subscribe", "tenant_id": "t1"} or "*" for all.
// Server sends: {"type": "table_rebuilt", "payload": {...}} and the
// subscribed/unsubscribed/error acknowledgements.
func (c *Controller) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
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
	send := make(chan ServerMessage, eventBuffer)

	// Bus handlers must not block: events are dropped for a slow client.
	incoming := make(chan events.Event, eventBuffer)
	unsubscribe := c.App.Bus.Subscribe(func(e events.Event) {
		select {
		case incoming <- e:
		default:
			c.App.Logger.Warn("Dropping event for slow WebSocket client",
				zap.String("type", e.Type.String()),
				zap.String("remote_addr", r.RemoteAddr))
		}
	})
	defer unsubscribe()

	// producers write to send; the writer drains it after they are done
	var producers sync.WaitGroup
	guard := func(name string, fn func()) {
		producers.Add(1)
		go func() {
			defer producers.Done()
			defer func() {
				if rec := recover(); rec != nil {
					c.App.Logger.Error("Panic in WebSocket goroutine",
						zap.String("goroutine", name),
						zap.Any("panic", rec),
						zap.String("stack", string(debug.Stack())),
						zap.String("remote_addr", r.RemoteAddr))
					cancel()
				}
			}()
			fn()
		}()
	}
	guard("forwarder", func() { c.forwardEvents(ctx, incoming, send, subs) })
	guard("ping", func() { c.sendPings(ctx, conn) })

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer func() {
			if rec := recover(); rec != nil {
				c.App.Logger.Error("Panic in message writer goroutine",
					zap.Any("panic", rec),
					zap.String("stack", string(debug.Stack())),
					zap.String("remote_addr", r.RemoteAddr))
				cancel()
			}
		}()
		c.writeMessages(ctx, conn, send)
	}()

	// blocks until the connection closes
	c.readClientMessages(ctx, conn, cancel, subs, send)

	cancel()
	producers.Wait()
	close(send)
	<-writerDone

	c.App.Logger.Info("WebSocket client disconnected", zap.String("remote_addr", r.RemoteAddr))
}

// forwardEvents relays bus events for subscribed tenants to send.
func (c *Controller) forwardEvents(ctx context.Context, incoming <-chan events.Event, send chan<- ServerMessage, subs *clientSubscriptions) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-incoming:
			if !subs.isSubscribed(e.TenantID) {
				continue
			}
			select {
			case send <- ServerMessage{Type: e.Type.String(), Payload: e}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// sendPings sends periodic WebSocket ping frames to keep the connection alive.
// The client will automatically respond with pong frames, which resets the read deadline.
func (c *Controller) sendPings(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
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

// writeMessages writes messages from send until it is closed. After a write
// error it keeps draining so producers never block.
func (c *Controller) writeMessages(ctx context.Context, conn *websocket.Conn, send <-chan ServerMessage) {
	failed := false
	for msg := range send {
		if failed {
			continue
		}
		if err := conn.WriteJSON(msg); err != nil {
			if ctx.Err() == nil {
				c.App.Logger.Error("Failed to write WebSocket message", zap.Error(err))
			}
			failed = true
		}
	}
}

// reply queues msg unless the connection is shutting down.
func reply(ctx context.Context, send chan<- ServerMessage, msg ServerMessage) {
	select {
	case send <- msg:
	case <-ctx.Done():
	}
}

// readClientMessages handles subscription requests and detects closure.
func (c *Controller) readClientMessages(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc, subs *clientSubscriptions, send chan<- ServerMessage) {
	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		c.App.Logger.Error("Failed to set read deadline", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		var msg ClientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.App.Logger.Warn("WebSocket read error", zap.Error(err))
			}
			cancel()
			return
		}
		if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			cancel()
			return
		}

		switch msg.Action {
		case "subscribe", "unsubscribe":
			if msg.TenantID == "" {
				reply(ctx, send, ServerMessage{Type: "error", Payload: map[string]string{"message": "tenant_id is required"}})
				continue
			}
			if msg.Action == "subscribe" {
				subs.subscribe(msg.TenantID)
			} else {
				subs.unsubscribe(msg.TenantID)
			}
			c.App.Logger.Debug("Client subscription changed", zap.String("action", msg.Action), zap.String("tenant_id", msg.TenantID))
			reply(ctx, send, ServerMessage{Type: msg.Action + "d", Payload: map[string]string{"tenant_id": msg.TenantID}})
		default:
			reply(ctx, send, ServerMessage{Type: "error", Payload: map[string]string{"message": "unknown action: " + msg.Action}})
		}
	}
}
