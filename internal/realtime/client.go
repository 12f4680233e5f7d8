package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"rental-service/internal/models"
	"rental-service/internal/util"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Identity is the authenticated user behind a connection
type Identity struct {
	UserID int64
	Role   string
}

// ConversationAccess decides whether a user may follow a conversation
type ConversationAccess interface {
	CanAccessConversation(ctx context.Context, conversationID, userID int64, role string) (bool, error)
}

// Authorizer checks channel subscriptions
type Authorizer struct {
	conversations ConversationAccess
}

// NewAuthorizer creates a channel authorizer
func NewAuthorizer(conversations ConversationAccess) *Authorizer {
	return &Authorizer{conversations: conversations}
}

// CanSubscribe reports whether identity may receive events on channel
func (a *Authorizer) CanSubscribe(ctx context.Context, identity Identity, channel string) (bool, error) {
	kind, id := ParseChannel(channel)
	switch kind {
	case ChannelUser:
		return id == identity.UserID, nil
	case ChannelAdmin:
		return identity.Role == models.RoleAdmin, nil
	case ChannelConversation:
		if identity.Role == models.RoleAdmin {
			return true, nil
		}
		return a.conversations.CanAccessConversation(ctx, id, identity.UserID, identity.Role)
	default:
		return false, nil
	}
}

type clientFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

type serverFrame struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Client is one websocket connection attached to the hub
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	identity   Identity
	authorizer *Authorizer
	send       chan []byte
	logger     *zap.Logger

	// guarded by hub.mu
	subscriptions map[string]struct{}

	mu     sync.Mutex
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, identity Identity, authorizer *Authorizer) *Client {
	return &Client{
		hub:           hub,
		conn:          conn,
		identity:      identity,
		authorizer:    authorizer,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[string]struct{}),
		logger:        util.GetLogger(),
	}
}

// ServeWS upgrades the request and pumps frames until the connection closes.
// The user's own channel, and the admin channel for admins, are subscribed automatically.
func ServeWS(ctx context.Context, hub *Hub, authorizer *Authorizer, identity Identity, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	c := newClient(hub, conn, identity, authorizer)
	hub.Register(c)
	hub.Subscribe(c, UserChannel(identity.UserID))
	if identity.Role == models.RoleAdmin {
		hub.Subscribe(c, AdminChannel)
	}

	c.logger.Info("Websocket connected",
		zap.Int64("user_id", identity.UserID),
		zap.String("role", identity.Role))

	go c.writePump()
	c.readPump(ctx)
	return nil
}

// enqueue queues a payload without blocking; false when the buffer is full or closed
func (c *Client) enqueue(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
		c.logger.Info("Websocket disconnected", zap.Int64("user_id", c.identity.UserID))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Websocket read error", zap.Error(err))
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.reply(serverFrame{Type: "error", Error: "invalid frame"})
			continue
		}
		c.reply(c.handleFrame(ctx, frame))
	}
}

func (c *Client) handleFrame(ctx context.Context, frame clientFrame) serverFrame {
	switch frame.Type {
	case "subscribe":
		ok, err := c.authorizer.CanSubscribe(ctx, c.identity, frame.Channel)
		if err != nil {
			c.logger.Error("Subscription check failed", zap.String("channel", frame.Channel), zap.Error(err))
			return serverFrame{Type: "error", Channel: frame.Channel, Error: "subscription check failed"}
		}
		if !ok {
			return serverFrame{Type: "error", Channel: frame.Channel, Error: "forbidden"}
		}
		c.hub.Subscribe(c, frame.Channel)
		return serverFrame{Type: "subscribed", Channel: frame.Channel}

	case "unsubscribe":
		c.hub.Unsubscribe(c, frame.Channel)
		return serverFrame{Type: "unsubscribed", Channel: frame.Channel}

	case "ping":
		return serverFrame{Type: "pong"}

	default:
		return serverFrame{Type: "error", Error: "unknown frame type"}
	}
}

func (c *Client) reply(frame serverFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	if !c.enqueue(data) {
		util.RealtimeDroppedTotal.Inc()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
