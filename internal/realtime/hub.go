package realtime

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"rental-service/internal/util"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// PatternSubscriber opens a pattern subscription on the shared pub/sub
type PatternSubscriber interface {
	PSubscribe(ctx context.Context, pattern string) *redis.PubSub
}

// Hub fans envelopes received from Redis out to the local subscribers of each channel
type Hub struct {
	mu       sync.RWMutex
	channels map[string]map[*Client]struct{}
	clients  map[*Client]struct{}
	logger   *zap.Logger
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]map[*Client]struct{}),
		clients:  make(map[*Client]struct{}),
		logger:   util.GetLogger(),
	}
}

// Run consumes the realtime pattern subscription until ctx is cancelled, then disconnects every client
func (h *Hub) Run(ctx context.Context, sub PatternSubscriber) error {
	ps := sub.PSubscribe(ctx, redisPrefix+"*")
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	h.logger.Info("Realtime hub subscribed", zap.String("pattern", redisPrefix+"*"))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				h.closeAll()
				return nil
			}
			h.Dispatch(strings.TrimPrefix(msg.Channel, redisPrefix), []byte(msg.Payload))
		}
	}
}

// Dispatch delivers a payload to every subscriber of channel.
// Subscribers whose send buffer is full miss the message.
func (h *Hub) Dispatch(channel string, payload []byte) int {
	if channel == "" {
		var env Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			h.logger.Warn("Dropping malformed realtime payload", zap.Error(err))
			return 0
		}
		channel = env.Channel
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for c := range h.channels[channel] {
		if c.enqueue(payload) {
			delivered++
		} else {
			util.RealtimeDroppedTotal.Inc()
			h.logger.Debug("Subscriber buffer full, dropping",
				zap.String("channel", channel),
				zap.Int64("user_id", c.identity.UserID))
		}
	}
	return delivered
}

// Register adds a connected client with no subscriptions
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	util.WebsocketConnections.Inc()
}

// Unregister removes a client from every channel and closes its send buffer
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	for name := range c.subscriptions {
		if subs, ok := h.channels[name]; ok {
			delete(subs, c)
			if len(subs) == 0 {
				delete(h.channels, name)
			}
		}
	}
	c.subscriptions = nil
	c.close()
	util.WebsocketConnections.Dec()
}

// Subscribe adds the client to channel
func (h *Hub) Subscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; !ok {
		return
	}
	subs, ok := h.channels[channel]
	if !ok {
		subs = make(map[*Client]struct{})
		h.channels[channel] = subs
	}
	subs[c] = struct{}{}
	c.subscriptions[channel] = struct{}{}
}

// Unsubscribe removes the client from channel
func (h *Hub) Unsubscribe(c *Client, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if subs, ok := h.channels[channel]; ok {
		delete(subs, c)
		if len(subs) == 0 {
			delete(h.channels, channel)
		}
	}
	delete(c.subscriptions, channel)
}

// SubscriberCount returns the number of local subscribers of channel
func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.removeLocked(c)
	}
}
