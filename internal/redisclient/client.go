package redisclient

import (
	"context"
	_ "embed"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

//go:embed scripts/release_hold.lua
var releaseHoldScript string

//go:embed scripts/incr_unread.lua
var incrUnreadScript string

//go:embed scripts/reset_unread.lua
var resetUnreadScript string

// unreadSentinel keeps an otherwise empty unread hash alive so a warm cache is distinguishable from a miss
const unreadSentinel = "_"

type Client struct {
	rdb           *redis.Client
	releaseScript *redis.Script
	incrScript    *redis.Script
	resetScript   *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewWithRedis(rdb), nil
}

// NewWithRedis wraps an existing redis client
func NewWithRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		releaseScript: redis.NewScript(releaseHoldScript),
		incrScript:    redis.NewScript(incrUnreadScript),
		resetScript:   redis.NewScript(resetUnreadScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks Redis connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func holdKey(vehicleID int64) string {
	return fmt.Sprintf("hold:vehicle:%d", vehicleID)
}

func unreadKey(userID int64) string {
	return fmt.Sprintf("unread:%d", userID)
}

// AcquireVehicleHold takes a short exclusive hold on a vehicle for the owner token.
// Returns false when another request already holds it.
func (c *Client) AcquireVehicleHold(ctx context.Context, vehicleID int64, token string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, holdKey(vehicleID), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire vehicle hold failed: %w", err)
	}
	return ok, nil
}

// ReleaseVehicleHold releases the hold only if the token still owns it
func (c *Client) ReleaseVehicleHold(ctx context.Context, vehicleID int64, token string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{holdKey(vehicleID)}, token).Result()
	if err != nil {
		return fmt.Errorf("release vehicle hold script failed: %w", err)
	}
	return nil
}

// GetUnreadCounts returns cached unread counts per conversation.
// found is false when the cache is cold.
func (c *Client) GetUnreadCounts(ctx context.Context, userID int64) (counts map[int64]int64, found bool, err error) {
	result, err := c.rdb.HGetAll(ctx, unreadKey(userID)).Result()
	if err != nil {
		return nil, false, err
	}
	if len(result) == 0 {
		return nil, false, nil
	}

	counts = make(map[int64]int64, len(result))
	for field, val := range result {
		if field == unreadSentinel {
			continue
		}
		convID, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			continue
		}
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			continue
		}
		counts[convID] = n
	}
	return counts, true, nil
}

// SetUnreadCounts replaces the cached unread counts of a user
func (c *Client) SetUnreadCounts(ctx context.Context, userID int64, counts map[int64]int64, ttl time.Duration) error {
	key := unreadKey(userID)
	values := make([]interface{}, 0, 2*len(counts)+2)
	values = append(values, unreadSentinel, 0)
	for convID, n := range counts {
		values = append(values, strconv.FormatInt(convID, 10), n)
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, values...)
	pipe.Expire(ctx, key, ttl)

	_, err := pipe.Exec(ctx)
	return err
}

// IncrUnread bumps a conversation's counter if the user's cache is warm
func (c *Client) IncrUnread(ctx context.Context, userID, conversationID, delta int64) error {
	_, err := c.incrScript.Run(ctx, c.rdb, []string{unreadKey(userID)},
		strconv.FormatInt(conversationID, 10), delta).Result()
	if err != nil {
		return fmt.Errorf("incr unread script failed: %w", err)
	}
	return nil
}

// ResetUnread zeroes a conversation's counter if the user's cache is warm
func (c *Client) ResetUnread(ctx context.Context, userID, conversationID int64) error {
	_, err := c.resetScript.Run(ctx, c.rdb, []string{unreadKey(userID)},
		strconv.FormatInt(conversationID, 10)).Result()
	if err != nil {
		return fmt.Errorf("reset unread script failed: %w", err)
	}
	return nil
}

// Publish sends a payload on a Redis pub/sub channel
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	return c.rdb.Publish(ctx, channel, payload).Err()
}

// PSubscribe subscribes to channels matching the pattern
func (c *Client) PSubscribe(ctx context.Context, pattern string) *redis.PubSub {
	return c.rdb.PSubscribe(ctx, pattern)
}
