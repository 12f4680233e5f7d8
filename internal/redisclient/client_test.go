package redisclient

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeys(t *testing.T) {
	assert.Equal(t, "hold:vehicle:7", holdKey(7))
	assert.Equal(t, "unread:42", unreadKey(42))
}

func TestScriptsEmbedded(t *testing.T) {
	assert.Contains(t, releaseHoldScript, "DEL")
	assert.Contains(t, incrUnreadScript, "HINCRBY")
	assert.Contains(t, resetUnreadScript, "HSET")
}

func openTestClient(t *testing.T) *Client {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("Integration test - requires Redis (set TEST_REDIS_ADDR)")
	}
	c, err := NewClient(addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestVehicleHold(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	vehicleID := time.Now().UnixNano()

	ok, err := c.AcquireVehicleHold(ctx, vehicleID, "a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.AcquireVehicleHold(ctx, vehicleID, "b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// a foreign token must not release the hold
	require.NoError(t, c.ReleaseVehicleHold(ctx, vehicleID, "b"))
	ok, _ = c.AcquireVehicleHold(ctx, vehicleID, "b", time.Minute)
	assert.False(t, ok)

	require.NoError(t, c.ReleaseVehicleHold(ctx, vehicleID, "a"))
	ok, _ = c.AcquireVehicleHold(ctx, vehicleID, "b", time.Minute)
	assert.True(t, ok)
}

func TestUnreadCache(t *testing.T) {
	c := openTestClient(t)
	ctx := context.Background()
	userID := time.Now().UnixNano()

	_, found, err := c.GetUnreadCounts(ctx, userID)
	require.NoError(t, err)
	assert.False(t, found)

	// cold cache ignores increments
	require.NoError(t, c.IncrUnread(ctx, userID, 1, 1))
	_, found, _ = c.GetUnreadCounts(ctx, userID)
	assert.False(t, found)

	require.NoError(t, c.SetUnreadCounts(ctx, userID, map[int64]int64{}, time.Minute))
	require.NoError(t, c.IncrUnread(ctx, userID, 1, 1))
	require.NoError(t, c.IncrUnread(ctx, userID, 1, 1))

	counts, found, err := c.GetUnreadCounts(ctx, userID)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, map[int64]int64{1: 2}, counts)

	require.NoError(t, c.ResetUnread(ctx, userID, 1))
	counts, _, _ = c.GetUnreadCounts(ctx, userID)
	assert.Equal(t, int64(0), counts[1])
}
