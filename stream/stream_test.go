package stream

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *RedisLog {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisLog(client)
}

func TestRedisLog_PushAndReadFrom(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	id1, err := log.Push(ctx, "s", map[string]string{"k": "a"}, 0)
	require.NoError(t, err)
	id2, err := log.Push(ctx, "s", map[string]string{"k": "b"}, 0)
	require.NoError(t, err)

	entries, err := log.ReadFrom(ctx, "s", "0-0", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, id1, entries[0].ID)
	assert.Equal(t, "a", entries[0].Fields["k"])

	// A cursor at the first entry only sees what came after it.
	entries, err = log.ReadFrom(ctx, "s", id1, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id2, entries[0].ID)

	// Nothing past the newest entry.
	entries, err = log.ReadFrom(ctx, "s", id2, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRedisLog_ReadNewest(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	entries, err := log.ReadNewest(ctx, "s", 1)
	require.NoError(t, err)
	assert.Empty(t, entries)

	_, err = log.Push(ctx, "s", map[string]string{"k": "a"}, 0)
	require.NoError(t, err)
	id2, err := log.Push(ctx, "s", map[string]string{"k": "b"}, 0)
	require.NoError(t, err)

	entries, err = log.ReadNewest(ctx, "s", 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id2, entries[0].ID)

	entries, err = log.ReadNewest(ctx, "s", 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, id2, entries[0].ID, "newest first")
}

func TestRedisLog_ReadRangePointLookup(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	id1, err := log.Push(ctx, "s", map[string]string{"k": "a"}, 0)
	require.NoError(t, err)
	_, err = log.Push(ctx, "s", map[string]string{"k": "b"}, 0)
	require.NoError(t, err)

	entries, err := log.ReadRange(ctx, "s", id1, id1, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].Fields["k"])

	entries, err = log.ReadRange(ctx, "s", "99999999-0", "99999999-0", 1)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestRedisLog_CreateGroupIdempotent(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, log.CreateGroup(ctx, "s", "g"))
	require.NoError(t, log.CreateGroup(ctx, "s", "g"), "second creation must not fail")
}

func TestRedisLog_GroupDeliversEachEntryOnce(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, log.CreateGroup(ctx, "s", "g"))
	id, err := log.Push(ctx, "s", map[string]string{"k": "a"}, 0)
	require.NoError(t, err)

	entries, err := log.ReadGroup(ctx, "s", "g", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)

	// The same entry is not delivered again, to this or any other member.
	entries, err = log.ReadGroup(ctx, "s", "g", "c1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
	entries, err = log.ReadGroup(ctx, "s", "g", "c2", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)

	require.NoError(t, log.Ack(ctx, "s", "g", id))
}

func TestRedisLog_AutoClaimTakesOverStalePending(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	require.NoError(t, log.CreateGroup(ctx, "s", "g"))
	id, err := log.Push(ctx, "s", map[string]string{"k": "a"}, 0)
	require.NoError(t, err)

	// c1 reads but never acks.
	entries, err := log.ReadGroup(ctx, "s", "g", "c1", 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	claimed, err := log.AutoClaim(ctx, "s", "g", "c2", 0, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, id, claimed[0].ID)
	assert.Equal(t, "a", claimed[0].Fields["k"])
}

func TestRedisLog_LenAndTrim(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := log.Push(ctx, "s", map[string]string{"k": "v"}, 0)
		require.NoError(t, err)
	}
	n, err := log.Len(ctx, "s")
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)

	_, err = log.Trim(ctx, "s", 2)
	require.NoError(t, err)
	n, err = log.Len(ctx, "s")
	require.NoError(t, err)
	assert.LessOrEqual(t, n, int64(5))
}

func TestRedisLog_BoundedBlockReturnsEmpty(t *testing.T) {
	log := newTestLog(t)
	ctx := context.Background()

	start := time.Now()
	entries, err := log.ReadFrom(ctx, "empty", "0-0", 10, 20*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Less(t, time.Since(start), 5*time.Second, "block must be bounded")
}

func TestRedisLog_PingReportsUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	log := NewRedisLog(client)

	require.NoError(t, log.Ping(context.Background()))
	mr.Close()
	assert.Error(t, log.Ping(context.Background()))
}
