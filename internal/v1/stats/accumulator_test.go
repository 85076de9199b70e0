package stats

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/traybueno/watchtower-api/internal/v1/store"
)

func newTestAccumulator(t *testing.T) (*Accumulator, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	s := store.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = s.Close() })
	return NewAccumulator(s), mr
}

func TestSessionStart(t *testing.T) {
	acc, _ := newTestAccumulator(t)
	ctx := context.Background()

	require.NoError(t, acc.Track(ctx, "game1", "alice", EventSessionStart))

	out, err := acc.GameStats(ctx, "game1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Online)
	assert.Equal(t, int64(1), out.Total)
	assert.Equal(t, int64(1), out.Today)
	assert.Equal(t, int64(1), out.ThisMonth)

	rec, err := acc.PlayerStats(ctx, "game1", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rec.Sessions)
	assert.Greater(t, rec.FirstSeen, int64(0))
	assert.Equal(t, rec.FirstSeen, rec.LastSeen)
}

func TestSessionStartSamePlayerTwice(t *testing.T) {
	acc, _ := newTestAccumulator(t)
	ctx := context.Background()

	require.NoError(t, acc.Track(ctx, "game1", "alice", EventSessionStart))
	require.NoError(t, acc.Track(ctx, "game1", "alice", EventSessionStart))

	out, err := acc.GameStats(ctx, "game1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Online)
	// Lifetime total and unique sets only count the player once
	assert.Equal(t, int64(1), out.Total)
	assert.Equal(t, int64(1), out.Today)

	rec, err := acc.PlayerStats(ctx, "game1", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(2), rec.Sessions)
}

func TestDailyUniquePlayers(t *testing.T) {
	acc, _ := newTestAccumulator(t)
	ctx := context.Background()

	for _, p := range []string{"alice", "bob", "carol"} {
		require.NoError(t, acc.Track(ctx, "game1", p, EventSessionStart))
	}

	out, err := acc.GameStats(ctx, "game1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.Today)
	assert.Equal(t, int64(3), out.ThisMonth)
	assert.Equal(t, int64(3), out.Total)
}

func TestSessionEndClampsAtZero(t *testing.T) {
	acc, _ := newTestAccumulator(t)
	ctx := context.Background()

	require.NoError(t, acc.Track(ctx, "game1", "alice", EventSessionEnd))
	require.NoError(t, acc.Track(ctx, "game1", "alice", EventSessionEnd))

	out, err := acc.GameStats(ctx, "game1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.Online)
}

func TestOnlineMatchesUnpairedStarts(t *testing.T) {
	acc, _ := newTestAccumulator(t)
	ctx := context.Background()

	// 5 starts, 3 ends, interleaved across players
	players := []string{"p1", "p2", "p3", "p4", "p5"}
	for _, p := range players {
		require.NoError(t, acc.Track(ctx, "game1", p, EventSessionStart))
	}
	for _, p := range players[:3] {
		require.NoError(t, acc.Track(ctx, "game1", p, EventSessionEnd))
	}

	out, err := acc.GameStats(ctx, "game1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), out.Online)
}

func TestSessionEndAccruesPlaytime(t *testing.T) {
	acc, _ := newTestAccumulator(t)
	ctx := context.Background()

	base := time.Now()
	acc.now = func() time.Time { return base }
	require.NoError(t, acc.Track(ctx, "game1", "alice", EventSessionStart))

	acc.now = func() time.Time { return base.Add(90 * time.Second) }
	require.NoError(t, acc.Track(ctx, "game1", "alice", EventSessionEnd))

	rec, err := acc.PlayerStats(ctx, "game1", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(90), rec.Playtime)
}

func TestRoomCounters(t *testing.T) {
	acc, _ := newTestAccumulator(t)
	ctx := context.Background()

	require.NoError(t, acc.Track(ctx, "game1", "", EventRoomCreate))
	require.NoError(t, acc.Track(ctx, "game1", "alice", EventRoomJoin))
	require.NoError(t, acc.Track(ctx, "game1", "bob", EventRoomJoin))

	out, err := acc.GameStats(ctx, "game1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), out.Rooms)
	assert.Equal(t, int64(2), out.InRooms)

	require.NoError(t, acc.Track(ctx, "game1", "alice", EventRoomLeave))
	require.NoError(t, acc.Track(ctx, "game1", "bob", EventRoomLeave))
	require.NoError(t, acc.Track(ctx, "game1", "", EventRoomClose))
	// Extra decrements clamp at zero
	require.NoError(t, acc.Track(ctx, "game1", "", EventRoomClose))

	out, err = acc.GameStats(ctx, "game1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.Rooms)
	assert.Equal(t, int64(0), out.InRooms)
}

func TestUnknownEvent(t *testing.T) {
	acc, _ := newTestAccumulator(t)

	err := acc.Track(context.Background(), "game1", "alice", "teleport")
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestGameStatsZeroForAbsentGame(t *testing.T) {
	acc, _ := newTestAccumulator(t)

	out, err := acc.GameStats(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.Online)
	assert.Equal(t, int64(0), out.Total)
	assert.Equal(t, int64(0), out.Today)
	assert.Equal(t, int64(0), out.ThisMonth)
}

func TestPlayerStatsZeroForAbsentPlayer(t *testing.T) {
	acc, _ := newTestAccumulator(t)

	rec, err := acc.PlayerStats(context.Background(), "game1", "ghost")
	require.NoError(t, err)
	assert.Equal(t, PlayerRecord{}, rec)
}

func TestDailySetExpires(t *testing.T) {
	acc, mr := newTestAccumulator(t)
	ctx := context.Background()

	require.NoError(t, acc.Track(ctx, "game1", "alice", EventSessionStart))

	// Past the day+grace retention the daily set is gone
	mr.FastForward(49 * time.Hour)

	out, err := acc.GameStats(ctx, "game1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.Today)
}

func TestConcurrentSessionStarts(t *testing.T) {
	acc, _ := newTestAccumulator(t)
	ctx := context.Background()

	const n = 10
	done := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			done <- acc.Track(ctx, "game1", fmt.Sprintf("p%d", i), EventSessionStart)
		}(i)
	}
	for i := 0; i < n; i++ {
		require.NoError(t, <-done)
	}

	out, err := acc.GameStats(ctx, "game1")
	require.NoError(t, err)
	assert.Equal(t, int64(n), out.Online)
	assert.Equal(t, int64(n), out.Total)
	assert.Equal(t, int64(n), out.Today)
}
