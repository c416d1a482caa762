package dedup

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/redis"
)

func newTracker(t *testing.T, ttl time.Duration) (*Tracker, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr(), MaxRetries: -1, DialTimeout: 200 * time.Millisecond})
	t.Cleanup(func() { _ = rdb.Close() })
	logger := ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
	return NewTracker(redis.Wrap(rdb, logger), Config{KeyPrefix: "test:dedup", TTL: ttl}, logger), mr
}

func TestMarkIsCheckAndSet(t *testing.T) {
	tracker, mr := newTracker(t, time.Hour)
	ctx := context.Background()

	assert.False(t, tracker.IsProcessed(ctx, "J1", "A"))
	assert.True(t, tracker.MarkProcessed(ctx, "J1", "A"))
	assert.False(t, tracker.MarkProcessed(ctx, "J1", "A"), "second mark reports already processed")
	assert.True(t, tracker.IsProcessed(ctx, "J1", "A"))
	assert.Equal(t, 1, tracker.Count(ctx, "J1"))

	assert.True(t, mr.Exists("test:dedup:J1"))
	assert.Equal(t, time.Hour, mr.TTL("test:dedup:J1"))
}

func TestConcurrentMarksHaveOneWinner(t *testing.T) {
	tracker, _ := newTracker(t, time.Hour)
	ctx := context.Background()

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			newly, err := tracker.Mark(ctx, "J1", "https://example.com/a")
			if assert.NoError(t, err) && newly {
				winners.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestUnmarkReleasesURL(t *testing.T) {
	tracker, _ := newTracker(t, time.Hour)
	ctx := context.Background()

	require.True(t, tracker.MarkProcessed(ctx, "J1", "A"))
	require.NoError(t, tracker.Unmark(ctx, "J1", "A"))
	assert.False(t, tracker.IsProcessed(ctx, "J1", "A"))
	assert.True(t, tracker.MarkProcessed(ctx, "J1", "A"))
}

func TestJobsAreIsolated(t *testing.T) {
	tracker, _ := newTracker(t, time.Hour)
	ctx := context.Background()

	tracker.MarkProcessed(ctx, "J1", "A")
	tracker.MarkProcessed(ctx, "J1", "B")
	tracker.MarkProcessed(ctx, "J2", "A")

	assert.True(t, tracker.Clear(ctx, "J1"))
	assert.Equal(t, 0, tracker.Count(ctx, "J1"))
	assert.Equal(t, 1, tracker.Count(ctx, "J2"))
	assert.True(t, tracker.IsProcessed(ctx, "J2", "A"))
}

func TestEntriesExpire(t *testing.T) {
	tracker, mr := newTracker(t, time.Minute)
	ctx := context.Background()

	tracker.MarkProcessed(ctx, "J1", "A")
	mr.FastForward(2 * time.Minute)

	assert.False(t, tracker.IsProcessed(ctx, "J1", "A"))
	assert.Equal(t, 0, tracker.Count(ctx, "J1"))
}

func TestClaimTerminal(t *testing.T) {
	tracker, _ := newTracker(t, time.Hour)
	ctx := context.Background()

	ok, err := tracker.ClaimTerminal(ctx, "J1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = tracker.ClaimTerminal(ctx, "J1")
	require.NoError(t, err)
	assert.False(t, ok, "duplicate terminal events are rejected")

	assert.True(t, tracker.Clear(ctx, "J1"))
	ok, _ = tracker.ClaimTerminal(ctx, "J1")
	assert.False(t, ok, "clearing the ledger keeps the terminal claim")
}

func TestTerminated(t *testing.T) {
	tracker, mr := newTracker(t, time.Hour)
	ctx := context.Background()

	done, err := tracker.Terminated(ctx, "J1")
	require.NoError(t, err)
	assert.False(t, done)

	_, err = tracker.ClaimTerminal(ctx, "J1")
	require.NoError(t, err)

	done, err = tracker.Terminated(ctx, "J1")
	require.NoError(t, err)
	assert.True(t, done)

	done, err = tracker.Terminated(ctx, "J2")
	require.NoError(t, err)
	assert.False(t, done, "claims are per job")

	mr.FastForward(2 * time.Hour)
	done, err = tracker.Terminated(ctx, "J1")
	require.NoError(t, err)
	assert.False(t, done, "the claim lapses with the ledger TTL")
}

func TestDegradesWhenCacheIsDown(t *testing.T) {
	tracker, mr := newTracker(t, time.Hour)
	ctx := context.Background()
	mr.Close()

	newly, err := tracker.Mark(ctx, "J1", "A")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, newly)

	assert.False(t, tracker.MarkProcessed(ctx, "J1", "A"))
	assert.False(t, tracker.IsProcessed(ctx, "J1", "A"))
	assert.Equal(t, 0, tracker.Count(ctx, "J1"))
	assert.False(t, tracker.Clear(ctx, "J1"))
	assert.Error(t, tracker.Ping(ctx))

	_, err = tracker.ClaimTerminal(ctx, "J1")
	assert.ErrorIs(t, err, ErrUnavailable)

	done, err := tracker.Terminated(ctx, "J1")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, done)
}
