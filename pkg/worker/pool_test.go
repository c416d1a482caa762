package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appctx "github.com/Ramsey-B/fern/pkg/context"
)

func silentLogger() ectologger.Logger {
	return ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {})
}

func startPool(t *testing.T, config Config) *Pool {
	t.Helper()
	p := NewPool(config, silentLogger())
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(func() { _ = p.Stop(context.Background()) })
	return p
}

func TestPoolRunsTasks(t *testing.T) {
	p := startPool(t, Config{Workers: 2, QueueSize: 10})

	var count int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), "count", func(context.Context) error {
			defer wg.Done()
			atomic.AddInt32(&count, 1)
			return nil
		}))
	}
	wg.Wait()
	assert.Equal(t, int32(10), atomic.LoadInt32(&count))
}

func TestPoolDetachesContext(t *testing.T) {
	p := startPool(t, Config{Workers: 1})

	ctx, cancel := context.WithCancel(appctx.SetCrawlID(context.Background(), "job-1"))
	done := make(chan struct{})
	var crawlID string
	var ctxErr error

	require.NoError(t, p.Submit(ctx, "detached", func(taskCtx context.Context) error {
		defer close(done)
		<-time.After(10 * time.Millisecond)
		crawlID = appctx.GetCrawlID(taskCtx)
		ctxErr = taskCtx.Err()
		return nil
	}))
	cancel()
	<-done

	assert.Equal(t, "job-1", crawlID)
	assert.NoError(t, ctxErr)
}

func TestPoolSaturationAndOverflow(t *testing.T) {
	p := startPool(t, Config{Workers: 1, QueueSize: 1})

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), "blocker", func(context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started
	require.NoError(t, p.Submit(context.Background(), "queued", func(context.Context) error { return nil }))

	err := p.Submit(context.Background(), "rejected", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrPoolSaturated)

	ran := make(chan struct{})
	require.NoError(t, p.Go(context.Background(), "overflow", func(context.Context) error {
		close(ran)
		return nil
	}))
	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("overflow task did not run")
	}
	close(block)
}

func TestPoolRecoversPanics(t *testing.T) {
	p := startPool(t, Config{Workers: 1})

	require.NoError(t, p.Submit(context.Background(), "panics", func(context.Context) error {
		panic("boom")
	}))

	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), "after", func(context.Context) error {
		close(done)
		return errors.New("ordinary failure")
	}))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker died after panic")
	}
}

func TestPoolStopDrainsAndRejects(t *testing.T) {
	p := NewPool(Config{Workers: 1, QueueSize: 5}, silentLogger())
	assert.ErrorIs(t, p.Submit(context.Background(), "early", func(context.Context) error { return nil }), ErrPoolStopped)

	require.NoError(t, p.Start(context.Background()))
	assert.Error(t, p.Start(context.Background()))

	var count int32
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(context.Background(), "drain", func(context.Context) error {
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&count, 1)
			return nil
		}))
	}

	require.NoError(t, p.Stop(context.Background()))
	assert.Equal(t, int32(5), atomic.LoadInt32(&count))
	assert.False(t, p.IsRunning())
	assert.ErrorIs(t, p.Go(context.Background(), "late", func(context.Context) error { return nil }), ErrPoolStopped)
	require.NoError(t, p.Stop(context.Background()))
}

func TestPoolTaskTimeout(t *testing.T) {
	p := startPool(t, Config{Workers: 1, Timeout: 5 * time.Millisecond})

	done := make(chan error, 1)
	require.NoError(t, p.Submit(context.Background(), "slow", func(ctx context.Context) error {
		<-ctx.Done()
		done <- ctx.Err()
		return ctx.Err()
	}))
	assert.ErrorIs(t, <-done, context.DeadlineExceeded)
}
