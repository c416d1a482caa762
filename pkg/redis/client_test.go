package redis

import (
	"context"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}), ectologger.NewEctoLogger(func(ectologger.EctoLogMessage) {}))
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestConnect(t *testing.T) {
	client, mr := newTestClient(t)
	require.NoError(t, client.Connect(context.Background()))

	mr.Close()
	assert.Error(t, client.Connect(context.Background()))
}

func TestClaims(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()
	first := NewClaims(client, "test:claim:")
	second := NewClaims(client, "test:claim:")

	ok, err := first.Claim(ctx, "J1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, mr.Exists("test:claim:J1"))

	ok, err = second.Claim(ctx, "J1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a live claim cannot be taken twice")

	holder, err := second.Holder(ctx, "J1")
	require.NoError(t, err)
	assert.Equal(t, first.Owner(), holder)

	holder, err = second.Holder(ctx, "J2")
	require.NoError(t, err)
	assert.Empty(t, holder)

	mr.FastForward(2 * time.Minute)
	ok, err = second.Claim(ctx, "J1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired claims can be taken again")
}

func TestClaimsUnreachable(t *testing.T) {
	client, mr := newTestClient(t)
	mr.Close()

	_, err := NewClaims(client, "").Claim(context.Background(), "J1", time.Minute)
	assert.Error(t, err)
}
