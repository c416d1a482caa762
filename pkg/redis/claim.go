package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Claims hands out first-come ownership of keys. A claim is a SET NX entry
// holding the claimant's id; it lapses with its TTL and is never released
// early, so a key can be claimed once per TTL window.
type Claims struct {
	client *Client
	prefix string
	owner  string
}

func NewClaims(client *Client, prefix string) *Claims {
	if prefix == "" {
		prefix = "claim:"
	}
	return &Claims{
		client: client,
		prefix: prefix,
		owner:  uuid.NewString(),
	}
}

// Claim reports whether this call took ownership of key.
func (c *Claims) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.client.rdb.SetNX(ctx, c.prefix+key, c.owner, ttl).Result()
	if err != nil {
		return false, err
	}
	if ok {
		c.client.logger.WithContext(ctx).Debugf("Claimed %s%s", c.prefix, key)
	}
	return ok, nil
}

// Holder returns the owner id of a live claim, or "" when key is unclaimed.
func (c *Claims) Holder(ctx context.Context, key string) (string, error) {
	owner, err := c.client.rdb.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return owner, err
}

// Owner is the id this process claims under.
func (c *Claims) Owner() string {
	return c.owner
}
