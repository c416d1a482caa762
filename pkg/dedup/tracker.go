// Package dedup is the per-crawl idempotency ledger that keeps pages
// delivered both by streaming and in the terminal batch from being
// processed twice.
package dedup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Gobusters/ectologger"
	goredis "github.com/redis/go-redis/v9"

	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/redis"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

// ErrUnavailable wraps every cache failure surfaced by the error-returning methods.
var ErrUnavailable = errors.New("dedup ledger unavailable")

type Config struct {
	KeyPrefix string
	// TTL bounds the life of a job's ledger when no terminal event arrives.
	TTL time.Duration
}

// Tracker records processed source URLs per crawl job in a Redis set
// "<prefix>:<jobID>". Marking is a single SADD, so it is an atomic
// check-and-set: of two racing marks for the same URL exactly one wins.
type Tracker struct {
	client *redis.Client
	claims *redis.Claims
	config Config
	logger ectologger.Logger
}

func NewTracker(client *redis.Client, config Config, logger ectologger.Logger) *Tracker {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "fern:dedup"
	}
	if config.TTL <= 0 {
		config.TTL = 6 * time.Hour
	}
	return &Tracker{
		client: client,
		claims: redis.NewClaims(client, config.KeyPrefix+":terminal:"),
		config: config,
		logger: logger,
	}
}

func (t *Tracker) key(jobID string) string {
	return t.config.KeyPrefix + ":" + jobID
}

// Mark atomically records url as processed for jobID and refreshes the
// ledger TTL. newlyMarked is true only for the call that added the URL.
func (t *Tracker) Mark(ctx context.Context, jobID, url string) (newlyMarked bool, err error) {
	ctx, span := tracing.StartSpan(ctx, "dedup.Tracker.Mark")
	defer span.End()

	var added *goredis.IntCmd
	_, err = t.client.Redis().TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		added = pipe.SAdd(ctx, t.key(jobID), url)
		pipe.Expire(ctx, t.key(jobID), t.config.TTL)
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err)
		return false, t.fail(ctx, "mark", jobID, err)
	}
	return added.Val() == 1, nil
}

// Unmark releases a mark whose processing never started.
func (t *Tracker) Unmark(ctx context.Context, jobID, url string) error {
	if err := t.client.Redis().SRem(ctx, t.key(jobID), url).Err(); err != nil {
		return t.fail(ctx, "unmark", jobID, err)
	}
	return nil
}

// Processed reports whether url is marked for jobID.
func (t *Tracker) Processed(ctx context.Context, jobID, url string) (bool, error) {
	ok, err := t.client.Redis().SIsMember(ctx, t.key(jobID), url).Result()
	if err != nil {
		return false, t.fail(ctx, "is_processed", jobID, err)
	}
	return ok, nil
}

// Size returns the number of URLs marked for jobID.
func (t *Tracker) Size(ctx context.Context, jobID string) (int, error) {
	n, err := t.client.Redis().SCard(ctx, t.key(jobID)).Result()
	if err != nil {
		return 0, t.fail(ctx, "count", jobID, err)
	}
	return int(n), nil
}

// Reset removes every entry for jobID.
func (t *Tracker) Reset(ctx context.Context, jobID string) error {
	if err := t.client.Redis().Del(ctx, t.key(jobID)).Err(); err != nil {
		return t.fail(ctx, "clear", jobID, err)
	}
	return nil
}

// ClaimTerminal lets exactly one terminal event per job proceed. The claim
// is never released; it expires with the ledger TTL so a redelivered
// completion cannot re-run the batch after the ledger was cleared.
func (t *Tracker) ClaimTerminal(ctx context.Context, jobID string) (bool, error) {
	claimed, err := t.claims.Claim(ctx, jobID, t.config.TTL)
	if err != nil {
		return false, t.fail(ctx, "claim_terminal", jobID, err)
	}
	return claimed, nil
}

// Terminated reports whether a terminal event has already been claimed for
// jobID. Late page deliveries for a finished crawl must not touch the ledger.
func (t *Tracker) Terminated(ctx context.Context, jobID string) (bool, error) {
	holder, err := t.claims.Holder(ctx, jobID)
	if err != nil {
		return false, t.fail(ctx, "terminated", jobID, err)
	}
	if holder == "" {
		return false, nil
	}
	t.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"crawl_id":     jobID,
		"claimed_here": holder == t.claims.Owner(),
	}).Debug("Crawl already has a terminal claim")
	return true, nil
}

// MarkProcessed is Mark with failures degraded to false.
func (t *Tracker) MarkProcessed(ctx context.Context, jobID, url string) bool {
	ok, _ := t.Mark(ctx, jobID, url)
	return ok
}

// IsProcessed is Processed with failures degraded to false.
func (t *Tracker) IsProcessed(ctx context.Context, jobID, url string) bool {
	ok, _ := t.Processed(ctx, jobID, url)
	return ok
}

// Count is Size with failures degraded to 0.
func (t *Tracker) Count(ctx context.Context, jobID string) int {
	n, _ := t.Size(ctx, jobID)
	return n
}

// Clear is Reset reporting success as a bool.
func (t *Tracker) Clear(ctx context.Context, jobID string) bool {
	return t.Reset(ctx, jobID) == nil
}

// Ping reports whether the backing cache is reachable.
func (t *Tracker) Ping(ctx context.Context) error {
	return t.client.Ping(ctx)
}

func (t *Tracker) fail(ctx context.Context, op, jobID string, err error) error {
	metrics.RecordDedupError(op)
	t.logger.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{
		"operation": op,
		"crawl_id":  jobID,
	}).Warn("dedup ledger unavailable, degrading")
	return fmt.Errorf("%w: %s: %v", ErrUnavailable, op, err)
}
