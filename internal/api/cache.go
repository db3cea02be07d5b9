package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/replyhq/metering/pkg/metering"
)

// SummaryCache keeps recently computed usage summaries in Redis so the
// dashboard's polling doesn't hammer the database. Cache failures only cost
// the cache: reads fall through to the service and errors are logged.
type SummaryCache struct {
	rdb *redis.Client
	ttl time.Duration
	log *slog.Logger
}

// NewSummaryCache creates a SummaryCache with the given TTL.
func NewSummaryCache(rdb *redis.Client, ttl time.Duration, log *slog.Logger) *SummaryCache {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &SummaryCache{rdb: rdb, ttl: ttl, log: log}
}

func summaryKey(userID uuid.UUID) string {
	return "metering:summary:" + userID.String()
}

// Get returns the cached summary for the user, if any.
func (c *SummaryCache) Get(ctx context.Context, userID uuid.UUID) (*metering.Summary, bool) {
	raw, err := c.rdb.Get(ctx, summaryKey(userID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.WarnContext(ctx, "summary cache read failed", "user_id", userID, "error", err)
		}
		return nil, false
	}

	var sum metering.Summary
	if err := json.Unmarshal(raw, &sum); err != nil {
		c.log.WarnContext(ctx, "summary cache entry corrupt", "user_id", userID, "error", err)
		return nil, false
	}
	return &sum, true
}

// Set stores the summary under the cache TTL.
func (c *SummaryCache) Set(ctx context.Context, userID uuid.UUID, sum *metering.Summary) {
	raw, err := json.Marshal(sum)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, summaryKey(userID), raw, c.ttl).Err(); err != nil {
		c.log.WarnContext(ctx, "summary cache write failed", "user_id", userID, "error", err)
	}
}

// Invalidate drops the user's cached summary after a counter moves.
func (c *SummaryCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	if err := c.rdb.Del(ctx, summaryKey(userID)).Err(); err != nil {
		c.log.WarnContext(ctx, "summary cache invalidation failed", "user_id", userID, "error", err)
	}
}
