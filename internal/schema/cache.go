package schema

import (
	"context"
	"errors"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// decisionKey identifies one column's analyzed-map decision.
func decisionKey(table, column string) string {
	return table + "." + column
}

func redisKey(table, column string) string {
	return "schema:analyzed:v1:" + decisionKey(table, column)
}

// DecisionCache caches analyzed-map type decisions so a column is sampled
// at most once per TTL window instead of on every run (spec §4.4). L1 is an
// in-process LRU; L2 is an optional Redis tier shared across scheduler
// workers. L2 is best-effort: failures fall back to the L1-only path.
type DecisionCache struct {
	l1     *lru.Cache[string, string]
	l2     *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewDecisionCache builds a DecisionCache with an l1Size-entry LRU tier and
// an optional Redis client for the L2 tier (pass nil to disable it).
func NewDecisionCache(l1Size int, l2 *redis.Client, ttl time.Duration, logger *slog.Logger) (*DecisionCache, error) {
	if l1Size <= 0 {
		l1Size = 4096
	}
	if logger == nil {
		logger = slog.Default()
	}

	l1, err := lru.New[string, string](l1Size)
	if err != nil {
		return nil, err
	}

	return &DecisionCache{l1: l1, l2: l2, ttl: ttl, logger: logger}, nil
}

// Get returns a previously cached type decision for table.column, checking
// L1 then L2.
func (c *DecisionCache) Get(ctx context.Context, table, column string) (string, bool) {
	key := decisionKey(table, column)

	if t, ok := c.l1.Get(key); ok {
		return t, true
	}

	if c.l2 == nil {
		return "", false
	}

	t, err := c.l2.Get(ctx, redisKey(table, column)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("schema decision cache: L2 read failed", "table", table, "column", column, "error", err)
		}
		return "", false
	}

	c.l1.Add(key, t)
	return t, true
}

// Set stores a type decision in both tiers. L2 failures are logged and
// non-fatal; L1 still holds the decision for this process.
func (c *DecisionCache) Set(ctx context.Context, table, column, targetType string) {
	key := decisionKey(table, column)
	c.l1.Add(key, targetType)

	if c.l2 == nil {
		return
	}
	if err := c.l2.Set(ctx, redisKey(table, column), targetType, c.ttl).Err(); err != nil {
		c.logger.Warn("schema decision cache: L2 write failed", "table", table, "column", column, "error", err)
	}
}
