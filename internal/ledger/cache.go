package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// SummaryKey formats the cache key for one item's stock summary.
func SummaryKey(key ItemKey) string {
	return fmt.Sprintf("stock:summary:%s:%d", key.ItemType, key.ItemID)
}

// SummaryKeyAll caches the aggregate stock summary.
const SummaryKeyAll = "stock:summary:all"

// RedisInvalidator drops cached stock summaries after ledger appends.
type RedisInvalidator struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisInvalidator constructs RedisInvalidator.
func NewRedisInvalidator(client redis.UniversalClient, logger *slog.Logger) *RedisInvalidator {
	return &RedisInvalidator{client: client, logger: logger}
}

// Invalidate removes the item summary and the aggregate summary.
// Fire-and-forget: a failed invalidation is logged, never surfaced.
func (i *RedisInvalidator) Invalidate(ctx context.Context, key ItemKey) {
	if i == nil || i.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := i.client.Del(ctx, SummaryKey(key), SummaryKeyAll).Err(); err != nil && i.logger != nil {
		i.logger.Warn("cache invalidation failed",
			slog.String("key", SummaryKey(key)),
			slog.Any("error", err))
	}
}
