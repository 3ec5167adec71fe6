package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	jobmetrics "github.com/loomworks/millstock/internal/jobs"
	"github.com/loomworks/millstock/internal/ledger"
)

const summaryTTL = time.Hour

// SummaryWarmupJob pre-populates the cached per-item stock summaries that
// ledger appends invalidate.
type SummaryWarmupJob struct {
	Pool    *pgxpool.Pool
	Redis   redis.UniversalClient
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSummaryWarmupJob wires dependencies for the warmup handler.
func NewSummaryWarmupJob(pool *pgxpool.Pool, client redis.UniversalClient, logger *slog.Logger, metrics *jobmetrics.Metrics) *SummaryWarmupJob {
	return &SummaryWarmupJob{Pool: pool, Redis: client, Logger: logger, Metrics: metrics}
}

type itemSummary struct {
	ItemType string  `json:"item_type"`
	ItemID   int64   `json:"item_id"`
	Qty      float64 `json:"qty"`
}

// Handle processes TaskStockSummaryWarmup tasks.
func (j *SummaryWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil || j.Redis == nil {
		return errors.New("summary warmup: handler not configured")
	}
	tracker := j.Metrics.Track(TaskStockSummaryWarmup)

	rows, err := j.Pool.Query(ctx, `SELECT item_type, item_id, qty FROM stock_balances ORDER BY item_type, item_id`)
	if err != nil {
		j.Logger.Error("summary warmup query failed", slog.Any("error", err))
		return tracker.End(err)
	}
	defer rows.Close()

	var all []itemSummary
	for rows.Next() {
		var s itemSummary
		if err := rows.Scan(&s.ItemType, &s.ItemID, &s.Qty); err != nil {
			return tracker.End(err)
		}
		all = append(all, s)
	}
	if err := rows.Err(); err != nil {
		return tracker.End(err)
	}

	pipe := j.Redis.Pipeline()
	for _, s := range all {
		data, err := json.Marshal(s)
		if err != nil {
			return tracker.End(err)
		}
		key := ledger.ItemKey{ItemType: ledger.ItemType(s.ItemType), ItemID: s.ItemID}
		pipe.Set(ctx, ledger.SummaryKey(key), data, summaryTTL)
	}
	if data, err := json.Marshal(all); err == nil {
		pipe.Set(ctx, ledger.SummaryKeyAll, data, summaryTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		j.Logger.Error("summary warmup write failed", slog.Any("error", err))
		return tracker.End(err)
	}

	j.Logger.Info("stock summaries warmed", slog.Int("items", len(all)))
	return tracker.End(nil)
}
