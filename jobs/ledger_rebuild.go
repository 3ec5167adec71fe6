package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/loomworks/millstock/internal/jobs"
	"github.com/loomworks/millstock/internal/reconcile"
)

// RebuildService runs a full ledger rebuild.
type RebuildService interface {
	Rebuild(ctx context.Context) (reconcile.Report, error)
}

// LedgerRebuildJob processes on-demand ledger rebuild tasks.
type LedgerRebuildJob struct {
	Service RebuildService
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLedgerRebuildJob wires dependencies for the rebuild handler.
func NewLedgerRebuildJob(service RebuildService, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerRebuildJob {
	return &LedgerRebuildJob{Service: service, Logger: logger, Metrics: metrics}
}

// Handle processes TaskLedgerRebuild tasks. A rebuild already in flight is not
// an error worth retrying: the running rebuild covers the same documents.
func (j *LedgerRebuildJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Service == nil {
		return errors.New("ledger rebuild: handler not configured")
	}
	tracker := j.Metrics.Track(TaskLedgerRebuild)
	report, err := j.Service.Rebuild(ctx)
	if err != nil {
		if errors.Is(err, reconcile.ErrRebuildInProgress) {
			j.Logger.Info("ledger rebuild skipped, another run holds the lock")
			_ = tracker.End(nil)
			return nil
		}
		j.Logger.Error("ledger rebuild failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.Logger.Info("ledger rebuild done",
		slog.Int("movements", report.MovementsWritten),
		slog.Int("items", report.ItemsTouched))
	return tracker.End(nil)
}
