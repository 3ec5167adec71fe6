package jobs

import (
	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerRebuild triggers a full ledger rebuild from source documents.
	TaskLedgerRebuild = "ledger:rebuild"
	// TaskStockSummaryWarmup primes the cached stock summaries.
	TaskStockSummaryWarmup = "stock:summary:warmup"
)

// NewLedgerRebuildTask constructs a rebuild task.
func NewLedgerRebuildTask() *asynq.Task {
	return asynq.NewTask(TaskLedgerRebuild, nil, asynq.MaxRetry(0))
}

// NewStockSummaryWarmupTask constructs a warmup task.
func NewStockSummaryWarmupTask() *asynq.Task {
	return asynq.NewTask(TaskStockSummaryWarmup, nil)
}
