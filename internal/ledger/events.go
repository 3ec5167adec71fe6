package ledger

import "context"

// Invalidator is notified after every ledger append so downstream cached
// aggregates (stock summary, dashboard KPIs) can be dropped. Notification is
// fire-and-forget; a failed invalidation never fails the append.
type Invalidator interface {
	Invalidate(ctx context.Context, key ItemKey)
}
