package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomworks/millstock/internal/platform/db"
)

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxAppender appends movements inside an ambient transaction. Sibling modules
// obtain one bound to their own unit of work so a multi-line operation commits
// or rolls back as a whole.
type TxAppender interface {
	Append(ctx context.Context, m Movement) (Movement, error)
	Balance(ctx context.Context, key ItemKey) (float64, error)
}

type txAppender struct {
	tx pgx.Tx
}

// NewTxAppender binds an appender to an open transaction.
func NewTxAppender(tx pgx.Tx) TxAppender {
	return &txAppender{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxAppender) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txAppender{tx: tx})
	})
}

// Append computes the running balance under a row lock and inserts the
// movement. The balance row is the serialisation point per item: concurrent
// writers queue on it instead of racing the read-fold-write span. The row is
// seeded before the locked read so even the very first two appends for an item
// have a row to queue on instead of racing the upsert.
func (a *txAppender) Append(ctx context.Context, m Movement) (Movement, error) {
	_, err := a.tx.Exec(ctx,
		`INSERT INTO stock_balances (item_type, item_id, qty, updated_at)
VALUES ($1,$2,0,NOW())
ON CONFLICT (item_type, item_id) DO NOTHING`,
		string(m.ItemType), m.ItemID)
	if err != nil {
		return Movement{}, err
	}
	var prior float64
	err = a.tx.QueryRow(ctx,
		`SELECT qty FROM stock_balances WHERE item_type=$1 AND item_id=$2 FOR UPDATE`,
		string(m.ItemType), m.ItemID).Scan(&prior)
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return Movement{}, err
		}
		prior = 0
	}
	m.RunningBalance = prior + m.QtyIn - m.QtyOut
	if m.PostedAt.IsZero() {
		m.PostedAt = time.Now().UTC()
	}
	err = a.tx.QueryRow(ctx,
		`INSERT INTO stock_movements (movement_type, item_type, item_id, qty_in, qty_out, running_balance, ref_type, ref_code, ref_id, reason, posted_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11) RETURNING id`,
		string(m.Type), string(m.ItemType), m.ItemID, m.QtyIn, m.QtyOut, m.RunningBalance,
		m.RefType, m.RefCode, nullStr(m.RefID), m.Reason, m.PostedAt).Scan(&m.ID)
	if err != nil {
		return Movement{}, err
	}
	_, err = a.tx.Exec(ctx,
		`INSERT INTO stock_balances (item_type, item_id, qty, updated_at)
VALUES ($1,$2,$3,NOW())
ON CONFLICT (item_type, item_id) DO UPDATE SET qty=EXCLUDED.qty, updated_at=NOW()`,
		string(m.ItemType), m.ItemID, m.RunningBalance)
	if err != nil {
		return Movement{}, err
	}
	return m, nil
}

// Balance reads the current balance under the same row lock used by Append so
// a check-then-append sequence inside one transaction stays consistent.
func (a *txAppender) Balance(ctx context.Context, key ItemKey) (float64, error) {
	var qty float64
	err := a.tx.QueryRow(ctx,
		`SELECT qty FROM stock_balances WHERE item_type=$1 AND item_id=$2 FOR UPDATE`,
		string(key.ItemType), key.ItemID).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return qty, nil
}

// CurrentBalance folds the ledger for one item. The balance row is kept equal
// to the fold by Append and by the rebuild routine.
func (r *Repository) CurrentBalance(ctx context.Context, key ItemKey) (float64, error) {
	var qty float64
	err := r.pool.QueryRow(ctx,
		`SELECT qty FROM stock_balances WHERE item_type=$1 AND item_id=$2`,
		string(key.ItemType), key.ItemID).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return qty, nil
}

// Movements lists the stock card for one item, oldest first.
func (r *Repository) Movements(ctx context.Context, key ItemKey, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, movement_type, item_type, item_id, qty_in, qty_out, running_balance, ref_type, ref_code, COALESCE(ref_id,''), reason, posted_at
FROM stock_movements
WHERE item_type=$1 AND item_id=$2 AND posted_at BETWEEN COALESCE($3, '-infinity') AND COALESCE($4, 'infinity')
ORDER BY posted_at ASC, id ASC
LIMIT $5`,
		string(key.ItemType), key.ItemID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.Type, &m.ItemType, &m.ItemID, &m.QtyIn, &m.QtyOut, &m.RunningBalance, &m.RefType, &m.RefCode, &m.RefID, &m.Reason, &m.PostedAt); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

func nullStr(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
