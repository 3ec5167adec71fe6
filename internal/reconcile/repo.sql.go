package reconcile

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomworks/millstock/internal/ledger"
	"github.com/loomworks/millstock/internal/platform/db"
)

// Repository reads replay sources for the ledger rebuild.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the wipe and replay reads inside one transaction.
type TxRepository interface {
	WipeLedger(ctx context.Context) error
	ListRolls(ctx context.Context) ([]RollSource, error)
	ListBatchInputs(ctx context.Context) ([]InputSource, error)
	ListBatchOutputs(ctx context.Context) ([]OutputSource, error)
	ListConfirmedBillLines(ctx context.Context) ([]BillLineSource, error)
	ListConfirmedInvoiceLines(ctx context.Context) ([]InvoiceLineSource, error)
	Ledger() ledger.TxAppender
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("reconcile repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) Ledger() ledger.TxAppender {
	return ledger.NewTxAppender(r.tx)
}

func (r *txRepository) WipeLedger(ctx context.Context) error {
	if _, err := r.tx.Exec(ctx, `DELETE FROM stock_movements`); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM stock_balances`)
	return err
}

func (r *txRepository) ListRolls(ctx context.Context) ([]RollSource, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT r.material_id, r.net_weight, r.code, COALESCE(b.number, ''), r.created_at
		FROM raw_material_rolls r
		LEFT JOIN purchase_bills b ON b.id = r.purchase_bill_id
		ORDER BY r.created_at ASC, r.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RollSource
	for rows.Next() {
		var s RollSource
		if err := rows.Scan(&s.MaterialID, &s.NetWeight, &s.Code, &s.BillNumber, &s.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListBatchInputs returns only lines whose consumption still stands: released
// lines (reversed batches, cancelled batches) were compensated in the live
// ledger and must not reappear as RAW_OUT in the replay.
func (r *txRepository) ListBatchInputs(ctx context.Context) ([]InputSource, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT i.material_id, i.qty, b.code, b.allocated_at
		FROM production_batch_inputs i
		JOIN production_batches b ON b.id = i.batch_id
		WHERE b.status <> 'cancelled' AND NOT i.released
		ORDER BY b.allocated_at ASC, i.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InputSource
	for rows.Next() {
		var s InputSource
		if err := rows.Scan(&s.MaterialID, &s.Qty, &s.BatchCode, &s.AllocatedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *txRepository) ListBatchOutputs(ctx context.Context) ([]OutputSource, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT o.product_id, o.output_qty, b.code, COALESCE(b.completed_at, b.allocated_at)
		FROM production_batch_outputs o
		JOIN production_batches b ON b.id = o.batch_id
		WHERE o.output_qty IS NOT NULL
		  AND b.status IN ('completed', 'partially-completed', 'in-progress')
		ORDER BY COALESCE(b.completed_at, b.allocated_at) ASC, o.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []OutputSource
	for rows.Next() {
		var s OutputSource
		if err := rows.Scan(&s.ProductID, &s.Qty, &s.BatchCode, &s.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *txRepository) ListConfirmedBillLines(ctx context.Context) ([]BillLineSource, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT l.item_id, l.qty, b.number, b.bill_date
		FROM purchase_bill_lines l
		JOIN purchase_bills b ON b.id = l.bill_id
		WHERE b.status = 'Confirmed' AND l.item_type = 'finished_good'
		ORDER BY b.bill_date ASC, l.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []BillLineSource
	for rows.Next() {
		var s BillLineSource
		var qty float64
		if err := rows.Scan(&s.ProductID, &qty, &s.BillNumber, &s.BillDate); err != nil {
			return nil, err
		}
		s.Qty = qty
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *txRepository) ListConfirmedInvoiceLines(ctx context.Context) ([]InvoiceLineSource, error) {
	rows, err := r.tx.Query(ctx, `
		SELECT l.product_id, l.qty, i.number, i.invoice_date
		FROM sales_invoice_lines l
		JOIN sales_invoices i ON i.id = l.invoice_id
		WHERE i.status = 'Confirmed'
		ORDER BY i.invoice_date ASC, l.id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []InvoiceLineSource
	for rows.Next() {
		var s InvoiceLineSource
		if err := rows.Scan(&s.ProductID, &s.Qty, &s.InvoiceNumber, &s.InvoiceDate); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
