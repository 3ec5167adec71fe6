package procurement

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/loomworks/millstock/internal/ledger"
	"github.com/loomworks/millstock/internal/platform/db"
	"github.com/loomworks/millstock/internal/rolls"
)

// Repository persists purchase bills and adjustments in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service. Roll
// creation and ledger writes ride the same transaction as the delivery.
type TxRepository interface {
	GetBillForUpdate(ctx context.Context, id int64) (Bill, error)
	UpdateBillStatus(ctx context.Context, id int64, status BillStatus) error
	ListLines(ctx context.Context, billID int64) ([]BillLine, error)
	BilledQty(ctx context.Context, billID, materialID int64) (decimal.Decimal, error)
	DeliveredWeight(ctx context.Context, billID, materialID int64) (decimal.Decimal, error)
	AdjustmentTotals(ctx context.Context, billID, materialID int64) (received, given decimal.Decimal, err error)
	ListConfirmedBills(ctx context.Context, supplierID, excludeBillID int64) ([]Bill, error)
	InsertAdjustment(ctx context.Context, adj Adjustment) (Adjustment, error)
	Rolls() rolls.TxRegistry
	Ledger() ledger.TxAppender
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) Rolls() rolls.TxRegistry {
	return rolls.NewTxRegistry(r.tx)
}

func (r *txRepository) Ledger() ledger.TxAppender {
	return ledger.NewTxAppender(r.tx)
}

const billColumns = `id, number, supplier_id, status, bill_date`

func scanBill(row pgx.Row) (Bill, error) {
	var b Bill
	err := row.Scan(&b.ID, &b.Number, &b.SupplierID, &b.Status, &b.BillDate)
	return b, err
}

func (r *txRepository) GetBillForUpdate(ctx context.Context, id int64) (Bill, error) {
	b, err := scanBill(r.tx.QueryRow(ctx,
		`SELECT `+billColumns+` FROM purchase_bills WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bill{}, ErrBillNotFound
		}
		return Bill{}, err
	}
	return b, nil
}

func (r *txRepository) UpdateBillStatus(ctx context.Context, id int64, status BillStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE purchase_bills SET status=$1 WHERE id=$2`, string(status), id)
	return err
}

func (r *txRepository) ListLines(ctx context.Context, billID int64) ([]BillLine, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT id, bill_id, item_type, item_id, qty FROM purchase_bill_lines WHERE bill_id=$1 ORDER BY id ASC`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []BillLine
	for rows.Next() {
		var line BillLine
		if err := rows.Scan(&line.ID, &line.BillID, &line.ItemType, &line.ItemID, &line.Qty); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func (r *txRepository) BilledQty(ctx context.Context, billID, materialID int64) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := r.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(qty), 0) FROM purchase_bill_lines WHERE bill_id=$1 AND item_type=$2 AND item_id=$3`,
		billID, string(ledger.ItemRawMaterial), materialID).Scan(&qty)
	return qty, err
}

func (r *txRepository) DeliveredWeight(ctx context.Context, billID, materialID int64) (decimal.Decimal, error) {
	var weight decimal.Decimal
	err := r.tx.QueryRow(ctx,
		`SELECT COALESCE(SUM(net_weight), 0) FROM raw_material_rolls WHERE purchase_bill_id=$1 AND material_id=$2`,
		billID, materialID).Scan(&weight)
	return weight, err
}

func (r *txRepository) AdjustmentTotals(ctx context.Context, billID, materialID int64) (decimal.Decimal, decimal.Decimal, error) {
	var received, given decimal.Decimal
	err := r.tx.QueryRow(ctx,
		`SELECT
COALESCE((SELECT SUM(qty) FROM purchase_bill_adjustments WHERE target_bill_id=$1 AND material_id=$2), 0),
COALESCE((SELECT SUM(qty) FROM purchase_bill_adjustments WHERE source_bill_id=$1 AND material_id=$2), 0)`,
		billID, materialID).Scan(&received, &given)
	return received, given, err
}

func (r *txRepository) ListConfirmedBills(ctx context.Context, supplierID, excludeBillID int64) ([]Bill, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT `+billColumns+` FROM purchase_bills
WHERE supplier_id=$1 AND status=$2 AND id <> $3
ORDER BY bill_date ASC, id ASC`, supplierID, string(BillStatusConfirmed), excludeBillID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var bills []Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

func (r *txRepository) InsertAdjustment(ctx context.Context, adj Adjustment) (Adjustment, error) {
	err := r.tx.QueryRow(ctx,
		`INSERT INTO purchase_bill_adjustments (source_bill_id, target_bill_id, material_id, qty, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id, created_at`,
		adj.SourceBillID, adj.TargetBillID, adj.MaterialID, adj.Qty).Scan(&adj.ID, &adj.CreatedAt)
	return adj, err
}

// GetBill loads one bill outside any transaction.
func (r *Repository) GetBill(ctx context.Context, id int64) (Bill, error) {
	b, err := scanBill(r.pool.QueryRow(ctx,
		`SELECT `+billColumns+` FROM purchase_bills WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bill{}, ErrBillNotFound
		}
		return Bill{}, err
	}
	return b, nil
}

// ListAdjustments returns adjustments touching a bill as source or target.
func (r *Repository) ListAdjustments(ctx context.Context, billID int64) ([]Adjustment, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, source_bill_id, target_bill_id, material_id, qty, created_at
FROM purchase_bill_adjustments
WHERE source_bill_id=$1 OR target_bill_id=$1
ORDER BY created_at ASC, id ASC`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	adjustments := []Adjustment{}
	for rows.Next() {
		var adj Adjustment
		if err := rows.Scan(&adj.ID, &adj.SourceBillID, &adj.TargetBillID, &adj.MaterialID, &adj.Qty, &adj.CreatedAt); err != nil {
			return nil, err
		}
		adjustments = append(adjustments, adj)
	}
	return adjustments, rows.Err()
}
