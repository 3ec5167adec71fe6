package rolls

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomworks/millstock/internal/platform/db"
)

// Repository persists rolls in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRegistry exposes roll operations inside an ambient transaction. The
// production allocator and purchasing both mutate rolls in the same unit of
// work as their ledger writes.
type TxRegistry interface {
	Insert(ctx context.Context, roll Roll) (int64, error)
	GetForUpdate(ctx context.Context, id int64) (Roll, error)
	ListInStockForUpdate(ctx context.Context, materialID int64) ([]Roll, error)
	MarkConsumed(ctx context.Context, id int64) error
	Restore(ctx context.Context, ids []int64) error
	Update(ctx context.Context, roll Roll) error
}

type txRegistry struct {
	tx pgx.Tx
}

// NewTxRegistry binds a registry to an open transaction.
func NewTxRegistry(tx pgx.Tx) TxRegistry {
	return &txRegistry{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRegistry) error) error {
	if r == nil {
		return errors.New("rolls repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRegistry{tx: tx})
	})
}

const rollColumns = `id, purchase_bill_id, material_id, code, net_weight, gsm, width, status, created_at`

func scanRoll(row pgx.Row) (Roll, error) {
	var roll Roll
	err := row.Scan(&roll.ID, &roll.PurchaseBillID, &roll.MaterialID, &roll.Code,
		&roll.NetWeight, &roll.GSM, &roll.Width, &roll.Status, &roll.CreatedAt)
	return roll, err
}

func (r *txRegistry) Insert(ctx context.Context, roll Roll) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO raw_material_rolls (purchase_bill_id, material_id, code, net_weight, gsm, width, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id`,
		roll.PurchaseBillID, roll.MaterialID, roll.Code, roll.NetWeight, roll.GSM, roll.Width, string(StatusInStock)).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateCode
		}
		return 0, err
	}
	return id, nil
}

func (r *txRegistry) GetForUpdate(ctx context.Context, id int64) (Roll, error) {
	roll, err := scanRoll(r.tx.QueryRow(ctx,
		`SELECT `+rollColumns+` FROM raw_material_rolls WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Roll{}, ErrNotFound
		}
		return Roll{}, err
	}
	return roll, nil
}

func (r *txRegistry) ListInStockForUpdate(ctx context.Context, materialID int64) ([]Roll, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT `+rollColumns+` FROM raw_material_rolls
WHERE material_id=$1 AND status=$2
ORDER BY created_at ASC, id ASC
FOR UPDATE`, materialID, string(StatusInStock))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Roll
	for rows.Next() {
		roll, err := scanRoll(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, roll)
	}
	return result, rows.Err()
}

// MarkConsumed flips a roll out of stock. The conditional update makes the
// selection atomic: a roll taken by a concurrent allocation reports zero
// affected rows here instead of being consumed twice.
func (r *txRegistry) MarkConsumed(ctx context.Context, id int64) error {
	tag, err := r.tx.Exec(ctx,
		`UPDATE raw_material_rolls SET status=$1 WHERE id=$2 AND status=$3`,
		string(StatusConsumed), id, string(StatusInStock))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &NotAvailableError{RollID: id, Status: StatusConsumed}
	}
	return nil
}

func (r *txRegistry) Restore(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		if _, err := r.tx.Exec(ctx,
			`UPDATE raw_material_rolls SET status=$1 WHERE id=$2`,
			string(StatusInStock), id); err != nil {
			return fmt.Errorf("rolls: restore roll %d: %w", id, err)
		}
	}
	return nil
}

// Get loads one roll outside any transaction.
func (r *Repository) Get(ctx context.Context, id int64) (Roll, error) {
	roll, err := scanRoll(r.pool.QueryRow(ctx,
		`SELECT `+rollColumns+` FROM raw_material_rolls WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Roll{}, ErrNotFound
		}
		return Roll{}, err
	}
	return roll, nil
}

// List returns rolls matching the filter, oldest first.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Roll, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+rollColumns+` FROM raw_material_rolls
WHERE ($1 = 0 OR material_id=$1) AND ($2 = '' OR status=$2)
ORDER BY created_at ASC, id ASC
LIMIT $3`, filter.MaterialID, string(filter.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	result := []Roll{}
	for rows.Next() {
		roll, err := scanRoll(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, roll)
	}
	return result, rows.Err()
}

// InStockTotal sums the weight of available rolls for a material. This sum is
// the authoritative raw-material quantity on hand.
func (r *Repository) InStockTotal(ctx context.Context, materialID int64) (float64, error) {
	var total float64
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(net_weight), 0) FROM raw_material_rolls WHERE material_id=$1 AND status=$2`,
		materialID, string(StatusInStock)).Scan(&total)
	return total, err
}

// Update persists a roll correction inside the ambient transaction.
func (r *txRegistry) Update(ctx context.Context, roll Roll) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE raw_material_rolls SET net_weight=$1, gsm=$2, width=$3 WHERE id=$4`,
		roll.NetWeight, roll.GSM, roll.Width, roll.ID)
	return err
}
