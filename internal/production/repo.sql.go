package production

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/loomworks/millstock/internal/ledger"
	"github.com/loomworks/millstock/internal/platform/db"
	"github.com/loomworks/millstock/internal/rolls"
)

// Repository persists production batches in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the allocator. Roll
// and ledger writes ride the same transaction so a failed step leaves no
// partial state.
type TxRepository interface {
	InsertBatch(ctx context.Context, b Batch) (int64, error)
	GetBatchForUpdate(ctx context.Context, id int64) (Batch, error)
	UpdateBatch(ctx context.Context, b Batch) error
	DeleteBatch(ctx context.Context, id int64) error
	ListOpenForUpdate(ctx context.Context, machineID int64) ([]Batch, error)
	InsertInput(ctx context.Context, input Input) (int64, error)
	ListInputs(ctx context.Context, batchID int64) ([]Input, error)
	MarkInputsReleased(ctx context.Context, batchID int64) error
	DeleteInputs(ctx context.Context, batchID int64) error
	InsertOutput(ctx context.Context, output Output) (int64, error)
	ListOutputs(ctx context.Context, batchID int64) ([]Output, error)
	SetOutputQty(ctx context.Context, batchID, productID int64, qty *float64) error
	AddOutputQty(ctx context.Context, batchID, productID int64, delta float64) error
	DeleteOutputs(ctx context.Context, batchID int64) error
	Ledger() ledger.TxAppender
	Rolls() rolls.TxRegistry
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("production repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

func (r *txRepository) Ledger() ledger.TxAppender {
	return ledger.NewTxAppender(r.tx)
}

func (r *txRepository) Rolls() rolls.TxRegistry {
	return rolls.NewTxRegistry(r.tx)
}

const batchColumns = `id, code, machine_id, allocated_at, completed_at, input_qty, output_qty, loss_qty, loss_pct, loss_exceeded, status`

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	err := row.Scan(&b.ID, &b.Code, &b.MachineID, &b.AllocatedAt, &b.CompletedAt,
		&b.InputQty, &b.OutputQty, &b.LossQty, &b.LossPct, &b.LossExceeded, &b.Status)
	return b, err
}

func (r *txRepository) InsertBatch(ctx context.Context, b Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO production_batches (code, machine_id, allocated_at, input_qty, output_qty, loss_qty, loss_pct, loss_exceeded, status)
VALUES ($1,$2,$3,$4,0,0,0,FALSE,$5) RETURNING id`,
		b.Code, b.MachineID, b.AllocatedAt, b.InputQty, string(b.Status)).Scan(&id)
	return id, err
}

func (r *txRepository) GetBatchForUpdate(ctx context.Context, id int64) (Batch, error) {
	b, err := scanBatch(r.tx.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM production_batches WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	return b, nil
}

func (r *txRepository) UpdateBatch(ctx context.Context, b Batch) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE production_batches SET completed_at=$1, input_qty=$2, output_qty=$3, loss_qty=$4, loss_pct=$5, loss_exceeded=$6, status=$7 WHERE id=$8`,
		b.CompletedAt, b.InputQty, b.OutputQty, b.LossQty, b.LossPct, b.LossExceeded, string(b.Status), b.ID)
	return err
}

func (r *txRepository) DeleteBatch(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM production_batches WHERE id=$1`, id)
	return err
}

// ListOpenForUpdate returns in-progress and partially-completed batches on a
// machine, oldest allocation first. The row locks serialise concurrent quick
// completions on the same machine.
func (r *txRepository) ListOpenForUpdate(ctx context.Context, machineID int64) ([]Batch, error) {
	rows, err := r.tx.Query(ctx,
		`SELECT `+batchColumns+` FROM production_batches
WHERE machine_id=$1 AND status IN ($2, $3)
ORDER BY allocated_at ASC, id ASC
FOR UPDATE`, machineID, string(StatusInProgress), string(StatusPartiallyCompleted))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var batches []Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func (r *txRepository) InsertInput(ctx context.Context, input Input) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO production_batch_inputs (batch_id, material_id, qty, consumed_roll_ids, released)
VALUES ($1,$2,$3,$4,FALSE) RETURNING id`,
		input.BatchID, input.MaterialID, input.Qty, input.ConsumedRollIDs).Scan(&id)
	return id, err
}

func (r *txRepository) ListInputs(ctx context.Context, batchID int64) ([]Input, error) {
	return listInputs(ctx, r.tx, batchID)
}

func (r *txRepository) MarkInputsReleased(ctx context.Context, batchID int64) error {
	_, err := r.tx.Exec(ctx,
		`UPDATE production_batch_inputs SET released=TRUE WHERE batch_id=$1`, batchID)
	return err
}

func (r *txRepository) DeleteInputs(ctx context.Context, batchID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM production_batch_inputs WHERE batch_id=$1`, batchID)
	return err
}

func (r *txRepository) InsertOutput(ctx context.Context, output Output) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx,
		`INSERT INTO production_batch_outputs (batch_id, product_id, output_qty)
VALUES ($1,$2,$3) RETURNING id`,
		output.BatchID, output.ProductID, output.OutputQty).Scan(&id)
	return id, err
}

func (r *txRepository) ListOutputs(ctx context.Context, batchID int64) ([]Output, error) {
	return listOutputs(ctx, r.tx, batchID)
}

func (r *txRepository) SetOutputQty(ctx context.Context, batchID, productID int64, qty *float64) error {
	_, err := r.tx.Exec(ctx,
		`INSERT INTO production_batch_outputs (batch_id, product_id, output_qty)
VALUES ($1,$2,$3)
ON CONFLICT (batch_id, product_id) DO UPDATE SET output_qty=EXCLUDED.output_qty`,
		batchID, productID, qty)
	return err
}

func (r *txRepository) AddOutputQty(ctx context.Context, batchID, productID int64, delta float64) error {
	_, err := r.tx.Exec(ctx,
		`INSERT INTO production_batch_outputs (batch_id, product_id, output_qty)
VALUES ($1,$2,$3)
ON CONFLICT (batch_id, product_id) DO UPDATE SET output_qty=COALESCE(production_batch_outputs.output_qty, 0)+EXCLUDED.output_qty`,
		batchID, productID, delta)
	return err
}

func (r *txRepository) DeleteOutputs(ctx context.Context, batchID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM production_batch_outputs WHERE batch_id=$1`, batchID)
	return err
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listInputs(ctx context.Context, q querier, batchID int64) ([]Input, error) {
	rows, err := q.Query(ctx,
		`SELECT id, batch_id, material_id, qty, consumed_roll_ids, released FROM production_batch_inputs WHERE batch_id=$1 ORDER BY id ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var inputs []Input
	for rows.Next() {
		var in Input
		if err := rows.Scan(&in.ID, &in.BatchID, &in.MaterialID, &in.Qty, &in.ConsumedRollIDs, &in.Released); err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	return inputs, rows.Err()
}

func listOutputs(ctx context.Context, q querier, batchID int64) ([]Output, error) {
	rows, err := q.Query(ctx,
		`SELECT id, batch_id, product_id, output_qty FROM production_batch_outputs WHERE batch_id=$1 ORDER BY id ASC`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var outputs []Output
	for rows.Next() {
		var out Output
		if err := rows.Scan(&out.ID, &out.BatchID, &out.ProductID, &out.OutputQty); err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}
	return outputs, rows.Err()
}

// GetBatch loads one batch outside any transaction.
func (r *Repository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	b, err := scanBatch(r.pool.QueryRow(ctx,
		`SELECT `+batchColumns+` FROM production_batches WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	return b, nil
}

// BatchDetail loads a batch with its input and output lines.
func (r *Repository) BatchDetail(ctx context.Context, id int64) (BatchDetail, error) {
	b, err := r.GetBatch(ctx, id)
	if err != nil {
		return BatchDetail{}, err
	}
	inputs, err := listInputs(ctx, r.pool, id)
	if err != nil {
		return BatchDetail{}, err
	}
	outputs, err := listOutputs(ctx, r.pool, id)
	if err != nil {
		return BatchDetail{}, err
	}
	return BatchDetail{Batch: b, Inputs: inputs, Outputs: outputs}, nil
}

// ListBatches returns batches matching the filter, oldest allocation first.
func (r *Repository) ListBatches(ctx context.Context, filter ListFilter) ([]Batch, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+batchColumns+` FROM production_batches
WHERE ($1 = 0 OR machine_id=$1) AND ($2 = '' OR status=$2)
ORDER BY allocated_at ASC, id ASC
LIMIT $3`, filter.MachineID, string(filter.Status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	batches := []Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}
