package machines

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists machines in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const machineColumns = `id, code, name, status, created_at`

func scanMachine(row pgx.Row) (Machine, error) {
	var m Machine
	err := row.Scan(&m.ID, &m.Code, &m.Name, &m.Status, &m.CreatedAt)
	return m, err
}

// Create inserts a machine.
func (r *Repository) Create(ctx context.Context, m Machine) (Machine, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO machines (code, name, status, created_at) VALUES ($1,$2,$3,NOW()) RETURNING id, created_at`,
		m.Code, m.Name, string(m.Status)).Scan(&m.ID, &m.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Machine{}, ErrDuplicateCode
		}
		return Machine{}, err
	}
	return m, nil
}

// Get loads one machine.
func (r *Repository) Get(ctx context.Context, id int64) (Machine, error) {
	m, err := scanMachine(r.pool.QueryRow(ctx,
		`SELECT `+machineColumns+` FROM machines WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Machine{}, ErrNotFound
		}
		return Machine{}, err
	}
	return m, nil
}

// List returns all machines ordered by code.
func (r *Repository) List(ctx context.Context) ([]Machine, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+machineColumns+` FROM machines ORDER BY code ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	machines := []Machine{}
	for rows.Next() {
		m, err := scanMachine(rows)
		if err != nil {
			return nil, err
		}
		machines = append(machines, m)
	}
	return machines, rows.Err()
}

// UpdateStatus changes machine availability.
func (r *Repository) UpdateStatus(ctx context.Context, id int64, status Status) error {
	tag, err := r.pool.Exec(ctx, `UPDATE machines SET status=$1 WHERE id=$2`, string(status), id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
