package tenant

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/franchisehq/backoffice/internal/shared"
)

// Repository persists franchises in PostgreSQL.
type Repository interface {
	List(ctx context.Context) ([]Franchise, error)
	Get(ctx context.Context, id uuid.UUID) (Franchise, error)
	GetByCode(ctx context.Context, code string) (Franchise, error)
	Create(ctx context.Context, f Franchise) (Franchise, error)
	Update(ctx context.Context, f Franchise) error
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const franchiseColumns = `id, code, name, address, phone, status, created_at, updated_at`

func scanFranchise(row pgx.Row) (Franchise, error) {
	var f Franchise
	var status string
	err := row.Scan(&f.ID, &f.Code, &f.Name, &f.Address, &f.Phone, &status, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		return Franchise{}, err
	}
	f.Status = Status(status)
	return f, nil
}

func (r *repository) List(ctx context.Context) ([]Franchise, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+franchiseColumns+` FROM franchises ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Franchise
	for rows.Next() {
		f, err := scanFranchise(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (Franchise, error) {
	f, err := scanFranchise(r.pool.QueryRow(ctx, `SELECT `+franchiseColumns+` FROM franchises WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Franchise{}, &shared.NotFoundError{Entity: "franchise", ID: id.String()}
	}
	return f, err
}

func (r *repository) GetByCode(ctx context.Context, code string) (Franchise, error) {
	f, err := scanFranchise(r.pool.QueryRow(ctx, `SELECT `+franchiseColumns+` FROM franchises WHERE code = $1`, strings.ToUpper(code)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Franchise{}, &shared.NotFoundError{Entity: "franchise", ID: code}
	}
	return f, err
}

func (r *repository) Create(ctx context.Context, f Franchise) (Franchise, error) {
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now
	_, err := r.pool.Exec(ctx, `INSERT INTO franchises (id, code, name, address, phone, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		f.ID, f.Code, f.Name, f.Address, f.Phone, string(f.Status), f.CreatedAt, f.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Franchise{}, &shared.DuplicateKeyError{Entity: "franchise code", Key: f.Code}
		}
		return Franchise{}, err
	}
	return f, nil
}

func (r *repository) Update(ctx context.Context, f Franchise) error {
	tag, err := r.pool.Exec(ctx, `UPDATE franchises SET name = $2, address = $3, phone = $4, status = $5, updated_at = NOW() WHERE id = $1`,
		f.ID, f.Name, f.Address, f.Phone, string(f.Status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &shared.NotFoundError{Entity: "franchise", ID: f.ID.String()}
	}
	return nil
}
