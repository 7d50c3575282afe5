package ledger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a transaction whose Tx implementation
// satisfies the ledger invariant port. Read-committed isolation lets
// concurrent movements queue on the row lock instead of aborting; the
// FOR UPDATE re-read after the lock sees the winner's committed quantity.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &PgTx{Tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// PgTx implements the ledger Tx port over a pgx transaction. It is exported
// so the sales and transfer repositories can reuse it inside their own
// transactions.
type PgTx struct {
	Tx pgx.Tx
}

// GetProductStockForUpdate locks the product row.
func (t *PgTx) GetProductStockForUpdate(ctx context.Context, productID uuid.UUID) (OwnedStock, error) {
	var s OwnedStock
	err := t.Tx.QueryRow(ctx,
		`SELECT franchise_id, stock_quantity FROM products WHERE id = $1 FOR UPDATE`, productID).
		Scan(&s.FranchiseID, &s.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return OwnedStock{}, ErrProductNotFound
	}
	return s, err
}

// GetAllocationForUpdate locks the allocation row when present.
func (t *PgTx) GetAllocationForUpdate(ctx context.Context, productID, franchiseID uuid.UUID) (int64, bool, error) {
	var qty int64
	err := t.Tx.QueryRow(ctx,
		`SELECT quantity FROM product_allocations WHERE product_id = $1 AND franchise_id = $2 FOR UPDATE`,
		productID, franchiseID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return qty, true, nil
}

// SetProductStock writes the owning franchise quantity.
func (t *PgTx) SetProductStock(ctx context.Context, productID uuid.UUID, quantity int64) error {
	_, err := t.Tx.Exec(ctx,
		`UPDATE products SET stock_quantity = $2, updated_at = NOW() WHERE id = $1`, productID, quantity)
	return err
}

// UpsertAllocation writes, or removes when drained to zero, the shared
// allocation quantity.
func (t *PgTx) UpsertAllocation(ctx context.Context, productID, franchiseID uuid.UUID, quantity int64) error {
	if quantity == 0 {
		_, err := t.Tx.Exec(ctx,
			`DELETE FROM product_allocations WHERE product_id = $1 AND franchise_id = $2`, productID, franchiseID)
		return err
	}
	_, err := t.Tx.Exec(ctx, `INSERT INTO product_allocations (product_id, franchise_id, quantity, updated_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (product_id, franchise_id) DO UPDATE SET quantity = EXCLUDED.quantity, updated_at = NOW()`,
		productID, franchiseID, quantity)
	return err
}

// InsertMovement appends a history entry.
func (t *PgTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var refID any
	if m.RefID != uuid.Nil {
		refID = m.RefID
	}
	var id int64
	err := t.Tx.QueryRow(ctx, `INSERT INTO stock_movements
(product_id, franchise_id, kind, quantity, balance, note, actor_id, ref_module, ref_id, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		m.ProductID, m.FranchiseID, string(m.Kind), m.Quantity, m.Balance, m.Note, m.ActorID,
		m.RefModule, refID, m.OccurredAt).Scan(&id)
	return id, err
}

// BumpSaleStats updates the product's lifetime sale counters.
func (t *PgTx) BumpSaleStats(ctx context.Context, productID uuid.UUID, quantity int64, revenue, profit float64, at time.Time) error {
	_, err := t.Tx.Exec(ctx, `UPDATE products SET total_sold = total_sold + $2,
total_revenue = total_revenue + $3, total_profit = total_profit + $4, last_sold_at = $5, updated_at = NOW()
WHERE id = $1`, productID, quantity, revenue, profit, at)
	return err
}

// Movements lists history entries, newest first.
func (r *Repository) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	query := `SELECT id, product_id, franchise_id, kind, quantity, balance, note, actor_id,
COALESCE(ref_module, ''), COALESCE(ref_id, '00000000-0000-0000-0000-000000000000'::uuid), occurred_at
FROM stock_movements WHERE 1=1`
	args := []any{}
	n := 0
	if filter.ProductID != uuid.Nil {
		n++
		query += ` AND product_id = $` + strconv.Itoa(n)
		args = append(args, filter.ProductID)
	}
	if filter.FranchiseID != uuid.Nil {
		n++
		query += ` AND franchise_id = $` + strconv.Itoa(n)
		args = append(args, filter.FranchiseID)
	}
	if !filter.From.IsZero() {
		n++
		query += ` AND occurred_at >= $` + strconv.Itoa(n)
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		n++
		query += ` AND occurred_at < $` + strconv.Itoa(n)
		args = append(args, filter.To)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	n++
	query += ` ORDER BY occurred_at DESC, id DESC LIMIT $` + strconv.Itoa(n)
	args = append(args, limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		var m Movement
		var kind string
		if err := rows.Scan(&m.ID, &m.ProductID, &m.FranchiseID, &kind, &m.Quantity, &m.Balance,
			&m.Note, &m.ActorID, &m.RefModule, &m.RefID, &m.OccurredAt); err != nil {
			return nil, err
		}
		m.Kind = Kind(kind)
		out = append(out, m)
	}
	return out, rows.Err()
}

// ProductStock reads the owning row without locking.
func (r *Repository) ProductStock(ctx context.Context, productID uuid.UUID) (OwnedStock, error) {
	var s OwnedStock
	err := r.pool.QueryRow(ctx,
		`SELECT franchise_id, stock_quantity FROM products WHERE id = $1`, productID).
		Scan(&s.FranchiseID, &s.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return OwnedStock{}, ErrProductNotFound
	}
	return s, err
}

// Allocation reads an allocation quantity without locking.
func (r *Repository) Allocation(ctx context.Context, productID, franchiseID uuid.UUID) (int64, bool, error) {
	var qty int64
	err := r.pool.QueryRow(ctx,
		`SELECT quantity FROM product_allocations WHERE product_id = $1 AND franchise_id = $2`,
		productID, franchiseID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return qty, true, nil
}
