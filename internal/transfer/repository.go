package transfer

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/franchisehq/backoffice/internal/catalog"
	"github.com/franchisehq/backoffice/internal/ledger"
	"github.com/franchisehq/backoffice/internal/scope"
	"github.com/franchisehq/backoffice/internal/shared"
)

// Repository persists transfers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	ledger.PgTx
}

// WithTx executes the callback inside a read-committed transaction. The
// wrapper embeds the ledger transaction port so transfer completion and its
// relocation commit together; row locks serialize competing movements.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(ctx, &txRepo{PgTx: ledger.PgTx{Tx: tx}}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const transferColumns = `id, product_id, from_franchise, to_franchise, quantity, unit_price, total_value,
status, initiated_by, approved_by, note, delivered_at, created_at, updated_at`

func scanTransfer(row pgx.Row) (Transfer, error) {
	var t Transfer
	var status string
	err := row.Scan(&t.ID, &t.ProductID, &t.FromFranchise, &t.ToFranchise, &t.Quantity, &t.UnitPrice,
		&t.TotalValue, &status, &t.InitiatedBy, &t.ApprovedBy, &t.Note, &t.DeliveredAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Transfer{}, err
	}
	t.Status = Status(status)
	return t, nil
}

func (r *txRepo) InsertTransfer(ctx context.Context, t Transfer) error {
	now := time.Now().UTC()
	_, err := r.Tx.Exec(ctx, `INSERT INTO transfers
(id, product_id, from_franchise, to_franchise, quantity, unit_price, total_value, status,
 initiated_by, approved_by, note, delivered_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)`,
		t.ID, t.ProductID, t.FromFranchise, t.ToFranchise, t.Quantity, t.UnitPrice, t.TotalValue,
		string(t.Status), t.InitiatedBy, t.ApprovedBy, t.Note, t.DeliveredAt, now)
	return err
}

func (r *txRepo) GetTransferForUpdate(ctx context.Context, id uuid.UUID) (Transfer, error) {
	t, err := scanTransfer(r.Tx.QueryRow(ctx,
		`SELECT `+transferColumns+` FROM transfers WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, &shared.NotFoundError{Entity: "transfer", ID: id.String()}
	}
	return t, err
}

func (r *txRepo) UpdateTransfer(ctx context.Context, t Transfer) error {
	_, err := r.Tx.Exec(ctx, `UPDATE transfers SET status = $2, approved_by = $3, delivered_at = $4,
updated_at = NOW() WHERE id = $1`, t.ID, string(t.Status), t.ApprovedBy, t.DeliveredAt)
	return err
}

func (r *txRepo) InsertStatusChange(ctx context.Context, change StatusChange) error {
	_, err := r.Tx.Exec(ctx, `INSERT INTO transfer_status_history
(transfer_id, from_status, to_status, actor_id, reason, at) VALUES ($1, $2, $3, $4, $5, $6)`,
		change.TransferID, string(change.FromStatus), string(change.ToStatus), change.ActorID, change.Reason, change.At)
	return err
}

const productColumns = `id, franchise_id, original_franchise_id, sku, name, category, unit_cost, unit_price,
stock_quantity, is_global, status, total_sold, total_revenue, total_profit, last_sold_at, created_at, updated_at`

func scanProduct(row pgx.Row) (catalog.Product, error) {
	var p catalog.Product
	var category, status string
	err := row.Scan(&p.ID, &p.FranchiseID, &p.OriginalFranchiseID, &p.SKU, &p.Name, &category,
		&p.UnitCost, &p.UnitPrice, &p.StockQuantity, &p.IsGlobal, &status,
		&p.TotalSold, &p.TotalRevenue, &p.TotalProfit, &p.LastSoldAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return catalog.Product{}, err
	}
	p.Category = catalog.Category(category)
	p.Status = catalog.Status(status)
	return p, nil
}

func (r *txRepo) GetProduct(ctx context.Context, productID uuid.UUID) (catalog.Product, error) {
	p, err := scanProduct(r.Tx.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, &shared.NotFoundError{Entity: "product", ID: productID.String()}
	}
	return p, err
}

func (r *txRepo) FindProductBySKU(ctx context.Context, franchiseID uuid.UUID, sku string) (catalog.Product, bool, error) {
	p, err := scanProduct(r.Tx.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE franchise_id = $1 AND sku = $2`,
		franchiseID, catalog.NormalizeSKU(sku)))
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, false, nil
	}
	if err != nil {
		return catalog.Product{}, false, err
	}
	return p, true, nil
}

func (r *txRepo) InsertProduct(ctx context.Context, p catalog.Product) error {
	_, err := r.Tx.Exec(ctx, `INSERT INTO products
(id, franchise_id, original_franchise_id, sku, name, category, unit_cost, unit_price, stock_quantity,
 is_global, status, total_sold, total_revenue, total_profit, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 0, $9, $10, 0, 0, 0, NOW(), NOW())`,
		p.ID, p.FranchiseID, p.OriginalFranchiseID, p.SKU, p.Name, string(p.Category),
		p.UnitCost, p.UnitPrice, p.IsGlobal, string(p.Status))
	return err
}

// Get fetches one transfer.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Transfer, error) {
	t, err := scanTransfer(r.pool.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transfer{}, &shared.NotFoundError{Entity: "transfer", ID: id.String()}
	}
	return t, err
}

// List returns transfers where either side falls in scope.
func (r *Repository) List(ctx context.Context, sc scope.Scope, filter ListFilter) ([]Transfer, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	n := 0
	if !sc.All {
		n++
		where += ` AND (from_franchise = ANY($` + strconv.Itoa(n) + `) OR to_franchise = ANY($` + strconv.Itoa(n) + `))`
		args = append(args, sc.Franchises)
	}
	if filter.Status != nil {
		n++
		where += ` AND status = $` + strconv.Itoa(n)
		args = append(args, string(*filter.Status))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM transfers`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p := shared.NewPagination(filter.Page, filter.PerPage, total)
	n++
	query := `SELECT ` + transferColumns + ` FROM transfers` + where + ` ORDER BY created_at DESC LIMIT $` + strconv.Itoa(n)
	args = append(args, p.PerPage)
	n++
	query += ` OFFSET $` + strconv.Itoa(n)
	args = append(args, p.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, t)
	}
	return out, total, rows.Err()
}

// StatusHistory lists status changes oldest first.
func (r *Repository) StatusHistory(ctx context.Context, transferID uuid.UUID) ([]StatusChange, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, transfer_id, from_status, to_status, actor_id, reason, at
FROM transfer_status_history WHERE transfer_id = $1 ORDER BY at ASC, id ASC`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StatusChange
	for rows.Next() {
		var c StatusChange
		var from, to string
		if err := rows.Scan(&c.ID, &c.TransferID, &from, &to, &c.ActorID, &c.Reason, &c.At); err != nil {
			return nil, err
		}
		c.FromStatus = Status(from)
		c.ToStatus = Status(to)
		out = append(out, c)
	}
	return out, rows.Err()
}
