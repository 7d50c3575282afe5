package sales

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

// Repository persists sales in PostgreSQL.
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

// WithTx executes the callback inside a transaction that also satisfies
// the ledger port. Read-committed isolation: a concurrent sale of the same
// product blocks on the stock row lock and then sees the committed
// quantity rather than failing with a serialization error.
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

const saleColumns = `id, invoice_number, franchise_id, subtotal, discount_total, tax_total, grand_total,
total_profit, payment_method, sale_type, status, created_by, sold_at, created_at, updated_at`

func scanSale(row pgx.Row) (Sale, error) {
	var s Sale
	var payment, saleType, status string
	err := row.Scan(&s.ID, &s.InvoiceNumber, &s.FranchiseID, &s.Subtotal, &s.DiscountTotal, &s.TaxTotal,
		&s.GrandTotal, &s.TotalProfit, &payment, &saleType, &status, &s.CreatedBy, &s.SoldAt, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return Sale{}, err
	}
	s.PaymentMethod = PaymentMethod(payment)
	s.SaleType = SaleType(saleType)
	s.Status = Status(status)
	return s, nil
}

func (r *txRepo) InvoiceExists(ctx context.Context, invoiceNumber string) (bool, error) {
	var exists bool
	err := r.Tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM sales WHERE invoice_number = $1)`, invoiceNumber).Scan(&exists)
	return exists, err
}

func (r *txRepo) InsertSale(ctx context.Context, s Sale) error {
	now := time.Now().UTC()
	_, err := r.Tx.Exec(ctx, `INSERT INTO sales
(id, invoice_number, franchise_id, subtotal, discount_total, tax_total, grand_total, total_profit,
 payment_method, sale_type, status, created_by, sold_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)`,
		s.ID, s.InvoiceNumber, s.FranchiseID, s.Subtotal, s.DiscountTotal, s.TaxTotal, s.GrandTotal,
		s.TotalProfit, string(s.PaymentMethod), string(s.SaleType), string(s.Status), s.CreatedBy, s.SoldAt, now)
	return err
}

func (r *txRepo) InsertSaleItems(ctx context.Context, saleID uuid.UUID, items []SaleItem) error {
	for _, item := range items {
		_, err := r.Tx.Exec(ctx, `INSERT INTO sale_items
(sale_id, product_id, quantity, unit_cost, unit_price, discount_percent, tax_percent, profit, line_total)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			saleID, item.ProductID, item.Quantity, item.UnitCost, item.UnitPrice,
			item.DiscountPercent, item.TaxPercent, item.Profit, item.LineTotal)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepo) GetSaleForUpdate(ctx context.Context, id uuid.UUID) (Sale, error) {
	s, err := scanSale(r.Tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, &shared.NotFoundError{Entity: "sale", ID: id.String()}
	}
	return s, err
}

func (r *txRepo) GetSaleItems(ctx context.Context, saleID uuid.UUID) ([]SaleItem, error) {
	rows, err := r.Tx.Query(ctx, `SELECT id, sale_id, product_id, quantity, unit_cost, unit_price,
discount_percent, tax_percent, profit, line_total FROM sale_items WHERE sale_id = $1 ORDER BY id`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectItems(rows)
}

func (r *txRepo) UpdateSaleStatus(ctx context.Context, id uuid.UUID, status Status) error {
	_, err := r.Tx.Exec(ctx, `UPDATE sales SET status = $2, updated_at = NOW() WHERE id = $1`, id, string(status))
	return err
}

func (r *txRepo) GetProduct(ctx context.Context, productID uuid.UUID) (catalog.Product, error) {
	var p catalog.Product
	var category, status string
	err := r.Tx.QueryRow(ctx, `SELECT id, franchise_id, original_franchise_id, sku, name, category,
unit_cost, unit_price, stock_quantity, is_global, status, total_sold, total_revenue, total_profit,
last_sold_at, created_at, updated_at FROM products WHERE id = $1`, productID).
		Scan(&p.ID, &p.FranchiseID, &p.OriginalFranchiseID, &p.SKU, &p.Name, &category,
			&p.UnitCost, &p.UnitPrice, &p.StockQuantity, &p.IsGlobal, &status,
			&p.TotalSold, &p.TotalRevenue, &p.TotalProfit, &p.LastSoldAt, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, &shared.NotFoundError{Entity: "product", ID: productID.String()}
	}
	if err != nil {
		return catalog.Product{}, err
	}
	p.Category = catalog.Category(category)
	p.Status = catalog.Status(status)
	return p, nil
}

func collectItems(rows pgx.Rows) ([]SaleItem, error) {
	var items []SaleItem
	for rows.Next() {
		var item SaleItem
		if err := rows.Scan(&item.ID, &item.SaleID, &item.ProductID, &item.Quantity, &item.UnitCost,
			&item.UnitPrice, &item.DiscountPercent, &item.TaxPercent, &item.Profit, &item.LineTotal); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// Get fetches one sale with its items.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (Sale, error) {
	s, err := scanSale(r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, &shared.NotFoundError{Entity: "sale", ID: id.String()}
	}
	if err != nil {
		return Sale{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, sale_id, product_id, quantity, unit_cost, unit_price,
discount_percent, tax_percent, profit, line_total FROM sale_items WHERE sale_id = $1 ORDER BY id`, id)
	if err != nil {
		return Sale{}, err
	}
	defer rows.Close()
	items, err := collectItems(rows)
	if err != nil {
		return Sale{}, err
	}
	s.Items = items
	return s, nil
}

// List returns sales in scope, newest first.
func (r *Repository) List(ctx context.Context, sc scope.Scope, filter ListFilter) ([]Sale, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	n := 0
	if !sc.All {
		n++
		where += ` AND franchise_id = ANY($` + strconv.Itoa(n) + `)`
		args = append(args, sc.Franchises)
	}
	if filter.Status != nil {
		n++
		where += ` AND status = $` + strconv.Itoa(n)
		args = append(args, string(*filter.Status))
	}
	if !filter.From.IsZero() {
		n++
		where += ` AND sold_at >= $` + strconv.Itoa(n)
		args = append(args, filter.From)
	}
	if !filter.To.IsZero() {
		n++
		where += ` AND sold_at < $` + strconv.Itoa(n)
		args = append(args, filter.To)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p := shared.NewPagination(filter.Page, filter.PerPage, total)
	n++
	query := `SELECT ` + saleColumns + ` FROM sales` + where + ` ORDER BY sold_at DESC LIMIT $` + strconv.Itoa(n)
	args = append(args, p.PerPage)
	n++
	query += ` OFFSET $` + strconv.Itoa(n)
	args = append(args, p.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Sale
	for rows.Next() {
		s, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, s)
	}
	return out, total, rows.Err()
}
