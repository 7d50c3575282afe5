package catalog

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/franchisehq/backoffice/internal/scope"
	"github.com/franchisehq/backoffice/internal/shared"
)

// Repository persists catalog data in PostgreSQL.
type Repository interface {
	List(ctx context.Context, sc scope.Scope, filter ListFilter) ([]Product, int, error)
	Get(ctx context.Context, id uuid.UUID) (Product, error)
	GetBySKU(ctx context.Context, franchiseID uuid.UUID, sku string) (Product, error)
	Create(ctx context.Context, p Product) error
	Update(ctx context.Context, p Product) error
	Allocations(ctx context.Context, productID uuid.UUID) ([]Allocation, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const productColumns = `id, franchise_id, original_franchise_id, sku, name, category, unit_cost, unit_price,
stock_quantity, is_global, status, total_sold, total_revenue, total_profit, last_sold_at, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	var category, status string
	err := row.Scan(&p.ID, &p.FranchiseID, &p.OriginalFranchiseID, &p.SKU, &p.Name, &category,
		&p.UnitCost, &p.UnitPrice, &p.StockQuantity, &p.IsGlobal, &status,
		&p.TotalSold, &p.TotalRevenue, &p.TotalProfit, &p.LastSoldAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	p.Category = Category(category)
	p.Status = Status(status)
	return p, nil
}

func (r *repository) List(ctx context.Context, sc scope.Scope, filter ListFilter) ([]Product, int, error) {
	where := ` WHERE 1=1`
	args := []any{}
	n := 0

	if !sc.All {
		n++
		where += ` AND franchise_id = ANY($` + strconv.Itoa(n) + `)`
		args = append(args, sc.Franchises)
	}
	if filter.Search != "" {
		n++
		where += ` AND (name ILIKE $` + strconv.Itoa(n) + ` OR sku ILIKE $` + strconv.Itoa(n) + `)`
		args = append(args, "%"+filter.Search+"%")
	}
	if filter.Category != nil {
		n++
		where += ` AND category = $` + strconv.Itoa(n)
		args = append(args, string(*filter.Category))
	}
	if filter.Status != nil {
		n++
		where += ` AND status = $` + strconv.Itoa(n)
		args = append(args, string(*filter.Status))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	p := shared.NewPagination(filter.Page, filter.PerPage, total)
	query := `SELECT ` + productColumns + ` FROM products` + where + ` ORDER BY sku`
	n++
	query += ` LIMIT $` + strconv.Itoa(n)
	args = append(args, p.PerPage)
	n++
	query += ` OFFSET $` + strconv.Itoa(n)
	args = append(args, p.Offset())

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var products []Product
	for rows.Next() {
		prod, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		products = append(products, prod)
	}
	return products, total, rows.Err()
}

func (r *repository) Get(ctx context.Context, id uuid.UUID) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, &shared.NotFoundError{Entity: "product", ID: id.String()}
	}
	return p, err
}

func (r *repository) GetBySKU(ctx context.Context, franchiseID uuid.UUID, sku string) (Product, error) {
	p, err := scanProduct(r.pool.QueryRow(ctx,
		`SELECT `+productColumns+` FROM products WHERE franchise_id = $1 AND sku = $2`,
		franchiseID, NormalizeSKU(sku)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, &shared.NotFoundError{Entity: "product", ID: sku}
	}
	return p, err
}

func (r *repository) Create(ctx context.Context, p Product) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO products
(id, franchise_id, original_franchise_id, sku, name, category, unit_cost, unit_price, stock_quantity,
 is_global, status, total_sold, total_revenue, total_profit, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, 0, 0, 0, $12, $12)`,
		p.ID, p.FranchiseID, p.OriginalFranchiseID, p.SKU, p.Name, string(p.Category),
		p.UnitCost, p.UnitPrice, p.StockQuantity, p.IsGlobal, string(p.Status), time.Now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return &shared.DuplicateKeyError{Entity: "sku", Key: p.SKU}
		}
		return err
	}
	return nil
}

func (r *repository) Update(ctx context.Context, p Product) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET name = $2, category = $3, unit_cost = $4,
unit_price = $5, is_global = $6, status = $7, updated_at = NOW() WHERE id = $1`,
		p.ID, p.Name, string(p.Category), p.UnitCost, p.UnitPrice, p.IsGlobal, string(p.Status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &shared.NotFoundError{Entity: "product", ID: p.ID.String()}
	}
	return nil
}

func (r *repository) Allocations(ctx context.Context, productID uuid.UUID) ([]Allocation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT product_id, franchise_id, quantity, updated_at FROM product_allocations
WHERE product_id = $1 ORDER BY updated_at`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.ProductID, &a.FranchiseID, &a.Quantity, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
