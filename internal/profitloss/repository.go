package profitloss

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads period aggregates. Everything here is read-only and
// runs outside any write transaction; a report taken mid-import may
// undercount rows still being applied, which is acceptable.
type Repository interface {
	SaleAggregate(ctx context.Context, franchises []uuid.UUID, from, to time.Time) (saleAggregate, error)
	CategoryBreakdown(ctx context.Context, franchises []uuid.UUID, from, to time.Time) ([]CategoryBreakdown, error)
	InventoryValueAt(ctx context.Context, franchises []uuid.UUID, at time.Time) (float64, error)
	StockFlows(ctx context.Context, franchises []uuid.UUID, from, to time.Time) (stockFlows, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs the pgx-backed aggregate reader.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

// franchises == nil means the whole estate; the cast keeps the NULL
// check valid for an empty array parameter.

func (r *repository) SaleAggregate(ctx context.Context, franchises []uuid.UUID, from, to time.Time) (saleAggregate, error) {
	var agg saleAggregate
	err := r.pool.QueryRow(ctx, `SELECT
  COALESCE(SUM(si.line_total), 0),
  COALESCE(SUM(si.unit_cost * si.quantity), 0),
  COALESCE(SUM(si.profit), 0),
  COALESCE(SUM(si.quantity), 0)
FROM sale_items si
JOIN sales s ON s.id = si.sale_id
WHERE s.status = 'completed'
  AND s.sold_at >= $2 AND s.sold_at < $3
  AND ($1::uuid[] IS NULL OR s.franchise_id = ANY($1))`,
		franchises, from, to).Scan(&agg.Revenue, &agg.COGS, &agg.Profit, &agg.UnitsSold)
	return agg, err
}

func (r *repository) CategoryBreakdown(ctx context.Context, franchises []uuid.UUID, from, to time.Time) ([]CategoryBreakdown, error) {
	rows, err := r.pool.Query(ctx, `SELECT
  p.category,
  COALESCE(SUM(si.line_total), 0),
  COALESCE(SUM(si.unit_cost * si.quantity), 0),
  COALESCE(SUM(si.quantity), 0)
FROM sale_items si
JOIN sales s ON s.id = si.sale_id
JOIN products p ON p.id = si.product_id
WHERE s.status = 'completed'
  AND s.sold_at >= $2 AND s.sold_at < $3
  AND ($1::uuid[] IS NULL OR s.franchise_id = ANY($1))
GROUP BY p.category
ORDER BY 2 DESC`,
		franchises, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CategoryBreakdown
	for rows.Next() {
		var c CategoryBreakdown
		if err := rows.Scan(&c.Category, &c.Revenue, &c.COGS, &c.UnitsSold); err != nil {
			return nil, err
		}
		c.GrossProfit = c.Revenue - c.COGS
		out = append(out, c)
	}
	return out, rows.Err()
}

// InventoryValueAt values the scope's stock positions as of a point in
// time: the current owned and allocated quantities at unit cost, minus
// every movement recorded since that point.
func (r *repository) InventoryValueAt(ctx context.Context, franchises []uuid.UUID, at time.Time) (float64, error) {
	var value float64
	err := r.pool.QueryRow(ctx, `SELECT
  COALESCE((SELECT SUM(p.stock_quantity * p.unit_cost)
            FROM products p
            WHERE ($1::uuid[] IS NULL OR p.franchise_id = ANY($1))), 0)
+ COALESCE((SELECT SUM(a.quantity * p.unit_cost)
            FROM product_allocations a
            JOIN products p ON p.id = a.product_id
            WHERE ($1::uuid[] IS NULL OR a.franchise_id = ANY($1))), 0)
- COALESCE((SELECT SUM(m.quantity * p.unit_cost)
            FROM stock_movements m
            JOIN products p ON p.id = m.product_id
            WHERE m.occurred_at >= $2
              AND ($1::uuid[] IS NULL OR m.franchise_id = ANY($1))), 0)`,
		franchises, at).Scan(&value)
	return value, err
}

// StockFlows sums the cost of stock entering the scope and the value
// leaving it over the period. Sale and return movements are excluded:
// they are the consumption the cross-check derives.
func (r *repository) StockFlows(ctx context.Context, franchises []uuid.UUID, from, to time.Time) (stockFlows, error) {
	var f stockFlows
	err := r.pool.QueryRow(ctx, `SELECT
  COALESCE(SUM(CASE
    WHEN m.kind IN ('purchase', 'transfer_in') OR (m.kind = 'adjustment' AND m.quantity > 0)
    THEN m.quantity * p.unit_cost ELSE 0 END), 0),
  COALESCE(SUM(CASE
    WHEN m.kind = 'transfer_out' OR (m.kind = 'adjustment' AND m.quantity < 0)
    THEN -m.quantity * p.unit_cost ELSE 0 END), 0)
FROM stock_movements m
JOIN products p ON p.id = m.product_id
WHERE m.occurred_at >= $2 AND m.occurred_at < $3
  AND ($1::uuid[] IS NULL OR m.franchise_id = ANY($1))`,
		franchises, from, to).Scan(&f.ImportedCost, &f.ExportedValue)
	return f, err
}
