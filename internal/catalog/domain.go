package catalog

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Category enumerates the closed set of product categories.
type Category string

const (
	CategoryFood        Category = "food"
	CategoryBeverage    Category = "beverage"
	CategoryApparel     Category = "apparel"
	CategoryElectronics Category = "electronics"
	CategoryHousehold   Category = "household"
	CategoryOther       Category = "other"
)

// Valid reports whether the category is a known value.
func (c Category) Valid() bool {
	switch c {
	case CategoryFood, CategoryBeverage, CategoryApparel, CategoryElectronics, CategoryHousehold, CategoryOther:
		return true
	}
	return false
}

// ParseCategory normalises free-form input into the closed enum.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	return c, c.Valid()
}

// Status enumerates product lifecycle states. Products with sales history
// are never physically deleted; they are discontinued.
type Status string

const (
	StatusActive       Status = "active"
	StatusDiscontinued Status = "discontinued"
)

// Product is a catalog entry owned by exactly one franchise. Stock made
// available to other franchises lives in the allocations table, keyed by
// this product's id; the catalog row is never duplicated per franchise.
type Product struct {
	ID                  uuid.UUID  `json:"id"`
	FranchiseID         uuid.UUID  `json:"franchise_id"`
	OriginalFranchiseID uuid.UUID  `json:"original_franchise_id"`
	SKU                 string     `json:"sku"`
	Name                string     `json:"name"`
	Category            Category   `json:"category"`
	UnitCost            float64    `json:"unit_cost"`
	UnitPrice           float64    `json:"unit_price"`
	StockQuantity       int64      `json:"stock_quantity"`
	IsGlobal            bool       `json:"is_global"`
	Status              Status     `json:"status"`
	TotalSold           int64      `json:"total_sold"`
	TotalRevenue        float64    `json:"total_revenue"`
	TotalProfit         float64    `json:"total_profit"`
	LastSoldAt          *time.Time `json:"last_sold_at,omitempty"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// MarginPercent derives the profit margin from unit cost and price.
func (p Product) MarginPercent() float64 {
	if p.UnitPrice == 0 {
		return 0
	}
	return (p.UnitPrice - p.UnitCost) / p.UnitPrice * 100
}

// Allocation is a quantity of one product's stock relocated to another
// franchise under the shared ownership model.
type Allocation struct {
	ProductID   uuid.UUID `json:"product_id"`
	FranchiseID uuid.UUID `json:"franchise_id"`
	Quantity    int64     `json:"quantity"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NormalizeSKU canonicalises SKUs for the per-franchise uniqueness check.
func NormalizeSKU(sku string) string {
	return strings.ToUpper(strings.TrimSpace(sku))
}

// CreateProductRequest is the payload for catalog entry.
type CreateProductRequest struct {
	FranchiseID uuid.UUID `json:"franchise_id" validate:"required"`
	SKU         string    `json:"sku" validate:"required,max=64"`
	Name        string    `json:"name" validate:"required,max=200"`
	Category    string    `json:"category" validate:"required"`
	UnitCost    float64   `json:"unit_cost" validate:"gte=0"`
	UnitPrice   float64   `json:"unit_price" validate:"gte=0"`
	IsGlobal    bool      `json:"is_global"`
}

// UpdateProductRequest is the payload for catalog updates. Stock quantity
// is absent on purpose: only the ledger mutates stock.
type UpdateProductRequest struct {
	Name      *string  `json:"name,omitempty" validate:"omitempty,max=200"`
	Category  *string  `json:"category,omitempty"`
	UnitCost  *float64 `json:"unit_cost,omitempty" validate:"omitempty,gte=0"`
	UnitPrice *float64 `json:"unit_price,omitempty" validate:"omitempty,gte=0"`
	IsGlobal  *bool    `json:"is_global,omitempty"`
	Status    *Status  `json:"status,omitempty"`
}

// ListFilter narrows product listings.
type ListFilter struct {
	Search   string
	Category *Category
	Status   *Status
	Page     int
	PerPage  int
}
