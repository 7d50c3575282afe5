package sales

import (
	"time"

	"github.com/google/uuid"
)

// PaymentMethod enumerates accepted payment methods.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "cash"
	PaymentCard     PaymentMethod = "card"
	PaymentTransfer PaymentMethod = "transfer"
	PaymentEwallet  PaymentMethod = "ewallet"
)

// Valid reports whether the payment method is a known value.
func (p PaymentMethod) Valid() bool {
	switch p {
	case PaymentCash, PaymentCard, PaymentTransfer, PaymentEwallet:
		return true
	}
	return false
}

// SaleType distinguishes online from over-the-counter sales.
type SaleType string

const (
	SaleTypeOnline  SaleType = "online"
	SaleTypeOffline SaleType = "offline"
)

// Valid reports whether the sale type is a known value.
func (t SaleType) Valid() bool {
	return t == SaleTypeOnline || t == SaleTypeOffline
}

// Status enumerates sale lifecycle states.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPending   Status = "pending"
	StatusRefunded  Status = "refunded"
	StatusCancelled Status = "cancelled"
)

// SaleItem is one line of a sale. Profit is derived at creation and never
// recomputed.
type SaleItem struct {
	ID              int64     `json:"id"`
	SaleID          uuid.UUID `json:"sale_id"`
	ProductID       uuid.UUID `json:"product_id"`
	Quantity        int64     `json:"quantity"`
	UnitCost        float64   `json:"unit_cost"`
	UnitPrice       float64   `json:"unit_price"`
	DiscountPercent float64   `json:"discount_percent"`
	TaxPercent      float64   `json:"tax_percent"`
	Profit          float64   `json:"profit"`
	LineTotal       float64   `json:"line_total"`
}

// Sale is the canonical record of a one-time stock decrement. Once
// completed it is never re-applied to the ledger.
type Sale struct {
	ID            uuid.UUID     `json:"id"`
	InvoiceNumber string        `json:"invoice_number"`
	FranchiseID   uuid.UUID     `json:"franchise_id"`
	Items         []SaleItem    `json:"items,omitempty"`
	Subtotal      float64       `json:"subtotal"`
	DiscountTotal float64       `json:"discount_total"`
	TaxTotal      float64       `json:"tax_total"`
	GrandTotal    float64       `json:"grand_total"`
	TotalProfit   float64       `json:"total_profit"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	SaleType      SaleType      `json:"sale_type"`
	Status        Status        `json:"status"`
	CreatedBy     int64         `json:"created_by"`
	SoldAt        time.Time     `json:"sold_at"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// CreateSaleItem is one requested line. Zero unit cost or price means
// "enrich from the catalog entry".
type CreateSaleItem struct {
	ProductID       uuid.UUID `json:"product_id" validate:"required"`
	Quantity        int64     `json:"quantity" validate:"required,gte=1"`
	UnitPrice       float64   `json:"unit_price" validate:"gte=0"`
	UnitCost        float64   `json:"unit_cost" validate:"gte=0"`
	DiscountPercent float64   `json:"discount_percent" validate:"gte=0,lte=100"`
	TaxPercent      float64   `json:"tax_percent" validate:"gte=0,lte=100"`
}

// CreateSaleRequest is the payload for sale capture.
type CreateSaleRequest struct {
	FranchiseID   uuid.UUID        `json:"franchise_id" validate:"required"`
	InvoiceNumber string           `json:"invoice_number"`
	Items         []CreateSaleItem `json:"items" validate:"required,min=1,dive"`
	PaymentMethod PaymentMethod    `json:"payment_method" validate:"required"`
	SaleType      SaleType         `json:"sale_type" validate:"required"`
	SoldAt        *time.Time       `json:"sold_at,omitempty"`
}

// ListFilter narrows sale listings.
type ListFilter struct {
	Status  *Status
	From    time.Time
	To      time.Time
	Page    int
	PerPage int
}

// itemTotals carries derived amounts for one line.
type itemTotals struct {
	Gross    float64
	Discount float64
	Tax      float64
	Total    float64
	Profit   float64
}

func computeItem(unitPrice, unitCost float64, qty int64, discountPct, taxPct float64) itemTotals {
	gross := unitPrice * float64(qty)
	discount := gross * discountPct / 100
	tax := (gross - discount) * taxPct / 100
	return itemTotals{
		Gross:    gross,
		Discount: discount,
		Tax:      tax,
		Total:    gross - discount + tax,
		Profit:   (unitPrice - unitCost) * float64(qty),
	}
}
