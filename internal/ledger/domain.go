package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind enumerates supported stock movements.
type Kind string

const (
	// KindSale decrements stock for a completed sale.
	KindSale Kind = "sale"
	// KindPurchase credits stock received from a supplier or warehouse.
	KindPurchase Kind = "purchase"
	// KindAdjustment corrects stock in either direction.
	KindAdjustment Kind = "adjustment"
	// KindReturn credits stock restored by a refund.
	KindReturn Kind = "return"
	// KindTransferIn credits the destination side of a relocation.
	KindTransferIn Kind = "transfer_in"
	// KindTransferOut debits the source side of a relocation.
	KindTransferOut Kind = "transfer_out"
)

// Valid reports whether the kind is a known value.
func (k Kind) Valid() bool {
	switch k {
	case KindSale, KindPurchase, KindAdjustment, KindReturn, KindTransferIn, KindTransferOut:
		return true
	}
	return false
}

// Movement is one immutable entry in a product's movement history.
type Movement struct {
	ID          int64     `json:"id"`
	ProductID   uuid.UUID `json:"product_id"`
	FranchiseID uuid.UUID `json:"franchise_id"`
	Kind        Kind      `json:"kind"`
	Quantity    int64     `json:"quantity"`
	Balance     int64     `json:"balance"`
	Note        string    `json:"note,omitempty"`
	ActorID     int64     `json:"actor_id"`
	RefModule   string    `json:"ref_module,omitempty"`
	RefID       uuid.UUID `json:"ref_id,omitempty"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// MovementInput describes a requested stock mutation. Quantity is a signed
// delta; for KindSale the revenue and profit fields feed the product's
// lifetime counters.
type MovementInput struct {
	ProductID   uuid.UUID
	FranchiseID uuid.UUID
	Quantity    int64
	Kind        Kind
	Note        string
	ActorID     int64
	RefModule   string
	RefID       uuid.UUID
	Revenue     float64
	Profit      float64
}

// RelocateInput describes a stock relocation between two franchises.
type RelocateInput struct {
	ProductID     uuid.UUID
	FromFranchise uuid.UUID
	ToFranchise   uuid.UUID
	Quantity      int64
	Note          string
	ActorID       int64
	RefModule     string
	RefID         uuid.UUID
}

// MovementFilter narrows movement history queries.
type MovementFilter struct {
	ProductID   uuid.UUID
	FranchiseID uuid.UUID
	From        time.Time
	To          time.Time
	Limit       int
}

// ErrInvalidQuantity indicates a zero or wrongly signed delta.
var ErrInvalidQuantity = errors.New("ledger: quantity must be a non-zero delta")

// ErrUnknownKind indicates an unrecognised movement kind.
var ErrUnknownKind = errors.New("ledger: unknown movement kind")

// ErrProductNotFound indicates the product row is missing.
var ErrProductNotFound = errors.New("ledger: product not found")
