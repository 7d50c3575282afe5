package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/franchisehq/backoffice/internal/shared"
)

// OwnedStock is the locked owning row for a product.
type OwnedStock struct {
	FranchiseID uuid.UUID
	Quantity    int64
}

// Tx is the transactional port the invariant core runs against. Any
// repository that implements it (the pgx one here, the sales and transfer
// repositories on their own transactions) gets the same non-negativity and
// history guarantees.
type Tx interface {
	// GetProductStockForUpdate locks the product row and returns the owning
	// franchise and its quantity.
	GetProductStockForUpdate(ctx context.Context, productID uuid.UUID) (OwnedStock, error)
	// GetAllocationForUpdate locks and returns the allocation quantity for a
	// non-owning franchise; ok is false when no allocation exists yet.
	GetAllocationForUpdate(ctx context.Context, productID, franchiseID uuid.UUID) (int64, bool, error)
	SetProductStock(ctx context.Context, productID uuid.UUID, quantity int64) error
	UpsertAllocation(ctx context.Context, productID, franchiseID uuid.UUID, quantity int64) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	// BumpSaleStats increments the product's lifetime sold/revenue/profit
	// counters and stamps the last-sold time.
	BumpSaleStats(ctx context.Context, productID uuid.UUID, quantity int64, revenue, profit float64, at time.Time) error
}

func validateInput(in MovementInput) error {
	if !in.Kind.Valid() {
		return ErrUnknownKind
	}
	if in.Quantity == 0 {
		return ErrInvalidQuantity
	}
	switch in.Kind {
	case KindSale, KindTransferOut:
		if in.Quantity > 0 {
			return ErrInvalidQuantity
		}
	case KindPurchase, KindReturn, KindTransferIn:
		if in.Quantity < 0 {
			return ErrInvalidQuantity
		}
	}
	return nil
}

// Apply atomically mutates the (product, franchise) quantity and appends a
// movement history entry. The read-check-write runs under the row lock the
// Tx holds, so a movement that would drive stock negative is rejected with
// the stored value unchanged.
func Apply(ctx context.Context, tx Tx, in MovementInput) (Movement, error) {
	if err := validateInput(in); err != nil {
		return Movement{}, err
	}
	if in.ProductID == uuid.Nil || in.FranchiseID == uuid.Nil {
		return Movement{}, fmt.Errorf("ledger: product and franchise required")
	}

	owned, err := tx.GetProductStockForUpdate(ctx, in.ProductID)
	if err != nil {
		return Movement{}, err
	}

	var current int64
	owner := owned.FranchiseID == in.FranchiseID
	if owner {
		current = owned.Quantity
	} else {
		qty, _, err := tx.GetAllocationForUpdate(ctx, in.ProductID, in.FranchiseID)
		if err != nil {
			return Movement{}, err
		}
		current = qty
	}

	next := current + in.Quantity
	if next < 0 {
		return Movement{}, &shared.InsufficientStockError{
			ProductID:   in.ProductID,
			FranchiseID: in.FranchiseID,
			Available:   current,
			Requested:   -in.Quantity,
		}
	}

	if owner {
		if err := tx.SetProductStock(ctx, in.ProductID, next); err != nil {
			return Movement{}, err
		}
	} else {
		if err := tx.UpsertAllocation(ctx, in.ProductID, in.FranchiseID, next); err != nil {
			return Movement{}, err
		}
	}

	now := time.Now().UTC()
	m := Movement{
		ProductID:   in.ProductID,
		FranchiseID: in.FranchiseID,
		Kind:        in.Kind,
		Quantity:    in.Quantity,
		Balance:     next,
		Note:        in.Note,
		ActorID:     in.ActorID,
		RefModule:   in.RefModule,
		RefID:       in.RefID,
		OccurredAt:  now,
	}
	id, err := tx.InsertMovement(ctx, m)
	if err != nil {
		return Movement{}, err
	}
	m.ID = id

	if in.Kind == KindSale {
		if err := tx.BumpSaleStats(ctx, in.ProductID, -in.Quantity, in.Revenue, in.Profit, now); err != nil {
			return Movement{}, err
		}
	}
	return m, nil
}

// Relocate moves quantity from one franchise to another as a single unit:
// a transfer_out debit on the source and a transfer_in credit on the
// destination, either both visible or neither. The destination credit goes
// to the product's own stock when the destination owns the SKU outright,
// otherwise to its allocation.
func Relocate(ctx context.Context, tx Tx, in RelocateInput) (Movement, Movement, error) {
	if in.Quantity <= 0 {
		return Movement{}, Movement{}, ErrInvalidQuantity
	}
	if in.FromFranchise == in.ToFranchise {
		return Movement{}, Movement{}, fmt.Errorf("ledger: source and destination franchise must differ")
	}
	out, err := Apply(ctx, tx, MovementInput{
		ProductID:   in.ProductID,
		FranchiseID: in.FromFranchise,
		Quantity:    -in.Quantity,
		Kind:        KindTransferOut,
		Note:        in.Note,
		ActorID:     in.ActorID,
		RefModule:   in.RefModule,
		RefID:       in.RefID,
	})
	if err != nil {
		return Movement{}, Movement{}, err
	}
	credit, err := Apply(ctx, tx, MovementInput{
		ProductID:   in.ProductID,
		FranchiseID: in.ToFranchise,
		Quantity:    in.Quantity,
		Kind:        KindTransferIn,
		Note:        in.Note,
		ActorID:     in.ActorID,
		RefModule:   in.RefModule,
		RefID:       in.RefID,
	})
	if err != nil {
		return Movement{}, Movement{}, err
	}
	return out, credit, nil
}

// ResolveFranchiseStock returns the quantity a franchise may sell: the
// product's own stock when the franchise owns it, otherwise its allocation,
// otherwise zero.
func ResolveFranchiseStock(owned OwnedStock, franchiseID uuid.UUID, allocation int64, hasAllocation bool) int64 {
	if owned.FranchiseID == franchiseID {
		return owned.Quantity
	}
	if hasAllocation {
		return allocation
	}
	return 0
}
