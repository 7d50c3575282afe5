package ledger

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/franchisehq/backoffice/internal/shared"
)

type memoryStore struct {
	owner       map[uuid.UUID]uuid.UUID
	stock       map[uuid.UUID]int64
	allocations map[string]int64
	movements   []Movement
	statSold    map[uuid.UUID]int64
	statRevenue map[uuid.UUID]float64
	nextID      int64
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		owner:       make(map[uuid.UUID]uuid.UUID),
		stock:       make(map[uuid.UUID]int64),
		allocations: make(map[string]int64),
		statSold:    make(map[uuid.UUID]int64),
		statRevenue: make(map[uuid.UUID]float64),
	}
}

func allocKey(productID, franchiseID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", productID, franchiseID)
}

func (r *memoryStore) addProduct(franchiseID uuid.UUID, qty int64) uuid.UUID {
	id := uuid.New()
	r.owner[id] = franchiseID
	r.stock[id] = qty
	return id
}

type memoryTx struct {
	store *memoryStore
}

func (r *memoryStore) WithTx(ctx context.Context, fn func(context.Context, Tx) error) error {
	// Snapshot so a failed callback leaves stored values unchanged.
	snapshot := newMemoryStore()
	snapshot.nextID = r.nextID
	for k, v := range r.owner {
		snapshot.owner[k] = v
	}
	for k, v := range r.stock {
		snapshot.stock[k] = v
	}
	for k, v := range r.allocations {
		snapshot.allocations[k] = v
	}
	snapshot.movements = append(snapshot.movements, r.movements...)

	if err := fn(ctx, &memoryTx{store: r}); err != nil {
		r.owner = snapshot.owner
		r.stock = snapshot.stock
		r.allocations = snapshot.allocations
		r.movements = snapshot.movements
		r.nextID = snapshot.nextID
		return err
	}
	return nil
}

func (r *memoryStore) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	out := make([]Movement, len(r.movements))
	copy(out, r.movements)
	return out, nil
}

func (r *memoryStore) ProductStock(ctx context.Context, productID uuid.UUID) (OwnedStock, error) {
	owner, ok := r.owner[productID]
	if !ok {
		return OwnedStock{}, ErrProductNotFound
	}
	return OwnedStock{FranchiseID: owner, Quantity: r.stock[productID]}, nil
}

func (r *memoryStore) Allocation(ctx context.Context, productID, franchiseID uuid.UUID) (int64, bool, error) {
	qty, ok := r.allocations[allocKey(productID, franchiseID)]
	return qty, ok, nil
}

func (tx *memoryTx) GetProductStockForUpdate(ctx context.Context, productID uuid.UUID) (OwnedStock, error) {
	return tx.store.ProductStock(ctx, productID)
}

func (tx *memoryTx) GetAllocationForUpdate(ctx context.Context, productID, franchiseID uuid.UUID) (int64, bool, error) {
	return tx.store.Allocation(ctx, productID, franchiseID)
}

func (tx *memoryTx) SetProductStock(ctx context.Context, productID uuid.UUID, quantity int64) error {
	tx.store.stock[productID] = quantity
	return nil
}

func (tx *memoryTx) UpsertAllocation(ctx context.Context, productID, franchiseID uuid.UUID, quantity int64) error {
	key := allocKey(productID, franchiseID)
	if quantity == 0 {
		delete(tx.store.allocations, key)
		return nil
	}
	tx.store.allocations[key] = quantity
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	tx.store.nextID++
	m.ID = tx.store.nextID
	tx.store.movements = append(tx.store.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) BumpSaleStats(ctx context.Context, productID uuid.UUID, quantity int64, revenue, profit float64, at time.Time) error {
	tx.store.statSold[productID] += quantity
	tx.store.statRevenue[productID] += revenue
	return nil
}

func TestApplyMovementNonNegativity(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil, nil, nil)
	ctx := context.Background()

	franchise := uuid.New()
	product := store.addProduct(franchise, 10)

	_, err := svc.ApplyMovement(ctx, MovementInput{
		ProductID: product, FranchiseID: franchise, Quantity: -15, Kind: KindSale,
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	var insufficient *shared.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(10), insufficient.Available)
	require.Equal(t, int64(15), insufficient.Requested)

	// Stored value unchanged after rejection.
	require.Equal(t, int64(10), store.stock[product])
	require.Empty(t, store.movements)
}

func TestApplyMovementAppendsHistory(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil, nil, nil)
	ctx := context.Background()

	franchise := uuid.New()
	product := store.addProduct(franchise, 0)

	m, err := svc.ApplyMovement(ctx, MovementInput{
		ProductID: product, FranchiseID: franchise, Quantity: 25, Kind: KindPurchase, Note: "GRN",
	})
	require.NoError(t, err)
	require.Equal(t, int64(25), m.Balance)

	m, err = svc.ApplyMovement(ctx, MovementInput{
		ProductID: product, FranchiseID: franchise, Quantity: -5, Kind: KindSale,
		Revenue: 50, Profit: 15,
	})
	require.NoError(t, err)
	require.Equal(t, int64(20), m.Balance)
	require.Len(t, store.movements, 2)
	require.Equal(t, int64(5), store.statSold[product])
	require.InDelta(t, 50.0, store.statRevenue[product], 0.001)
}

func TestRelocateConservation(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil, nil, nil)
	ctx := context.Background()

	src := uuid.New()
	dst := uuid.New()
	product := store.addProduct(src, 10)

	out, credit, err := svc.Relocate(ctx, RelocateInput{
		ProductID: product, FromFranchise: src, ToFranchise: dst, Quantity: 5,
	})
	require.NoError(t, err)
	require.Equal(t, KindTransferOut, out.Kind)
	require.Equal(t, KindTransferIn, credit.Kind)

	// Scenario B: owner keeps 5, destination holds a 5-unit allocation.
	require.Equal(t, int64(5), store.stock[product])
	require.Equal(t, int64(5), store.allocations[allocKey(product, dst)])

	srcQty, err := svc.FranchiseStock(ctx, product, src)
	require.NoError(t, err)
	dstQty, err := svc.FranchiseStock(ctx, product, dst)
	require.NoError(t, err)
	require.Equal(t, int64(5), srcQty)
	require.Equal(t, int64(5), dstQty)
}

func TestRelocateInsufficientRollsBackBothSides(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil, nil, nil)
	ctx := context.Background()

	src := uuid.New()
	dst := uuid.New()
	product := store.addProduct(src, 3)

	_, _, err := svc.Relocate(ctx, RelocateInput{
		ProductID: product, FromFranchise: src, ToFranchise: dst, Quantity: 7,
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, int64(3), store.stock[product])
	_, ok := store.allocations[allocKey(product, dst)]
	require.False(t, ok)
	require.Empty(t, store.movements)
}

func TestRelocateToOwnerCreditsOwnedStock(t *testing.T) {
	store := newMemoryStore()
	ctx := context.Background()

	owner := uuid.New()
	holder := uuid.New()
	product := store.addProduct(owner, 10)
	store.allocations[allocKey(product, holder)] = 4

	svc := NewService(store, nil, nil, nil)
	_, _, err := svc.Relocate(ctx, RelocateInput{
		ProductID: product, FromFranchise: holder, ToFranchise: owner, Quantity: 4,
	})
	require.NoError(t, err)
	require.Equal(t, int64(14), store.stock[product])
	// Drained allocation rows are removed.
	_, ok := store.allocations[allocKey(product, holder)]
	require.False(t, ok)
}

func TestFranchiseStockFallsBackToZero(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil, nil, nil)
	ctx := context.Background()

	owner := uuid.New()
	product := store.addProduct(owner, 9)

	qty, err := svc.FranchiseStock(ctx, product, uuid.New())
	require.NoError(t, err)
	require.Equal(t, int64(0), qty)
}

type memoryKeys struct {
	seen map[string]bool
}

func newMemoryKeys() *memoryKeys {
	return &memoryKeys{seen: make(map[string]bool)}
}

func (k *memoryKeys) CheckAndInsert(ctx context.Context, key, module string) error {
	if k.seen[key] {
		return shared.ErrIdempotencyConflict
	}
	k.seen[key] = true
	return nil
}

func (k *memoryKeys) Delete(ctx context.Context, key string) error {
	delete(k.seen, key)
	return nil
}

type countingInvalidator struct {
	bumps int
}

func (c *countingInvalidator) InvalidateCache(ctx context.Context) error {
	c.bumps++
	return nil
}

func TestApplyKeyedPerProduct(t *testing.T) {
	store := newMemoryStore()
	keys := newMemoryKeys()
	svc := NewService(store, nil, keys, nil)
	ctx := context.Background()

	franchise := uuid.New()
	first := store.addProduct(franchise, 0)
	second := store.addProduct(franchise, 0)
	batchID := uuid.New()

	// Two rows of the same batch share a reference id but touch
	// different products; both must go through.
	_, err := svc.ApplyMovement(ctx, MovementInput{
		ProductID: first, FranchiseID: franchise, Quantity: 10, Kind: KindAdjustment,
		RefModule: "import", RefID: batchID,
	})
	require.NoError(t, err)

	_, err = svc.ApplyMovement(ctx, MovementInput{
		ProductID: second, FranchiseID: franchise, Quantity: 7, Kind: KindAdjustment,
		RefModule: "import", RefID: batchID,
	})
	require.NoError(t, err)
	require.Len(t, store.movements, 2)

	// Replaying the same row is what the key rejects.
	_, err = svc.ApplyMovement(ctx, MovementInput{
		ProductID: first, FranchiseID: franchise, Quantity: 10, Kind: KindAdjustment,
		RefModule: "import", RefID: batchID,
	})
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	require.Len(t, store.movements, 2)
}

func TestApplyReleasesKeyOnFailure(t *testing.T) {
	store := newMemoryStore()
	keys := newMemoryKeys()
	svc := NewService(store, nil, keys, nil)
	ctx := context.Background()

	franchise := uuid.New()
	product := store.addProduct(franchise, 2)
	refID := uuid.New()

	in := MovementInput{
		ProductID: product, FranchiseID: franchise, Quantity: -5, Kind: KindSale,
		RefModule: "sale", RefID: refID,
	}
	_, err := svc.ApplyMovement(ctx, in)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Empty(t, keys.seen)

	// The caller may retry with a corrected quantity under the same key.
	in.Quantity = -2
	_, err = svc.ApplyMovement(ctx, in)
	require.NoError(t, err)
}

func TestApplyBumpsReportCache(t *testing.T) {
	store := newMemoryStore()
	reports := &countingInvalidator{}
	svc := NewService(store, nil, nil, reports)
	ctx := context.Background()

	franchise := uuid.New()
	other := uuid.New()
	product := store.addProduct(franchise, 10)

	_, err := svc.ApplyMovement(ctx, MovementInput{
		ProductID: product, FranchiseID: franchise, Quantity: 5, Kind: KindPurchase,
	})
	require.NoError(t, err)
	require.Equal(t, 1, reports.bumps)

	_, _, err = svc.Relocate(ctx, RelocateInput{
		ProductID: product, FromFranchise: franchise, ToFranchise: other, Quantity: 3,
	})
	require.NoError(t, err)
	require.Equal(t, 2, reports.bumps)

	// A rejected movement leaves cached reports valid.
	_, err = svc.ApplyMovement(ctx, MovementInput{
		ProductID: product, FranchiseID: franchise, Quantity: -100, Kind: KindSale,
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, 2, reports.bumps)
}

func TestApplyRejectsWrongSign(t *testing.T) {
	store := newMemoryStore()
	svc := NewService(store, nil, nil, nil)
	ctx := context.Background()

	franchise := uuid.New()
	product := store.addProduct(franchise, 10)

	_, err := svc.ApplyMovement(ctx, MovementInput{
		ProductID: product, FranchiseID: franchise, Quantity: 5, Kind: KindSale,
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.ApplyMovement(ctx, MovementInput{
		ProductID: product, FranchiseID: franchise, Quantity: -5, Kind: KindPurchase,
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.ApplyMovement(ctx, MovementInput{
		ProductID: product, FranchiseID: franchise, Quantity: 0, Kind: KindAdjustment,
	})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}
