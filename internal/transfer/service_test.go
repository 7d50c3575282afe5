package transfer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/franchisehq/backoffice/internal/catalog"
	"github.com/franchisehq/backoffice/internal/ledger"
	"github.com/franchisehq/backoffice/internal/scope"
	"github.com/franchisehq/backoffice/internal/shared"
)

type memoryRepo struct {
	products    map[uuid.UUID]catalog.Product
	allocations map[string]int64
	transfers   map[uuid.UUID]Transfer
	history     []StatusChange
	movements   []ledger.Movement
	nextID      int64
	franchises  map[uuid.UUID]bool
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		products:    make(map[uuid.UUID]catalog.Product),
		allocations: make(map[string]int64),
		transfers:   make(map[uuid.UUID]Transfer),
		franchises:  make(map[uuid.UUID]bool),
	}
}

func (r *memoryRepo) addFranchise() uuid.UUID {
	id := uuid.New()
	r.franchises[id] = true
	return id
}

func (r *memoryRepo) addProduct(franchiseID uuid.UUID, sku string, qty int64) catalog.Product {
	p := catalog.Product{
		ID:                  uuid.New(),
		FranchiseID:         franchiseID,
		OriginalFranchiseID: franchiseID,
		SKU:                 catalog.NormalizeSKU(sku),
		Name:                "Product " + sku,
		Category:            catalog.CategoryOther,
		UnitCost:            10,
		UnitPrice:           15,
		StockQuantity:       qty,
		Status:              catalog.StatusActive,
	}
	r.products[p.ID] = p
	return p
}

func (r *memoryRepo) Active(ctx context.Context, franchiseID uuid.UUID) (bool, error) {
	return r.franchises[franchiseID], nil
}

func allocKey(productID, franchiseID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", productID, franchiseID)
}

type memoryTx struct {
	repo *memoryRepo
	// staged copies give rollback-on-error semantics
	products    map[uuid.UUID]catalog.Product
	allocations map[string]int64
	transfers   map[uuid.UUID]Transfer
	history     []StatusChange
	movements   []ledger.Movement
	nextID      int64
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{
		repo:        r,
		products:    make(map[uuid.UUID]catalog.Product, len(r.products)),
		allocations: make(map[string]int64, len(r.allocations)),
		transfers:   make(map[uuid.UUID]Transfer, len(r.transfers)),
		nextID:      r.nextID,
	}
	for k, v := range r.products {
		tx.products[k] = v
	}
	for k, v := range r.allocations {
		tx.allocations[k] = v
	}
	for k, v := range r.transfers {
		tx.transfers[k] = v
	}
	tx.history = append(tx.history, r.history...)
	tx.movements = append(tx.movements, r.movements...)

	if err := fn(ctx, tx); err != nil {
		return err
	}
	r.products = tx.products
	r.allocations = tx.allocations
	r.transfers = tx.transfers
	r.history = tx.history
	r.movements = tx.movements
	r.nextID = tx.nextID
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id uuid.UUID) (Transfer, error) {
	t, ok := r.transfers[id]
	if !ok {
		return Transfer{}, &shared.NotFoundError{Entity: "transfer", ID: id.String()}
	}
	return t, nil
}

func (r *memoryRepo) List(ctx context.Context, sc scope.Scope, filter ListFilter) ([]Transfer, int, error) {
	var out []Transfer
	for _, t := range r.transfers {
		if sc.Allows(t.FromFranchise) || sc.Allows(t.ToFranchise) {
			out = append(out, t)
		}
	}
	return out, len(out), nil
}

func (r *memoryRepo) StatusHistory(ctx context.Context, transferID uuid.UUID) ([]StatusChange, error) {
	var out []StatusChange
	for _, c := range r.history {
		if c.TransferID == transferID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (tx *memoryTx) GetProductStockForUpdate(ctx context.Context, productID uuid.UUID) (ledger.OwnedStock, error) {
	p, ok := tx.products[productID]
	if !ok {
		return ledger.OwnedStock{}, ledger.ErrProductNotFound
	}
	return ledger.OwnedStock{FranchiseID: p.FranchiseID, Quantity: p.StockQuantity}, nil
}

func (tx *memoryTx) GetAllocationForUpdate(ctx context.Context, productID, franchiseID uuid.UUID) (int64, bool, error) {
	qty, ok := tx.allocations[allocKey(productID, franchiseID)]
	return qty, ok, nil
}

func (tx *memoryTx) SetProductStock(ctx context.Context, productID uuid.UUID, quantity int64) error {
	p := tx.products[productID]
	p.StockQuantity = quantity
	tx.products[productID] = p
	return nil
}

func (tx *memoryTx) UpsertAllocation(ctx context.Context, productID, franchiseID uuid.UUID, quantity int64) error {
	key := allocKey(productID, franchiseID)
	if quantity == 0 {
		delete(tx.allocations, key)
		return nil
	}
	tx.allocations[key] = quantity
	return nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m ledger.Movement) (int64, error) {
	tx.nextID++
	m.ID = tx.nextID
	tx.movements = append(tx.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) BumpSaleStats(ctx context.Context, productID uuid.UUID, quantity int64, revenue, profit float64, at time.Time) error {
	return nil
}

func (tx *memoryTx) InsertTransfer(ctx context.Context, t Transfer) error {
	tx.transfers[t.ID] = t
	return nil
}

func (tx *memoryTx) GetTransferForUpdate(ctx context.Context, id uuid.UUID) (Transfer, error) {
	t, ok := tx.transfers[id]
	if !ok {
		return Transfer{}, &shared.NotFoundError{Entity: "transfer", ID: id.String()}
	}
	return t, nil
}

func (tx *memoryTx) UpdateTransfer(ctx context.Context, t Transfer) error {
	tx.transfers[t.ID] = t
	return nil
}

func (tx *memoryTx) InsertStatusChange(ctx context.Context, change StatusChange) error {
	tx.history = append(tx.history, change)
	return nil
}

func (tx *memoryTx) GetProduct(ctx context.Context, productID uuid.UUID) (catalog.Product, error) {
	p, ok := tx.products[productID]
	if !ok {
		return catalog.Product{}, &shared.NotFoundError{Entity: "product", ID: productID.String()}
	}
	return p, nil
}

func (tx *memoryTx) FindProductBySKU(ctx context.Context, franchiseID uuid.UUID, sku string) (catalog.Product, bool, error) {
	for _, p := range tx.products {
		if p.FranchiseID == franchiseID && p.SKU == catalog.NormalizeSKU(sku) {
			return p, true, nil
		}
	}
	return catalog.Product{}, false, nil
}

func (tx *memoryTx) InsertProduct(ctx context.Context, p catalog.Product) error {
	tx.products[p.ID] = p
	return nil
}

func adminIdentity() shared.Identity {
	return shared.Identity{UserID: 1, Role: shared.RoleAdmin}
}

func newTestService(repo *memoryRepo) *Service {
	return NewService(repo, repo, scope.NewResolver(), nil, nil)
}

func TestHappyPathLifecycle(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	src := repo.addFranchise()
	dst := repo.addFranchise()
	product := repo.addProduct(src, "SKU-1", 10)

	tr, err := svc.Initiate(ctx, adminIdentity(), InitiateRequest{
		ProductID: product.ID, FromFranchise: src, ToFranchise: dst, Quantity: 5, UnitPrice: 15,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, tr.Status)
	require.InDelta(t, 75.0, tr.TotalValue, 0.001)
	// Initiation does not touch the ledger.
	require.Equal(t, int64(10), repo.products[product.ID].StockQuantity)

	tr, err = svc.Approve(ctx, adminIdentity(), tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, tr.Status)
	require.NotNil(t, tr.ApprovedBy)

	tr, err = svc.Dispatch(ctx, adminIdentity(), tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusInTransit, tr.Status)

	tr, err = svc.Complete(ctx, adminIdentity(), tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, tr.Status)
	require.NotNil(t, tr.DeliveredAt)

	// Conservation: source lost exactly what the destination gained.
	require.Equal(t, int64(5), repo.products[product.ID].StockQuantity)
	require.Equal(t, int64(5), repo.allocations[allocKey(product.ID, dst)])

	history, err := repo.StatusHistory(ctx, tr.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	require.Equal(t, StatusCompleted, history[3].ToStatus)
}

func TestIllegalTransitions(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	src := repo.addFranchise()
	dst := repo.addFranchise()
	product := repo.addProduct(src, "SKU-2", 10)

	tr, err := svc.Initiate(ctx, adminIdentity(), InitiateRequest{
		ProductID: product.ID, FromFranchise: src, ToFranchise: dst, Quantity: 2,
	})
	require.NoError(t, err)

	// pending cannot complete or dispatch directly
	_, err = svc.Complete(ctx, adminIdentity(), tr.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = svc.Dispatch(ctx, adminIdentity(), tr.ID)
	require.ErrorIs(t, err, shared.ErrConflict)

	tr, err = svc.Reject(ctx, adminIdentity(), tr.ID, "not needed")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, tr.Status)

	// terminal states accept nothing further
	_, err = svc.Approve(ctx, adminIdentity(), tr.ID)
	require.ErrorIs(t, err, shared.ErrConflict)
	_, err = svc.Cancel(ctx, adminIdentity(), tr.ID, "late")
	require.ErrorIs(t, err, shared.ErrConflict)
}

func TestTransitionTableIsOneDirectional(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusRejected, StatusCancelled} {
		require.True(t, terminal.Terminal())
	}
	require.False(t, StatusApproved.CanTransition(StatusPending))
	require.False(t, StatusInTransit.CanTransition(StatusApproved))
	require.False(t, StatusCompleted.CanTransition(StatusCancelled))
	require.True(t, StatusApproved.CanTransition(StatusCompleted))
	require.True(t, StatusInTransit.CanTransition(StatusCompleted))
}

func TestCompleteInsufficientStockKeepsPriorState(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	src := repo.addFranchise()
	dst := repo.addFranchise()
	product := repo.addProduct(src, "SKU-3", 3)

	tr, err := svc.Initiate(ctx, adminIdentity(), InitiateRequest{
		ProductID: product.ID, FromFranchise: src, ToFranchise: dst, Quantity: 8,
	})
	require.NoError(t, err)
	tr, err = svc.Approve(ctx, adminIdentity(), tr.ID)
	require.NoError(t, err)

	_, err = svc.Complete(ctx, adminIdentity(), tr.ID)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	stored, err := repo.Get(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, StatusApproved, stored.Status)
	require.Equal(t, int64(3), repo.products[product.ID].StockQuantity)
}

func TestStockOutInsufficientCarriesAmounts(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	src := repo.addFranchise()
	warehouse := repo.addFranchise()
	product := repo.addProduct(src, "SKU-4", 10)

	// Scenario A: 15 requested against 10 available.
	_, err := svc.StockOut(ctx, adminIdentity(), DirectRequest{
		ProductID: product.ID, FromFranchise: src, ToFranchise: warehouse, Quantity: 15, UnitCost: 10,
	})
	var insufficient *shared.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Equal(t, int64(10), insufficient.Available)
	require.Equal(t, int64(15), insufficient.Requested)
	require.Equal(t, int64(10), repo.products[product.ID].StockQuantity)
	require.Empty(t, repo.transfers)
}

func TestStockOutRelocates(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	src := repo.addFranchise()
	warehouse := repo.addFranchise()
	product := repo.addProduct(src, "SKU-5", 10)

	tr, err := svc.StockOut(ctx, adminIdentity(), DirectRequest{
		ProductID: product.ID, FromFranchise: src, ToFranchise: warehouse, Quantity: 4, UnitCost: 10,
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, tr.Status)
	require.Equal(t, int64(6), repo.products[product.ID].StockQuantity)
	require.Equal(t, int64(4), repo.allocations[allocKey(product.ID, warehouse)])
}

func TestStockInCreatesDestinationProduct(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	warehouse := repo.addFranchise()
	dst := repo.addFranchise()
	source := repo.addProduct(warehouse, "SKU-6", 100)

	tr, err := svc.StockIn(ctx, adminIdentity(), DirectRequest{
		ProductID: source.ID, FromFranchise: warehouse, ToFranchise: dst, Quantity: 20, UnitCost: 8,
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, tr.Status)
	require.NotEqual(t, source.ID, tr.ProductID)

	created := repo.products[tr.ProductID]
	require.Equal(t, dst, created.FranchiseID)
	require.Equal(t, source.OriginalFranchiseID, created.OriginalFranchiseID)
	require.Equal(t, source.SKU, created.SKU)
	require.InDelta(t, 8.0, created.UnitCost, 0.001)
	require.Equal(t, int64(20), created.StockQuantity)

	// A second stock-in for the same SKU reuses the created row.
	tr2, err := svc.StockIn(ctx, adminIdentity(), DirectRequest{
		ProductID: source.ID, FromFranchise: warehouse, ToFranchise: dst, Quantity: 5, UnitCost: 8,
	})
	require.NoError(t, err)
	require.Equal(t, created.ID, tr2.ProductID)
	require.Equal(t, int64(25), repo.products[created.ID].StockQuantity)
}

func TestStaffCannotMoveStock(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	src := repo.addFranchise()
	dst := repo.addFranchise()
	product := repo.addProduct(src, "SKU-8", 10)

	staff := shared.Identity{UserID: 9, Role: shared.RoleStaff, Franchises: []uuid.UUID{src}}
	_, err := svc.Initiate(ctx, staff, InitiateRequest{
		ProductID: product.ID, FromFranchise: src, ToFranchise: dst, Quantity: 1,
	})
	require.ErrorIs(t, err, shared.ErrAccessDenied)

	_, err = svc.StockOut(ctx, staff, DirectRequest{
		ProductID: product.ID, FromFranchise: src, ToFranchise: dst, Quantity: 1, UnitCost: 10,
	})
	require.ErrorIs(t, err, shared.ErrAccessDenied)

	_, err = svc.StockIn(ctx, staff, DirectRequest{
		ProductID: product.ID, FromFranchise: dst, ToFranchise: src, Quantity: 1, UnitCost: 10,
	})
	require.ErrorIs(t, err, shared.ErrAccessDenied)

	// A staff member may not act on a transfer a manager initiated.
	manager := shared.Identity{UserID: 10, Role: shared.RoleManager, Franchises: []uuid.UUID{src, dst}}
	tr, err := svc.Initiate(ctx, manager, InitiateRequest{
		ProductID: product.ID, FromFranchise: src, ToFranchise: dst, Quantity: 1,
	})
	require.NoError(t, err)
	_, err = svc.Approve(ctx, staff, tr.ID)
	require.ErrorIs(t, err, shared.ErrAccessDenied)
	_, err = svc.Cancel(ctx, staff, tr.ID, "no")
	require.ErrorIs(t, err, shared.ErrAccessDenied)
}

func TestEitherPartyMayCancel(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	src := repo.addFranchise()
	dst := repo.addFranchise()
	product := repo.addProduct(src, "SKU-9", 10)

	tr, err := svc.Initiate(ctx, adminIdentity(), InitiateRequest{
		ProductID: product.ID, FromFranchise: src, ToFranchise: dst, Quantity: 2,
	})
	require.NoError(t, err)

	// A manager at neither end has no say.
	stranger := shared.Identity{UserID: 11, Role: shared.RoleManager, Franchises: []uuid.UUID{uuid.New()}}
	_, err = svc.Cancel(ctx, stranger, tr.ID, "none of my business")
	require.ErrorIs(t, err, shared.ErrAccessDenied)

	// The receiving franchise may withdraw before dispatch.
	receiver := shared.Identity{UserID: 12, Role: shared.RoleManager, Franchises: []uuid.UUID{dst}}
	cancelled, err := svc.Cancel(ctx, receiver, tr.ID, "no longer needed")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	// And so may the sender on a fresh transfer.
	tr2, err := svc.Initiate(ctx, adminIdentity(), InitiateRequest{
		ProductID: product.ID, FromFranchise: src, ToFranchise: dst, Quantity: 2,
	})
	require.NoError(t, err)
	sender := shared.Identity{UserID: 13, Role: shared.RoleManager, Franchises: []uuid.UUID{src}}
	cancelled, err = svc.Cancel(ctx, sender, tr2.ID, "picked wrong product")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
}

type countingInvalidator struct {
	bumps int
}

func (c *countingInvalidator) InvalidateCache(ctx context.Context) error {
	c.bumps++
	return nil
}

func TestCompletionBumpsReportCache(t *testing.T) {
	repo := newMemoryRepo()
	reports := &countingInvalidator{}
	svc := NewService(repo, repo, scope.NewResolver(), nil, reports)
	ctx := context.Background()

	src := repo.addFranchise()
	dst := repo.addFranchise()
	product := repo.addProduct(src, "SKU-10", 10)

	tr, err := svc.Initiate(ctx, adminIdentity(), InitiateRequest{
		ProductID: product.ID, FromFranchise: src, ToFranchise: dst, Quantity: 3,
	})
	require.NoError(t, err)
	tr, err = svc.Approve(ctx, adminIdentity(), tr.ID)
	require.NoError(t, err)
	// Approval moves no stock, so cached reports stay valid.
	require.Equal(t, 0, reports.bumps)

	_, err = svc.Complete(ctx, adminIdentity(), tr.ID)
	require.NoError(t, err)
	require.Equal(t, 1, reports.bumps)

	_, err = svc.StockOut(ctx, adminIdentity(), DirectRequest{
		ProductID: product.ID, FromFranchise: src, ToFranchise: dst, Quantity: 2, UnitCost: 10,
	})
	require.NoError(t, err)
	require.Equal(t, 2, reports.bumps)
}

func TestScopeEnforcement(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()

	src := repo.addFranchise()
	dst := repo.addFranchise()
	product := repo.addProduct(src, "SKU-7", 10)

	outsider := shared.Identity{UserID: 5, Role: shared.RoleManager, Franchises: []uuid.UUID{uuid.New()}}
	_, err := svc.Initiate(ctx, outsider, InitiateRequest{
		ProductID: product.ID, FromFranchise: src, ToFranchise: dst, Quantity: 1,
	})
	require.ErrorIs(t, err, shared.ErrAccessDenied)

	sourceManager := shared.Identity{UserID: 6, Role: shared.RoleManager, Franchises: []uuid.UUID{src}}
	tr, err := svc.Initiate(ctx, sourceManager, InitiateRequest{
		ProductID: product.ID, FromFranchise: src, ToFranchise: dst, Quantity: 1,
	})
	require.NoError(t, err)

	// Approval belongs to the receiving franchise.
	_, err = svc.Approve(ctx, sourceManager, tr.ID)
	require.ErrorIs(t, err, shared.ErrAccessDenied)

	destManager := shared.Identity{UserID: 7, Role: shared.RoleManager, Franchises: []uuid.UUID{dst}}
	_, err = svc.Approve(ctx, destManager, tr.ID)
	require.NoError(t, err)
}
