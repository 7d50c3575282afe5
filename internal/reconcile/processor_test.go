package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/franchisehq/backoffice/internal/catalog"
	"github.com/franchisehq/backoffice/internal/ledger"
	"github.com/franchisehq/backoffice/internal/sales"
	"github.com/franchisehq/backoffice/internal/scope"
	"github.com/franchisehq/backoffice/internal/shared"
	"github.com/franchisehq/backoffice/internal/transfer"
)

type fakeCatalog struct {
	products map[string]catalog.Product
	byID     map[uuid.UUID]catalog.Product
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{products: make(map[string]catalog.Product), byID: make(map[uuid.UUID]catalog.Product)}
}

func skuKey(franchiseID uuid.UUID, sku string) string {
	return franchiseID.String() + ":" + catalog.NormalizeSKU(sku)
}

func (f *fakeCatalog) put(p catalog.Product) {
	f.products[skuKey(p.FranchiseID, p.SKU)] = p
	f.byID[p.ID] = p
}

func (f *fakeCatalog) Get(ctx context.Context, id shared.Identity, productID uuid.UUID) (catalog.Product, []catalog.Allocation, error) {
	p, ok := f.byID[productID]
	if !ok {
		return catalog.Product{}, nil, &shared.NotFoundError{Entity: "product", ID: productID.String()}
	}
	return p, nil, nil
}

func (f *fakeCatalog) GetBySKU(ctx context.Context, id shared.Identity, franchiseID uuid.UUID, sku string) (catalog.Product, error) {
	p, ok := f.products[skuKey(franchiseID, sku)]
	if !ok {
		return catalog.Product{}, &shared.NotFoundError{Entity: "product", ID: sku}
	}
	return p, nil
}

func (f *fakeCatalog) Create(ctx context.Context, id shared.Identity, req catalog.CreateProductRequest) (catalog.Product, error) {
	category, ok := catalog.ParseCategory(req.Category)
	if !ok {
		return catalog.Product{}, shared.NewValidationError("category", "unknown category")
	}
	p := catalog.Product{
		ID:          uuid.New(),
		FranchiseID: req.FranchiseID,
		SKU:         catalog.NormalizeSKU(req.SKU),
		Name:        req.Name,
		Category:    category,
		UnitCost:    req.UnitCost,
		UnitPrice:   req.UnitPrice,
		Status:      catalog.StatusActive,
	}
	f.put(p)
	return p, nil
}

func (f *fakeCatalog) Update(ctx context.Context, id shared.Identity, productID uuid.UUID, req catalog.UpdateProductRequest) (catalog.Product, error) {
	p, ok := f.byID[productID]
	if !ok {
		return catalog.Product{}, &shared.NotFoundError{Entity: "product", ID: productID.String()}
	}
	if req.Name != nil {
		p.Name = *req.Name
	}
	if req.UnitCost != nil {
		p.UnitCost = *req.UnitCost
	}
	if req.UnitPrice != nil {
		p.UnitPrice = *req.UnitPrice
	}
	f.put(p)
	return p, nil
}

type fakeLedger struct {
	stock     map[string]int64
	movements []ledger.MovementInput
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{stock: make(map[string]int64)}
}

func stockKey(productID, franchiseID uuid.UUID) string {
	return productID.String() + ":" + franchiseID.String()
}

func (f *fakeLedger) ApplyMovement(ctx context.Context, in ledger.MovementInput) (ledger.Movement, error) {
	key := stockKey(in.ProductID, in.FranchiseID)
	next := f.stock[key] + in.Quantity
	if next < 0 {
		return ledger.Movement{}, &shared.InsufficientStockError{
			ProductID: in.ProductID, FranchiseID: in.FranchiseID,
			Available: f.stock[key], Requested: -in.Quantity,
		}
	}
	f.stock[key] = next
	f.movements = append(f.movements, in)
	return ledger.Movement{ID: int64(len(f.movements)), Kind: in.Kind, Quantity: in.Quantity}, nil
}

func (f *fakeLedger) FranchiseStock(ctx context.Context, productID, franchiseID uuid.UUID) (int64, error) {
	return f.stock[stockKey(productID, franchiseID)], nil
}

type fakeSales struct {
	invoices map[string]sales.Sale
}

func (f *fakeSales) CreateSale(ctx context.Context, id shared.Identity, req sales.CreateSaleRequest) (sales.Sale, error) {
	if _, ok := f.invoices[req.InvoiceNumber]; ok {
		return sales.Sale{}, &shared.DuplicateKeyError{Entity: "invoice", Key: req.InvoiceNumber}
	}
	s := sales.Sale{ID: uuid.New(), FranchiseID: req.FranchiseID, InvoiceNumber: req.InvoiceNumber}
	f.invoices[req.InvoiceNumber] = s
	return s, nil
}

type fakeTransfers struct {
	ins  []transfer.DirectRequest
	outs []transfer.DirectRequest
}

func (f *fakeTransfers) StockIn(ctx context.Context, id shared.Identity, req transfer.DirectRequest) (transfer.Transfer, error) {
	f.ins = append(f.ins, req)
	return transfer.Transfer{ID: uuid.New(), ProductID: req.ProductID, Status: transfer.StatusCompleted}, nil
}

func (f *fakeTransfers) StockOut(ctx context.Context, id shared.Identity, req transfer.DirectRequest) (transfer.Transfer, error) {
	f.outs = append(f.outs, req)
	return transfer.Transfer{ID: uuid.New(), ProductID: req.ProductID, Status: transfer.StatusCompleted}, nil
}

type fakeLogStore struct {
	logs map[uuid.UUID]ImportLog
}

func (f *fakeLogStore) Create(ctx context.Context, l ImportLog) error {
	f.logs[l.ID] = l
	return nil
}

func (f *fakeLogStore) Finalize(ctx context.Context, l ImportLog) error {
	f.logs[l.ID] = l
	return nil
}

func (f *fakeLogStore) Get(ctx context.Context, id uuid.UUID) (ImportLog, error) {
	l, ok := f.logs[id]
	if !ok {
		return ImportLog{}, &shared.NotFoundError{Entity: "import_log", ID: id.String()}
	}
	return l, nil
}

func (f *fakeLogStore) List(ctx context.Context, sc scope.Scope, filter ListFilter) ([]ImportLog, int, error) {
	var out []ImportLog
	for _, l := range f.logs {
		if sc.Allows(l.FranchiseID) {
			out = append(out, l)
		}
	}
	return out, len(out), nil
}

type fixture struct {
	catalog   *fakeCatalog
	ledger    *fakeLedger
	sales     *fakeSales
	transfers *fakeTransfers
	logs      *fakeLogStore
	processor *Processor
}

func newFixture() *fixture {
	f := &fixture{
		catalog:   newFakeCatalog(),
		ledger:    newFakeLedger(),
		sales:     &fakeSales{invoices: make(map[string]sales.Sale)},
		transfers: &fakeTransfers{},
		logs:      &fakeLogStore{logs: make(map[uuid.UUID]ImportLog)},
	}
	f.processor = NewProcessor(f.catalog, f.ledger, f.sales, f.transfers, f.logs, scope.NewResolver(), nil, nil)
	return f
}

func admin() shared.Identity {
	return shared.Identity{UserID: 1, Role: shared.RoleAdmin}
}

func productRow(sku string, qty int) Row {
	return Row{
		"sku": sku, "name": "Item " + sku, "category": "food",
		"unit_cost": "4", "unit_price": "7", "quantity": strconv.Itoa(qty),
	}
}

func TestProductImportDuplicateSKUInFile(t *testing.T) {
	f := newFixture()
	franchise := uuid.New()

	// Three rows, the second repeats the first SKU: two succeed, one
	// fails, the batch finishes partial.
	res, err := f.processor.ImportRows(context.Background(), admin(), KindProducts, franchise, []Row{
		productRow("AAA-1", 10),
		productRow("AAA-1", 4),
		productRow("BBB-2", 8),
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.Log.Succeeded)
	require.Equal(t, 1, res.Log.Failed)
	require.Equal(t, StatusPartial, res.Log.Status)
	require.Len(t, res.Log.Errors, 1)
	require.Equal(t, 1, res.Log.Errors[0].Row)
	require.Equal(t, "sku", res.Log.Errors[0].Field)
	require.Len(t, res.CreatedOrUpdated, 2)

	stored := f.logs.logs[res.Log.ID]
	require.Equal(t, StatusPartial, stored.Status)
	require.NotNil(t, stored.FinishedAt)
}

func TestProductImportRoutesDeltaThroughLedger(t *testing.T) {
	f := newFixture()
	franchise := uuid.New()
	ctx := context.Background()

	res, err := f.processor.ImportRows(ctx, admin(), KindProducts, franchise, []Row{productRow("CCC-3", 12)})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Log.Status)
	require.Len(t, f.ledger.movements, 1)
	require.Equal(t, ledger.KindAdjustment, f.ledger.movements[0].Kind)
	require.Equal(t, int64(12), f.ledger.movements[0].Quantity)

	// Re-importing with a lower count adjusts down by the difference.
	res, err = f.processor.ImportRows(ctx, admin(), KindProducts, franchise, []Row{productRow("CCC-3", 9)})
	require.NoError(t, err)
	require.Equal(t, 1, res.Log.Succeeded)
	require.Len(t, f.ledger.movements, 2)
	require.Equal(t, int64(-3), f.ledger.movements[1].Quantity)

	productID := res.CreatedOrUpdated[0]
	require.Equal(t, int64(9), f.ledger.stock[stockKey(productID, franchise)])
}

func TestProductImportMissingHeaderFailsBatch(t *testing.T) {
	f := newFixture()
	franchise := uuid.New()

	_, err := f.processor.ImportRows(context.Background(), admin(), KindProducts, franchise, []Row{
		{"sku": "AAA-1", "name": "x", "category": "food"},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, f.logs.logs)
	require.Empty(t, f.ledger.movements)
}

func TestSaleImportGroupsAndSkipsDuplicates(t *testing.T) {
	f := newFixture()
	franchise := uuid.New()
	ctx := context.Background()

	f.catalog.put(catalog.Product{ID: uuid.New(), FranchiseID: franchise, SKU: "AAA-1", UnitCost: 3, UnitPrice: 6})
	f.catalog.put(catalog.Product{ID: uuid.New(), FranchiseID: franchise, SKU: "BBB-2", UnitCost: 2, UnitPrice: 5})

	rows := []Row{
		{"invoice_number": "INV-1", "sku": "AAA-1", "quantity": "2", "unit_price": "6"},
		{"invoice_number": "INV-1", "sku": "BBB-2", "quantity": "1", "unit_price": "5"},
		{"invoice_number": "INV-2", "sku": "AAA-1", "quantity": "1", "unit_price": "6"},
	}
	res, err := f.processor.ImportRows(ctx, admin(), KindSales, franchise, rows)
	require.NoError(t, err)
	require.Equal(t, 3, res.Log.Succeeded)
	require.Equal(t, StatusCompleted, res.Log.Status)
	// Two invoices, two sales.
	require.Len(t, f.sales.invoices, 2)
	require.Len(t, res.CreatedOrUpdated, 2)

	// The same file again: both invoices already exist, every row is a
	// skip and the batch still completes.
	res, err = f.processor.ImportRows(ctx, admin(), KindSales, franchise, rows)
	require.NoError(t, err)
	require.Equal(t, 0, res.Log.Succeeded)
	require.Equal(t, 3, res.Log.Skipped)
	require.Equal(t, 0, res.Log.Failed)
	require.Equal(t, 2, res.Log.WarningCount)
	require.Equal(t, StatusCompleted, res.Log.Status)
	require.Len(t, f.sales.invoices, 2)
}

func TestSaleImportRejectsCrossTenantGroup(t *testing.T) {
	f := newFixture()
	franchise := uuid.New()
	other := uuid.New()
	ctx := context.Background()

	f.catalog.put(catalog.Product{ID: uuid.New(), FranchiseID: franchise, SKU: "AAA-1", UnitCost: 3, UnitPrice: 6})
	f.catalog.put(catalog.Product{ID: uuid.New(), FranchiseID: other, SKU: "ZZZ-9", UnitCost: 3, UnitPrice: 6})

	// One item of INV-1 references another tenant's product: the whole
	// invoice fails, including its valid first row.
	res, err := f.processor.ImportRows(ctx, admin(), KindSales, franchise, []Row{
		{"invoice_number": "INV-1", "sku": "AAA-1", "quantity": "1", "unit_price": "6"},
		{"invoice_number": "INV-1", "sku": "ZZZ-9", "quantity": "1", "unit_price": "6"},
	})
	require.NoError(t, err)
	require.Equal(t, 0, res.Log.Succeeded)
	require.Equal(t, 2, res.Log.Failed)
	require.Equal(t, StatusFailed, res.Log.Status)
	require.Empty(t, f.sales.invoices)
}

func TestSaleImportEnrichesUnitCost(t *testing.T) {
	f := newFixture()
	franchise := uuid.New()

	f.catalog.put(catalog.Product{ID: uuid.New(), FranchiseID: franchise, SKU: "AAA-1", UnitCost: 3.5, UnitPrice: 6})

	capture := &capturingSales{}
	f.processor = NewProcessor(f.catalog, f.ledger, capture, f.transfers, f.logs, scope.NewResolver(), nil, nil)

	_, err := f.processor.ImportRows(context.Background(), admin(), KindSales, franchise, []Row{
		{"invoice_number": "INV-1", "sku": "AAA-1", "quantity": "2", "unit_price": "6"},
	})
	require.NoError(t, err)
	require.Len(t, capture.requests, 1)
	require.InDelta(t, 3.5, capture.requests[0].Items[0].UnitCost, 0.001)
}

type capturingSales struct {
	requests []sales.CreateSaleRequest
}

func (c *capturingSales) CreateSale(ctx context.Context, id shared.Identity, req sales.CreateSaleRequest) (sales.Sale, error) {
	c.requests = append(c.requests, req)
	return sales.Sale{ID: uuid.New(), FranchiseID: req.FranchiseID, InvoiceNumber: req.InvoiceNumber}, nil
}

func TestStockImportDelegatesToTransfers(t *testing.T) {
	f := newFixture()
	store := uuid.New()
	warehouse := uuid.New()
	productID := uuid.New()
	ctx := context.Background()

	res, err := f.processor.ImportRows(ctx, admin(), KindStockIn, store, []Row{
		{"product_id": productID.String(), "from_franchise": warehouse.String(), "quantity": "20", "unit_cost": "3"},
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Log.Status)
	require.Len(t, f.transfers.ins, 1)
	require.Equal(t, warehouse, f.transfers.ins[0].FromFranchise)
	require.Equal(t, store, f.transfers.ins[0].ToFranchise)
	require.Equal(t, int64(20), f.transfers.ins[0].Quantity)

	res, err = f.processor.ImportRows(ctx, admin(), KindStockOut, store, []Row{
		{"product_id": productID.String(), "to_franchise": warehouse.String(), "quantity": "5"},
	})
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, res.Log.Status)
	require.Len(t, f.transfers.outs, 1)
	require.Equal(t, store, f.transfers.outs[0].FromFranchise)
}

func TestErrorListBounded(t *testing.T) {
	f := newFixture()
	franchise := uuid.New()

	rows := make([]Row, 60)
	for i := range rows {
		// Every row has a broken quantity.
		r := productRow(fmt.Sprintf("SKU-%d", i), 0)
		r["quantity"] = "many"
		rows[i] = r
	}
	res, err := f.processor.ImportRows(context.Background(), admin(), KindProducts, franchise, rows)
	require.NoError(t, err)
	require.Equal(t, 60, res.Log.Failed)
	require.Equal(t, 60, res.Log.ErrorCount)
	require.Len(t, res.Log.Errors, 50)
	require.Equal(t, StatusFailed, res.Log.Status)
}

func TestImportScopeEnforced(t *testing.T) {
	f := newFixture()
	franchiseA := uuid.New()
	franchiseB := uuid.New()
	ctx := context.Background()

	managerA := shared.Identity{UserID: 7, Role: shared.RoleManager, Franchises: []uuid.UUID{franchiseA}}

	_, err := f.processor.ImportRows(ctx, managerA, KindProducts, franchiseB, []Row{productRow("AAA-1", 5)})
	require.ErrorIs(t, err, shared.ErrAccessDenied)

	// A row declaring a foreign tenant inside an allowed batch fails that
	// row only.
	row := productRow("AAA-1", 5)
	row["franchise_id"] = franchiseB.String()
	res, err := f.processor.ImportRows(ctx, managerA, KindProducts, franchiseA, []Row{row, productRow("BBB-2", 3)})
	require.NoError(t, err)
	require.Equal(t, 1, res.Log.Succeeded)
	require.Equal(t, 1, res.Log.Failed)
	require.Equal(t, StatusPartial, res.Log.Status)
}
