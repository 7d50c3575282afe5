package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/franchisehq/backoffice/internal/catalog"
	"github.com/franchisehq/backoffice/internal/ledger"
	"github.com/franchisehq/backoffice/internal/sales"
	"github.com/franchisehq/backoffice/internal/scope"
	"github.com/franchisehq/backoffice/internal/shared"
	"github.com/franchisehq/backoffice/internal/transfer"
)

// CatalogPort is the slice of the catalog service the processor needs.
type CatalogPort interface {
	Get(ctx context.Context, id shared.Identity, productID uuid.UUID) (catalog.Product, []catalog.Allocation, error)
	GetBySKU(ctx context.Context, id shared.Identity, franchiseID uuid.UUID, sku string) (catalog.Product, error)
	Create(ctx context.Context, id shared.Identity, req catalog.CreateProductRequest) (catalog.Product, error)
	Update(ctx context.Context, id shared.Identity, productID uuid.UUID, req catalog.UpdateProductRequest) (catalog.Product, error)
}

// LedgerPort routes quantity deltas through the movement ledger.
type LedgerPort interface {
	ApplyMovement(ctx context.Context, in ledger.MovementInput) (ledger.Movement, error)
	FranchiseStock(ctx context.Context, productID, franchiseID uuid.UUID) (int64, error)
}

// SalesPort captures grouped sale rows.
type SalesPort interface {
	CreateSale(ctx context.Context, id shared.Identity, req sales.CreateSaleRequest) (sales.Sale, error)
}

// TransferPort handles settled physical stock movement rows.
type TransferPort interface {
	StockIn(ctx context.Context, id shared.Identity, req transfer.DirectRequest) (transfer.Transfer, error)
	StockOut(ctx context.Context, id shared.Identity, req transfer.DirectRequest) (transfer.Transfer, error)
}

// LogStore persists import audit logs.
type LogStore interface {
	Create(ctx context.Context, log ImportLog) error
	Finalize(ctx context.Context, log ImportLog) error
	Get(ctx context.Context, id uuid.UUID) (ImportLog, error)
	List(ctx context.Context, sc scope.Scope, filter ListFilter) ([]ImportLog, int, error)
}

// Processor applies parsed row sets against the catalog, ledger, sales
// and transfer services. One bad row fails that row, never the batch;
// rows within a batch run sequentially, separate batches may run
// concurrently because all locking happens at the row level downstream.
type Processor struct {
	catalog   CatalogPort
	ledger    LedgerPort
	sales     SalesPort
	transfers TransferPort
	logs      LogStore
	resolver  *scope.Resolver
	audit     shared.AuditRecorder
	log       *slog.Logger
}

// NewProcessor builds Processor.
func NewProcessor(
	catalogPort CatalogPort,
	ledgerPort LedgerPort,
	salesPort SalesPort,
	transferPort TransferPort,
	logs LogStore,
	resolver *scope.Resolver,
	audit shared.AuditRecorder,
	log *slog.Logger,
) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		catalog:   catalogPort,
		ledger:    ledgerPort,
		sales:     salesPort,
		transfers: transferPort,
		logs:      logs,
		resolver:  resolver,
		audit:     audit,
		log:       log,
	}
}

// ImportRows runs one batch. The header schema is checked before any row
// is touched; afterwards rows are processed independently and the import
// log is finalized with aggregate counts whatever happens per row.
func (p *Processor) ImportRows(ctx context.Context, id shared.Identity, kind Kind, franchiseID uuid.UUID, rows []Row) (Result, error) {
	if !kind.Valid() {
		return Result{}, shared.NewValidationError("kind", "unknown import kind")
	}
	if _, err := p.resolver.RequireWrite(id, franchiseID); err != nil {
		return Result{}, err
	}
	if len(rows) == 0 {
		return Result{}, shared.NewValidationError("rows", "empty row set")
	}
	if missing := missingColumns(kind, rows[0]); len(missing) > 0 {
		return Result{}, shared.NewValidationError("columns", "missing required columns: "+strings.Join(missing, ", "))
	}

	log := ImportLog{
		ID:          uuid.New(),
		Kind:        kind,
		FranchiseID: franchiseID,
		ActorID:     id.UserID,
		TotalRows:   len(rows),
		Status:      StatusProcessing,
		StartedAt:   time.Now().UTC(),
	}
	if err := p.logs.Create(ctx, log); err != nil {
		return Result{}, fmt.Errorf("create import log: %w", err)
	}

	var touched []uuid.UUID
	switch kind {
	case KindProducts:
		touched = p.importProducts(ctx, id, franchiseID, rows, &log)
	case KindSales:
		touched = p.importSales(ctx, id, franchiseID, rows, &log)
	case KindStockIn, KindStockOut:
		touched = p.importStock(ctx, id, kind, franchiseID, rows, &log)
	}

	now := time.Now().UTC()
	log.FinishedAt = &now
	log.Status = log.finalStatus()
	if err := p.logs.Finalize(ctx, log); err != nil {
		return Result{}, fmt.Errorf("finalize import log: %w", err)
	}
	if log.Status != StatusCompleted {
		p.log.Warn("import finished with failures",
			"import_id", log.ID.String(),
			"kind", string(kind),
			"failed", log.Failed,
			"skipped", log.Skipped,
		)
	}
	if p.audit != nil {
		_ = p.audit.Record(ctx, shared.AuditLog{
			ActorID:  id.UserID,
			Action:   "import:" + string(kind),
			Entity:   "import_log",
			EntityID: log.ID.String(),
			Meta: map[string]any{
				"franchise_id": franchiseID.String(),
				"total":        log.TotalRows,
				"succeeded":    log.Succeeded,
				"failed":       log.Failed,
				"skipped":      log.Skipped,
				"status":       string(log.Status),
			},
		})
	}
	return Result{Log: log, CreatedOrUpdated: touched}, nil
}

// Log returns one import log within the caller's scope.
func (p *Processor) Log(ctx context.Context, id shared.Identity, logID uuid.UUID) (ImportLog, error) {
	l, err := p.logs.Get(ctx, logID)
	if err != nil {
		return ImportLog{}, err
	}
	sc, err := p.resolver.Resolve(id, nil)
	if err != nil {
		return ImportLog{}, err
	}
	if !sc.Allows(l.FranchiseID) {
		return ImportLog{}, &shared.AccessDeniedError{FranchiseID: l.FranchiseID, Reason: "import log outside caller scope"}
	}
	return l, nil
}

// Logs lists import logs within the caller's scope.
func (p *Processor) Logs(ctx context.Context, id shared.Identity, requested *uuid.UUID, filter ListFilter) ([]ImportLog, shared.Pagination, error) {
	sc, err := p.resolver.Resolve(id, requested)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	logs, total, err := p.logs.List(ctx, sc, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return logs, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func missingColumns(kind Kind, header Row) []string {
	var missing []string
	for _, col := range requiredColumns[kind] {
		if _, ok := header[col]; !ok {
			missing = append(missing, col)
		}
	}
	return missing
}

// rowFranchise resolves the tenant a row belongs to: an explicit
// franchise_id column wins, otherwise the batch tenant applies.
func rowFranchise(row Row, fallback uuid.UUID) (uuid.UUID, error) {
	raw := strings.TrimSpace(row["franchise_id"])
	if raw == "" {
		return fallback, nil
	}
	return uuid.Parse(raw)
}

func (p *Processor) importProducts(ctx context.Context, id shared.Identity, batchFranchise uuid.UUID, rows []Row, log *ImportLog) []uuid.UUID {
	var touched []uuid.UUID
	seen := make(map[string]bool, len(rows))

	for i, row := range rows {
		franchiseID, err := rowFranchise(row, batchFranchise)
		if err != nil {
			p.failRow(log, i, "franchise_id", "invalid franchise id", row["franchise_id"])
			continue
		}
		if _, err := p.resolver.RequireWrite(id, franchiseID); err != nil {
			p.failRow(log, i, "franchise_id", "franchise outside caller scope", franchiseID.String())
			continue
		}

		sku := catalog.NormalizeSKU(row["sku"])
		if sku == "" {
			p.failRow(log, i, "sku", "required", row["sku"])
			continue
		}
		dedupKey := franchiseID.String() + ":" + sku
		if seen[dedupKey] {
			p.failRow(log, i, "sku", "duplicate sku in file", sku)
			continue
		}
		seen[dedupKey] = true

		quantity, err := parseQuantity(row["quantity"])
		if err != nil {
			p.failRow(log, i, "quantity", err.Error(), row["quantity"])
			continue
		}
		unitCost, err := parseAmount(row["unit_cost"])
		if err != nil {
			p.failRow(log, i, "unit_cost", err.Error(), row["unit_cost"])
			continue
		}
		unitPrice, err := parseAmount(row["unit_price"])
		if err != nil {
			p.failRow(log, i, "unit_price", err.Error(), row["unit_price"])
			continue
		}

		product, found, err := p.matchProduct(ctx, id, row, franchiseID, sku)
		if err != nil {
			p.failRow(log, i, "sku", err.Error(), sku)
			continue
		}

		if found {
			name := strings.TrimSpace(row["name"])
			category := strings.TrimSpace(row["category"])
			upd := catalog.UpdateProductRequest{UnitCost: &unitCost, UnitPrice: &unitPrice}
			if name != "" {
				upd.Name = &name
			}
			if category != "" {
				upd.Category = &category
			}
			if product, err = p.catalog.Update(ctx, id, product.ID, upd); err != nil {
				p.failRow(log, i, "sku", err.Error(), sku)
				continue
			}
		} else {
			product, err = p.catalog.Create(ctx, id, catalog.CreateProductRequest{
				FranchiseID: franchiseID,
				SKU:         sku,
				Name:        strings.TrimSpace(row["name"]),
				Category:    strings.TrimSpace(row["category"]),
				UnitCost:    unitCost,
				UnitPrice:   unitPrice,
			})
			if err != nil {
				p.failRow(log, i, "sku", err.Error(), sku)
				continue
			}
		}

		// The row's quantity is a counted target; the delta against the
		// current ledger position is applied as an adjustment so history
		// stays complete.
		current, err := p.ledger.FranchiseStock(ctx, product.ID, franchiseID)
		if err != nil {
			p.failRow(log, i, "quantity", err.Error(), row["quantity"])
			continue
		}
		if delta := quantity - current; delta != 0 {
			_, err = p.ledger.ApplyMovement(ctx, ledger.MovementInput{
				ProductID:   product.ID,
				FranchiseID: franchiseID,
				Quantity:    delta,
				Kind:        ledger.KindAdjustment,
				Note:        "bulk product import",
				ActorID:     id.UserID,
				RefModule:   "import",
				RefID:       log.ID,
			})
			if err != nil {
				p.failRow(log, i, "quantity", err.Error(), row["quantity"])
				continue
			}
		}

		log.Succeeded++
		touched = append(touched, product.ID)
	}
	return touched
}

// matchProduct resolves a product row against the store: by explicit id
// first, then by (sku, franchise).
func (p *Processor) matchProduct(ctx context.Context, id shared.Identity, row Row, franchiseID uuid.UUID, sku string) (catalog.Product, bool, error) {
	if raw := strings.TrimSpace(row["id"]); raw != "" {
		productID, err := uuid.Parse(raw)
		if err != nil {
			return catalog.Product{}, false, fmt.Errorf("invalid product id %q", raw)
		}
		product, _, err := p.catalog.Get(ctx, id, productID)
		if err != nil {
			return catalog.Product{}, false, err
		}
		return product, true, nil
	}
	product, err := p.catalog.GetBySKU(ctx, id, franchiseID, sku)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return catalog.Product{}, false, nil
		}
		return catalog.Product{}, false, err
	}
	return product, true, nil
}

// saleGroup collects the rows of one invoice in file order.
type saleGroup struct {
	invoice string
	rows    []int
}

func (p *Processor) importSales(ctx context.Context, id shared.Identity, batchFranchise uuid.UUID, rows []Row, log *ImportLog) []uuid.UUID {
	var touched []uuid.UUID

	groups := make(map[string]*saleGroup)
	var order []*saleGroup
	for i, row := range rows {
		invoice := strings.TrimSpace(row["invoice_number"])
		if invoice == "" {
			p.failRow(log, i, "invoice_number", "required", "")
			continue
		}
		g, ok := groups[invoice]
		if !ok {
			g = &saleGroup{invoice: invoice}
			groups[invoice] = g
			order = append(order, g)
		}
		g.rows = append(g.rows, i)
	}

	for _, g := range order {
		saleID, skipped, ok := p.importSaleGroup(ctx, id, batchFranchise, rows, g, log)
		switch {
		case skipped:
			log.Skipped += len(g.rows)
		case ok:
			log.Succeeded += len(g.rows)
			touched = append(touched, saleID)
		default:
			log.Failed += len(g.rows)
		}
	}
	return touched
}

// importSaleGroup builds and captures one invoice. Any bad item rejects
// the whole group; a duplicate invoice is a warning and a skip, not a
// failure.
func (p *Processor) importSaleGroup(ctx context.Context, id shared.Identity, batchFranchise uuid.UUID, rows []Row, g *saleGroup, log *ImportLog) (uuid.UUID, bool, bool) {
	first := rows[g.rows[0]]
	franchiseID, err := rowFranchise(first, batchFranchise)
	if err != nil {
		p.groupError(log, g, "franchise_id", "invalid franchise id", first["franchise_id"])
		return uuid.Nil, false, false
	}

	req := sales.CreateSaleRequest{
		FranchiseID:   franchiseID,
		InvoiceNumber: g.invoice,
		PaymentMethod: paymentMethod(first["payment_method"]),
		SaleType:      saleType(first["sale_type"]),
	}
	if raw := strings.TrimSpace(first["sold_at"]); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			p.groupError(log, g, "sold_at", "invalid timestamp", raw)
			return uuid.Nil, false, false
		}
		req.SoldAt = &at
	}

	for _, idx := range g.rows {
		row := rows[idx]
		itemFranchise, err := rowFranchise(row, batchFranchise)
		if err != nil || itemFranchise != franchiseID {
			p.groupError(log, g, "franchise_id", "grouped rows must share one franchise", row["franchise_id"])
			return uuid.Nil, false, false
		}

		quantity, err := parseQuantity(row["quantity"])
		if err != nil || quantity < 1 {
			p.groupError(log, g, "quantity", "positive quantity required", row["quantity"])
			return uuid.Nil, false, false
		}
		unitPrice, err := parseAmount(row["unit_price"])
		if err != nil {
			p.groupError(log, g, "unit_price", err.Error(), row["unit_price"])
			return uuid.Nil, false, false
		}

		sku := catalog.NormalizeSKU(row["sku"])
		product, err := p.catalog.GetBySKU(ctx, id, franchiseID, sku)
		if err != nil {
			p.groupError(log, g, "sku", "product missing or belongs to a different franchise", sku)
			return uuid.Nil, false, false
		}

		unitCost := product.UnitCost
		if raw := strings.TrimSpace(row["unit_cost"]); raw != "" {
			if unitCost, err = parseAmount(raw); err != nil {
				p.groupError(log, g, "unit_cost", err.Error(), raw)
				return uuid.Nil, false, false
			}
		}
		discount, err := parsePercent(row["discount_percent"])
		if err != nil {
			p.groupError(log, g, "discount_percent", err.Error(), row["discount_percent"])
			return uuid.Nil, false, false
		}
		tax, err := parsePercent(row["tax_percent"])
		if err != nil {
			p.groupError(log, g, "tax_percent", err.Error(), row["tax_percent"])
			return uuid.Nil, false, false
		}

		req.Items = append(req.Items, sales.CreateSaleItem{
			ProductID:       product.ID,
			Quantity:        quantity,
			UnitPrice:       unitPrice,
			UnitCost:        unitCost,
			DiscountPercent: discount,
			TaxPercent:      tax,
		})
	}

	sale, err := p.sales.CreateSale(ctx, id, req)
	if err != nil {
		if errors.Is(err, shared.ErrDuplicate) {
			log.addWarning(RowWarning{Row: g.rows[0], Message: "invoice " + g.invoice + " already exists, skipped"})
			return uuid.Nil, true, false
		}
		p.groupError(log, g, "invoice_number", err.Error(), g.invoice)
		return uuid.Nil, false, false
	}
	return sale.ID, false, true
}

func (p *Processor) importStock(ctx context.Context, id shared.Identity, kind Kind, batchFranchise uuid.UUID, rows []Row, log *ImportLog) []uuid.UUID {
	var touched []uuid.UUID
	counterpartField := "from_franchise"
	if kind == KindStockOut {
		counterpartField = "to_franchise"
	}

	for i, row := range rows {
		productID, err := uuid.Parse(strings.TrimSpace(row["product_id"]))
		if err != nil {
			p.failRow(log, i, "product_id", "invalid product id", row["product_id"])
			continue
		}
		counterpart, err := uuid.Parse(strings.TrimSpace(row[counterpartField]))
		if err != nil {
			p.failRow(log, i, counterpartField, "invalid franchise id", row[counterpartField])
			continue
		}
		quantity, err := parseQuantity(row["quantity"])
		if err != nil || quantity < 1 {
			p.failRow(log, i, "quantity", "positive quantity required", row["quantity"])
			continue
		}
		unitCost, err := parseAmount(row["unit_cost"])
		if err != nil {
			p.failRow(log, i, "unit_cost", err.Error(), row["unit_cost"])
			continue
		}

		req := transfer.DirectRequest{
			ProductID: productID,
			Quantity:  quantity,
			UnitCost:  unitCost,
			Note:      strings.TrimSpace(row["note"]),
		}
		var t transfer.Transfer
		if kind == KindStockIn {
			req.FromFranchise = counterpart
			req.ToFranchise = batchFranchise
			t, err = p.transfers.StockIn(ctx, id, req)
		} else {
			req.FromFranchise = batchFranchise
			req.ToFranchise = counterpart
			t, err = p.transfers.StockOut(ctx, id, req)
		}
		if err != nil {
			p.failRow(log, i, "quantity", err.Error(), row["quantity"])
			continue
		}
		log.Succeeded++
		touched = append(touched, t.ProductID)
	}
	return touched
}

func (p *Processor) failRow(log *ImportLog, row int, field, message, value string) {
	log.Failed++
	log.addError(RowError{Row: row, Field: field, Message: message, Value: value})
}

func (p *Processor) groupError(log *ImportLog, g *saleGroup, field, message, value string) {
	log.addError(RowError{Row: g.rows[0], Field: field, Message: message, Value: value})
}

func parseQuantity(raw string) (int64, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, errors.New("integer quantity required")
	}
	if n < 0 {
		return 0, errors.New("quantity must not be negative")
	}
	return n, nil
}

func parseAmount(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, errors.New("numeric amount required")
	}
	if f < 0 {
		return 0, errors.New("amount must not be negative")
	}
	return f, nil
}

func parsePercent(raw string) (float64, error) {
	f, err := parseAmount(raw)
	if err != nil {
		return 0, err
	}
	if f > 100 {
		return 0, errors.New("percent cannot exceed 100")
	}
	return f, nil
}

func paymentMethod(raw string) sales.PaymentMethod {
	m := sales.PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	if m.Valid() {
		return m
	}
	return sales.PaymentCash
}

func saleType(raw string) sales.SaleType {
	t := sales.SaleType(strings.ToLower(strings.TrimSpace(raw)))
	if t.Valid() {
		return t
	}
	return sales.SaleTypeOffline
}
