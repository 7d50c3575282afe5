package sales

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/franchisehq/backoffice/internal/catalog"
	"github.com/franchisehq/backoffice/internal/ledger"
	"github.com/franchisehq/backoffice/internal/scope"
	"github.com/franchisehq/backoffice/internal/shared"
)

// TxRepository exposes transactional operations used by the service. The
// embedded ledger port makes the sale insert and its stock decrements one
// atomic unit.
type TxRepository interface {
	ledger.Tx
	InvoiceExists(ctx context.Context, invoiceNumber string) (bool, error)
	InsertSale(ctx context.Context, s Sale) error
	InsertSaleItems(ctx context.Context, saleID uuid.UUID, items []SaleItem) error
	GetSaleForUpdate(ctx context.Context, id uuid.UUID) (Sale, error)
	GetSaleItems(ctx context.Context, saleID uuid.UUID) ([]SaleItem, error)
	UpdateSaleStatus(ctx context.Context, id uuid.UUID, status Status) error
	GetProduct(ctx context.Context, productID uuid.UUID) (catalog.Product, error)
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id uuid.UUID) (Sale, error)
	List(ctx context.Context, sc scope.Scope, filter ListFilter) ([]Sale, int, error)
}

// ServiceConfig groups policy settings.
type ServiceConfig struct {
	// RestoreStockOnRefund controls whether refund/cancel appends a return
	// movement per item. The default (false) matches the behaviour of the
	// original back office: refunds change status only.
	RestoreStockOnRefund bool
}

// Service captures sales and applies their one-time stock decrement.
type Service struct {
	repo     RepositoryPort
	resolver *scope.Resolver
	audit    shared.AuditRecorder
	reports  shared.ReportInvalidator
	cfg      ServiceConfig
}

// NewService builds Service.
func NewService(repo RepositoryPort, resolver *scope.Resolver, audit shared.AuditRecorder, reports shared.ReportInvalidator, cfg ServiceConfig) *Service {
	return &Service{repo: repo, resolver: resolver, audit: audit, reports: reports, cfg: cfg}
}

// CreateSale validates the request, derives item profits and aggregate
// totals, and commits the sale together with a ledger decrement per item.
// Two concurrent sales that would jointly oversell resolve to one success
// and one insufficient-stock failure under the ledger's row locks.
func (s *Service) CreateSale(ctx context.Context, id shared.Identity, req CreateSaleRequest) (Sale, error) {
	if _, err := s.resolver.RequireWrite(id, req.FranchiseID); err != nil {
		return Sale{}, err
	}
	if len(req.Items) == 0 {
		return Sale{}, shared.NewValidationError("items", "at least one item required")
	}
	if !req.PaymentMethod.Valid() {
		return Sale{}, shared.NewValidationError("payment_method", "unknown payment method")
	}
	if !req.SaleType.Valid() {
		return Sale{}, shared.NewValidationError("sale_type", "unknown sale type")
	}
	for i, item := range req.Items {
		if item.Quantity < 1 {
			return Sale{}, &shared.ValidationError{Field: "quantity", Message: "must be at least 1", Row: i}
		}
	}

	invoice := strings.TrimSpace(req.InvoiceNumber)
	if invoice == "" {
		invoice = fmt.Sprintf("INV-%d", time.Now().UTC().UnixNano())
	}
	soldAt := time.Now().UTC()
	if req.SoldAt != nil {
		soldAt = req.SoldAt.UTC()
	}

	sale := Sale{
		ID:            uuid.New(),
		InvoiceNumber: invoice,
		FranchiseID:   req.FranchiseID,
		PaymentMethod: req.PaymentMethod,
		SaleType:      req.SaleType,
		Status:        StatusCompleted,
		CreatedBy:     id.UserID,
		SoldAt:        soldAt,
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		exists, err := tx.InvoiceExists(ctx, invoice)
		if err != nil {
			return err
		}
		if exists {
			return &shared.DuplicateKeyError{Entity: "invoice", Key: invoice}
		}

		items := make([]SaleItem, 0, len(req.Items))
		for _, in := range req.Items {
			product, err := tx.GetProduct(ctx, in.ProductID)
			if err != nil {
				return err
			}
			unitPrice := in.UnitPrice
			if unitPrice == 0 {
				unitPrice = product.UnitPrice
			}
			unitCost := in.UnitCost
			if unitCost == 0 {
				unitCost = product.UnitCost
			}
			totals := computeItem(unitPrice, unitCost, in.Quantity, in.DiscountPercent, in.TaxPercent)

			if _, err := ledger.Apply(ctx, tx, ledger.MovementInput{
				ProductID:   in.ProductID,
				FranchiseID: req.FranchiseID,
				Quantity:    -in.Quantity,
				Kind:        ledger.KindSale,
				Note:        "invoice " + invoice,
				ActorID:     id.UserID,
				RefModule:   "sale",
				RefID:       sale.ID,
				Revenue:     totals.Total,
				Profit:      totals.Profit,
			}); err != nil {
				return err
			}

			items = append(items, SaleItem{
				SaleID:          sale.ID,
				ProductID:       in.ProductID,
				Quantity:        in.Quantity,
				UnitCost:        unitCost,
				UnitPrice:       unitPrice,
				DiscountPercent: in.DiscountPercent,
				TaxPercent:      in.TaxPercent,
				Profit:          totals.Profit,
				LineTotal:       totals.Total,
			})
			sale.Subtotal += totals.Gross
			sale.DiscountTotal += totals.Discount
			sale.TaxTotal += totals.Tax
			sale.TotalProfit += totals.Profit
		}
		sale.GrandTotal = sale.Subtotal - sale.DiscountTotal + sale.TaxTotal
		sale.Items = items

		if err := tx.InsertSale(ctx, sale); err != nil {
			return err
		}
		return tx.InsertSaleItems(ctx, sale.ID, items)
	})
	if err != nil {
		return Sale{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  id.UserID,
			Action:   "sale:create",
			Entity:   "sale",
			EntityID: sale.ID.String(),
			Meta: map[string]any{
				"invoice":     sale.InvoiceNumber,
				"franchise":   sale.FranchiseID.String(),
				"grand_total": sale.GrandTotal,
			},
		})
	}
	s.bumpReports(ctx)
	return sale, nil
}

// Refund marks a completed sale refunded. Stock restoration follows the
// configured policy.
func (s *Service) Refund(ctx context.Context, id shared.Identity, saleID uuid.UUID) (Sale, error) {
	return s.close(ctx, id, saleID, StatusRefunded, []Status{StatusCompleted})
}

// Cancel marks a completed or pending sale cancelled. Stock restoration
// follows the configured policy.
func (s *Service) Cancel(ctx context.Context, id shared.Identity, saleID uuid.UUID) (Sale, error) {
	return s.close(ctx, id, saleID, StatusCancelled, []Status{StatusCompleted, StatusPending})
}

func (s *Service) close(ctx context.Context, id shared.Identity, saleID uuid.UUID, next Status, allowed []Status) (Sale, error) {
	var result Sale
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleForUpdate(ctx, saleID)
		if err != nil {
			return err
		}
		if _, err := s.resolver.RequireWrite(id, sale.FranchiseID); err != nil {
			return err
		}
		ok := false
		for _, st := range allowed {
			if sale.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return &shared.ConflictError{
				Entity:  "sale",
				Message: fmt.Sprintf("cannot move from %s to %s", sale.Status, next),
			}
		}

		if s.cfg.RestoreStockOnRefund && sale.Status == StatusCompleted {
			items, err := tx.GetSaleItems(ctx, saleID)
			if err != nil {
				return err
			}
			for _, item := range items {
				if _, err := ledger.Apply(ctx, tx, ledger.MovementInput{
					ProductID:   item.ProductID,
					FranchiseID: sale.FranchiseID,
					Quantity:    item.Quantity,
					Kind:        ledger.KindReturn,
					Note:        string(next) + " invoice " + sale.InvoiceNumber,
					ActorID:     id.UserID,
					RefModule:   "sale_" + string(next),
					RefID:       sale.ID,
				}); err != nil {
					return err
				}
			}
		}
		if err := tx.UpdateSaleStatus(ctx, saleID, next); err != nil {
			return err
		}
		sale.Status = next
		result = sale
		return nil
	})
	if err != nil {
		return Sale{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  id.UserID,
			Action:   "sale:" + string(next),
			Entity:   "sale",
			EntityID: saleID.String(),
			Meta:     map[string]any{"restore_stock": s.cfg.RestoreStockOnRefund},
		})
	}
	s.bumpReports(ctx)
	return result, nil
}

func (s *Service) bumpReports(ctx context.Context) {
	if s.reports == nil {
		return
	}
	_ = s.reports.InvalidateCache(ctx)
}

// Get fetches a sale within the caller's scope.
func (s *Service) Get(ctx context.Context, id shared.Identity, saleID uuid.UUID) (Sale, error) {
	sale, err := s.repo.Get(ctx, saleID)
	if err != nil {
		return Sale{}, err
	}
	sc, err := s.resolver.Resolve(id, nil)
	if err != nil {
		return Sale{}, err
	}
	if !sc.Allows(sale.FranchiseID) {
		return Sale{}, &shared.AccessDeniedError{FranchiseID: sale.FranchiseID, Reason: "sale outside caller scope"}
	}
	return sale, nil
}

// List returns sales within the caller's scope.
func (s *Service) List(ctx context.Context, id shared.Identity, requested *uuid.UUID, filter ListFilter) ([]Sale, shared.Pagination, error) {
	sc, err := s.resolver.Resolve(id, requested)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	out, total, err := s.repo.List(ctx, sc, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return out, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}
